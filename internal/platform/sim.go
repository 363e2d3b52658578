package platform

import (
	"fmt"
	"log/slog"
	"math/bits"
	"sort"
	"time"

	"github.com/me/rumpsched/pkg/model"
)

type timedLine struct {
	at   time.Duration
	line int
}

// Sim is a simulated single-CPU machine with a virtual clock.
//
// The clock only moves when the CPU halts or when Advance is called, so
// every run is reproducible. Interrupts are delivered synchronously at
// interrupt windows: EnableInterrupts, AckInterrupt, Raise with interrupts
// enabled, and Halt. A delivered line stays in service (and is not delivered
// again) until it is acknowledged.
//
// Sim is not safe for use by multiple goroutines at once; the scheduler's
// single logical CPU guarantees that.
type Sim struct {
	logger *slog.Logger
	tick   time.Duration
	now    time.Duration

	enabled bool
	inIntr  bool
	isr     func(line int)

	latched   uint64
	inService uint64
	timers    []timedLine

	delivered int
	acks      []int
}

// NewSim returns a machine at time zero with interrupts disabled, as after
// boot.
func NewSim(tick time.Duration, logger *slog.Logger) *Sim {
	return &Sim{
		logger: logger.With("component", "platform", "target", "sim"),
		tick:   tick,
	}
}

func (p *Sim) Now() time.Duration  { return p.now }
func (p *Sim) Tick() time.Duration { return p.tick }

func (p *Sim) DisableInterrupts() { p.enabled = false }

func (p *Sim) EnableInterrupts() {
	p.enabled = true
	if !p.inIntr {
		p.deliver()
	}
}

// InterruptsEnabled reports the interrupt flag.
func (p *Sim) InterruptsEnabled() bool { return p.enabled }

func (p *Sim) InInterrupt() bool { return p.inIntr }

func (p *Sim) SetInterruptHandler(isr func(line int)) { p.isr = isr }

func (p *Sim) AckInterrupt(line int) {
	p.acks = append(p.acks, line)
	p.inService &^= 1 << uint(line)
	if p.enabled && !p.inIntr {
		p.deliver()
	}
}

// Raise latches a line. It is delivered immediately when interrupts are
// enabled, otherwise at the next interrupt window.
func (p *Sim) Raise(line int) {
	if line < 0 || line >= MaxLines {
		p.Panic(fmt.Sprintf("raise: line %d out of range", line))
		return
	}
	p.latched |= 1 << uint(line)
	if p.enabled && !p.inIntr {
		p.deliver()
	}
}

// RaiseAt schedules a line to be raised once the virtual clock reaches at.
func (p *Sim) RaiseAt(at time.Duration, line int) {
	if line < 0 || line >= MaxLines {
		p.Panic(fmt.Sprintf("raise: line %d out of range", line))
		return
	}
	p.timers = append(p.timers, timedLine{at: at, line: line})
	sort.SliceStable(p.timers, func(i, j int) bool { return p.timers[i].at < p.timers[j].at })
}

// Advance moves the clock forward as if the CPU had been busy for d.
func (p *Sim) Advance(d time.Duration) {
	p.now += d
	p.fireTimers()
	if p.enabled && !p.inIntr {
		p.deliver()
	}
}

// Halt implements Platform.
func (p *Sim) Halt(deadline time.Duration) {
	for {
		p.fireTimers()
		if p.deliverable() != 0 {
			p.deliver()
			return
		}

		var target time.Duration
		if deadline > 0 {
			target = roundUp(deadline, p.tick)
			if target <= p.now {
				return
			}
		}
		if len(p.timers) > 0 && (target == 0 || p.timers[0].at <= target) {
			if p.timers[0].at > p.now {
				p.now = p.timers[0].at
			}
			continue
		}
		if target == 0 {
			p.Panic("halt: no deadline and no interrupt source, machine would sleep forever")
			return
		}
		p.now = target
		return
	}
}

// Panic logs the diagnostic and panics with a *model.FatalError so that
// tests can observe fatal halts.
func (p *Sim) Panic(msg string) {
	p.logger.Error("fatal", "msg", msg, "now", p.now)
	panic(&model.FatalError{Message: msg})
}

// Delivered returns the number of interrupts delivered to the vector.
func (p *Sim) Delivered() int { return p.delivered }

// Acks returns the acknowledged lines in acknowledgement order.
func (p *Sim) Acks() []int { return append([]int(nil), p.acks...) }

func (p *Sim) fireTimers() {
	n := 0
	for _, tl := range p.timers {
		if tl.at > p.now {
			break
		}
		p.latched |= 1 << uint(tl.line)
		n++
	}
	p.timers = p.timers[n:]
}

func (p *Sim) deliverable() uint64 {
	return p.latched &^ p.inService
}

// deliver runs the vector for every deliverable line, lowest first.
func (p *Sim) deliver() {
	for {
		ready := p.deliverable()
		if ready == 0 {
			return
		}
		line := bits.TrailingZeros64(ready)
		bit := uint64(1) << uint(line)
		p.latched &^= bit
		if p.isr == nil {
			p.logger.Warn("interrupt with no vector installed", "line", line)
			continue
		}
		p.inService |= bit
		p.delivered++

		p.vector(line)
	}
}

// vector runs the handler in interrupt context. The context is left even
// when a fatal halt unwinds through the handler.
func (p *Sim) vector(line int) {
	wasEnabled := p.enabled
	p.enabled = false
	p.inIntr = true
	defer func() {
		p.inIntr = false
		p.enabled = wasEnabled
	}()
	p.isr(line)
}
