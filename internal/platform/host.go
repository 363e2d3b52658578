package platform

import (
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"time"
)

// Host runs the scheduler as an ordinary process. Time comes from the OS
// monotonic clock and Halt sleeps the calling goroutine. Interrupt lines can
// be raised from any goroutine (timers, signal handlers); they are queued
// and delivered on the CPU's goroutine at the next interrupt window.
type Host struct {
	logger *slog.Logger
	tick   time.Duration
	boot   time.Duration

	// irqs is the only field touched by goroutines other than the CPU's.
	irqs chan int

	enabled   bool
	inIntr    bool
	isr       func(line int)
	latched   uint64
	inService uint64

	exit func(code int)
}

// NewHost returns a hosted machine whose clock starts at zero now.
func NewHost(tick time.Duration, logger *slog.Logger) *Host {
	return &Host{
		logger: logger.With("component", "platform", "target", "host"),
		tick:   tick,
		boot:   monotonic(),
		irqs:   make(chan int, MaxLines),
		exit:   os.Exit,
	}
}

func (p *Host) Now() time.Duration  { return monotonic() - p.boot }
func (p *Host) Tick() time.Duration { return p.tick }

func (p *Host) DisableInterrupts() { p.enabled = false }

func (p *Host) EnableInterrupts() {
	p.enabled = true
	if !p.inIntr {
		p.drain()
		p.deliver()
	}
}

func (p *Host) InInterrupt() bool { return p.inIntr }

func (p *Host) SetInterruptHandler(isr func(line int)) { p.isr = isr }

func (p *Host) AckInterrupt(line int) {
	p.inService &^= 1 << uint(line)
	if p.enabled && !p.inIntr {
		p.drain()
		p.deliver()
	}
}

// Raise queues a line for delivery. Safe for concurrent use. When the queue
// is full the raise is dropped, which matches an edge lost while the line
// was already latched.
func (p *Host) Raise(line int) {
	if line < 0 || line >= MaxLines {
		return
	}
	select {
	case p.irqs <- line:
	default:
		p.logger.Warn("interrupt queue full, dropping raise", "line", line)
	}
}

// RaiseAt raises line once the host clock reaches at.
func (p *Host) RaiseAt(at time.Duration, line int) {
	d := at - p.Now()
	if d <= 0 {
		p.Raise(line)
		return
	}
	time.AfterFunc(d, func() { p.Raise(line) })
}

// Halt implements Platform.
func (p *Host) Halt(deadline time.Duration) {
	p.drain()
	if p.latched&^p.inService != 0 {
		p.deliver()
		return
	}

	if deadline == 0 {
		line := <-p.irqs
		p.latch(line)
		p.deliver()
		return
	}

	wait := roundUp(deadline, p.tick) - p.Now()
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case line := <-p.irqs:
		p.latch(line)
		p.deliver()
	case <-timer.C:
	}
}

// Panic reports the diagnostic and terminates the process.
func (p *Host) Panic(msg string) {
	p.logger.Error("fatal", "msg", msg)
	fmt.Fprintf(os.Stderr, "rumpsched: fatal: %s\n", msg)
	p.exit(70)
	// exit only returns when replaced in tests.
	panic(msg)
}

func (p *Host) latch(line int) {
	p.latched |= 1 << uint(line)
}

func (p *Host) drain() {
	for {
		select {
		case line := <-p.irqs:
			p.latch(line)
		default:
			return
		}
	}
}

func (p *Host) deliver() {
	for {
		ready := p.latched &^ p.inService
		if ready == 0 {
			return
		}
		line := bits.TrailingZeros64(ready)
		bit := uint64(1) << uint(line)
		p.latched &^= bit
		if p.isr == nil {
			continue
		}
		p.inService |= bit

		wasEnabled := p.enabled
		p.enabled = false
		p.inIntr = true
		p.isr(line)
		p.inIntr = false
		p.enabled = wasEnabled
	}
}
