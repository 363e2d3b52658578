// Package intr turns hardware interrupts into thread-context work. The
// interrupt vector only records the line in a pending mask and wakes a
// deferral thread; the deferral thread runs the registered handlers while
// holding the virtual CPU.
package intr

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"

	"github.com/me/rumpsched/internal/platform"
	"github.com/me/rumpsched/internal/scheduler"
	"github.com/me/rumpsched/internal/vcpu"
)

// ErrBadLine is returned when registering a handler for a line outside
// 0..platform.MaxLines-1.
var ErrBadLine = errors.New("intr: line out of range")

// Handler services an interrupt line. It reports whether it found work on
// its device.
type Handler func() bool

// Stats counts activity on one line.
type Stats struct {
	Line      int    `json:"line"`
	Delivered uint64 `json:"delivered"`
	Serviced  uint64 `json:"serviced"`
	Stray     uint64 `json:"stray"`
}

type handler struct {
	name string
	fn   Handler
}

// Controller owns the pending mask, the handler table and the deferral
// threads of one scheduler.
type Controller struct {
	sched  *scheduler.Scheduler
	vcpu   *vcpu.VCPU
	plat   platform.Platform
	logger *slog.Logger

	nworkers int
	workers  []*scheduler.Thread
	pending  uint64

	handlers [platform.MaxLines][]handler
	stats    [platform.MaxLines]Stats
	started  bool
}

// New returns a controller with the given number of deferral threads.
// Line L is served by worker L % workers.
func New(s *scheduler.Scheduler, v *vcpu.VCPU, workers int) *Controller {
	if workers < 1 {
		workers = 1
	}
	if workers > platform.MaxLines {
		workers = platform.MaxLines
	}
	c := &Controller{
		sched:    s,
		vcpu:     v,
		plat:     s.Platform(),
		logger:   s.Logger().With("component", "intr"),
		nworkers: workers,
	}
	for i := range c.stats {
		c.stats[i].Line = i
	}
	return c
}

// Register adds fn to the handlers of line. Handlers on one line run in
// registration order.
func (c *Controller) Register(line int, name string, fn Handler) error {
	if line < 0 || line >= platform.MaxLines {
		return fmt.Errorf("register %q on line %d: %w", name, line, ErrBadLine)
	}
	c.handlers[line] = append(c.handlers[line], handler{name: name, fn: fn})
	c.logger.Debug("handler registered", "line", line, "name", name, "worker", line%c.nworkers)
	return nil
}

// Start creates the deferral threads and installs the interrupt vector.
func (c *Controller) Start() error {
	if c.started {
		return errors.New("intr: already started")
	}
	for i := 0; i < c.nworkers; i++ {
		t, err := c.sched.Create(fmt.Sprintf("intr%d", i), c.worker, i, scheduler.Detached())
		if err != nil {
			return fmt.Errorf("start deferral thread %d: %w", i, err)
		}
		c.workers = append(c.workers, t)
	}
	c.plat.SetInterruptHandler(c.isr)
	c.started = true
	c.logger.Info("interrupt deferral started", "workers", c.nworkers)
	return nil
}

// Workers returns the deferral threads, worker i serving lines i, i+n, ...
func (c *Controller) Workers() []*scheduler.Thread {
	return c.workers
}

// Pending returns the lines recorded but not yet taken by a worker.
func (c *Controller) Pending() uint64 {
	return c.pending
}

// Stats returns the counters of one line.
func (c *Controller) Stats(line int) Stats {
	if line < 0 || line >= platform.MaxLines {
		return Stats{Line: line}
	}
	return c.stats[line]
}

// AllStats returns the counters of every line that saw an interrupt or has
// a handler.
func (c *Controller) AllStats() []Stats {
	var out []Stats
	for i, st := range c.stats {
		if st.Delivered > 0 || len(c.handlers[i]) > 0 {
			out = append(out, st)
		}
	}
	return out
}

// isr runs in interrupt context with interrupts disabled. It must not
// schedule or allocate.
func (c *Controller) isr(line int) {
	c.pending |= 1 << uint(line)
	c.stats[line].Delivered++
	c.sched.Wake(c.workers[line%c.nworkers])
}

func (c *Controller) workerMask(idx int) uint64 {
	var m uint64
	for l := idx; l < platform.MaxLines; l += c.nworkers {
		m |= 1 << uint(l)
	}
	return m
}

func (c *Controller) worker(arg any) {
	idx := arg.(int)
	mask := c.workerMask(idx)
	self := c.sched.Current()

	for {
		c.sched.Splhigh()
		lines := c.pending & mask
		c.pending &^= lines
		if lines == 0 {
			c.sched.Block(self)
			c.sched.Spl0()
			c.sched.Schedule()
			continue
		}
		c.sched.Spl0()
		c.dispatch(lines)
	}
}

// dispatch runs the handlers of every line in lines, lowest line first,
// then acknowledges the lines.
func (c *Controller) dispatch(lines uint64) {
	var acks []int

	tok := c.vcpu.Enter()
	for lines != 0 {
		line := bits.TrailingZeros64(lines)
		lines &^= 1 << uint(line)

		serviced := false
		for _, h := range c.handlers[line] {
			if h.fn() {
				serviced = true
			}
		}
		if serviced {
			c.stats[line].Serviced++
		} else {
			c.stats[line].Stray++
			c.logger.Warn("stray interrupt", "line", line, "handlers", len(c.handlers[line]))
		}
		acks = append(acks, line)
	}
	c.vcpu.Exit(tok)

	for _, line := range acks {
		c.plat.AckInterrupt(line)
	}
}
