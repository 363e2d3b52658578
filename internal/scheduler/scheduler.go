// Package scheduler is the cooperative run-queue scheduler: one logical CPU,
// no preemption, round-robin among runnable threads, deadline wakeups, and a
// hook that reports every context switch to the hosted kernel.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/rumpsched/internal/ctxsw"
	"github.com/me/rumpsched/internal/platform"
	"github.com/me/rumpsched/internal/stack"
	"github.com/me/rumpsched/internal/tls"
)

// ErrInterruptContext is returned by operations that may only run in thread
// context when the platform's Panic returned instead of halting.
var ErrInterruptContext = errors.New("called from interrupt context")

// SwitchHook is told about every context switch with the external references
// of the outgoing and incoming threads. It runs with interrupts masked and
// must not block, yield or create threads.
type SwitchHook func(prev, next any)

// Config holds scheduler configuration.
type Config struct {
	StackSize int // default stack size for new threads, in bytes
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{StackSize: 16 * 1024}
}

// Scheduler owns every piece of scheduling state for one logical CPU. Tests
// create as many independent instances as they like.
type Scheduler struct {
	plat   platform.Platform
	sw     ctxsw.Switcher
	stacks stack.Allocator
	keys   tls.Keys
	config Config
	logger *slog.Logger

	boot    *Thread
	current *Thread
	tp      *tls.Block // TLS block of the running thread

	threads []*Thread // every thread not yet reclaimed, creation order
	runq    []*Thread // runnable, FIFO
	timeq   []*Thread // blocked with a deadline, earliest first
	zombies []*Thread // exited detached threads awaiting reclamation

	fault    any // panic forwarded from a thread to the boot thread
	hook     SwitchHook
	spldepth int
	nextID   uint64
	switches int
	closed   bool
}

// New creates a scheduler and turns the calling goroutine into its boot
// thread, named "main". The mask depth starts at 1: interrupts stay masked
// until the caller finishes setup and calls Spl0.
func New(plat platform.Platform, sw ctxsw.Switcher, stacks stack.Allocator, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		plat:     plat,
		sw:       sw,
		stacks:   stacks,
		config:   cfg,
		logger:   logger.With("component", "scheduler"),
		spldepth: 1,
	}
	plat.DisableInterrupts()

	boot := s.newThread("main", nil, nil)
	tlsRegion, err := stacks.Alloc(tls.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("boot thread tls: %w", err)
	}
	boot.tlsRegion = tlsRegion
	boot.tcb.TLSBase = tlsRegion.Base
	boot.tcb.TLSLen = tlsRegion.Size
	boot.externalStack = true
	boot.state = stateRunning
	sw.Adopt(&boot.tcb)

	s.boot = boot
	s.current = boot
	s.tp = &boot.tls
	s.threads = append(s.threads, boot)
	return s, nil
}

// SetSwitchHook installs the context-switch hook. nil removes it.
func (s *Scheduler) SetSwitchHook(h SwitchHook) {
	s.hook = h
}

// Current returns the running thread, or nil while the CPU is idle.
func (s *Scheduler) Current() *Thread {
	return s.current
}

// Boot returns the boot thread.
func (s *Scheduler) Boot() *Thread {
	return s.boot
}

// Now returns the platform's monotonic time.
func (s *Scheduler) Now() time.Duration {
	return s.plat.Now()
}

// Platform returns the hardware-control collaborator.
func (s *Scheduler) Platform() platform.Platform {
	return s.plat
}

// Logger returns the scheduler's logger for components layered on top.
func (s *Scheduler) Logger() *slog.Logger {
	return s.logger
}

// Switches returns the number of context switches performed so far.
func (s *Scheduler) Switches() int {
	return s.switches
}

// TLS returns the TLS block of the running thread.
func (s *Scheduler) TLS() *tls.Block {
	return s.tp
}

// Keys returns the TLS key table shared by all threads.
func (s *Scheduler) Keys() *tls.Keys {
	return &s.keys
}

// Splhigh masks interrupts, nesting.
func (s *Scheduler) Splhigh() {
	if s.spldepth == 0 {
		s.plat.DisableInterrupts()
	}
	s.spldepth++
}

// Spl0 undoes one Splhigh. Interrupts are delivered again once the depth
// reaches zero.
func (s *Scheduler) Spl0() {
	s.spldepth--
	if s.spldepth < 0 {
		s.fatalf("spl0: negative mask depth")
		return
	}
	if s.spldepth == 0 {
		s.plat.EnableInterrupts()
	}
}

// SplDepth returns the current mask depth.
func (s *Scheduler) SplDepth() int {
	return s.spldepth
}

// ThreadInfo is a diagnostic snapshot of one thread.
type ThreadInfo struct {
	ID        uint64
	Name      string
	State     string
	Deadline  time.Duration
	Joinable  bool
	StackSize uintptr
}

// Threads returns a snapshot of every thread not yet reclaimed.
func (s *Scheduler) Threads() []ThreadInfo {
	out := make([]ThreadInfo, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, ThreadInfo{
			ID:        t.id,
			Name:      t.name,
			State:     t.state.String(),
			Deadline:  t.deadline,
			Joinable:  t.joinable,
			StackSize: t.stack.Size,
		})
	}
	return out
}

// Shutdown discards every thread except the boot thread. It may only be
// called from the boot thread; the scheduler is unusable afterwards.
func (s *Scheduler) Shutdown() {
	if s.closed {
		return
	}
	// current is nil when a fatal halt interrupted the idle loop.
	if s.current != nil && s.current != s.boot {
		s.fatalf("shutdown from thread %q, only the boot thread may shut down", s.current.name)
		return
	}
	s.closed = true
	s.sw.Close()
	s.logger.Debug("scheduler shut down", "switches", s.switches, "threads", len(s.threads))
}

// fatalf reports an invariant violation through the platform. It does not
// return on a real machine; callers still return right after it.
func (s *Scheduler) fatalf(format string, args ...any) {
	s.plat.Panic(fmt.Sprintf(format, args...))
}

// lock masks interrupts around a queue mutation. Inside the interrupt
// vector they are already masked and the mask depth is left alone.
func (s *Scheduler) lock() bool {
	if s.plat.InInterrupt() {
		return false
	}
	s.Splhigh()
	return true
}

func (s *Scheduler) unlock(locked bool) {
	if locked {
		s.Spl0()
	}
}
