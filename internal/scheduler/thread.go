package scheduler

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/rumpsched/internal/ctxsw"
	"github.com/me/rumpsched/internal/stack"
	"github.com/me/rumpsched/internal/tls"
	"github.com/me/rumpsched/pkg/model"
)

const (
	stateRunnable = model.ThreadStateRunnable
	stateRunning  = model.ThreadStateRunning
	stateBlocked  = model.ThreadStateBlocked
	stateExited   = model.ThreadStateExited
)

// queue records which scheduler queue holds a thread.
type queue int

const (
	queueNone queue = iota
	queueRun
	queueTime
)

// Thread is the unit of cooperative execution.
type Thread struct {
	id   uint64
	name string
	fn   func(arg any)
	arg  any

	tcb       ctxsw.TCB
	stack     stack.Region
	tlsRegion stack.Region
	tls       tls.Block

	state    model.ThreadState
	deadline time.Duration // absolute; 0 = none
	where    queue

	joinable      bool
	joiners       []*Thread
	reclaimed     bool
	externalStack bool

	extRef any
}

// ID returns the thread's sequence number.
func (t *Thread) ID() uint64 { return t.id }

// Name returns the diagnostic name.
func (t *Thread) Name() string { return t.name }

// State returns the lifecycle state.
func (t *Thread) State() model.ThreadState { return t.state }

// Deadline returns the absolute wakeup deadline, or 0 when none is set.
func (t *Thread) Deadline() time.Duration { return t.deadline }

// Stack returns the thread's stack region. The boot thread has none.
func (t *Thread) Stack() stack.Region { return t.stack }

// TCB exposes the saved machine state for diagnostics.
func (t *Thread) TCB() *ctxsw.TCB { return &t.tcb }

// ExtRef returns the hosted kernel's reference for this thread.
func (t *Thread) ExtRef() any { return t.extRef }

// SetExtRef attaches the hosted kernel's reference. The scheduler only
// passes it to the switch hook.
func (t *Thread) SetExtRef(ref any) { t.extRef = ref }

// ThreadOption configures Create.
type ThreadOption func(*Thread, *createOpts)

type createOpts struct {
	stackSize uintptr
	stack     stack.Region
}

// WithStack runs the thread on a caller-provided stack. The scheduler never
// frees it.
func WithStack(r stack.Region) ThreadOption {
	return func(_ *Thread, o *createOpts) { o.stack = r }
}

// WithStackSize overrides the configured default stack size.
func WithStackSize(n int) ThreadOption {
	return func(_ *Thread, o *createOpts) { o.stackSize = uintptr(n) }
}

// Detached makes the thread non-joinable. Its resources are reclaimed by
// the scheduler as soon as it exits.
func Detached() ThreadOption {
	return func(t *Thread, _ *createOpts) { t.joinable = false }
}

// WithExtRef sets the external reference at creation.
func WithExtRef(ref any) ThreadOption {
	return func(t *Thread, _ *createOpts) { t.extRef = ref }
}

func (s *Scheduler) newThread(name string, fn func(any), arg any) *Thread {
	s.nextID++
	return &Thread{
		id:       s.nextID,
		name:     name,
		fn:       fn,
		arg:      arg,
		state:    stateRunnable,
		joinable: true,
	}
}

// Create makes a new thread that will run fn(arg). It is runnable
// immediately and first runs when the scheduler selects it. Allocation
// failures are returned wrapping model.ErrNoMemory.
func (s *Scheduler) Create(name string, fn func(arg any), arg any, opts ...ThreadOption) (*Thread, error) {
	if s.plat.InInterrupt() {
		s.fatalf("create thread %q from interrupt context", name)
		return nil, fmt.Errorf("create thread %q: %w", name, ErrInterruptContext)
	}

	t := s.newThread(name, fn, arg)
	o := createOpts{stackSize: uintptr(s.config.StackSize)}
	for _, opt := range opts {
		opt(t, &o)
	}

	if !o.stack.IsZero() {
		t.stack = o.stack
		t.externalStack = true
	} else {
		r, err := s.stacks.Alloc(o.stackSize)
		if err != nil {
			return nil, fmt.Errorf("create thread %q: stack: %w", name, err)
		}
		t.stack = r
	}

	tlsRegion, err := s.stacks.Alloc(tls.BlockSize)
	if err != nil {
		if !t.externalStack {
			s.stacks.Free(t.stack)
		}
		return nil, fmt.Errorf("create thread %q: tls: %w", name, err)
	}
	t.tlsRegion = tlsRegion
	t.tcb.TLSBase = tlsRegion.Base
	t.tcb.TLSLen = tlsRegion.Size

	s.sw.Init(&t.tcb, t.stack.Top(), func() { s.trampoline(t) })

	locked := s.lock()
	s.threads = append(s.threads, t)
	s.runq = append(s.runq, t)
	t.where = queueRun
	s.unlock(locked)

	s.logger.Debug("thread created",
		"id", t.id,
		"name", name,
		"stack", humanize.IBytes(uint64(t.stack.Size)),
		"joinable", t.joinable,
	)
	return t, nil
}

// trampoline is where the first switch into a thread lands. It finishes
// that switch, runs the entry function and exits.
func (s *Scheduler) trampoline(t *Thread) {
	defer s.forwardFault(t)
	s.reap()
	s.Spl0()
	t.fn(t.arg)
	s.exit()
}

// forwardFault hands a panic raised on thread t, most often a fatal halt,
// to the boot thread, which raises it again from its own switch point. t is
// marked exited and boot becomes the running thread; the machine is only
// good for Shutdown afterwards.
func (s *Scheduler) forwardFault(t *Thread) {
	r := recover()
	if r == nil {
		return
	}
	s.logger.Debug("forwarding fault to boot thread", "thread", t.name, "fault", r)
	s.fault = r

	s.dequeue(t)
	t.state = stateExited
	boot := s.boot
	s.dequeue(boot)
	boot.deadline = 0
	boot.state = stateRunning
	s.current = boot
	s.tp = &boot.tls
	s.sw.Exit(&t.tcb, &boot.tcb)
}

// exit terminates the running thread. Never returns.
func (s *Scheduler) exit() {
	t := s.current
	if t == s.boot {
		s.fatalf("boot thread cannot exit")
		return
	}
	s.keys.RunDestructors(&t.tls)

	s.Splhigh()
	s.setState(t, stateExited)
	t.deadline = 0
	for _, j := range t.joiners {
		s.wakeLocked(j)
	}
	t.joiners = nil
	if !t.joinable {
		s.zombies = append(s.zombies, t)
	}
	s.logger.Debug("thread exited", "id", t.id, "name", t.name)

	s.current = nil
	next := s.pickNext()
	s.switchTo(t, next)
}

// reap reclaims exited detached threads other than the running one.
func (s *Scheduler) reap() {
	if len(s.zombies) == 0 {
		return
	}
	kept := s.zombies[:0]
	for _, z := range s.zombies {
		if z == s.current {
			kept = append(kept, z)
			continue
		}
		s.release(z)
	}
	s.zombies = kept
}

// release frees an exited thread's memory and forgets it.
func (s *Scheduler) release(t *Thread) {
	if t.reclaimed {
		return
	}
	t.reclaimed = true
	if !t.externalStack {
		s.stacks.Free(t.stack)
	}
	s.stacks.Free(t.tlsRegion)
	t.stack = stack.Region{}
	t.tlsRegion = stack.Region{}

	for i, x := range s.threads {
		if x == t {
			s.threads = append(s.threads[:i], s.threads[i+1:]...)
			break
		}
	}
}

// setState applies a lifecycle transition. Anything outside the transition
// table is a scheduler bug.
func (s *Scheduler) setState(t *Thread, next model.ThreadState) {
	if !t.state.CanTransitionTo(next) {
		err := &model.InvalidTransitionError{
			Entity: "Thread",
			ID:     fmt.Sprintf("%d/%s", t.id, t.name),
			From:   t.state.String(),
			To:     next.String(),
		}
		s.fatalf("%v", err)
		return
	}
	t.state = next
}
