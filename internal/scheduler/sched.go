package scheduler

import "time"

// Schedule gives up the CPU. The running thread goes to the tail of the run
// queue if it is still runnable, or waits if it blocked itself. Schedule
// returns when the scheduler selects the calling thread again.
//
// It must be called from thread context with the mask depth at zero.
func (s *Scheduler) Schedule() {
	if s.plat.InInterrupt() {
		s.fatalf("schedule called from interrupt context")
		return
	}
	if s.spldepth != 0 {
		s.fatalf("schedule called with interrupts masked (depth %d)", s.spldepth)
		return
	}

	prev := s.current
	s.Splhigh()
	s.deschedule(prev)
	s.current = nil
	next := s.pickNext()
	s.switchTo(prev, next)
}

// Yield gives every other runnable thread a turn and returns with the caller
// still runnable. A Block the caller issued but has not scheduled on yet is
// cancelled.
func (s *Scheduler) Yield() {
	if t := s.current; t != nil && t.state == stateBlocked {
		s.Wake(t)
	}
	s.Schedule()
}

// deschedule files the outgoing thread according to its state.
func (s *Scheduler) deschedule(t *Thread) {
	switch t.state {
	case stateRunning:
		s.setState(t, stateRunnable)
		s.runq = append(s.runq, t)
		t.where = queueRun
	case stateBlocked:
		if t.deadline > 0 {
			s.insertTimed(t)
		}
	}
}

// pickNext returns the next thread to run, halting the machine while there
// is none. Called with interrupts masked and no current thread, so that a
// wake from the interrupt vector always files its target on a queue.
func (s *Scheduler) pickNext() *Thread {
	for {
		s.expire(s.plat.Now())
		if len(s.runq) > 0 {
			next := s.runq[0]
			s.runq[0] = nil
			s.runq = s.runq[1:]
			next.where = queueNone
			return next
		}

		var deadline time.Duration
		if len(s.timeq) > 0 {
			deadline = s.timeq[0].deadline
		}
		s.plat.Halt(deadline)
	}
}

// switchTo makes next the running thread. On return the caller runs again
// and interrupts are unmasked.
func (s *Scheduler) switchTo(prev, next *Thread) {
	s.setState(next, stateRunning)
	s.current = next
	if next == prev {
		s.Spl0()
		return
	}

	if !s.stacks.Check(prev.stack) {
		s.fatalf("stack overflow in thread %q", prev.name)
		return
	}

	s.switches++
	if s.hook != nil {
		s.hook(prev.extRef, next.extRef)
	}
	s.tp = &next.tls

	if prev.state == stateExited {
		s.sw.Exit(&prev.tcb, &next.tcb)
		return
	}
	s.sw.Switch(&prev.tcb, &next.tcb)

	// Resumed: whoever switched here set current and tp for us.
	if f := s.fault; f != nil {
		s.fault = nil
		panic(f)
	}
	s.reap()
	s.Spl0()
}

// expire wakes every timed waiter whose deadline has passed.
func (s *Scheduler) expire(now time.Duration) {
	for len(s.timeq) > 0 && s.timeq[0].deadline <= now {
		t := s.timeq[0]
		s.timeq[0] = nil
		s.timeq = s.timeq[1:]
		t.where = queueNone
		t.deadline = 0
		s.setState(t, stateRunnable)
		s.runq = append(s.runq, t)
		t.where = queueRun
	}
}

// insertTimed adds t to the deadline queue, after any waiter with the same
// deadline.
func (s *Scheduler) insertTimed(t *Thread) {
	i := len(s.timeq)
	for j, x := range s.timeq {
		if t.deadline < x.deadline {
			i = j
			break
		}
	}
	s.timeq = append(s.timeq, nil)
	copy(s.timeq[i+1:], s.timeq[i:])
	s.timeq[i] = t
	t.where = queueTime
}

// dequeue removes t from whichever queue holds it.
func (s *Scheduler) dequeue(t *Thread) {
	switch t.where {
	case queueRun:
		s.runq = remove(s.runq, t)
	case queueTime:
		s.timeq = remove(s.timeq, t)
	}
	t.where = queueNone
}

func remove(q []*Thread, t *Thread) []*Thread {
	for i, x := range q {
		if x == t {
			copy(q[i:], q[i+1:])
			q[len(q)-1] = nil
			return q[:len(q)-1]
		}
	}
	return q
}
