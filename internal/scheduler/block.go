package scheduler

import "time"

// Block marks t as waiting for an explicit Wake. A thread blocking itself
// keeps running until it calls Schedule.
func (s *Scheduler) Block(t *Thread) {
	s.block(t, 0)
}

// BlockTimeout marks t as waiting until Wake or the absolute deadline,
// whichever comes first. A later call replaces an earlier deadline. The
// wakeup may come up to one platform tick after the deadline.
func (s *Scheduler) BlockTimeout(t *Thread, deadline time.Duration) {
	if deadline <= 0 {
		// 0 means "no deadline"; the earliest real one is 1ns.
		deadline = 1
	}
	s.block(t, deadline)
}

func (s *Scheduler) block(t *Thread, deadline time.Duration) {
	locked := s.lock()
	defer s.unlock(locked)

	switch t.state {
	case stateExited:
		s.fatalf("block of exited thread %q", t.name)
		return
	case stateRunnable:
		s.dequeue(t)
		s.setState(t, stateBlocked)
	case stateRunning:
		s.setState(t, stateBlocked)
	case stateBlocked:
		s.dequeue(t)
	}

	t.deadline = deadline
	if deadline > 0 && t != s.current {
		s.insertTimed(t)
	}
}

// Wake makes t runnable and clears its deadline. Waking a thread that is
// already runnable, running or exited has no effect, so several wakes
// before t runs count as one.
func (s *Scheduler) Wake(t *Thread) {
	locked := s.lock()
	s.wakeLocked(t)
	s.unlock(locked)
}

func (s *Scheduler) wakeLocked(t *Thread) {
	if t.state != stateBlocked {
		if !t.state.IsTerminal() {
			t.deadline = 0
		}
		return
	}
	s.dequeue(t)
	t.deadline = 0
	if t == s.current {
		// Blocked itself but has not reached Schedule yet.
		s.setState(t, stateRunning)
		return
	}
	s.setState(t, stateRunnable)
	s.runq = append(s.runq, t)
	t.where = queueRun
}

// SleepUntil blocks the running thread until deadline or an explicit Wake.
// It reports whether the deadline has passed.
func (s *Scheduler) SleepUntil(deadline time.Duration) bool {
	s.BlockTimeout(s.current, deadline)
	s.Schedule()
	return s.plat.Now() >= deadline
}

// Sleep blocks the running thread for at least d, ignoring early wakes.
func (s *Scheduler) Sleep(d time.Duration) {
	deadline := s.plat.Now() + d
	for !s.SleepUntil(deadline) {
	}
}

// Join waits for t to exit and reclaims its stack. Joining a thread that
// already exited returns at once, and several threads may join the same
// target: all of them return once it exits.
func (s *Scheduler) Join(t *Thread) {
	cur := s.current
	if t == cur {
		s.fatalf("thread %q joining itself", t.name)
		return
	}
	if !t.joinable {
		s.fatalf("join of detached thread %q", t.name)
		return
	}

	for t.state != stateExited {
		locked := s.lock()
		if !contains(t.joiners, cur) {
			t.joiners = append(t.joiners, cur)
		}
		s.unlock(locked)
		s.Block(cur)
		s.Schedule()
	}

	locked := s.lock()
	s.release(t)
	s.unlock(locked)
}

func contains(q []*Thread, t *Thread) bool {
	for _, x := range q {
		if x == t {
			return true
		}
	}
	return false
}
