package model

// ThreadState represents the lifecycle state of a scheduler thread.
type ThreadState string

const (
	ThreadStateRunnable ThreadState = "RUNNABLE"
	ThreadStateRunning  ThreadState = "RUNNING"
	ThreadStateBlocked  ThreadState = "BLOCKED"
	ThreadStateExited   ThreadState = "EXITED"
)

// String returns the string representation of the thread state.
func (s ThreadState) String() string {
	return string(s)
}

// IsTerminal returns true if the thread has finished running.
func (s ThreadState) IsTerminal() bool {
	return s == ThreadStateExited
}

// ValidThreadTransitions defines the allowed state transitions for Threads.
//
// BLOCKED -> RUNNING happens when a thread marks itself blocked and is woken
// again before it reaches the scheduler.
var ValidThreadTransitions = map[ThreadState][]ThreadState{
	ThreadStateRunnable: {ThreadStateRunning, ThreadStateBlocked},
	ThreadStateRunning:  {ThreadStateRunnable, ThreadStateBlocked, ThreadStateExited},
	ThreadStateBlocked:  {ThreadStateRunnable, ThreadStateRunning},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s ThreadState) CanTransitionTo(next ThreadState) bool {
	for _, allowed := range ValidThreadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RunState represents the lifecycle state of a recorded trace run.
type RunState string

const (
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateFailed    RunState = "FAILED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true if the run is in a final state.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed:
		return true
	}
	return false
}

// ValidRunTransitions defines the allowed state transitions for Runs.
var ValidRunTransitions = map[RunState][]RunState{
	RunStateRunning: {RunStateCompleted, RunStateFailed},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range ValidRunTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
