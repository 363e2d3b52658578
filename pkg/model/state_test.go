package model

import "testing"

func TestThreadState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    ThreadState
		terminal bool
	}{
		{ThreadStateRunnable, false},
		{ThreadStateRunning, false},
		{ThreadStateBlocked, false},
		{ThreadStateExited, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("ThreadState(%q).IsTerminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestThreadState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  ThreadState
		to    ThreadState
		valid bool
	}{
		// Valid transitions
		{ThreadStateRunnable, ThreadStateRunning, true},
		{ThreadStateRunnable, ThreadStateBlocked, true},
		{ThreadStateRunning, ThreadStateRunnable, true},
		{ThreadStateRunning, ThreadStateBlocked, true},
		{ThreadStateRunning, ThreadStateExited, true},
		{ThreadStateBlocked, ThreadStateRunnable, true},
		{ThreadStateBlocked, ThreadStateRunning, true},

		// Invalid transitions
		{ThreadStateRunnable, ThreadStateExited, false},
		{ThreadStateBlocked, ThreadStateExited, false},
		{ThreadStateExited, ThreadStateRunnable, false},
		{ThreadStateExited, ThreadStateRunning, false},
		{ThreadStateRunnable, ThreadStateRunnable, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("ThreadState(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestRunState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    RunState
		terminal bool
	}{
		{RunStateRunning, false},
		{RunStateCompleted, true},
		{RunStateFailed, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("RunState(%q).IsTerminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestRunState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  RunState
		to    RunState
		valid bool
	}{
		{RunStateRunning, RunStateCompleted, true},
		{RunStateRunning, RunStateFailed, true},
		{RunStateCompleted, RunStateRunning, false},
		{RunStateFailed, RunStateCompleted, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("RunState(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}
