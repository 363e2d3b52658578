package model

import "time"

// Run is one recorded execution of a scheduler workload.
type Run struct {
	ID          string     `json:"id"`
	Scenario    string     `json:"scenario"`
	State       RunState   `json:"state"`
	Threads     int        `json:"threads"`
	Switches    int        `json:"switches"`
	VirtualTime int64      `json:"virtual_time_ns"`
	Output      []string   `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SwitchEvent records one context switch as reported by the switch hook.
// Prev and Next are the lightweight-process names known to the hosted kernel.
type SwitchEvent struct {
	Seq  int    `json:"seq"`
	At   int64  `json:"at_ns"`
	Prev string `json:"prev"`
	Next string `json:"next"`
}
