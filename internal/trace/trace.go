// Package trace stands in for the hosted kernel's lightweight-process
// accounting. Each scheduler thread carries an *LWP as its external
// reference, and the Recorder, installed as the switch hook, follows which
// LWP is on the CPU and keeps a log of every switch.
package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/me/rumpsched/internal/scheduler"
	"github.com/me/rumpsched/internal/store"
	"github.com/me/rumpsched/pkg/model"
)

// LWP is a lightweight process as the hosted kernel sees it.
type LWP struct {
	ID       uint64
	Name     string
	Switches int // times switched onto the CPU
}

func (l *LWP) String() string {
	if l == nil {
		return "<none>"
	}
	return l.Name
}

// Recorder tracks the current LWP and buffers switch events.
type Recorder struct {
	now     func() time.Duration
	current *LWP
	events  []model.SwitchEvent
	flushed int
}

// NewRecorder returns a recorder stamping events with now.
func NewRecorder(now func() time.Duration) *Recorder {
	return &Recorder{now: now}
}

// Attach gives t an LWP and returns it. Attaching the running thread makes
// its LWP current.
func (r *Recorder) Attach(s *scheduler.Scheduler, t *scheduler.Thread) *LWP {
	l := &LWP{ID: t.ID(), Name: t.Name()}
	t.SetExtRef(l)
	if s.Current() == t {
		r.current = l
	}
	return l
}

// Install attaches the running thread and makes the recorder s's switch
// hook.
func (r *Recorder) Install(s *scheduler.Scheduler) {
	r.Attach(s, s.Current())
	s.SetSwitchHook(r.Hook)
}

// Hook is a scheduler.SwitchHook. References that are not *LWP (threads
// created without Attach) are recorded as "<none>".
func (r *Recorder) Hook(prev, next any) {
	p, _ := prev.(*LWP)
	n, _ := next.(*LWP)
	if n != nil {
		n.Switches++
	}
	r.current = n
	r.events = append(r.events, model.SwitchEvent{
		Seq:  len(r.events) + 1,
		At:   int64(r.now()),
		Prev: p.String(),
		Next: n.String(),
	})
}

// Current returns the LWP on the CPU.
func (r *Recorder) Current() *LWP { return r.current }

// Events returns every recorded switch.
func (r *Recorder) Events() []model.SwitchEvent {
	return append([]model.SwitchEvent(nil), r.events...)
}

// Flush writes the events recorded since the last flush to st.
func (r *Recorder) Flush(ctx context.Context, st store.Store, runID string) error {
	pending := r.events[r.flushed:]
	if len(pending) == 0 {
		return nil
	}
	if err := st.AppendEvents(ctx, runID, pending); err != nil {
		return fmt.Errorf("flush %d events for run %s: %w", len(pending), runID, err)
	}
	r.flushed = len(r.events)
	return nil
}
