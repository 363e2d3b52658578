// Package vcpu implements the schedule/unschedule protocol: a re-entrant
// lock standing for permission to run hosted-kernel code on the one
// logical CPU. Acquire and release are paired through explicit tokens, and
// the held depth is carried across blocking points as an explicit value.
package vcpu

import (
	"fmt"
	"log/slog"

	"github.com/me/rumpsched/internal/scheduler"
)

// Token is returned by Enter and must be handed back to Exit. Tokens are
// released innermost first.
type Token struct {
	gen uint64
}

// Depth is the lock state a thread gave up in Unschedule. It must be passed
// to Schedule after the blocking point to restore exactly that state, and
// only once.
type Depth struct {
	id     uint64
	tokens []uint64
}

// Levels returns the number of nested acquisitions the Depth represents.
func (d Depth) Levels() int { return len(d.tokens) }

// VCPU is the virtual-CPU lock of one scheduler.
type VCPU struct {
	sched  *scheduler.Scheduler
	logger *slog.Logger

	owner   *scheduler.Thread
	tokens  []uint64 // outstanding tokens of the owner, innermost last
	nextGen uint64
	waiters []*scheduler.Thread // FIFO

	// saved maps each unrestored Depth to the thread that unscheduled it.
	saved map[uint64]*scheduler.Thread

	handoffs int
}

// New returns an unowned virtual CPU for s.
func New(s *scheduler.Scheduler) *VCPU {
	return &VCPU{
		sched:  s,
		logger: s.Logger().With("component", "vcpu"),
		saved:  make(map[uint64]*scheduler.Thread),
	}
}

// Owner returns the thread holding the lock, or nil.
func (v *VCPU) Owner() *scheduler.Thread { return v.owner }

// Levels returns the owner's nesting depth.
func (v *VCPU) Levels() int { return len(v.tokens) }

// Handoffs returns how many times ownership passed directly to a waiter.
func (v *VCPU) Handoffs() int { return v.handoffs }

// Enter acquires one level. The owner may re-enter; other threads wait in
// FIFO order, blocking cooperatively.
func (v *VCPU) Enter() Token {
	cur := v.current("enter")
	v.acquire(cur)
	v.nextGen++
	v.tokens = append(v.tokens, v.nextGen)
	return Token{gen: v.nextGen}
}

// Exit releases the level tok stands for. tok must be the innermost
// outstanding token of the calling thread; anything else is fatal.
func (v *VCPU) Exit(tok Token) {
	cur := v.current("exit")
	if v.owner != cur {
		v.fatalf("vcpu: release by thread %q which does not hold the lock", cur.Name())
		return
	}
	n := len(v.tokens)
	if n == 0 || v.tokens[n-1] != tok.gen {
		v.fatalf("vcpu: double or out-of-order release of token %d by thread %q", tok.gen, cur.Name())
		return
	}
	v.tokens = v.tokens[:n-1]
	if n == 1 {
		v.release()
	}
}

// Unschedule drops the lock to zero before a blocking point and returns
// what was held. A thread not holding the lock gets an empty Depth.
func (v *VCPU) Unschedule() Depth {
	cur := v.current("unschedule")
	if v.owner != cur {
		return Depth{}
	}
	v.nextGen++
	d := Depth{id: v.nextGen, tokens: v.tokens}
	v.saved[d.id] = cur
	v.tokens = nil
	v.release()
	return d
}

// Schedule restores the lock state saved by Unschedule, waiting for the
// lock if another thread took it meanwhile. A Depth that was already
// restored, or that another thread or VCPU saved, is fatal.
func (v *VCPU) Schedule(d Depth) {
	cur := v.current("schedule")
	if len(d.tokens) == 0 {
		return
	}
	if owner, ok := v.saved[d.id]; !ok || owner != cur {
		v.fatalf("vcpu: thread %q restoring stale or foreign depth %d", cur.Name(), d.id)
		return
	}
	delete(v.saved, d.id)
	if v.owner == cur {
		v.fatalf("vcpu: thread %q restoring depth %d while holding the lock", cur.Name(), len(d.tokens))
		return
	}
	v.acquire(cur)
	v.tokens = d.tokens
}

// Blocking runs fn with the lock dropped, restoring the caller's depth
// afterwards.
func (v *VCPU) Blocking(fn func()) {
	d := v.Unschedule()
	fn()
	v.Schedule(d)
}

func (v *VCPU) acquire(cur *scheduler.Thread) {
	if v.owner == nil {
		v.owner = cur
		return
	}
	if v.owner == cur {
		return
	}
	v.waiters = append(v.waiters, cur)
	v.logger.Debug("vcpu contended", "thread", cur.Name(), "owner", ownerName(v.owner), "waiters", len(v.waiters))
	for v.owner != cur {
		v.sched.Block(cur)
		v.sched.Schedule()
	}
}

// release gives the lock to the longest waiter, if any.
func (v *VCPU) release() {
	v.owner = nil
	if len(v.waiters) == 0 {
		return
	}
	next := v.waiters[0]
	v.waiters = v.waiters[1:]
	v.owner = next
	v.handoffs++
	v.sched.Wake(next)
}

func (v *VCPU) current(op string) *scheduler.Thread {
	if v.sched.Platform().InInterrupt() {
		v.fatalf("vcpu: %s from interrupt context", op)
		return nil
	}
	return v.sched.Current()
}

func (v *VCPU) fatalf(format string, args ...any) {
	v.sched.Platform().Panic(fmt.Sprintf(format, args...))
}

func ownerName(t *scheduler.Thread) string {
	if t == nil {
		return ""
	}
	return t.Name()
}
