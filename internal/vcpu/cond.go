package vcpu

import "github.com/me/rumpsched/internal/scheduler"

// Cond is a condition variable whose waiters give up the virtual CPU while
// they sleep.
type Cond struct {
	waiters []*scheduler.Thread
}

// Wait releases the lock, blocks until Signal or Broadcast, then takes the
// lock back at the depth held before. Like any condition wait it may
// return without the condition holding; callers re-check in a loop.
func (v *VCPU) Wait(c *Cond) {
	cur := v.current("wait")
	d := v.Unschedule()
	c.waiters = append(c.waiters, cur)
	v.sched.Block(cur)
	v.sched.Schedule()
	for i, t := range c.waiters {
		if t == cur {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	v.Schedule(d)
}

// Signal wakes the longest-waiting thread on c.
func (v *VCPU) Signal(c *Cond) {
	if len(c.waiters) == 0 {
		return
	}
	t := c.waiters[0]
	c.waiters = c.waiters[1:]
	v.sched.Wake(t)
}

// Broadcast wakes every thread waiting on c.
func (v *VCPU) Broadcast(c *Cond) {
	for _, t := range c.waiters {
		v.sched.Wake(t)
	}
	c.waiters = nil
}

// Waiting returns the number of threads blocked on c.
func (c *Cond) Waiting() int { return len(c.waiters) }
