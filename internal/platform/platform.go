// Package platform defines the hardware-control collaborator the scheduler
// runs on and provides two targets: a deterministic simulated machine and a
// hosted machine backed by the OS monotonic clock.
package platform

import "time"

// Platform is the low-level machine interface used by the scheduler.
//
// Time values are durations since boot on a monotonic clock; deadlines are
// expressed in the same unit. Interrupt masking is a plain flag at this
// level; nesting is handled by the scheduler's mask depth counter.
type Platform interface {
	// Now returns the monotonic time since boot.
	Now() time.Duration

	// Tick returns the granularity of deadline wakeups.
	Tick() time.Duration

	DisableInterrupts()
	EnableInterrupts()

	// Halt is called with interrupts disabled. It atomically enables
	// interrupts and stops the processor until an interrupt has been
	// handled or the deadline has passed, then returns with interrupts
	// disabled again. A zero deadline waits for an interrupt only. Halt
	// returns no later than deadline plus one tick.
	Halt(deadline time.Duration)

	// InInterrupt reports whether the caller runs inside the interrupt
	// vector.
	InInterrupt() bool

	// SetInterruptHandler installs the interrupt vector. It is invoked in
	// interrupt context with the line number that fired.
	SetInterruptHandler(isr func(line int))

	// AckInterrupt acknowledges a serviced line so it can fire again.
	AckInterrupt(line int)

	// Panic halts the machine with a diagnostic. It never returns.
	Panic(msg string)
}

// Injector raises interrupt lines at a point in machine time. Scenarios use
// it to model devices.
type Injector interface {
	Raise(line int)
	RaiseAt(at time.Duration, line int)
}

// MaxLines is the number of interrupt lines a platform can latch.
const MaxLines = 64

// roundUp rounds d up to a whole number of ticks.
func roundUp(d, tick time.Duration) time.Duration {
	if tick <= 0 {
		return d
	}
	return ((d + tick - 1) / tick) * tick
}
