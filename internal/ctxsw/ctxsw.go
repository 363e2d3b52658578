// Package ctxsw is the context-switch boundary: it saves one execution
// context and resumes another, and nothing above it knows how.
package ctxsw

// TCB is the saved machine state of one thread. Only a Switcher reads or
// writes it, and only for the two contexts taking part in a switch.
type TCB struct {
	SP      uintptr // saved stack pointer
	IP      uintptr // resume address
	TLSBase uintptr // thread pointer loaded on resume
	TLSLen  uintptr

	// target-private state
	resume chan struct{}
}

// Switcher swaps execution contexts for one target.
type Switcher interface {
	// Init seeds a fresh TCB so that the first switch into it runs entry
	// on the stack ending at stackTop. entry must finish with Exit.
	Init(tcb *TCB, stackTop uintptr, entry func())

	// Adopt turns the caller's own context into tcb. Used once for the
	// boot thread.
	Adopt(tcb *TCB)

	// Switch saves the caller's context into from and resumes to. It
	// returns when some later switch resumes from.
	Switch(from, to *TCB)

	// Exit resumes to and discards the caller's context. It never
	// returns.
	Exit(from, to *TCB)

	// ThreadPointer returns the TLS base of the running context.
	ThreadPointer() uintptr

	// Close discards every parked context. Only the caller survives.
	Close()
}

// StackAlign is the stack pointer alignment required at a call boundary.
const StackAlign = 16

// alignDown aligns a stack top for the initial frame.
func alignDown(sp uintptr) uintptr {
	return sp &^ (StackAlign - 1)
}
