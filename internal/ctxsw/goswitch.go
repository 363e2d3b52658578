package ctxsw

import (
	"reflect"
	"runtime"
	"sync"
)

// GoSwitcher is the hosted target. Every context is a goroutine, and a
// single CPU token moves between them: Switch hands the token to the next
// context and parks until it gets it back. At most one context holds the
// token, so exactly one context runs at a time and each switch is
// all-or-nothing. The channel hand-off also orders all memory accesses
// made before a switch with those made after it.
//
// Stack regions handed to Init are bookkeeping only on this target; the Go
// runtime supplies the goroutine stacks.
type GoSwitcher struct {
	tp        uintptr
	done      chan struct{}
	closeOnce sync.Once
}

// NewGoSwitcher returns a ready switcher.
func NewGoSwitcher() *GoSwitcher {
	return &GoSwitcher{done: make(chan struct{})}
}

// Init implements Switcher.
func (s *GoSwitcher) Init(tcb *TCB, stackTop uintptr, entry func()) {
	tcb.SP = alignDown(stackTop)
	tcb.IP = reflect.ValueOf(entry).Pointer()
	tcb.resume = make(chan struct{}, 1)

	go func() {
		if !s.park(tcb) {
			return
		}
		entry()
		panic("ctxsw: thread entry returned without Exit")
	}()
}

// Adopt implements Switcher.
func (s *GoSwitcher) Adopt(tcb *TCB) {
	tcb.resume = make(chan struct{}, 1)
	s.tp = tcb.TLSBase
}

// Switch implements Switcher.
func (s *GoSwitcher) Switch(from, to *TCB) {
	s.tp = to.TLSBase
	to.resume <- struct{}{}
	if !s.park(from) {
		runtime.Goexit()
	}
	s.tp = from.TLSBase
}

// Exit implements Switcher.
func (s *GoSwitcher) Exit(from, to *TCB) {
	from.resume = nil
	s.tp = to.TLSBase
	to.resume <- struct{}{}
	runtime.Goexit()
}

// ThreadPointer implements Switcher.
func (s *GoSwitcher) ThreadPointer() uintptr { return s.tp }

// Close implements Switcher.
func (s *GoSwitcher) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// park waits for the CPU token. It returns false if the switcher was
// closed first.
func (s *GoSwitcher) park(tcb *TCB) bool {
	select {
	case <-tcb.resume:
		return true
	case <-s.done:
		return false
	}
}
