package platform

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testHost(t *testing.T) *Host {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHost(time.Millisecond, logger)
}

func TestHost_ClockMonotonic(t *testing.T) {
	p := testHost(t)
	a := p.Now()
	time.Sleep(2 * time.Millisecond)
	b := p.Now()
	if b <= a {
		t.Errorf("Now() went from %v to %v", a, b)
	}
}

func TestHost_HaltUntilDeadline(t *testing.T) {
	p := testHost(t)
	deadline := p.Now() + 5*time.Millisecond
	p.Halt(deadline)
	if p.Now() < deadline {
		t.Errorf("Halt returned at %v, before deadline %v", p.Now(), deadline)
	}
}

func TestHost_RaiseFromGoroutineWakesHalt(t *testing.T) {
	p := testHost(t)
	var got []int
	p.SetInterruptHandler(func(line int) { got = append(got, line) })

	go func() {
		time.Sleep(time.Millisecond)
		p.Raise(7)
	}()
	p.Halt(0)

	if len(got) != 1 || got[0] != 7 {
		t.Errorf("delivered = %v, want [7]", got)
	}
}

func TestHost_PanicExits(t *testing.T) {
	p := testHost(t)
	code := -1
	p.exit = func(c int) { code = c }

	func() {
		defer func() { recover() }()
		p.Panic("boom")
	}()
	if code != 70 {
		t.Errorf("exit code = %d, want 70", code)
	}
}
