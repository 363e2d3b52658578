package ctxsw

import (
	"testing"
	"time"
)

func TestGoSwitcher_PingPong(t *testing.T) {
	sw := NewGoSwitcher()
	defer sw.Close()

	var boot, a TCB
	boot.TLSBase = 0x1000
	a.TLSBase = 0x2000
	sw.Adopt(&boot)

	var trace []string
	sw.Init(&a, 0x9000_0008, func() {
		for i := 0; i < 3; i++ {
			trace = append(trace, "a")
			if tp := sw.ThreadPointer(); tp != 0x2000 {
				t.Errorf("in a: ThreadPointer() = %#x, want 0x2000", tp)
			}
			sw.Switch(&a, &boot)
		}
		sw.Exit(&a, &boot)
	})

	for i := 0; i < 3; i++ {
		trace = append(trace, "boot")
		sw.Switch(&boot, &a)
		if tp := sw.ThreadPointer(); tp != 0x1000 {
			t.Errorf("in boot: ThreadPointer() = %#x, want 0x1000", tp)
		}
	}
	// Final switch lets a run to Exit.
	sw.Switch(&boot, &a)

	want := []string{"boot", "a", "boot", "a", "boot", "a"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestGoSwitcher_InitSeedsTCB(t *testing.T) {
	sw := NewGoSwitcher()
	defer sw.Close()

	var tcb TCB
	sw.Init(&tcb, 0x8000_0017, func() {})
	if tcb.SP != 0x8000_0010 {
		t.Errorf("SP = %#x, want 16-byte aligned 0x80000010", tcb.SP)
	}
	if tcb.SP%StackAlign != 0 {
		t.Errorf("SP %#x not aligned", tcb.SP)
	}
	if tcb.IP == 0 {
		t.Error("IP should point at the entry function")
	}
}

func TestGoSwitcher_CloseReleasesParkedContexts(t *testing.T) {
	sw := NewGoSwitcher()

	var boot, a TCB
	sw.Adopt(&boot)
	released := make(chan struct{})
	sw.Init(&a, 0x1000, func() {
		defer close(released)
		sw.Switch(&a, &boot) // parks forever: boot never switches back
	})
	sw.Switch(&boot, &a)

	sw.Close()
	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("parked context was not released by Close")
	}
}
