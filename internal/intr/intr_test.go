package intr

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/me/rumpsched/internal/ctxsw"
	"github.com/me/rumpsched/internal/platform"
	"github.com/me/rumpsched/internal/scheduler"
	"github.com/me/rumpsched/internal/stack"
	"github.com/me/rumpsched/internal/vcpu"
)

type fixture struct {
	sched *scheduler.Scheduler
	sim   *platform.Sim
	vcpu  *vcpu.VCPU
	ctl   *Controller
}

func testSetup(t *testing.T, workers int, w io.Writer) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(w, nil))
	sim := platform.NewSim(10*time.Millisecond, logger)
	stacks, err := stack.NewPageAllocator(4096, 512, logger)
	if err != nil {
		t.Fatalf("NewPageAllocator: %v", err)
	}
	s, err := scheduler.New(sim, ctxsw.NewGoSwitcher(), stacks, scheduler.DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	s.Spl0()
	t.Cleanup(s.Shutdown)

	v := vcpu.New(s)
	return &fixture{sched: s, sim: sim, vcpu: v, ctl: New(s, v, workers)}
}

// start launches the workers and lets them reach their idle wait.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.ctl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.sched.Schedule()
}

func TestRegister_BadLine(t *testing.T) {
	f := testSetup(t, 1, io.Discard)

	tests := []struct {
		line    int
		wantErr bool
	}{
		{-1, true},
		{0, false},
		{63, false},
		{64, true},
	}
	for _, tt := range tests {
		err := f.ctl.Register(tt.line, "h", func() bool { return true })
		if (err != nil) != tt.wantErr {
			t.Errorf("Register(%d) err = %v, wantErr %v", tt.line, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrBadLine) {
			t.Errorf("Register(%d) err = %v, want ErrBadLine", tt.line, err)
		}
	}
}

// TestDispatch_LowestLineFirst: lines 5 then 2 are raised before the
// deferral thread runs; handlers still run for 2 before 5.
func TestDispatch_LowestLineFirst(t *testing.T) {
	f := testSetup(t, 1, io.Discard)

	var order []string
	f.ctl.Register(5, "five", func() bool { order = append(order, "five"); return true })
	f.ctl.Register(2, "two", func() bool { order = append(order, "two"); return true })
	f.start(t)

	f.sim.Raise(5)
	f.sim.Raise(2)
	if f.ctl.Pending() != 1<<2|1<<5 {
		t.Fatalf("Pending() = %b, want lines 2 and 5", f.ctl.Pending())
	}
	if len(order) != 0 {
		t.Fatalf("handlers ran in interrupt context: %v", order)
	}

	f.sched.Schedule()

	if !reflect.DeepEqual(order, []string{"two", "five"}) {
		t.Errorf("order = %v, want [two five]", order)
	}
	if acks := f.sim.Acks(); !reflect.DeepEqual(acks, []int{2, 5}) {
		t.Errorf("acks = %v, want [2 5]", acks)
	}
	if f.ctl.Pending() != 0 {
		t.Errorf("Pending() = %b after dispatch", f.ctl.Pending())
	}
}

func TestDispatch_RegistrationOrderWithinLine(t *testing.T) {
	f := testSetup(t, 1, io.Discard)

	var order []string
	f.ctl.Register(3, "first", func() bool { order = append(order, "first"); return false })
	f.ctl.Register(3, "second", func() bool { order = append(order, "second"); return true })
	f.ctl.Register(3, "third", func() bool { order = append(order, "third"); return false })
	f.start(t)

	f.sim.Raise(3)
	f.sched.Schedule()

	if !reflect.DeepEqual(order, []string{"first", "second", "third"}) {
		t.Errorf("order = %v", order)
	}
	st := f.ctl.Stats(3)
	if st.Delivered != 1 || st.Serviced != 1 || st.Stray != 0 {
		t.Errorf("Stats(3) = %+v", st)
	}
}

func TestDispatch_StrayInterrupt(t *testing.T) {
	var buf bytes.Buffer
	f := testSetup(t, 1, &buf)

	f.ctl.Register(7, "idle-nic", func() bool { return false })
	f.start(t)

	f.sim.Raise(7)
	f.sim.Raise(9) // no handler at all
	f.sched.Schedule()

	for _, line := range []int{7, 9} {
		st := f.ctl.Stats(line)
		if st.Stray != 1 || st.Serviced != 0 {
			t.Errorf("Stats(%d) = %+v, want one stray", line, st)
		}
	}
	if n := strings.Count(buf.String(), "stray interrupt"); n != 2 {
		t.Errorf("logged %d stray warnings, want 2\n%s", n, buf.String())
	}
	if acks := f.sim.Acks(); !reflect.DeepEqual(acks, []int{7, 9}) {
		t.Errorf("stray lines must still be acknowledged: acks = %v", acks)
	}
}

func TestDispatch_HoldsVCPU(t *testing.T) {
	f := testSetup(t, 1, io.Discard)

	var owner, running *scheduler.Thread
	f.ctl.Register(1, "probe", func() bool {
		owner = f.vcpu.Owner()
		running = f.sched.Current()
		return true
	})
	f.start(t)

	f.sim.Raise(1)
	f.sched.Schedule()

	if owner == nil || owner != running {
		t.Errorf("handler ran with vcpu owner %v, want the deferral thread %v", owner, running)
	}
	if running.Name() != "intr0" {
		t.Errorf("handler ran on %q, want intr0", running.Name())
	}
	if f.vcpu.Owner() != nil {
		t.Error("deferral thread kept the vcpu after dispatch")
	}
}

func TestDispatch_LinesSpreadOverWorkers(t *testing.T) {
	f := testSetup(t, 2, io.Discard)

	ranOn := make(map[int]string)
	for _, line := range []int{0, 1, 2, 3} {
		f.ctl.Register(line, "probe", func() bool {
			ranOn[line] = f.sched.Current().Name()
			return true
		})
	}
	f.start(t)

	for _, line := range []int{0, 1, 2, 3} {
		f.sim.Raise(line)
	}
	f.sched.Schedule()

	want := map[int]string{0: "intr0", 1: "intr1", 2: "intr0", 3: "intr1"}
	if !reflect.DeepEqual(ranOn, want) {
		t.Errorf("lines ran on %v, want %v", ranOn, want)
	}
}

func TestDispatch_InterruptWakesHaltedCPU(t *testing.T) {
	f := testSetup(t, 1, io.Discard)

	var at time.Duration
	f.ctl.Register(4, "timer", func() bool { at = f.sim.Now(); return true })
	f.start(t)

	f.sim.RaiseAt(35*time.Millisecond, 4)
	f.sched.Sleep(100 * time.Millisecond)

	if at != 35*time.Millisecond {
		t.Errorf("handler ran at %v, want 35ms", at)
	}
	if f.ctl.Stats(4).Serviced != 1 {
		t.Errorf("Stats(4) = %+v", f.ctl.Stats(4))
	}
}

func TestStart_Twice(t *testing.T) {
	f := testSetup(t, 1, io.Discard)
	f.start(t)
	if err := f.ctl.Start(); err == nil {
		t.Error("second Start should fail")
	}
}

func TestAllStats(t *testing.T) {
	f := testSetup(t, 1, io.Discard)
	f.ctl.Register(6, "disk", func() bool { return true })
	f.start(t)
	f.sim.Raise(11)
	f.sched.Schedule()

	got := f.ctl.AllStats()
	if len(got) != 2 || got[0].Line != 6 || got[1].Line != 11 {
		t.Errorf("AllStats() = %+v, want lines 6 and 11", got)
	}
}
