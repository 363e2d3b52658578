package scenario

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/me/rumpsched/internal/config"
	"github.com/me/rumpsched/internal/logging"
	"github.com/me/rumpsched/internal/scheduler"
	"github.com/me/rumpsched/internal/store"
	"github.com/me/rumpsched/pkg/model"
)

func run(t *testing.T, name string, p Params) *Result {
	t.Helper()
	res, err := Run(context.Background(), name, p, config.DefaultRuntimeConfig(), logging.Discard())
	if err != nil {
		t.Fatalf("Run(%s): %v", name, err)
	}
	return res
}

func TestList(t *testing.T) {
	var names []string
	for _, sc := range List() {
		names = append(names, sc.Name)
		if sc.Description == "" {
			t.Errorf("%s has no description", sc.Name)
		}
	}
	want := []string{"interrupts", "join", "roundrobin", "sleepers", "vcpu"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("List() = %v, want %v", names, want)
	}
}

func TestRun_Unknown(t *testing.T) {
	_, err := Run(context.Background(), "nope", Params{}, config.DefaultRuntimeConfig(), logging.Discard())
	if !errors.Is(err, ErrUnknown) {
		t.Errorf("err = %v, want ErrUnknown", err)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, "roundrobin", Params{}, config.DefaultRuntimeConfig(), logging.Discard())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRoundRobin_ABC(t *testing.T) {
	res := run(t, "roundrobin", Params{})

	if got := strings.Join(res.Output, ""); got != "ABCABC" {
		t.Errorf("output = %q, want ABCABC", got)
	}
	if res.Threads != 3 {
		t.Errorf("Threads = %d, want 3", res.Threads)
	}

	// The first six switches into A, B and C come after main hands off
	// and the deferral thread parks.
	var among []string
	for _, ev := range res.Events {
		switch ev.Next {
		case "A", "B", "C":
			among = append(among, ev.Next)
		}
	}
	if len(among) < 6 || strings.Join(among[:6], "") != "ABCABC" {
		t.Errorf("switches into workers = %v", among)
	}
	if res.Switches != len(res.Events) {
		t.Errorf("Switches = %d but %d events recorded", res.Switches, len(res.Events))
	}
}

func TestRoundRobin_Params(t *testing.T) {
	res := run(t, "roundrobin", Params{Threads: 4, Rounds: 3})
	if got := strings.Join(res.Output, ""); got != "ABCDABCDABCD" {
		t.Errorf("output = %q", got)
	}
}

func TestSleepers(t *testing.T) {
	res := run(t, "sleepers", Params{})
	want := []string{
		"D slept 15ms, woke at 20ms (late 5ms)",
		"C slept 30ms, woke at 30ms (late 0s)",
		"B slept 45ms, woke at 50ms (late 5ms)",
		"A slept 60ms, woke at 60ms (late 0s)",
	}
	if !reflect.DeepEqual(res.Output, want) {
		t.Errorf("output =\n%s", strings.Join(res.Output, "\n"))
	}
	if res.VirtualTime != 60*time.Millisecond {
		t.Errorf("VirtualTime = %v, want 60ms", res.VirtualTime)
	}
}

func TestInterrupts(t *testing.T) {
	res := run(t, "interrupts", Params{})
	want := []string{
		"line 2 disk at 0s",
		"line 2 disk-shared at 0s",
		"line 5 nic at 0s",
		"line 9 idle at 25ms",
		"line 2 disk at 40ms",
		"line 2 disk-shared at 40ms",
		"line 2: delivered 2 serviced 2 stray 0",
		"line 5: delivered 1 serviced 1 stray 0",
		"line 9: delivered 1 serviced 0 stray 1",
	}
	if !reflect.DeepEqual(res.Output, want) {
		t.Errorf("output =\n%s\nwant\n%s", strings.Join(res.Output, "\n"), strings.Join(want, "\n"))
	}
}

func TestJoin(t *testing.T) {
	res := run(t, "join", Params{})
	want := []string{
		"target exiting at 30ms",
		"joiner0 saw target exit (state EXITED)",
		"joiner1 saw target exit (state EXITED)",
		"joiner2 saw target exit (state EXITED)",
	}
	if !reflect.DeepEqual(res.Output, want) {
		t.Errorf("output = %v", res.Output)
	}
}

func TestVCPU(t *testing.T) {
	res := run(t, "vcpu", Params{})
	want := []string{
		"holder depth 2",
		"guest0 in hosted code at 0s",
		"guest1 in hosted code at 0s",
		"holder back at depth 2",
		"vcpu handoffs 1",
	}
	if !reflect.DeepEqual(res.Output, want) {
		t.Errorf("output = %v", res.Output)
	}
}

func TestRun_NoMemory(t *testing.T) {
	cfg := config.DefaultRuntimeConfig()
	cfg.ArenaPages = 12 // boot TLS and the deferral thread, then little else
	_, err := Run(context.Background(), "roundrobin", Params{Threads: 5}, cfg, logging.Discard())
	if !errors.Is(err, model.ErrNoMemory) {
		t.Errorf("err = %v, want ErrNoMemory", err)
	}
}

func TestRecord(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:", logging.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	run, res, err := Record(ctx, st, "roundrobin", Params{}, config.DefaultRuntimeConfig(), logging.Discard())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !strings.HasPrefix(run.ID, "run_") {
		t.Errorf("ID = %q", run.ID)
	}

	got, err := st.GetRun(ctx, run.ID)
	if err != nil || got == nil {
		t.Fatalf("GetRun: %v %v", got, err)
	}
	if got.State != model.RunStateCompleted || got.Switches != res.Switches || got.Threads != 3 {
		t.Errorf("stored run = %+v", got)
	}
	if strings.Join(got.Output, "") != "ABCABC" {
		t.Errorf("stored output = %v", got.Output)
	}

	events, total, err := st.ListEvents(ctx, run.ID, model.ListOptions{Limit: 100})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if total != res.Switches || !reflect.DeepEqual(events, res.Events) {
		t.Errorf("stored %d events, want %d", total, res.Switches)
	}
}

func TestRecord_FailedRun(t *testing.T) {
	st, _ := store.NewSQLiteStore(":memory:", logging.Discard())
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	st.Migrate(ctx)

	cfg := config.DefaultRuntimeConfig()
	cfg.ArenaPages = 12
	run, _, err := Record(ctx, st, "roundrobin", Params{Threads: 5}, cfg, logging.Discard())
	if err == nil {
		t.Fatal("expected failure")
	}
	got, _ := st.GetRun(ctx, run.ID)
	if got.State != model.RunStateFailed || got.Error == "" {
		t.Errorf("stored run = %+v", got)
	}
}

// registerFaulty adds a scenario whose second thread joins itself.
func registerFaulty(t *testing.T) string {
	t.Helper()
	const name = "faulty"
	register(Scenario{
		Name:        name,
		Description: "a worker thread commits a contract violation",
		Defaults:    Params{Threads: 1, Rounds: 1},
		run: func(m *Machine, p Params) error {
			ok, err := m.Spawn("ok", func(any) { m.Printf("ok ran") }, nil)
			if err != nil {
				return err
			}
			bad, err := m.Spawn("selfjoin", func(any) {
				m.Sched.Join(m.Sched.Current())
				m.Printf("unreachable")
			}, nil)
			if err != nil {
				return err
			}
			joinAll(m, []*scheduler.Thread{ok, bad})
			return nil
		},
	})
	t.Cleanup(func() { delete(registry, name) })
	return name
}

func TestRun_FatalInThread(t *testing.T) {
	name := registerFaulty(t)

	res, err := Run(context.Background(), name, Params{}, config.DefaultRuntimeConfig(), logging.Discard())
	var fe *model.FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *model.FatalError", err)
	}
	if !strings.Contains(fe.Message, `thread "selfjoin" joining itself`) {
		t.Errorf("fatal = %q", fe.Message)
	}
	if res == nil || !reflect.DeepEqual(res.Output, []string{"ok ran"}) {
		t.Errorf("result = %+v, want output [ok ran]", res)
	}
}

func TestRecord_FatalInThread(t *testing.T) {
	name := registerFaulty(t)

	st, _ := store.NewSQLiteStore(":memory:", logging.Discard())
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	st.Migrate(ctx)

	run, _, err := Record(ctx, st, name, Params{}, config.DefaultRuntimeConfig(), logging.Discard())
	if err == nil {
		t.Fatal("expected failure")
	}
	got, _ := st.GetRun(ctx, run.ID)
	if got.State != model.RunStateFailed || !strings.Contains(got.Error, "joining itself") {
		t.Errorf("stored run = %+v", got)
	}
	events, total, _ := st.ListEvents(ctx, run.ID, model.ListOptions{Limit: 100})
	if total == 0 || len(events) == 0 {
		t.Error("trace of the failed run was not saved")
	}
}
