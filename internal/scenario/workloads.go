package scenario

import (
	"fmt"
	"time"

	"github.com/me/rumpsched/internal/scheduler"
)

func init() {
	register(Scenario{
		Name:        "roundrobin",
		Description: "threads that only yield run in strict rotation",
		Defaults:    Params{Threads: 3, Rounds: 2},
		run:         roundRobin,
	})
	register(Scenario{
		Name:        "sleepers",
		Description: "threads sleep for staggered durations and report timer slippage",
		Defaults:    Params{Threads: 4, Rounds: 1},
		run:         sleepers,
	})
	register(Scenario{
		Name:        "interrupts",
		Description: "interrupt lines are deferred to thread context and dispatched lowest first",
		Defaults:    Params{Threads: 1, Rounds: 1},
		run:         interrupts,
	})
	register(Scenario{
		Name:        "join",
		Description: "several threads join one target and all observe its exit",
		Defaults:    Params{Threads: 3, Rounds: 1},
		run:         joiners,
	})
	register(Scenario{
		Name:        "vcpu",
		Description: "the virtual CPU changes hands across a blocking point and the depth is restored",
		Defaults:    Params{Threads: 2, Rounds: 1},
		run:         vcpuHandoff,
	})
}

// threadName gives A, B, C ... then t26, t27 ...
func threadName(i int) string {
	if i < 26 {
		return string(rune('A' + i))
	}
	return fmt.Sprintf("t%d", i)
}

func joinAll(m *Machine, ts []*scheduler.Thread) {
	for _, t := range ts {
		m.Sched.Join(t)
	}
}

func roundRobin(m *Machine, p Params) error {
	var ts []*scheduler.Thread
	for i := 0; i < p.Threads; i++ {
		name := threadName(i)
		t, err := m.Spawn(name, func(arg any) {
			for r := 0; r < p.Rounds; r++ {
				m.Printf("%s", arg)
				m.Sched.Schedule()
			}
		}, name)
		if err != nil {
			return err
		}
		ts = append(ts, t)
	}
	joinAll(m, ts)
	return nil
}

func sleepers(m *Machine, p Params) error {
	const step = 15 * time.Millisecond

	var ts []*scheduler.Thread
	for i := 0; i < p.Threads; i++ {
		d := time.Duration(p.Threads-i) * step
		t, err := m.Spawn(threadName(i), func(arg any) {
			d := arg.(time.Duration)
			for r := 0; r < p.Rounds; r++ {
				deadline := m.Plat.Now() + d
				m.Sched.Sleep(d)
				now := m.Plat.Now()
				m.Printf("%s slept %v, woke at %v (late %v)", m.Sched.Current().Name(), d, now, now-deadline)
			}
		}, d)
		if err != nil {
			return err
		}
		ts = append(ts, t)
	}
	joinAll(m, ts)
	return nil
}

func interrupts(m *Machine, p Params) error {
	handlers := []struct {
		line     int
		name     string
		serviced bool
	}{
		{5, "nic", true},
		{2, "disk", true},
		{2, "disk-shared", false},
		{9, "idle", false},
	}
	for _, h := range handlers {
		err := m.Intr.Register(h.line, h.name, func() bool {
			m.Printf("line %d %s at %v", h.line, h.name, m.Plat.Now())
			return h.serviced
		})
		if err != nil {
			return err
		}
	}

	// Let the deferral threads reach their idle wait.
	m.Sched.Schedule()

	for r := 0; r < p.Rounds; r++ {
		m.Inject.Raise(5)
		m.Inject.Raise(2)
		m.Sched.Schedule()

		now := m.Plat.Now()
		m.Inject.RaiseAt(now+25*time.Millisecond, 9)
		m.Inject.RaiseAt(now+40*time.Millisecond, 2)
		m.Sched.Sleep(60 * time.Millisecond)
	}

	for _, st := range m.Intr.AllStats() {
		m.Printf("line %d: delivered %d serviced %d stray %d", st.Line, st.Delivered, st.Serviced, st.Stray)
	}
	return nil
}

func joiners(m *Machine, p Params) error {
	target, err := m.Spawn("target", func(any) {
		m.Sched.Sleep(30 * time.Millisecond)
		m.Printf("target exiting at %v", m.Plat.Now())
	}, nil)
	if err != nil {
		return err
	}

	var ts []*scheduler.Thread
	for i := 0; i < p.Threads; i++ {
		t, err := m.Spawn(fmt.Sprintf("joiner%d", i), func(any) {
			m.Sched.Join(target)
			m.Printf("%s saw target exit (state %s)", m.Sched.Current().Name(), target.State())
		}, nil)
		if err != nil {
			return err
		}
		ts = append(ts, t)
	}
	joinAll(m, ts)
	m.Sched.Join(target)
	return nil
}

func vcpuHandoff(m *Machine, p Params) error {
	v := m.VCPU

	holder, err := m.Spawn("holder", func(any) {
		outer := v.Enter()
		inner := v.Enter()
		m.Printf("holder depth %d", v.Levels())
		v.Blocking(func() {
			m.Sched.Sleep(20 * time.Millisecond)
		})
		m.Printf("holder back at depth %d", v.Levels())
		v.Exit(inner)
		v.Exit(outer)
	}, nil)
	if err != nil {
		return err
	}

	var ts []*scheduler.Thread
	for i := 0; i < p.Threads; i++ {
		t, err := m.Spawn(fmt.Sprintf("guest%d", i), func(any) {
			for r := 0; r < p.Rounds; r++ {
				tok := v.Enter()
				m.Printf("%s in hosted code at %v", m.Sched.Current().Name(), m.Plat.Now())
				m.Sched.Schedule()
				v.Exit(tok)
			}
		}, nil)
		if err != nil {
			return err
		}
		ts = append(ts, t)
	}

	m.Sched.Join(holder)
	joinAll(m, ts)
	m.Printf("vcpu handoffs %d", v.Handoffs())
	return nil
}
