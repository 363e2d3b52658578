// Package scenario runs named workloads on a freshly booted machine and
// collects what they printed together with the switch trace.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/me/rumpsched/internal/config"
	"github.com/me/rumpsched/internal/store"
	"github.com/me/rumpsched/pkg/model"
)

// ErrUnknown is returned for a scenario name that is not registered.
var ErrUnknown = errors.New("unknown scenario")

// Params tunes a workload. Zero fields take the scenario's defaults.
type Params struct {
	Threads int
	Rounds  int
}

// Scenario is a named workload.
type Scenario struct {
	Name        string
	Description string
	Defaults    Params
	run         func(m *Machine, p Params) error
}

// Result is what one execution produced.
type Result struct {
	Scenario    string
	Output      []string
	Events      []model.SwitchEvent
	Switches    int
	Threads     int
	VirtualTime time.Duration
}

var registry = map[string]Scenario{}

func register(sc Scenario) {
	registry[sc.Name] = sc
}

// List returns every scenario sorted by name.
func List() []Scenario {
	out := make([]Scenario, 0, len(registry))
	for _, sc := range registry {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a scenario by name.
func Lookup(name string) (Scenario, bool) {
	sc, ok := registry[name]
	return sc, ok
}

func (p Params) withDefaults(d Params) Params {
	if p.Threads <= 0 {
		p.Threads = d.Threads
	}
	if p.Rounds <= 0 {
		p.Rounds = d.Rounds
	}
	return p
}

// Run boots a machine, runs the named scenario on it and shuts it down.
// A fatal halt inside the workload is returned as an error wrapping
// *model.FatalError.
func Run(ctx context.Context, name string, p Params, cfg config.RuntimeConfig, logger *slog.Logger) (*Result, error) {
	return execute(ctx, name, p, cfg, logger, nil)
}

// Record runs the scenario like Run and stores the run and its switch
// events in st.
func Record(ctx context.Context, st store.Store, name string, p Params, cfg config.RuntimeConfig, logger *slog.Logger) (*model.Run, *Result, error) {
	if _, ok := Lookup(name); !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}

	run := &model.Run{
		ID:        "run_" + uuid.New().String(),
		Scenario:  name,
		State:     model.RunStateRunning,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.CreateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("create run: %w", err)
	}

	res, runErr := execute(ctx, name, p, cfg, logger, func(m *Machine) error {
		return m.Recorder.Flush(ctx, st, run.ID)
	})

	run.State = model.RunStateCompleted
	if runErr != nil {
		run.State = model.RunStateFailed
		run.Error = runErr.Error()
	}
	if res != nil {
		run.Threads = res.Threads
		run.Switches = res.Switches
		run.VirtualTime = int64(res.VirtualTime)
		run.Output = res.Output
	}
	if err := st.FinishRun(ctx, run); err != nil {
		return run, res, fmt.Errorf("finish run: %w", err)
	}
	return run, res, runErr
}

func execute(ctx context.Context, name string, p Params, cfg config.RuntimeConfig, logger *slog.Logger, after func(*Machine) error) (res *Result, err error) {
	sc, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = p.withDefaults(sc.Defaults)

	m, err := Boot(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	defer m.Shutdown()

	collect := func() *Result {
		return &Result{
			Scenario:    name,
			Output:      m.output,
			Events:      m.Recorder.Events(),
			Switches:    m.Sched.Switches(),
			Threads:     m.spawned,
			VirtualTime: m.Plat.Now(),
		}
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		res = collect()
		if e, ok := r.(error); ok {
			err = fmt.Errorf("scenario %s: %w", name, e)
		} else {
			err = fmt.Errorf("scenario %s: %v", name, r)
		}
		if after != nil {
			if ferr := after(m); ferr != nil {
				logger.Warn("saving trace of failed run", "error", ferr)
			}
		}
	}()

	logger.Info("scenario started", "scenario", name, "threads", p.Threads, "rounds", p.Rounds)
	if err := sc.run(m, p); err != nil {
		return collect(), fmt.Errorf("scenario %s: %w", name, err)
	}
	res = collect()
	if after != nil {
		if err := after(m); err != nil {
			return res, err
		}
	}
	logger.Info("scenario finished",
		"scenario", name,
		"switches", res.Switches,
		"virtual_time", res.VirtualTime,
	)
	return res, nil
}
