package scenario

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/me/rumpsched/internal/config"
	"github.com/me/rumpsched/internal/ctxsw"
	"github.com/me/rumpsched/internal/intr"
	"github.com/me/rumpsched/internal/platform"
	"github.com/me/rumpsched/internal/scheduler"
	"github.com/me/rumpsched/internal/stack"
	"github.com/me/rumpsched/internal/trace"
	"github.com/me/rumpsched/internal/vcpu"
)

// Machine is a booted scheduler with its collaborators. The goroutine that
// calls Boot is the boot thread.
type Machine struct {
	Plat     platform.Platform
	Inject   platform.Injector
	Stacks   *stack.PageAllocator
	Sched    *scheduler.Scheduler
	VCPU     *vcpu.VCPU
	Intr     *intr.Controller
	Recorder *trace.Recorder

	logger  *slog.Logger
	output  []string
	spawned int
}

// Boot assembles a machine from cfg. Interrupts are enabled and the
// deferral threads exist but have not run yet.
func Boot(cfg config.RuntimeConfig, logger *slog.Logger) (*Machine, error) {
	var plat interface {
		platform.Platform
		platform.Injector
	}
	switch cfg.Platform {
	case "sim", "":
		plat = platform.NewSim(cfg.Tick, logger)
	case "host":
		plat = platform.NewHost(cfg.Tick, logger)
	default:
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform)
	}

	stacks, err := stack.NewPageAllocator(cfg.PageSize, cfg.ArenaPages, logger)
	if err != nil {
		return nil, fmt.Errorf("stack arena: %w", err)
	}
	sched, err := scheduler.New(plat, ctxsw.NewGoSwitcher(), stacks,
		scheduler.Config{StackSize: cfg.StackSize}, logger)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	m := &Machine{
		Plat:     plat,
		Inject:   plat,
		Stacks:   stacks,
		Sched:    sched,
		VCPU:     vcpu.New(sched),
		Recorder: trace.NewRecorder(plat.Now),
		logger:   logger.With("component", "machine"),
	}
	m.Recorder.Install(sched)
	m.Intr = intr.New(sched, m.VCPU, cfg.IntrWorkers)
	if err := m.Intr.Start(); err != nil {
		sched.Shutdown()
		return nil, err
	}
	for _, w := range m.Intr.Workers() {
		m.Recorder.Attach(sched, w)
	}
	sched.Spl0()

	m.logger.Debug("machine booted",
		"platform", cfg.Platform,
		"arena", humanize.IBytes(uint64(cfg.PageSize)*uint64(cfg.ArenaPages)),
		"stack", humanize.IBytes(uint64(cfg.StackSize)),
		"intr_workers", cfg.IntrWorkers,
	)
	return m, nil
}

// Spawn creates a joinable thread with an LWP attached.
func (m *Machine) Spawn(name string, fn func(arg any), arg any, opts ...scheduler.ThreadOption) (*scheduler.Thread, error) {
	t, err := m.Sched.Create(name, fn, arg, opts...)
	if err != nil {
		return nil, err
	}
	m.Recorder.Attach(m.Sched, t)
	m.spawned++
	return t, nil
}

// Printf appends a line to the workload's output.
func (m *Machine) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	m.output = append(m.output, line)
	m.logger.Debug("output", "line", line, "lwp", m.Recorder.Current())
}

// Shutdown releases the machine's goroutines.
func (m *Machine) Shutdown() {
	m.Sched.Shutdown()
}
