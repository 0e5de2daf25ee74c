package rig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"fieldrig/internal/config"
	"fieldrig/internal/launch"
	"fieldrig/internal/logger"
	"fieldrig/internal/probe"
	"fieldrig/internal/proc"
	"fieldrig/internal/sdr"
	"fieldrig/internal/service"
)

var ErrLogDir = errors.New("log directory unavailable")

// Deps are the manager's side effects. Zero fields get the host implementation.
type Deps struct {
	Table  proc.Table
	Signal proc.SignalFunc
	Sleep  proc.SleepFunc

	// Services opens the systemd backend for one teardown.
	Services func(ctx context.Context) (service.Manager, error)
	Spawner  launch.Spawner

	// GPSDReady and SBSReady replace the network readiness checks.
	GPSDReady probe.Check
	SBSReady  probe.Check

	DetectSDR func(ctx context.Context) ([]sdr.RTLSDRDevice, error)
	Now       func() time.Time
}

type Manager struct {
	cfg  config.Config
	log  *logger.Logger
	term *proc.Terminator

	table     proc.Table
	sleep     proc.SleepFunc
	services  func(ctx context.Context) (service.Manager, error)
	spawner   launch.Spawner
	gpsdReady probe.Check
	sbsReady  probe.Check
	detectSDR func(ctx context.Context) ([]sdr.RTLSDRDevice, error)
	now       func() time.Time
}

func New(cfg config.Config, log *logger.Logger, deps Deps) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	if deps.Table == nil {
		deps.Table = proc.NewHostTable()
	}
	if deps.Signal == nil {
		deps.Signal = proc.Kill
	}
	if deps.Sleep == nil {
		deps.Sleep = proc.Sleep
	}
	if deps.Services == nil {
		backend := cfg.Services.Backend
		svcLog := log.WithComponent("service")
		deps.Services = func(ctx context.Context) (service.Manager, error) {
			return service.Connect(ctx, backend, svcLog)
		}
	}
	if deps.Spawner == nil {
		deps.Spawner = launch.NewLauncher(log.WithComponent("launch"))
	}
	probeLog := log.WithComponent("probe")
	if deps.GPSDReady == nil {
		deps.GPSDReady = probe.GPSD(cfg.GPSD.Addr, probeLog)
	}
	if deps.SBSReady == nil {
		deps.SBSReady = probe.TCPPort(sbsAddr(cfg), probeLog)
	}
	if deps.DetectSDR == nil {
		deps.DetectSDR = sdr.DetectRTLSDRDevices
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Manager{
		cfg: cfg,
		log: log.WithComponent("rig"),
		term: &proc.Terminator{
			Table:    deps.Table,
			Signal:   deps.Signal,
			Sleep:    deps.Sleep,
			TermWait: cfg.Timing.TermWait,
			KillWait: cfg.Timing.KillWait,
			Log:      log.WithComponent("proc"),
		},
		table:     deps.Table,
		sleep:     deps.Sleep,
		services:  deps.Services,
		spawner:   deps.Spawner,
		gpsdReady: deps.GPSDReady,
		sbsReady:  deps.SBSReady,
		detectSDR: deps.DetectSDR,
		now:       deps.Now,
	}
}

// EnsureLogDirectory creates the log directory and its parents. An existing
// directory is fine.
func (m *Manager) EnsureLogDirectory() error {
	if err := os.MkdirAll(m.cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLogDir, m.cfg.LogDir, err)
	}
	st, err := os.Stat(m.cfg.LogDir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLogDir, m.cfg.LogDir, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrLogDir, m.cfg.LogDir)
	}
	return nil
}

// TerminateByName stops every process named name with the SIGTERM then SIGKILL
// cycle. Only cancellation is returned; everything else is logged.
func (m *Manager) TerminateByName(ctx context.Context, name string) error {
	_, err := m.term.TerminateByName(ctx, name)
	return err
}

// StopAndDisableService stops unit when it is active, re-checks it after
// service_wait, and always tries to disable it. Failures are logged, never
// returned; the error is only for cancellation.
func (m *Manager) StopAndDisableService(ctx context.Context, svc service.Manager, unit string) error {
	log := m.log.WithFields("unit", unit)

	state, err := svc.ActiveState(ctx, unit)
	switch {
	case err != nil:
		log.Warn("service state query failed", "error", err)
	case service.IsActive(state):
		log.Info("stopping service", "state", state)
		if err := svc.Stop(ctx, unit); err != nil {
			log.Warn("service stop failed", "error", err)
		}
		if err := m.sleep(ctx, m.cfg.Timing.ServiceWait); err != nil {
			return err
		}
		after, err := svc.ActiveState(ctx, unit)
		switch {
		case err != nil:
			log.Warn("service state re-check failed", "error", err)
		case service.IsActive(after):
			log.Warn("service still active after stop", "state", after,
				"waited", m.cfg.Timing.ServiceWait.String())
		default:
			log.Info("service stopped", "state", after)
		}
	default:
		log.Info("service not active", "state", state)
	}

	if err := svc.Disable(ctx, unit); err != nil {
		log.Debug("service disable failed", "error", err)
	} else {
		log.Debug("service disabled")
	}
	return ctx.Err()
}

// LaunchDetached starts spec in its own session with output appended to its log
// file. Failures are logged as warnings and returned so the caller can skip the
// readiness wait.
func (m *Manager) LaunchDetached(spec launch.Spec) (*launch.Handle, error) {
	h, err := m.spawner.Launch(spec)
	if err != nil {
		m.log.Warn("launch failed; continuing", "name", spec.Name, "command", spec.CommandLine(), "error", err)
		return nil, err
	}
	m.log.Info("launched", "name", spec.Name, "pid", h.PID, "log", spec.LogFile)
	return h, nil
}
