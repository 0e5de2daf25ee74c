package rig

import (
	"context"
	"errors"
	"time"

	"fieldrig/internal/config"
	"fieldrig/internal/launch"
	"fieldrig/internal/probe"
	"fieldrig/internal/state"
)

// Run is one full invocation: log directory, run lock, teardown, then startup.
// The returned error is fatal setup (ErrLogDir, state.ErrLocked) or cancellation.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.EnsureLogDirectory(); err != nil {
		return err
	}
	lock, err := state.AcquireLock(ctx, m.cfg.LockFile, m.cfg.Timing.LockWait, m.log)
	if err != nil {
		return err
	}
	defer lock.Release()

	stage := m.now()
	if err := m.teardown(ctx); err != nil {
		return err
	}
	m.log.StageDone("teardown", m.now().Sub(stage).Milliseconds())

	stage = m.now()
	handles, err := m.startup(ctx)
	m.saveLedger(ctx, handles)
	if err != nil {
		return err
	}
	m.log.StageDone("startup", m.now().Sub(stage).Milliseconds())
	return nil
}

// Stop runs the teardown only and forgets the ledger.
func (m *Manager) Stop(ctx context.Context) error {
	if err := m.EnsureLogDirectory(); err != nil {
		return err
	}
	lock, err := state.AcquireLock(ctx, m.cfg.LockFile, m.cfg.Timing.LockWait, m.log)
	if err != nil {
		return err
	}
	defer lock.Release()

	stage := m.now()
	if err := m.teardown(ctx); err != nil {
		return err
	}
	if err := state.Remove(m.cfg.StateFile); err != nil {
		m.log.Warn("ledger removal failed", "path", m.cfg.StateFile, "error", err)
	}
	m.log.StageDone("teardown", m.now().Sub(stage).Milliseconds())
	return nil
}

// teardown runs the fixed stop order: gpsd, the gpsd units, dump1090, then the
// logger interpreters. Processes recorded by the previous run are stopped by PID
// first; the python3 and perl sweeps still follow for anything started elsewhere.
func (m *Manager) teardown(ctx context.Context) error {
	led, haveLedger := m.loadLedger()

	if err := m.TerminateByName(ctx, commName(m.cfg.GPSD.Binary)); err != nil {
		return err
	}
	if err := m.stopUnits(ctx); err != nil {
		return err
	}
	if err := m.TerminateByName(ctx, commName(m.cfg.Dump1090.Binary)); err != nil {
		return err
	}

	if haveLedger {
		if err := m.terminateTracked(ctx, led); err != nil {
			return err
		}
	}
	for _, name := range config.Interpreters() {
		if err := m.TerminateByName(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) stopUnits(ctx context.Context) error {
	units := config.ServiceUnits()
	svc, err := m.services(ctx)
	if err != nil {
		m.log.Warn("service manager unavailable; skipping units", "units", units, "error", err)
		return nil
	}
	defer func() {
		if err := svc.Close(); err != nil {
			m.log.Debug("service manager close failed", "error", err)
		}
	}()
	for _, unit := range units {
		if err := m.StopAndDisableService(ctx, svc, unit); err != nil {
			return err
		}
	}
	return nil
}

// startup launches every target in order. A target that fails to launch is
// skipped along with its readiness wait.
func (m *Manager) startup(ctx context.Context) ([]*launch.Handle, error) {
	var handles []*launch.Handle
	for _, t := range m.targets(ctx) {
		if err := ctx.Err(); err != nil {
			return handles, err
		}
		h, err := m.LaunchDetached(t.spec)
		if err != nil {
			continue
		}
		handles = append(handles, h)
		if t.ready == nil {
			continue
		}
		if err := m.waitReady(ctx, t, h); err != nil {
			return handles, err
		}
	}
	return handles, nil
}

// waitReady bounds the start delay of a daemon. Timeouts and early exits are
// logged and the run continues; only cancellation is returned.
func (m *Manager) waitReady(ctx context.Context, t target, h *launch.Handle) error {
	start := m.now()
	err := probe.WaitReady(ctx, probe.Config{
		Name:          t.spec.Name,
		Addr:          t.readyAddr,
		Interval:      m.cfg.Timing.ProbeInterval,
		Timeout:       t.readyWait,
		ProcessExited: h.Exited(),
		Logger:        m.log.WithComponent("probe"),
	}, t.ready)
	switch {
	case err == nil:
		m.log.Info("ready", "name", t.spec.Name, "addr", t.readyAddr,
			"after", m.now().Sub(start).Round(time.Millisecond).String())
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, probe.ErrProcessExited):
		m.log.Warn("process exited before becoming ready; see its log", "name", t.spec.Name,
			"log", t.spec.LogFile, "exit", exitText(h))
	case errors.Is(err, probe.ErrTimeout):
		m.log.Warn("not ready in time; continuing", "name", t.spec.Name, "addr", t.readyAddr,
			"waited", t.readyWait.String())
	default:
		m.log.Warn("readiness check failed; continuing", "name", t.spec.Name, "error", err)
	}
	return nil
}

func exitText(h *launch.Handle) string {
	if err := h.ExitErr(); err != nil {
		return err.Error()
	}
	return "exit status 0"
}
