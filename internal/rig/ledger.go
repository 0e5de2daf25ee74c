package rig

import (
	"context"

	"fieldrig/internal/launch"
	"fieldrig/internal/state"
)

// loadLedger reads the previous run's ledger. An unreadable ledger counts as
// missing; the interpreter sweep then catches the loggers by name.
func (m *Manager) loadLedger() (state.Ledger, bool) {
	led, ok, err := state.Load(m.cfg.StateFile)
	if err != nil {
		m.log.Warn("ledger unreadable; ignoring it", "path", m.cfg.StateFile, "error", err)
		return state.Ledger{}, false
	}
	return led, ok
}

// terminateTracked stops the processes a previous run launched. A PID counts only
// while its create time matches the ledger; otherwise the kernel reused it. Live
// PIDs are grouped by current name so each group shares one signal cycle.
func (m *Manager) terminateTracked(ctx context.Context, led state.Ledger) error {
	var order []string
	groups := map[string][]int{}
	for _, e := range led.Entries {
		ct := m.table.CreateTime(ctx, e.PID)
		switch {
		case ct == 0:
			m.log.Debug("tracked process already gone", "target", e.Target, "pid", e.PID)
			continue
		case ct != e.CreateTime:
			m.log.Info("tracked PID now belongs to another process; leaving it", "target", e.Target, "pid", e.PID)
			continue
		}
		name := m.table.Name(ctx, e.PID)
		if name == "" {
			continue
		}
		if _, seen := groups[name]; !seen {
			order = append(order, name)
		}
		groups[name] = append(groups[name], e.PID)
	}
	if len(order) == 0 {
		m.log.Info("no tracked processes running", "ledger", m.cfg.StateFile)
		return nil
	}
	for _, name := range order {
		if _, err := m.term.TerminatePIDs(ctx, name, groups[name]); err != nil {
			return err
		}
	}
	return nil
}

// saveLedger records the launched processes that are still alive. With nothing
// alive the ledger is removed.
func (m *Manager) saveLedger(ctx context.Context, handles []*launch.Handle) {
	ctx = context.WithoutCancel(ctx)

	led := state.Ledger{WrittenAt: m.now().UTC()}
	for _, h := range handles {
		ct := m.table.CreateTime(ctx, h.PID)
		if ct == 0 {
			m.log.Debug("launched process gone before ledger write", "target", h.Name, "pid", h.PID)
			continue
		}
		led.Entries = append(led.Entries, state.Entry{
			Target:     h.Name,
			PID:        h.PID,
			CreateTime: ct,
			Name:       m.table.Name(ctx, h.PID),
			Command:    h.Command,
			LogFile:    h.LogFile,
			StartedAt:  h.Started.UTC(),
		})
	}

	if len(led.Entries) == 0 {
		if err := state.Remove(m.cfg.StateFile); err != nil {
			m.log.Warn("ledger removal failed", "path", m.cfg.StateFile, "error", err)
		}
		return
	}
	if err := state.Save(m.cfg.StateFile, led); err != nil {
		m.log.Warn("ledger write failed", "path", m.cfg.StateFile, "error", err)
		return
	}
	m.log.Debug("ledger written", "path", m.cfg.StateFile, "entries", len(led.Entries))
}
