package proc

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"fieldrig/internal/logger"
)

// SignalFunc delivers sig to pid.
type SignalFunc func(pid int, sig unix.Signal) error

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Kill signals a host process.
func Kill(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Outcome summarises one termination cycle.
type Outcome struct {
	Name      string `yaml:"name"`
	Found     []int  `yaml:"found,omitempty"`
	Forced    []int  `yaml:"forced,omitempty"`
	Survivors []int  `yaml:"survivors,omitempty"`
}

// Terminator runs the SIGTERM, wait, SIGKILL, wait cycle.
type Terminator struct {
	Table    Table
	Signal   SignalFunc
	Sleep    SleepFunc
	TermWait time.Duration
	KillWait time.Duration
	Log      *logger.Logger
}

func (t *Terminator) log() *logger.Logger {
	if t.Log == nil {
		return logger.Discard()
	}
	return t.Log
}

// TerminateByName terminates every process named name. With no match it sends
// nothing and only logs.
func (t *Terminator) TerminateByName(ctx context.Context, name string) (Outcome, error) {
	pids, err := t.Table.Lookup(ctx, name)
	if err != nil {
		t.log().Warn("process lookup failed", "name", name, "error", err)
		return Outcome{Name: name}, nil
	}
	if len(pids) == 0 {
		t.log().Info("process not found", "name", name)
		return Outcome{Name: name}, nil
	}
	return t.TerminatePIDs(ctx, name, pids)
}

// TerminatePIDs terminates pids, but only those still running under name; a PID
// that now belongs to something else is left alone.
func (t *Terminator) TerminatePIDs(ctx context.Context, name string, pids []int) (Outcome, error) {
	out := Outcome{Name: name}
	for _, pid := range pids {
		if t.Table.Name(ctx, pid) == name {
			out.Found = append(out.Found, pid)
		}
	}
	if len(out.Found) == 0 {
		t.log().Info("process not found", "name", name, "pids", pids)
		return out, nil
	}

	t.log().Info("stopping process", "name", name, "pids", out.Found, "signal", "SIGTERM")
	t.signalAll(name, out.Found, unix.SIGTERM)
	if err := t.Sleep(ctx, t.TermWait); err != nil {
		return out, err
	}

	remaining := t.alive(ctx, name, out.Found)
	if len(remaining) == 0 {
		t.log().Info("process stopped", "name", name, "pids", out.Found)
		return out, nil
	}

	out.Forced = remaining
	t.log().Warn("process ignored SIGTERM; forcing", "name", name, "pids", remaining,
		"waited", t.TermWait.String(), "signal", "SIGKILL")
	t.signalAll(name, remaining, unix.SIGKILL)
	if err := t.Sleep(ctx, t.KillWait); err != nil {
		return out, err
	}

	out.Survivors = t.alive(ctx, name, remaining)
	if len(out.Survivors) > 0 {
		t.log().Warn("process survived SIGKILL", "name", name, "pids", out.Survivors)
	} else {
		t.log().Info("process killed", "name", name, "pids", remaining)
	}
	return out, nil
}

func (t *Terminator) signalAll(name string, pids []int, sig unix.Signal) {
	for _, pid := range pids {
		err := t.Signal(pid, sig)
		switch {
		case err == nil:
		case errors.Is(err, unix.ESRCH):
			t.log().Debug("process already gone", "name", name, "pid", pid)
		default:
			t.log().Warn("signal failed", "name", name, "pid", pid, "signal", unix.SignalName(sig), "error", err)
		}
	}
}

func (t *Terminator) alive(ctx context.Context, name string, pids []int) []int {
	var out []int
	for _, pid := range pids {
		if t.Table.Name(ctx, pid) == name {
			out = append(out, pid)
		}
	}
	return out
}
