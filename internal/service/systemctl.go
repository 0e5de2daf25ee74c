package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes a command and reports its combined output and exit code. err is
// non-nil only when the command could not be run at all.
type Runner func(ctx context.Context, name string, args ...string) (out []byte, code int, err error)

// ExecRunner runs commands on the host.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return out, 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, exitErr.ExitCode(), nil
	}
	return out, -1, err
}

type systemctlManager struct {
	run Runner
}

var _ Manager = (*systemctlManager)(nil)

func NewSystemctl(run Runner) Manager {
	return &systemctlManager{run: run}
}

func (m *systemctlManager) Close() error { return nil }

func (m *systemctlManager) ActiveState(ctx context.Context, unit string) (string, error) {
	// is-active prints the state even when it exits non-zero.
	out, _, err := m.run(ctx, "systemctl", "is-active", unit)
	if err != nil {
		return "", fmt.Errorf("systemctl is-active %s: %w", unit, err)
	}
	state := strings.TrimSpace(firstLine(out))
	if state == "" {
		return "", fmt.Errorf("systemctl is-active %s: empty output", unit)
	}
	return state, nil
}

func (m *systemctlManager) Stop(ctx context.Context, unit string) error {
	return m.simple(ctx, "stop", unit)
}

func (m *systemctlManager) Disable(ctx context.Context, unit string) error {
	return m.simple(ctx, "disable", unit)
}

func (m *systemctlManager) simple(ctx context.Context, verb, unit string) error {
	out, code, err := m.run(ctx, "systemctl", verb, unit)
	if err != nil {
		return fmt.Errorf("systemctl %s %s: %w", verb, unit, err)
	}
	if code != 0 {
		msg := strings.TrimSpace(string(out))
		if strings.Contains(msg, "Access denied") || strings.Contains(msg, "Interactive authentication required") {
			return fmt.Errorf("systemctl %s %s: %w: %s", verb, unit, ErrPermission, msg)
		}
		if strings.Contains(msg, "not loaded") || strings.Contains(msg, "does not exist") {
			return fmt.Errorf("systemctl %s %s: %w: %s", verb, unit, ErrNoSuchUnit, msg)
		}
		return fmt.Errorf("systemctl %s %s: exit %d: %s", verb, unit, code, msg)
	}
	return nil
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
