// Package service queries, stops and disables systemd units, over D-Bus when the
// system bus is reachable and through systemctl otherwise.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fieldrig/internal/logger"
)

var (
	ErrPermission  = errors.New("permission denied")
	ErrNoSuchUnit  = errors.New("no such unit")
	ErrUnsupported = errors.New("unsupported service backend")
)

// Manager is the subset of systemd the rig needs.
type Manager interface {
	// ActiveState returns systemd's ActiveState (active, inactive, failed, ...).
	ActiveState(ctx context.Context, unit string) (string, error)
	Stop(ctx context.Context, unit string) error
	Disable(ctx context.Context, unit string) error
	Close() error
}

// IsActive reports whether a unit counts as running for stop purposes.
func IsActive(state string) bool {
	switch state {
	case "active", "reloading", "activating", "deactivating":
		return true
	default:
		return false
	}
}

// UnitName appends ".service" to bare names, as systemctl does.
func UnitName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if i := strings.LastIndexByte(s, '.'); i > 0 {
		switch s[i+1:] {
		case "service", "socket", "target", "timer", "path", "mount", "device", "scope", "slice", "swap", "automount":
			return s
		}
	}
	return s + ".service"
}

// Connect opens a Manager for backend ("auto", "dbus" or "systemctl"). auto prefers
// D-Bus and falls back to systemctl when the system bus cannot be reached.
func Connect(ctx context.Context, backend string, log *logger.Logger) (Manager, error) {
	if log == nil {
		log = logger.Discard()
	}
	switch backend {
	case "dbus":
		return ConnectDBus(ctx, log)
	case "systemctl":
		return NewSystemctl(ExecRunner), nil
	case "", "auto":
		m, err := ConnectDBus(ctx, log)
		if err == nil {
			return m, nil
		}
		log.Debug("system bus unavailable; using systemctl", "error", err)
		return NewSystemctl(ExecRunner), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, backend)
	}
}
