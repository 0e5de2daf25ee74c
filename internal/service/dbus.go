package service

import (
	"context"
	"errors"
	"fmt"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"

	"fieldrig/internal/logger"
)

// systemdConn is the part of *sddbus.Conn the manager calls.
type systemdConn interface {
	GetUnitPropertiesContext(ctx context.Context, unit string) (map[string]any, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]sddbus.DisableUnitFileChange, error)
	ReloadContext(ctx context.Context) error
	Close()
}

var _ systemdConn = (*sddbus.Conn)(nil)

type dbusManager struct {
	conn systemdConn
	log  *logger.Logger
}

var _ Manager = (*dbusManager)(nil)

// ConnectDBus connects to the system instance of systemd.
func ConnectDBus(ctx context.Context, log *logger.Logger) (Manager, error) {
	if log == nil {
		log = logger.Discard()
	}
	conn, err := sddbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to system bus: %w", classify(err))
	}
	return &dbusManager{conn: conn, log: log}, nil
}

func (m *dbusManager) Close() error {
	m.conn.Close()
	return nil
}

func (m *dbusManager) ActiveState(ctx context.Context, unit string) (string, error) {
	name := UnitName(unit)
	props, err := m.conn.GetUnitPropertiesContext(ctx, name)
	if err != nil {
		return "", fmt.Errorf("getting %s properties: %w", name, classify(err))
	}
	state, ok := props["ActiveState"].(string)
	if !ok || state == "" {
		return "", fmt.Errorf("%s: ActiveState missing", name)
	}
	return state, nil
}

func (m *dbusManager) Stop(ctx context.Context, unit string) error {
	name := UnitName(unit)
	resultChan := make(chan string, 1)
	if _, err := m.conn.StopUnitContext(ctx, name, "replace", resultChan); err != nil {
		return fmt.Errorf("stopping %s: %w", name, classify(err))
	}

	select {
	case result := <-resultChan:
		if result != "done" {
			return fmt.Errorf("stop job for %s: %s", name, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *dbusManager) Disable(ctx context.Context, unit string) error {
	name := UnitName(unit)
	if _, err := m.conn.DisableUnitFilesContext(ctx, []string{name}, false); err != nil {
		return fmt.Errorf("disabling %s: %w", name, classify(err))
	}
	// systemctl disable reloads systemd as well.
	if err := m.conn.ReloadContext(ctx); err != nil {
		m.log.Debug("systemd reload after disable failed", "unit", name, "error", classify(err))
	}
	return nil
}

// classify maps well-known D-Bus error names onto package errors.
func classify(err error) error {
	switch dbusErrorName(err) {
	case "org.freedesktop.DBus.Error.AccessDenied",
		"org.freedesktop.DBus.Error.InteractiveAuthorizationRequired":
		return fmt.Errorf("%w: %v", ErrPermission, err)
	case "org.freedesktop.systemd1.NoSuchUnit":
		return fmt.Errorf("%w: %v", ErrNoSuchUnit, err)
	default:
		return err
	}
}

func dbusErrorName(err error) string {
	var pe *godbus.Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Name
	}
	var e godbus.Error
	if errors.As(err, &e) {
		return e.Name
	}
	return ""
}
