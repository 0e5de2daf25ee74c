// Package probe waits for freshly started daemons to become usable, replacing
// fixed startup sleeps with bounded readiness polling.
package probe

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"fieldrig/internal/logger"
)

var (
	ErrIntervalNotPositive = errors.New("interval must be positive")
	ErrTimeoutNotPositive  = errors.New("timeout must be positive")
	ErrProcessExited       = errors.New("process exited before becoming ready")
	ErrTimeout             = errors.New("readiness wait timed out")
)

const dialTimeout = 500 * time.Millisecond

// Check reports whether a target is ready. attempt starts at 1. A non-nil error
// aborts polling.
type Check func(ctx context.Context, attempt int) (ready bool, err error)

type Config struct {
	Name     string
	Addr     string
	Interval time.Duration
	Timeout  time.Duration
	// ProcessExited, when non-nil, aborts the wait as soon as it is closed.
	ProcessExited <-chan struct{}
	Logger        *logger.Logger
}

// WaitReady polls check until it reports ready, the process exits, or Timeout
// elapses. A timeout wraps ErrTimeout.
func WaitReady(ctx context.Context, cfg Config, check Check) error {
	if cfg.Name == "" {
		return errors.New("wait ready: name must not be empty")
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("wait for %s: %w", cfg.Name, ErrIntervalNotPositive)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("wait for %s: %w", cfg.Name, ErrTimeoutNotPositive)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}

	start := time.Now()
	attempt := 0
	err := wait.PollUntilContextTimeout(ctx, cfg.Interval, cfg.Timeout, true,
		func(pollCtx context.Context) (bool, error) {
			if cfg.ProcessExited != nil {
				select {
				case <-cfg.ProcessExited:
					return false, fmt.Errorf("process %s: %w", cfg.Name, ErrProcessExited)
				default:
				}
			}
			attempt++
			ready, err := check(pollCtx, attempt)
			if err != nil {
				return false, err
			}
			if ready {
				log.Debug("ready", "name", cfg.Name, "addr", cfg.Addr, "attempt", attempt,
					"elapsed", time.Since(start).Round(time.Millisecond).String())
			}
			return ready, nil
		})
	if err == nil {
		return nil
	}
	if wait.Interrupted(err) && ctx.Err() == nil {
		err = ErrTimeout
	}
	return fmt.Errorf("wait for %s readiness on %s: %w", cfg.Name, cfg.Addr, err)
}

// Version is gpsd's greeting, sent as the first line on every new connection.
type Version struct {
	Class      string `json:"class" yaml:"class"`
	Release    string `json:"release" yaml:"release"`
	Rev        string `json:"rev,omitempty" yaml:"rev,omitempty"`
	ProtoMajor int    `json:"proto_major" yaml:"proto_major"`
	ProtoMinor int    `json:"proto_minor" yaml:"proto_minor"`
}

// ReadGPSDVersion connects to gpsd and decodes its VERSION greeting.
func ReadGPSDVersion(ctx context.Context, addr string) (Version, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Version{}, err
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetReadDeadline(deadline)

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && strings.TrimSpace(line) == "" {
		return Version{}, fmt.Errorf("gpsd greeting: %w", err)
	}
	var v Version
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &v); err != nil {
		return Version{}, fmt.Errorf("gpsd greeting parse failed: %v", err)
	}
	if !strings.EqualFold(v.Class, "VERSION") {
		return Version{}, fmt.Errorf("gpsd greeting class %q, want VERSION", v.Class)
	}
	return v, nil
}

// GPSD is ready once the daemon answers with its VERSION greeting.
func GPSD(addr string, log *logger.Logger) Check {
	if log == nil {
		log = logger.Discard()
	}
	return func(ctx context.Context, attempt int) (bool, error) {
		v, err := ReadGPSDVersion(ctx, addr)
		if err != nil {
			log.Debug("gpsd not ready", "addr", addr, "attempt", attempt, "error", err)
			return false, nil
		}
		log.Debug("gpsd greeting", "release", v.Release, "proto", fmt.Sprintf("%d.%d", v.ProtoMajor, v.ProtoMinor))
		return true, nil
	}
}

// DialTCP reports whether something accepts connections on addr.
func DialTCP(ctx context.Context, addr string) error {
	d := &net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// TCPPort is ready once addr accepts a connection (dump1090's SBS output).
func TCPPort(addr string, log *logger.Logger) Check {
	if log == nil {
		log = logger.Discard()
	}
	return func(ctx context.Context, attempt int) (bool, error) {
		if err := DialTCP(ctx, addr); err != nil {
			log.Debug("port not ready", "addr", addr, "attempt", attempt, "error", err)
			return false, nil
		}
		return true, nil
	}
}
