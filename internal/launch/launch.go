// Package launch starts rig processes detached from the manager: each child runs
// in its own session with stdin on /dev/null and stdout+stderr appended to a log
// file, and keeps running after the manager exits.
package launch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"fieldrig/internal/logger"
)

var ErrNoCommand = errors.New("launch command is required")

type Spec struct {
	// Name labels the target in logs and in the PID ledger (gpsd, dump1090, ...).
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	WorkDir string
	LogFile string
}

// CommandLine renders the command for logs and the ledger.
func (s Spec) CommandLine() string {
	return strings.Join(append([]string{s.Command}, s.Args...), " ")
}

// Spawner starts a detached process. The rig manager depends on this rather than on
// Launcher so tests can record spawns without running anything.
type Spawner interface {
	Launch(spec Spec) (*Handle, error)
}

// Handle is the manager's retained view of a launched process.
type Handle struct {
	Name    string
	PID     int
	LogFile string
	Command string
	Started time.Time

	exited chan struct{}

	mu      sync.Mutex
	exitErr error
}

// NewHandle builds a handle around an externally managed process. exited may be nil
// for a process whose exit cannot be observed.
func NewHandle(name string, pid int, logFile string, exited chan struct{}) *Handle {
	if exited == nil {
		exited = make(chan struct{})
	}
	return &Handle{Name: name, PID: pid, LogFile: logFile, Started: time.Now(), exited: exited}
}

// Exited is closed once the process has been reaped.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// ExitErr returns the wait error after Exited is closed; nil while running or on a
// clean exit.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.exitErr = err
	h.mu.Unlock()
	close(h.exited)
}

type Launcher struct {
	log *logger.Logger
}

func NewLauncher(log *logger.Logger) *Launcher {
	if log == nil {
		log = logger.Discard()
	}
	return &Launcher{log: log}
}

// Launch starts spec and returns without waiting for it. A goroutine reaps the child
// so it never lingers as a zombie while the manager is still running.
func (l *Launcher) Launch(spec Spec) (*Handle, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Command = strings.TrimSpace(spec.Command)
	if spec.Command == "" {
		return nil, fmt.Errorf("launch %s: %w", spec.Name, ErrNoCommand)
	}
	if spec.Name == "" {
		spec.Name = spec.Command
	}
	if strings.TrimSpace(spec.LogFile) == "" {
		return nil, fmt.Errorf("launch %s: log file is required", spec.Name)
	}

	f, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s log: %w", spec.Name, err)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), spec.Env)
	}
	// A nil Stdin is connected to the null device.
	cmd.Stdin = nil
	cmd.Stdout = f
	cmd.Stderr = f
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("start %s process: %w", spec.Name, err)
	}
	// The child holds its own descriptor.
	_ = f.Close()

	h := &Handle{
		Name:    spec.Name,
		PID:     cmd.Process.Pid,
		LogFile: spec.LogFile,
		Command: spec.CommandLine(),
		Started: time.Now(),
		exited:  make(chan struct{}),
	}
	go func() {
		h.finish(cmd.Wait())
	}()

	l.log.Debug("process started",
		"name", spec.Name, "pid", h.PID, "log", spec.LogFile)
	return h, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(keys))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, override := extra[k]; override {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
