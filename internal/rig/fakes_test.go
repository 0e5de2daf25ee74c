package rig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"fieldrig/internal/config"
	"fieldrig/internal/launch"
	"fieldrig/internal/logger"
	"fieldrig/internal/probe"
	"fieldrig/internal/sdr"
	"fieldrig/internal/service"
)

// events is the shared, ordered record of every side effect in a scenario.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, fmt.Sprintf(format, args...))
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type fakeProc struct {
	name       string
	createTime int64
	ignoreTerm bool
}

type fakeTable struct {
	mu    sync.Mutex
	procs map[int]*fakeProc
	ev    *events
}

func newFakeTable(ev *events) *fakeTable {
	return &fakeTable{procs: map[int]*fakeProc{}, ev: ev}
}

func (f *fakeTable) add(pid int, name string, ignoreTerm bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[pid] = &fakeProc{name: name, createTime: int64(1_000_000 + pid), ignoreTerm: ignoreTerm}
}

func (f *fakeTable) alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.procs[pid]
	return ok
}

func (f *fakeTable) Lookup(_ context.Context, name string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for pid, p := range f.procs {
		if p.name == name {
			out = append(out, pid)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (f *fakeTable) Name(_ context.Context, pid int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.procs[pid]; ok {
		return p.name
	}
	return ""
}

func (f *fakeTable) CreateTime(_ context.Context, pid int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.procs[pid]; ok {
		return p.createTime
	}
	return 0
}

func (f *fakeTable) signal(pid int, sig unix.Signal) error {
	f.ev.add("signal %d %s", pid, unix.SignalName(sig))
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok {
		return unix.ESRCH
	}
	if sig == unix.SIGTERM && p.ignoreTerm {
		return nil
	}
	delete(f.procs, pid)
	return nil
}

type fakeSleeper struct {
	ev *events
}

func (s fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.ev.add("sleep %s", d)
	return ctx.Err()
}

type fakeServices struct {
	mu       sync.Mutex
	ev       *events
	states   map[string]string
	stuck    map[string]bool
	stopErr  error
	queryErr error
}

func (s *fakeServices) ActiveState(_ context.Context, unit string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ev.add("is-active %s", unit)
	if s.queryErr != nil {
		return "", s.queryErr
	}
	if st, ok := s.states[unit]; ok {
		return st, nil
	}
	return "inactive", nil
}

func (s *fakeServices) Stop(_ context.Context, unit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ev.add("stop %s", unit)
	if s.stopErr != nil {
		return s.stopErr
	}
	if !s.stuck[unit] {
		s.states[unit] = "inactive"
	}
	return nil
}

func (s *fakeServices) Disable(_ context.Context, unit string) error {
	s.ev.add("disable %s", unit)
	return errors.New("Failed to disable unit: Unit file " + unit + " does not exist.")
}

func (s *fakeServices) Close() error { return nil }

// fakeSpawner creates the log file like the real launcher and registers the new
// process in the table under the name the kernel would report.
type fakeSpawner struct {
	ev      *events
	table   *fakeTable
	nextPID int
	fail    map[string]error
	specs   []launch.Spec
}

func (s *fakeSpawner) Launch(spec launch.Spec) (*launch.Handle, error) {
	s.specs = append(s.specs, spec)
	s.ev.add("spawn %s", spec.CommandLine())
	if err := s.fail[spec.Name]; err != nil {
		return nil, err
	}
	f, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	_ = f.Close()

	s.nextPID++
	pid := s.nextPID
	name := commName(spec.Command)
	if filepath.Ext(spec.Command) == ".py" {
		name = "python3"
	}
	s.table.add(pid, name, false)

	h := launch.NewHandle(spec.Name, pid, spec.LogFile, nil)
	h.Command = spec.CommandLine()
	return h, nil
}

func alwaysReady(context.Context, int) (bool, error) { return true, nil }

// rig bundles a manager with its fakes.
type rig struct {
	cfg      config.Config
	ev       *events
	table    *fakeTable
	services *fakeServices
	spawner  *fakeSpawner
	deps     Deps
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.SetLogDir(filepath.Join(t.TempDir(), "logs"))
	cfg.Timing.LockWait = 200 * time.Millisecond
	return cfg
}

func newRig(t *testing.T) *rig {
	t.Helper()
	ev := &events{}
	table := newFakeTable(ev)
	r := &rig{
		cfg:      testConfig(t),
		ev:       ev,
		table:    table,
		services: &fakeServices{ev: ev, states: map[string]string{}, stuck: map[string]bool{}},
		spawner:  &fakeSpawner{ev: ev, table: table, nextPID: 5000, fail: map[string]error{}},
	}
	r.deps = Deps{
		Table:  table,
		Signal: table.signal,
		Sleep:  fakeSleeper{ev: ev}.sleep,
		Services: func(context.Context) (service.Manager, error) {
			return r.services, nil
		},
		Spawner:   r.spawner,
		GPSDReady: probe.Check(alwaysReady),
		SBSReady:  probe.Check(alwaysReady),
		DetectSDR: func(context.Context) ([]sdr.RTLSDRDevice, error) {
			return nil, sdr.ErrNoDevices
		},
		Now: func() time.Time { return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC) },
	}
	return r
}

func (r *rig) manager() *Manager {
	return New(r.cfg, logger.Discard(), r.deps)
}

func filterPrefix(list []string, prefix string) []string {
	var out []string
	for _, s := range list {
		if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			out = append(out, s)
		}
	}
	return out
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
