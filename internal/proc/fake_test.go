package proc

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// fakeTable is an in-memory process table. Signals are delivered through
// onSignal so a test decides which processes die on which signal.
type fakeTable struct {
	mu    sync.Mutex
	procs map[int]string

	signals  []sentSignal
	onSignal func(pid int, sig unix.Signal) bool
}

type sentSignal struct {
	PID int
	Sig unix.Signal
}

func newFakeTable(procs map[int]string) *fakeTable {
	return &fakeTable{procs: procs}
}

func (f *fakeTable) Lookup(_ context.Context, name string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pids []int
	for pid, n := range f.procs {
		if n == name {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids, nil
}

func (f *fakeTable) Name(_ context.Context, pid int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[pid]
}

func (f *fakeTable) CreateTime(_ context.Context, pid int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.procs[pid]; !ok {
		return 0
	}
	return int64(1000 + pid)
}

func (f *fakeTable) signal(pid int, sig unix.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sentSignal{PID: pid, Sig: sig})
	if _, ok := f.procs[pid]; !ok {
		return unix.ESRCH
	}
	dies := sig == unix.SIGKILL
	if f.onSignal != nil {
		dies = f.onSignal(pid, sig)
	}
	if dies {
		delete(f.procs, pid)
	}
	return nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return nil
}
