package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/shirou/gopsutil/v4/process"
)

// Table resolves process names and PIDs.
type Table interface {
	// Lookup returns the sorted PIDs whose name equals name exactly.
	Lookup(ctx context.Context, name string) ([]int, error)
	// Name returns the current name of pid, or "" when the PID is gone or a zombie.
	Name(ctx context.Context, pid int) string
	// CreateTime returns the start time of pid in unix milliseconds, or 0 when gone.
	// Together with the PID it identifies one process instance across PID reuse.
	CreateTime(ctx context.Context, pid int) int64
}

// HostTable reads the host process table.
type HostTable struct {
	self int
}

var _ Table = HostTable{}

func NewHostTable() HostTable {
	return HostTable{self: os.Getpid()}
}

func (t HostTable) Lookup(ctx context.Context, name string) ([]int, error) {
	if name == "" {
		return nil, errors.New("process name is empty")
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var pids []int
	for _, p := range procs {
		pid := int(p.Pid)
		if pid == t.self {
			continue
		}
		n, err := p.NameWithContext(ctx)
		if err != nil || n != name {
			// Processes routinely exit between listing and reading their name.
			continue
		}
		if isZombie(ctx, p) {
			continue
		}
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

func (t HostTable) Name(ctx context.Context, pid int) string {
	if pid <= 0 || pid == t.self {
		return ""
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return ""
	}
	n, err := p.NameWithContext(ctx)
	if err != nil {
		return ""
	}
	if isZombie(ctx, p) {
		return ""
	}
	return n
}

func isZombie(ctx context.Context, p *process.Process) bool {
	st, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	return slices.Contains(st, process.Zombie)
}

func (t HostTable) CreateTime(ctx context.Context, pid int) int64 {
	if pid <= 0 {
		return 0
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0
	}
	if isZombie(ctx, p) {
		return 0
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return 0
	}
	return ms
}
