package rig

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"fieldrig/internal/config"
	"fieldrig/internal/probe"
	"fieldrig/internal/sdr"
	"fieldrig/internal/state"
)

const (
	statusTailLines   = 5
	statusConcurrency = 4
)

type Report struct {
	GeneratedAt time.Time      `yaml:"generated_at"`
	LogDir      string         `yaml:"log_dir"`
	Ledger      string         `yaml:"ledger,omitempty"`
	Targets     []TargetStatus `yaml:"targets"`
	Units       []UnitStatus   `yaml:"units,omitempty"`
	Probes      []ProbeStatus  `yaml:"probes"`
	Disk        *DiskStatus    `yaml:"disk,omitempty"`
	SDR         SDRStatus      `yaml:"sdr"`
}

type TargetStatus struct {
	Name    string         `yaml:"name"`
	Command string         `yaml:"command"`
	Process string         `yaml:"process,omitempty"`
	PIDs    []int          `yaml:"pids,omitempty"`
	Tracked *TrackedStatus `yaml:"tracked,omitempty"`
	Log     LogStatus      `yaml:"log"`
}

type TrackedStatus struct {
	PID       int       `yaml:"pid"`
	Alive     bool      `yaml:"alive"`
	StartedAt time.Time `yaml:"started_at"`
}

type LogStatus struct {
	Path  string   `yaml:"path"`
	Size  int64    `yaml:"size"`
	Tail  []string `yaml:"tail,omitempty"`
	Error string   `yaml:"error,omitempty"`
}

type UnitStatus struct {
	Name  string `yaml:"name"`
	State string `yaml:"state,omitempty"`
	Error string `yaml:"error,omitempty"`
}

type ProbeStatus struct {
	Name   string `yaml:"name"`
	Addr   string `yaml:"addr"`
	Ready  bool   `yaml:"ready"`
	Detail string `yaml:"detail,omitempty"`
}

type DiskStatus struct {
	Path       string `yaml:"path"`
	TotalBytes uint64 `yaml:"total_bytes,omitempty"`
	AvailBytes uint64 `yaml:"avail_bytes,omitempty"`
	Error      string `yaml:"error,omitempty"`
}

type SDRStatus struct {
	Devices []sdr.RTLSDRDevice `yaml:"devices,omitempty"`
	Error   string             `yaml:"error,omitempty"`
}

// YAML renders the report for the status command.
func (r Report) YAML() ([]byte, error) {
	return yaml.Marshal(&r)
}

// Status gathers a read-only view of the rig. It takes no lock and changes
// nothing; every probe failure is reported inside the result.
func (m *Manager) Status(ctx context.Context) (Report, error) {
	cfg := m.cfg
	rpt := Report{GeneratedAt: m.now().UTC(), LogDir: cfg.LogDir}

	led, haveLedger := m.loadLedger()
	if haveLedger {
		rpt.Ledger = cfg.StateFile
	}

	specs := []struct {
		name, process, command, log string
	}{
		{TargetGPSD, commName(cfg.GPSD.Binary), gpsdSpec(cfg).CommandLine(), cfg.LogPath(TargetGPSD)},
		{TargetDump1090, commName(cfg.Dump1090.Binary), dump1090Spec(cfg, cfg.Dump1090.Device).CommandLine(), cfg.LogPath(TargetDump1090)},
		{TargetADSBLogger, "", cfg.ADSBLogger.Script, cfg.LogPath(TargetADSBLogger)},
		{TargetGPSLogger, "", cfg.GPSLogger.Script, cfg.LogPath(TargetGPSLogger)},
	}
	rpt.Targets = make([]TargetStatus, len(specs))
	rpt.Units = make([]UnitStatus, len(config.ServiceUnits()))
	rpt.Probes = []ProbeStatus{
		{Name: TargetGPSD, Addr: cfg.GPSD.Addr},
		{Name: TargetDump1090 + "_sbs", Addr: sbsAddr(cfg)},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusConcurrency)

	for i, s := range specs {
		g.Go(func() error {
			ts := TargetStatus{Name: s.name, Command: s.command, Process: s.process}
			if s.process != "" {
				if pids, err := m.table.Lookup(gctx, s.process); err == nil {
					ts.PIDs = pids
				}
			}
			if e, ok := led.Find(s.name); ok {
				ts.Tracked = m.trackedStatus(gctx, e)
			}
			ts.Log = logStatus(s.log)
			rpt.Targets[i] = ts
			return nil
		})
	}

	g.Go(func() error {
		m.unitStatus(gctx, rpt.Units)
		return nil
	})

	g.Go(func() error {
		v, err := probe.ReadGPSDVersion(gctx, cfg.GPSD.Addr)
		if err != nil {
			rpt.Probes[0].Detail = err.Error()
			return nil
		}
		rpt.Probes[0].Ready = true
		rpt.Probes[0].Detail = "gpsd " + v.Release
		return nil
	})
	g.Go(func() error {
		if err := probe.DialTCP(gctx, rpt.Probes[1].Addr); err != nil {
			rpt.Probes[1].Detail = err.Error()
			return nil
		}
		rpt.Probes[1].Ready = true
		return nil
	})

	g.Go(func() error {
		rpt.Disk = snapshotDisk(cfg.LogDir)
		return nil
	})
	g.Go(func() error {
		devs, err := m.detectSDR(gctx)
		if err != nil {
			rpt.SDR.Error = err.Error()
			return nil
		}
		rpt.SDR.Devices = devs
		return nil
	})

	if err := g.Wait(); err != nil {
		return rpt, err
	}
	return rpt, ctx.Err()
}

func (m *Manager) trackedStatus(ctx context.Context, e state.Entry) *TrackedStatus {
	ct := m.table.CreateTime(ctx, e.PID)
	return &TrackedStatus{
		PID:       e.PID,
		Alive:     ct != 0 && ct == e.CreateTime,
		StartedAt: e.StartedAt,
	}
}

// unitStatus fills out, which holds one slot per gpsd unit, over a single
// service manager connection.
func (m *Manager) unitStatus(ctx context.Context, out []UnitStatus) {
	units := config.ServiceUnits()
	svc, err := m.services(ctx)
	if err != nil {
		for i, u := range units {
			out[i] = UnitStatus{Name: u, Error: err.Error()}
		}
		return
	}
	defer svc.Close()
	for i, u := range units {
		st, err := svc.ActiveState(ctx, u)
		if err != nil {
			out[i] = UnitStatus{Name: u, Error: err.Error()}
			continue
		}
		out[i] = UnitStatus{Name: u, State: st}
	}
}

func logStatus(path string) LogStatus {
	ls := LogStatus{Path: path}
	size, tail, err := readTail(path, statusTailLines)
	ls.Size = size
	ls.Tail = tail
	if err != nil {
		ls.Error = err.Error()
	}
	return ls
}
