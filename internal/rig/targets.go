package rig

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"fieldrig/internal/config"
	"fieldrig/internal/launch"
	"fieldrig/internal/probe"
	"fieldrig/internal/sdr"
)

const (
	TargetGPSD       = "gpsd"
	TargetDump1090   = "dump1090"
	TargetADSBLogger = "adsb_logger"
	TargetGPSLogger  = "gps_logger"
)

// target is one process the rig starts, in start order.
type target struct {
	spec launch.Spec
	// process is the name a stale instance runs under, for name sweeps. Empty for
	// scripts, whose name is their interpreter's.
	process   string
	ready     probe.Check
	readyWait time.Duration
	readyAddr string
}

// commName is the process name a binary started by path runs under. The process
// table reports names past the kernel's 15-byte comm limit in full.
func commName(binary string) string {
	return filepath.Base(binary)
}

func sbsAddr(cfg config.Config) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Dump1090.SBSPort))
}

func gpsdSpec(cfg config.Config) launch.Spec {
	return launch.Spec{
		Name:    TargetGPSD,
		Command: cfg.GPSD.Binary,
		// -N keeps gpsd in the foreground so its stderr lands in the log.
		Args:    []string{"-N", "-F", cfg.GPSD.ControlSocket, cfg.GPSD.Device},
		LogFile: cfg.LogPath(TargetGPSD),
	}
}

// dump1090Args builds the fixed decoder flags. auto (and an unresolved detect)
// leaves the dongle choice to dump1090, and a device flag in extra_args wins.
func dump1090Args(cfg config.Config, device string) []string {
	args := []string{
		"--net",
		"--gain", "-10",
		"--mlat",
		"--net-sbs-port", strconv.Itoa(cfg.Dump1090.SBSPort),
	}
	args = append(args, cfg.Dump1090.ExtraArgs...)
	if !sdr.IsAutoTag(device) && device != sdr.DetectTag && !sdr.HasAnyFlag(cfg.Dump1090.ExtraArgs, "--device-index", "--device") {
		args = sdr.UpsertFlagValue(args, "--device-index", device)
	}
	return args
}

func dump1090Spec(cfg config.Config, device string) launch.Spec {
	return launch.Spec{
		Name:    TargetDump1090,
		Command: cfg.Dump1090.Binary,
		Args:    dump1090Args(cfg, device),
		LogFile: cfg.LogPath(TargetDump1090),
	}
}

func loggerSpec(cfg config.Config, name string, lc config.LoggerConfig) launch.Spec {
	return launch.Spec{
		Name:    name,
		Command: lc.Script,
		WorkDir: lc.WorkDir,
		LogFile: cfg.LogPath(name),
	}
}

// resolveDevice turns the configured dump1090 device into a selector. "detect"
// asks rtl_test; when that fails the choice falls back to dump1090.
func (m *Manager) resolveDevice(ctx context.Context) string {
	dev := m.cfg.Dump1090.Device
	if dev != sdr.DetectTag {
		return dev
	}
	devs, err := m.detectSDR(ctx)
	if err != nil {
		m.log.Warn("RTL-SDR detection failed; letting dump1090 pick", "error", err)
		return "auto"
	}
	d, _ := sdr.Pick1090(devs)
	m.log.Info("RTL-SDR selected", "devices", sdr.DebugFormatDevices(devs), "device", d.Selector())
	return d.Selector()
}

// targets lists what the rig starts, in start order.
func (m *Manager) targets(ctx context.Context) []target {
	cfg := m.cfg
	return []target{
		{
			spec:      gpsdSpec(cfg),
			process:   commName(cfg.GPSD.Binary),
			ready:     m.gpsdReady,
			readyWait: cfg.Timing.GPSDReady,
			readyAddr: cfg.GPSD.Addr,
		},
		{
			spec:      dump1090Spec(cfg, m.resolveDevice(ctx)),
			process:   commName(cfg.Dump1090.Binary),
			ready:     m.sbsReady,
			readyWait: cfg.Timing.Dump1090Ready,
			readyAddr: sbsAddr(cfg),
		},
		{spec: loggerSpec(cfg, TargetADSBLogger, cfg.ADSBLogger)},
		{spec: loggerSpec(cfg, TargetGPSLogger, cfg.GPSLogger)},
	}
}
