//go:build linux

package rig

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fieldrig/internal/launch"
	"fieldrig/internal/logger"
)

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
}

func waitForFile(t *testing.T, path, want string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		b, _ := os.ReadFile(path)
		if strings.Contains(string(b), want) {
			return string(b)
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never contained %q; got %q", path, want, b)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRun_RealLauncherWritesEachLog(t *testing.T) {
	r := newRig(t)
	bin := t.TempDir()
	scripts := filepath.Join(t.TempDir(), "ADSB_GPS")
	if err := os.MkdirAll(scripts, 0o755); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}

	writeScript(t, filepath.Join(bin, "gpsd"), `echo "gpsd args: $*"; echo "gpsd stderr" >&2`)
	writeScript(t, filepath.Join(bin, "dump1090"), `echo "dump1090 args: $*"`)
	writeScript(t, filepath.Join(scripts, "gatherTCPcompress.py"), `echo "adsb logger in $(pwd)"`)
	writeScript(t, filepath.Join(scripts, "gatherNMEAcompress.py"), `echo "gps logger in $(pwd)"`)

	r.cfg.GPSD.Binary = filepath.Join(bin, "gpsd")
	r.cfg.Dump1090.Binary = filepath.Join(bin, "dump1090")
	r.cfg.ADSBLogger.Script = filepath.Join(scripts, "gatherTCPcompress.py")
	r.cfg.ADSBLogger.WorkDir = scripts
	r.cfg.GPSLogger.Script = filepath.Join(scripts, "gatherNMEAcompress.py")
	r.cfg.GPSLogger.WorkDir = scripts
	r.deps.Spawner = launch.NewLauncher(logger.Discard())

	if err := r.manager().Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	gpsdLog := waitForFile(t, r.cfg.LogPath(TargetGPSD), "gpsd stderr")
	if !strings.Contains(gpsdLog, "gpsd args: -N -F /var/run/gpsd.sock /dev/ttyACM0") {
		t.Fatalf("gpsd log=%q", gpsdLog)
	}
	waitForFile(t, r.cfg.LogPath(TargetDump1090), "dump1090 args: --net --gain -10 --mlat --net-sbs-port 30003")
	waitForFile(t, r.cfg.LogPath(TargetADSBLogger), "adsb logger in "+scripts)
	waitForFile(t, r.cfg.LogPath(TargetGPSLogger), "gps logger in "+scripts)
}
