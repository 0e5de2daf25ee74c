package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_EmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LogDir != DefaultLogDir {
		t.Fatalf("log_dir=%q want %q", cfg.LogDir, DefaultLogDir)
	}
	if cfg.Timing.TermWait != 3*time.Second || cfg.Timing.KillWait != 1*time.Second {
		t.Fatalf("term/kill waits=%s/%s", cfg.Timing.TermWait, cfg.Timing.KillWait)
	}
	if cfg.Timing.ServiceWait != 2*time.Second {
		t.Fatalf("service_wait=%s", cfg.Timing.ServiceWait)
	}
	if cfg.Timing.GPSDReady != 2*time.Second || cfg.Timing.Dump1090Ready != 5*time.Second {
		t.Fatalf("ready waits=%s/%s", cfg.Timing.GPSDReady, cfg.Timing.Dump1090Ready)
	}
	if cfg.Services.Backend != "auto" {
		t.Fatalf("backend=%q", cfg.Services.Backend)
	}
	if cfg.Dump1090.SBSPort != 30003 {
		t.Fatalf("sbs_port=%d", cfg.Dump1090.SBSPort)
	}
	if cfg.LockFile != filepath.Join(DefaultLogDir, "fieldrig.lock") {
		t.Fatalf("lock_file=%q", cfg.LockFile)
	}
	if cfg.ADSBLogger.WorkDir != DefaultScriptDir {
		t.Fatalf("adsb work_dir=%q", cfg.ADSBLogger.WorkDir)
	}
}

func TestLoad_OverridesKeepOtherDefaults(t *testing.T) {
	path := writeTempConfig(t, ""+
		"log_dir: /tmp/rig\n"+
		"timing:\n  term_wait: 500ms\n"+
		"gpsd:\n  device: /dev/ttyUSB0\n"+
		"adsb_logger:\n  script: /opt/rig/adsb.py\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Timing.TermWait != 500*time.Millisecond {
		t.Fatalf("term_wait=%s", cfg.Timing.TermWait)
	}
	if cfg.Timing.KillWait != 1*time.Second {
		t.Fatalf("kill_wait=%s", cfg.Timing.KillWait)
	}
	if cfg.GPSD.Device != "/dev/ttyUSB0" || cfg.GPSD.ControlSocket != DefaultGPSDSocket {
		t.Fatalf("gpsd=%+v", cfg.GPSD)
	}
	if cfg.StateFile != "/tmp/rig/fieldrig.state.yaml" {
		t.Fatalf("state_file=%q", cfg.StateFile)
	}
	if cfg.ADSBLogger.WorkDir != "/opt/rig" {
		t.Fatalf("work_dir=%q", cfg.ADSBLogger.WorkDir)
	}
	if got := cfg.LogPath("gpsd"); got != "/tmp/rig/gpsd.log" {
		t.Fatalf("LogPath=%q", got)
	}
}

func TestTeardownTargetsAreFixed(t *testing.T) {
	units := ServiceUnits()
	if len(units) != 2 || units[0] != "gpsd.socket" || units[1] != "gpsd" {
		t.Fatalf("units=%v", units)
	}
	units[0] = "changed"
	if ServiceUnits()[0] != "gpsd.socket" {
		t.Fatalf("ServiceUnits() shares its backing array")
	}
	interps := Interpreters()
	if len(interps) != 2 || interps[0] != "python3" || interps[1] != "perl" {
		t.Fatalf("interpreters=%v", interps)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "BadLogLevel",
			yaml: "log:\n  level: loud\n",
			want: "log.level must be one of debug, info, warn, error",
		},
		{
			name: "BadLogFormat",
			yaml: "log:\n  format: xml\n",
			want: "log.format must be 'text' or 'json'",
		},
		{
			name: "BadBackend",
			yaml: "services:\n  backend: upstart\n",
			want: "services.backend must be one of auto, dbus, systemctl",
		},
		{
			name: "BadPort",
			yaml: "dump1090:\n  sbs_port: 70000\n",
			want: "dump1090.sbs_port must be in 1..65535",
		},
		{
			name: "EmptyInterpreterList",
			yaml: "kill:\n  interpreters: []\n",
			want: "kill is not configurable; python3 and perl are always swept",
		},
		{
			name: "InterpreterList",
			yaml: "kill:\n  interpreters: [ruby]\n",
			want: "kill is not configurable; python3 and perl are always swept",
		},
		{
			name: "ServiceUnits",
			yaml: "services:\n  units: [gpsd]\n",
			want: "services.units is not configurable; gpsd.socket and gpsd are always stopped",
		},
		{
			name: "ProbeIntervalTooLong",
			yaml: "timing:\n  probe_interval: 3s\n",
			want: "timing.probe_interval must not exceed the readiness waits",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSetLogDir_MovesDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.StateFile = "/srv/state.yaml"
	cfg.SetLogDir("/data/logs")

	if cfg.LogDir != "/data/logs" {
		t.Fatalf("log_dir=%q", cfg.LogDir)
	}
	if cfg.LockFile != "/data/logs/fieldrig.lock" {
		t.Fatalf("lock_file=%q", cfg.LockFile)
	}
	if cfg.StateFile != "/srv/state.yaml" {
		t.Fatalf("state_file=%q want explicit path kept", cfg.StateFile)
	}
}
