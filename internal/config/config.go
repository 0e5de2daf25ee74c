package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultLogDir = "/var/log/fieldrig"

	DefaultGPSDAddr    = "127.0.0.1:2947"
	DefaultSBSPort     = 30003
	DefaultScriptDir   = "/home/pi/ADSB_GPS"
	DefaultGPSDSocket  = "/var/run/gpsd.sock"
	DefaultGPSDDevice  = "/dev/ttyACM0"
	DefaultGPSDBinary  = "gpsd"
	DefaultDump1090Bin = "dump1090"
)

type Config struct {
	LogDir    string `yaml:"log_dir"`
	LockFile  string `yaml:"lock_file"`
	StateFile string `yaml:"state_file"`

	Log      LogConfig      `yaml:"log"`
	Services ServicesConfig `yaml:"services"`
	Timing   TimingConfig   `yaml:"timing"`

	GPSD       GPSDConfig     `yaml:"gpsd"`
	Dump1090   Dump1090Config `yaml:"dump1090"`
	ADSBLogger LoggerConfig   `yaml:"adsb_logger"`
	GPSLogger  LoggerConfig   `yaml:"gps_logger"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServicesConfig struct {
	// Backend is one of auto, dbus, systemctl.
	Backend string `yaml:"backend"`
}

type TimingConfig struct {
	TermWait      time.Duration `yaml:"term_wait"`
	KillWait      time.Duration `yaml:"kill_wait"`
	ServiceWait   time.Duration `yaml:"service_wait"`
	GPSDReady     time.Duration `yaml:"gpsd_ready"`
	Dump1090Ready time.Duration `yaml:"dump1090_ready"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	LockWait      time.Duration `yaml:"lock_wait"`
}

type GPSDConfig struct {
	Binary        string `yaml:"binary"`
	ControlSocket string `yaml:"control_socket"`
	Device        string `yaml:"device"`
	Addr          string `yaml:"addr"`
}

type Dump1090Config struct {
	Binary  string `yaml:"binary"`
	SBSPort int    `yaml:"sbs_port"`
	// Device selects an RTL-SDR by serial or index. "auto" or empty lets dump1090
	// pick; "detect" chooses from rtl_test output at startup.
	Device string `yaml:"device"`
	// ExtraArgs are appended after the fixed flags. A device flag here wins over Device.
	ExtraArgs []string `yaml:"extra_args"`
}

type LoggerConfig struct {
	Script  string `yaml:"script"`
	WorkDir string `yaml:"work_dir"`
}

// ServiceUnits are the systemd units stopped and disabled on every teardown, in
// order. The socket unit goes first, otherwise socket activation restarts gpsd.
func ServiceUnits() []string {
	return []string{"gpsd.socket", "gpsd"}
}

// Interpreters are swept by name on every teardown, in order, after any
// processes tracked by the previous run.
func Interpreters() []string {
	return []string{"python3", "perl"}
}

// Default returns the configuration that reproduces the rig's fixed startup contract.
func Default() Config {
	var cfg Config
	_ = DefaultAndValidate(&cfg)
	return cfg
}

// Load reads a YAML config. An empty path yields the defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
		if err := rejectFixedKeys(b); err != nil {
			return Config{}, err
		}
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// rejectFixedKeys refuses keys that would change the teardown order.
func rejectFixedKeys(b []byte) error {
	var fixed struct {
		Kill     map[string]any `yaml:"kill"`
		Services struct {
			Units []string `yaml:"units"`
		} `yaml:"services"`
	}
	if err := yaml.Unmarshal(b, &fixed); err != nil {
		return err
	}
	if fixed.Kill != nil {
		return fmt.Errorf("kill is not configurable; python3 and perl are always swept")
	}
	if fixed.Services.Units != nil {
		return fmt.Errorf("services.units is not configurable; gpsd.socket and gpsd are always stopped")
	}
	return nil
}

func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	cfg.LogDir = strings.TrimSpace(cfg.LogDir)
	if cfg.LogDir == "" {
		cfg.LogDir = DefaultLogDir
	}
	if strings.TrimSpace(cfg.LockFile) == "" {
		cfg.LockFile = filepath.Join(cfg.LogDir, "fieldrig.lock")
	}
	if strings.TrimSpace(cfg.StateFile) == "" {
		cfg.StateFile = filepath.Join(cfg.LogDir, "fieldrig.state.yaml")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}

	if cfg.Services.Backend == "" {
		cfg.Services.Backend = "auto"
	}
	switch cfg.Services.Backend {
	case "auto", "dbus", "systemctl":
	default:
		return fmt.Errorf("services.backend must be one of auto, dbus, systemctl")
	}

	t := &cfg.Timing
	if t.TermWait <= 0 {
		t.TermWait = 3 * time.Second
	}
	if t.KillWait <= 0 {
		t.KillWait = 1 * time.Second
	}
	if t.ServiceWait <= 0 {
		t.ServiceWait = 2 * time.Second
	}
	if t.GPSDReady <= 0 {
		t.GPSDReady = 2 * time.Second
	}
	if t.Dump1090Ready <= 0 {
		t.Dump1090Ready = 5 * time.Second
	}
	if t.ProbeInterval <= 0 {
		t.ProbeInterval = 250 * time.Millisecond
	}
	if t.LockWait <= 0 {
		t.LockWait = 10 * time.Second
	}
	if t.ProbeInterval > t.GPSDReady || t.ProbeInterval > t.Dump1090Ready {
		return fmt.Errorf("timing.probe_interval must not exceed the readiness waits")
	}

	if cfg.GPSD.Binary == "" {
		cfg.GPSD.Binary = DefaultGPSDBinary
	}
	if cfg.GPSD.ControlSocket == "" {
		cfg.GPSD.ControlSocket = DefaultGPSDSocket
	}
	if cfg.GPSD.Device == "" {
		cfg.GPSD.Device = DefaultGPSDDevice
	}
	if cfg.GPSD.Addr == "" {
		cfg.GPSD.Addr = DefaultGPSDAddr
	}

	if cfg.Dump1090.Binary == "" {
		cfg.Dump1090.Binary = DefaultDump1090Bin
	}
	if cfg.Dump1090.SBSPort == 0 {
		cfg.Dump1090.SBSPort = DefaultSBSPort
	}
	if cfg.Dump1090.SBSPort < 1 || cfg.Dump1090.SBSPort > 65535 {
		return fmt.Errorf("dump1090.sbs_port must be in 1..65535")
	}

	if cfg.ADSBLogger.Script == "" {
		cfg.ADSBLogger.Script = filepath.Join(DefaultScriptDir, "gatherTCPcompress.py")
	}
	if cfg.GPSLogger.Script == "" {
		cfg.GPSLogger.Script = filepath.Join(DefaultScriptDir, "gatherNMEAcompress.py")
	}
	// Loggers write their rotating capture files into the working directory.
	if cfg.ADSBLogger.WorkDir == "" {
		cfg.ADSBLogger.WorkDir = filepath.Dir(cfg.ADSBLogger.Script)
	}
	if cfg.GPSLogger.WorkDir == "" {
		cfg.GPSLogger.WorkDir = filepath.Dir(cfg.GPSLogger.Script)
	}

	return nil
}

// SetLogDir moves the log directory. Lock and state files that were derived from the
// old directory follow it; explicitly configured paths are left alone.
func (c *Config) SetLogDir(dir string) {
	dir = strings.TrimSpace(dir)
	if dir == "" || dir == c.LogDir {
		return
	}
	if c.LockFile == filepath.Join(c.LogDir, "fieldrig.lock") {
		c.LockFile = filepath.Join(dir, "fieldrig.lock")
	}
	if c.StateFile == filepath.Join(c.LogDir, "fieldrig.state.yaml") {
		c.StateFile = filepath.Join(dir, "fieldrig.state.yaml")
	}
	c.LogDir = dir
}

// LogPath returns the log file for a managed target.
func (c Config) LogPath(name string) string {
	return filepath.Join(c.LogDir, name+".log")
}
