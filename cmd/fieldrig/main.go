package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"fieldrig/internal/config"
	"fieldrig/internal/logger"
	"fieldrig/internal/rig"
	"fieldrig/internal/state"
)

var version = "dev"

const (
	exitOK          = 0
	exitFailure     = 1
	exitLocked      = 2
	exitInterrupted = 130
)

type options struct {
	configPath string
	logLevel   string
	logFormat  string
	logDir     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr, rig.Deps{})
	stop()
	os.Exit(code)
}

// execute runs the CLI and maps the outcome to a process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, deps rig.Deps) int {
	root := newRootCmd(ctx, stdout, stderr, deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, state.ErrLocked):
		return exitLocked
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitFailure
	}
}

func newRootCmd(ctx context.Context, stdout, stderr io.Writer, deps rig.Deps) *cobra.Command {
	var opts options

	startRun := func(_ *cobra.Command, _ []string) error {
		return runStart(ctx, opts, stdout, deps)
	}

	rootCmd := &cobra.Command{
		Use:           "fieldrig",
		Short:         "Restart the rig's GPS, ADS-B and logger processes",
		Long:          `Stops any running gpsd, dump1090 and logger scripts, then starts them again in order with their output appended to per-process log files.`,
		Args:          cobra.NoArgs,
		RunE:          startRun,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Tear down and start every rig process (default)",
		Args:  cobra.NoArgs,
		RunE:  startRun,
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop every rig process and forget the PID ledger",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runStop(ctx, opts, stdout, deps)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print a YAML report of processes, units, probes, logs and disk",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runStatus(ctx, opts, stdout, stderr, deps)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(stdout, "fieldrig %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file path (env FIELDRIG_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&opts.logDir, "log-dir", "", "Directory for process logs, lock and ledger")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	return rootCmd
}

// loadConfig applies the config file and then the flag overrides.
func loadConfig(opts options) (config.Config, string, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv("FIELDRIG_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, path, fmt.Errorf("config load failed: %w", err)
	}
	cfg.SetLogDir(opts.logDir)
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		return config.Config{}, path, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, path, nil
}

func runStart(ctx context.Context, opts options, stdout io.Writer, deps rig.Deps) error {
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format, stdout)
	log.RunStart(version, path)

	if err := rig.New(cfg, log, deps).Run(ctx); err != nil {
		log.Error("run aborted", "error", err)
		return err
	}
	log.Info("fieldrig run complete", "log_dir", cfg.LogDir)
	return nil
}

func runStop(ctx context.Context, opts options, stdout io.Writer, deps rig.Deps) error {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format, stdout)

	if err := rig.New(cfg, log, deps).Stop(ctx); err != nil {
		log.Error("stop aborted", "error", err)
		return err
	}
	log.Info("fieldrig stopped")
	return nil
}

// runStatus keeps stdout for the YAML report; diagnostics go to stderr.
func runStatus(ctx context.Context, opts options, stdout, stderr io.Writer, deps rig.Deps) error {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format, stderr)

	rpt, err := rig.New(cfg, log, deps).Status(ctx)
	if err != nil {
		return err
	}
	out, err := rpt.YAML()
	if err != nil {
		return err
	}
	_, err = stdout.Write(out)
	return err
}
