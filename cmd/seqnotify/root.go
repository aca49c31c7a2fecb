package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"seqnotify/internal/config"
	"seqnotify/internal/logging"
	"seqnotify/internal/registry"
)

// version is set at build time via -ldflags.
var version = "dev"

// Exit codes inspected by the restricted remote-invocation wrapper to
// decide on retry and alerting. Keep them stable.
const (
	exitOK             = 0
	exitFailure        = 1 // config, transport setup, usage
	exitPartialFailure = 2
	exitTotalFailure   = 3
	exitRunNotFound    = 4
	exitRunIncomplete  = 5
)

// statusError carries a dedicated exit code up to main.
type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

// exitCode maps a command error onto the exit-code contract.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	if errors.Is(err, registry.ErrRunNotFound) {
		return exitRunNotFound
	}
	if errors.Is(err, registry.ErrRunIncomplete) {
		return exitRunIncomplete
	}
	return exitFailure
}

var rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// cfg is loaded once in the persistent pre-run and shared by subcommands.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "seqnotify",
	Short: "Notify recipients that a sequencing run's data is ready for download",
	Long: "Seqnotify is invoked by the facility system when a sequencing run\n" +
		"finishes. It resolves the run in the registry, composes the download\n" +
		"notification and delivers it to every recipient, reporting partial\n" +
		"failures through distinct exit codes.",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(rootFlags.configPath)
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if rootFlags.logLevel != "" {
			level = rootFlags.logLevel
		}
		format := cfg.LogFormat
		if rootFlags.logFormat != "" {
			format = rootFlags.logFormat
		}
		logging.Init(level, format)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "Config file (default: $SEQNOTIFY_CONFIG, then ./seqnotify.yaml)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&rootFlags.logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(recipientsCmd)
	rootCmd.Version = version
}

// openRegistry opens the configured SQLite registry.
func openRegistry() (registry.Registry, error) {
	reg, err := registry.Open(cfg.RegistryPath, registry.Options{LinkExpiryDays: cfg.LinkExpiryDays})
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	return reg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
