package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"imgharvest/pkg/config"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFile    string
	noColor    bool
	quiet      bool
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imgharvest",
	Short: "Download reference images for a list of categories",
	Long: `imgharvest reads a list of categories from a text file and downloads a
fixed number of images for each one into its own directory.

Features:
  - Bing image search without credentials, Google Custom Search with an API key
  - Per-category failure isolation with a final report
  - Mandatory pacing between categories with adaptive backoff
  - Resumable runs through checkpoints
  - Progress output, full-screen TUI and desktop notifications
  - Prometheus metrics`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.SetColors(false)
		}
		if quiet {
			ui.SetQuietMode(true)
		}
		if cmd.Name() != "version" && cmd.Name() != "help" {
			ui.PrintLogo()
		}
	},
}

// exitError carries a process exit code. The message has already been shown.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		ui.PrintError("Error", err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./imgharvest.yaml or ~/.config/imgharvest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors and the report")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.SetVersionTemplate(`imgharvest {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags returns the persistent flags that override configuration
func globalFlags() map[string]interface{} {
	flags := make(map[string]interface{})
	switch {
	case logLevel != "":
		flags["log-level"] = logLevel
	case verbose:
		flags["log-level"] = "debug"
	case quiet:
		flags["log-level"] = "error"
	}
	if logFile != "" {
		flags["log-file"] = logFile
	}
	return flags
}

// loadConfig loads configuration with the given command flags on top
func loadConfig(flags map[string]interface{}) (*config.Config, error) {
	merged := globalFlags()
	for k, v := range flags {
		merged[k] = v
	}
	cfg, err := config.Load(configFile, merged)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		return nil, exitWith(1, err)
	}
	return cfg, nil
}

// setupLogging installs the global logger. Console logs go to console,
// which may be io.Discard while the TUI owns the screen.
func setupLogging(cfg *config.Config, console io.Writer) error {
	if err := logger.InitializeWithOptions(&cfg.Logging, logger.Options{Console: console, NoColor: noColor}); err != nil {
		ui.PrintError("Failed to initialize logging", err.Error())
		return exitWith(1, err)
	}
	return nil
}
