package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"imgharvest/pkg/auth"
	"imgharvest/pkg/batch"
	"imgharvest/pkg/category"
	"imgharvest/pkg/checkpoint"
	"imgharvest/pkg/config"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/metrics"
	"imgharvest/pkg/query"
	"imgharvest/pkg/ratelimit"
	"imgharvest/pkg/report"
	"imgharvest/pkg/retry"
	"imgharvest/pkg/runmode"
	"imgharvest/pkg/scraper"
	"imgharvest/pkg/search"
	"imgharvest/pkg/ui"
	"imgharvest/pkg/ui/tui"
)

const (
	exitInterrupted = 130
	// previewCount is how many categories are listed before the run directive
	previewCount = 5
)

var (
	// Run command flags
	runMode      string
	limit        int
	outputDir    string
	engine       string
	workers      int
	delayMin     time.Duration
	delayMax     time.Duration
	retries      int
	reportFormat string
	reportFile   string
	resumeRun    bool
	freshRun     bool
	useTUI       bool
	metricsAddr  string
	notify       bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <source-file>",
	Short: "Download images for every category in a source file",
	Long: `Download up to --limit images for each category listed in the source file.

Each category gets its own directory under the output root, named after the
category. Failures are isolated per category and reported at the end.

The run only starts after a directive:
  confirm-full   process every category
  test           process the first 3 categories only

The first categories are listed before the directive is read. The directive
comes from --mode, the IMGHARVEST_MODE environment variable, or an
interactive prompt. Without one the run is cancelled.`,
	Example: `  # Ask for confirmation, then download 50 images per category
  imgharvest run diseases.txt

  # Unattended test run with Google Custom Search
  imgharvest run diseases.txt --mode test --engine google -n 10

  # Resume an interrupted run and write a JSON report
  imgharvest run diseases.txt --mode confirm-full --resume --report-file report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runMode, "mode", "", "run directive: confirm-full or test")
	runCmd.Flags().IntVarP(&limit, "limit", "n", 50, "images per category")
	runCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output root directory (default: scraped_images)")
	runCmd.Flags().StringVar(&engine, "engine", "bing", "search engine: bing or google")
	runCmd.Flags().IntVar(&workers, "workers", 1, "categories processed concurrently")
	runCmd.Flags().DurationVar(&delayMin, "delay-min", 2*time.Second, "minimum pause between categories")
	runCmd.Flags().DurationVar(&delayMax, "delay-max", 5*time.Second, "maximum pause between categories")
	runCmd.Flags().IntVar(&retries, "retries", 1, "attempts per category")
	runCmd.Flags().StringVar(&reportFormat, "report-format", "table", "report format: table, json or yaml")
	runCmd.Flags().StringVar(&reportFile, "report-file", "", "also write the report to this file")
	runCmd.Flags().BoolVar(&resumeRun, "resume", false, "skip categories completed by an interrupted run")
	runCmd.Flags().BoolVar(&freshRun, "fresh", false, "discard any checkpoint of a previous run")
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "use the full-screen terminal UI")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().BoolVar(&notify, "notify", false, "send a notification when the run finishes")

	runCmd.MarkFlagsMutuallyExclusive("resume", "fresh")
}

// runFlags returns the flags the user set, keyed as config.MergeCommandLineFlags expects
func runFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := func(name string, value interface{}) {
		if cmd.Flags().Changed(name) {
			flags[name] = value
		}
	}
	set("mode", runMode)
	set("limit", limit)
	set("output", outputDir)
	set("engine", engine)
	set("workers", workers)
	set("delay-min", delayMin)
	set("delay-max", delayMax)
	set("retries", retries)
	set("report-format", reportFormat)
	set("report-file", reportFile)
	set("metrics-addr", metricsAddr)
	set("notify", notify)
	return flags
}

func runHarvest(cmd *cobra.Command, args []string) error {
	source := args[0]

	cfg, err := loadConfig(runFlags(cmd))
	if err != nil {
		return err
	}
	var console io.Writer
	if useTUI {
		console = io.Discard
	}
	if err := setupLogging(cfg, console); err != nil {
		return err
	}
	log := logger.GetLogger()

	format, err := report.ParseFormat(cfg.Output.ReportFormat)
	if err != nil {
		ui.PrintError("Invalid report format", err.Error())
		return exitWith(1, err)
	}

	categories, err := category.NewParser(cfg.Source.HeaderMarkers).Load(source)
	if err != nil {
		log.WithError(err).ErrorWithFields("Failed to load categories", map[string]interface{}{
			"source": source,
		})
		ui.PrintError("Failed to load categories", err.Error())
		return exitWith(1, err)
	}
	ui.PrintInfo("Categories", fmt.Sprintf("%d from %s", len(categories), source))
	if !ui.IsQuietMode() {
		previewCategories(os.Stdout, categories)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	directive, err := obtainDirective(ctx, cfg, len(categories))
	if err != nil {
		if ctx.Err() != nil {
			return exitWith(exitInterrupted, ctx.Err())
		}
		ui.PrintError("Failed to read run directive", err.Error())
		return exitWith(1, err)
	}
	mode := runmode.Resolve(directive)
	if mode == runmode.Abort {
		log.WithField("directive", directive).Info("Run cancelled")
		ui.PrintWarning("Run cancelled", "no confirm-full or test directive given")
		return nil
	}

	runCfg := batch.RunConfig{
		ImagesPerCategory: cfg.Batch.ImagesPerCategory,
		OutputRoot:        cfg.Output.BaseDirectory,
		Engine:            cfg.Batch.Engine,
		Mode:              mode,
		Workers:           cfg.Batch.Workers,
		RetryAttempts:     cfg.Retry.MaxAttempts,
		RunID:             uuid.NewString(),
		Source:            source,
	}

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, log); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	cp, err := openCheckpoint(cfg, runCfg, log)
	if err != nil {
		ui.PrintError("Failed to open checkpoint", err.Error())
		return exitWith(1, err)
	}

	opts := []batch.Option{
		batch.WithLogger(log),
		batch.WithPacer(newPacer(cfg.Pacing)),
		batch.WithQueryBuilder(query.NewBuilder(cfg.Search.QueryTemplate)),
		batch.WithMetrics(m),
		batch.WithRetryBackoff(categoryBackoff(cfg.Retry, log)),
	}
	if cp != nil {
		opts = append(opts, batch.WithCheckpoint(cp))
	}

	var screen *tui.TUI
	switch {
	case useTUI:
		screen = tui.NewTUI(stop)
		screen.Start()
		opts = append(opts, batch.WithObserver(screen))
	case !ui.IsQuietMode():
		opts = append(opts, batch.WithObserver(ui.NewProgress(os.Stdout)))
	}
	if rn := ui.NewRunNotifier(ui.NewNotifier(cfg.Notifications.NotificationType), cfg.Notifications); rn != nil {
		opts = append(opts, batch.WithObserver(rn))
	}

	backend := scraper.New(scraperOptions(cfg), log, scraper.WithMetrics(m))
	rep, runErr := batch.NewRunner(backend, opts...).Run(ctx, categories, runCfg)

	if screen != nil {
		if err := screen.Wait(); err != nil {
			log.WithError(err).Warn("Terminal UI stopped")
		}
	}

	if err := report.Render(os.Stdout, rep, format); err != nil {
		log.WithError(err).Error("Failed to render report")
	}
	if cfg.Output.ReportFile != "" {
		if err := report.WriteFile(cfg.Output.ReportFile, rep); err != nil {
			ui.PrintError("Failed to write report", err.Error())
		} else {
			ui.PrintInfo("Report written", cfg.Output.ReportFile)
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || ctx.Err() != nil {
			if cp != nil {
				ui.PrintInfo("Checkpoint saved", "run again with --resume to continue")
			}
			return exitWith(exitInterrupted, runErr)
		}
		ui.PrintError("Run failed", runErr.Error())
		return exitWith(1, runErr)
	}

	if cp != nil && rep.Complete() {
		if err := cp.Delete(); err != nil {
			log.WithError(err).Warn("Failed to delete checkpoint")
		}
	}
	return nil
}

// openCheckpoint prepares the checkpoint for this run, or returns nil when
// checkpoints are disabled.
func openCheckpoint(cfg *config.Config, runCfg batch.RunConfig, log logger.Logger) (*checkpoint.Manager, error) {
	if !cfg.Checkpoint.Enabled {
		return nil, nil
	}

	key := checkpoint.Key(runCfg.Source, runCfg.Engine, runCfg.ImagesPerCategory, runCfg.OutputRoot)
	mgr, err := checkpoint.NewManager(key)
	if err != nil {
		return nil, err
	}

	switch {
	case freshRun:
		if err := mgr.Delete(); err != nil {
			return nil, err
		}
	case resumeRun:
		prev, err := mgr.Summary()
		if err != nil {
			return nil, err
		}
		if prev == nil {
			ui.PrintWarning("No checkpoint found", "starting from the first category")
		} else {
			ui.PrintInfo("Resuming", resumeBanner(prev, time.Now()))
		}
	case mgr.Exists():
		if err := mgr.BackupCheckpoint(); err != nil {
			log.WithError(err).Warn("Failed to back up previous checkpoint")
		}
		ui.PrintWarning("Previous checkpoint replaced", "use --resume to continue an interrupted run")
	}

	if err := mgr.Begin(key, runCfg); err != nil {
		return nil, err
	}
	return mgr, nil
}

// previewCategories lists the first categories of the run so the directive
// is given knowing what will be processed
func previewCategories(w io.Writer, cats []category.Category) {
	renderCategories(w, cats[:min(previewCount, len(cats))], len(cats), nil)
}

// obtainDirective takes the directive from the configuration, where the
// --mode flag and IMGHARVEST_MODE already landed, and otherwise prompts on a
// terminal
func obtainDirective(ctx context.Context, cfg *config.Config, count int) (string, error) {
	return runmode.Obtain(ctx,
		runmode.Static(cfg.Batch.Mode),
		runmode.StdinPrompt(os.Stdout, runmode.PromptMessage(count, cfg.Batch.ImagesPerCategory)),
	)
}

func resumeBanner(prev *checkpoint.Summary, now time.Time) string {
	return fmt.Sprintf("%d categories already completed with %d images, checkpoint saved %s ago",
		prev.Completed, prev.Images, now.Sub(prev.UpdatedAt).Round(time.Second))
}

// categoryBackoff builds the delay between category attempts. A strategy
// Validate let through always parses; exponential is the fallback.
func categoryBackoff(cfg config.RetryConfig, log logger.Logger) retry.BackoffStrategy {
	backoff, err := retry.NewBackoff(cfg.Strategy, cfg.BaseDelay, cfg.MaxDelay)
	if err != nil {
		log.WithError(err).Warn("Falling back to exponential retry backoff")
		backoff, _ = retry.NewBackoff("exponential", cfg.BaseDelay, cfg.MaxDelay)
	}
	return backoff
}

func newPacer(cfg config.PacingConfig) ratelimit.Pacer {
	var pacer ratelimit.Pacer = ratelimit.NewJitter(cfg.MinDelay, cfg.MaxDelay)
	if cfg.Adaptive && cfg.MaxBackoff > 0 {
		pacer = ratelimit.NewAdaptive(pacer, cfg.MaxDelay, cfg.MaxBackoff)
	}
	return pacer
}

// scraperOptions resolves search credentials for the configured engine
func scraperOptions(cfg *config.Config) scraper.Options {
	opts := scraper.OptionsFromConfig(cfg)

	engine, err := search.ParseEngine(cfg.Batch.Engine)
	if err != nil || engine != search.Google {
		return opts
	}
	mgr, err := auth.NewManager()
	if err != nil {
		logger.WithError(err).Warn("Credential stores unavailable")
		return opts
	}
	opts.Credentials = mgr.SearchCredentials(engine)
	return opts
}
