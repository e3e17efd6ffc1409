package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"imgharvest/pkg/auth"
	"imgharvest/pkg/search"
	"imgharvest/pkg/ui"
)

const defaultConfigPath = "imgharvest.yaml"

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage imgharvest configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (IMGHARVEST_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is created in the current directory as 'imgharvest.yaml' unless a
different path is given with --config.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the configuration from all sources.

This command checks:
  - YAML syntax
  - Value ranges
  - Output and log directory accessibility
  - Credentials for the configured search engine`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

const exampleConfig = `# imgharvest configuration file
#
# Every option can also be set through IMGHARVEST_* environment variables,
# for example IMGHARVEST_IMAGES_PER_CATEGORY or IMGHARVEST_ENGINE.

batch:
  # Images to download for each category
  images_per_category: 50
  # Search engine: bing or google
  engine: "bing"
  # Run directive for unattended runs: confirm-full or test.
  # Leave empty to be asked interactively.
  mode: ""
  # Categories processed concurrently
  workers: 1

source:
  # Lines containing one of these markers are skipped as report headers
  header_markers: ["DISEASE COUNT", "Total rows", "Unique diseases"]

search:
  user_agent: ""
  # Must contain {name}
  query_template: "{name} skin lesion patient photo close up real"
  max_pages: 10
  request_timeout: 30s
  requests_per_minute: 30
  # off, moderate or strict
  safe_search: "moderate"

download:
  concurrent_downloads: 4
  download_timeout: 30s
  retry_attempts: 2
  requests_per_minute: 240
  # token_bucket refills a sixth of the budget every 10s,
  # sliding_window admits the whole budget in any rolling minute
  limiter: "token_bucket"
  # Smaller responses are rejected as thumbnails or error pages
  min_file_size: 2048
  # 0 means no limit
  max_file_size: 0

pacing:
  # Pause between categories
  min_delay: 2s
  max_delay: 5s
  # Back off further after rate limiting
  adaptive: true
  max_backoff: 2m

retry:
  # Attempts per category, 1 disables retry
  max_attempts: 1
  # exponential, linear or constant
  strategy: "exponential"
  base_delay: 10s
  max_delay: 1m

output:
  base_directory: "scraped_images"
  # table, json or yaml
  report_format: "table"
  report_file: ""

checkpoint:
  enabled: true

metrics:
  # For example ":9090"; empty disables the endpoint
  addr: ""

notifications:
  enabled: false
  on_complete: true
  on_error: true
  # terminal, desktop or none
  notification_type: "terminal"

logging:
  # debug, info, warn or error
  level: "info"
  # JSON log file, optional
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = defaultConfigPath
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		return exitWith(1, fmt.Errorf("%s exists", configPath))
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		ui.PrintError("Failed to create configuration file", err.Error())
		return exitWith(1, err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the configuration file")
	fmt.Println("2. Run 'imgharvest config validate' to check it")
	fmt.Println("3. Start with 'imgharvest run <source-file> --mode test'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		ui.PrintError("Failed to format configuration", err.Error())
		return exitWith(1, err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (IMGHARVEST_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched in default locations)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	var warnings, problems []string

	if cfg.Output.BaseDirectory != "" {
		if err := os.MkdirAll(cfg.Output.BaseDirectory, 0755); err != nil {
			problems = append(problems, fmt.Sprintf("Cannot create output directory: %v", err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("Cannot create log directory: %v", err))
		}
	}

	if engine, err := search.ParseEngine(cfg.Batch.Engine); err == nil && engine == search.Google {
		mgr, err := auth.NewManager()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Credential stores unavailable: %v", err))
		} else if creds := mgr.SearchCredentials(engine); creds.APIKey == "" || creds.EngineID == "" {
			warnings = append(warnings, "Google Custom Search credentials not configured, run 'imgharvest auth set google'")
		}
	}
	if cfg.Batch.Mode == "" {
		warnings = append(warnings, "No run directive configured, runs will ask for confirmation")
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors", "")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return exitWith(1, fmt.Errorf("%d configuration errors", len(problems)))
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings", "")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Images per category: %d\n", cfg.Batch.ImagesPerCategory)
	fmt.Printf("  Search engine: %s\n", cfg.Batch.Engine)
	fmt.Printf("  Output directory: %s\n", cfg.Output.BaseDirectory)
	fmt.Printf("  Concurrent downloads: %d\n", cfg.Download.ConcurrentDownloads)
	fmt.Printf("  Pause between categories: %s to %s\n", cfg.Pacing.MinDelay, cfg.Pacing.MaxDelay)
	fmt.Printf("  Download limiter: %s\n", cfg.Download.Limiter)
	fmt.Printf("  Attempts per category: %d (%s backoff)\n", cfg.Retry.MaxAttempts, cfg.Retry.Strategy)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}
