package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adtopia/adtopia/internal/config"
)

// NewConfigValidateCmd creates the config validate command for validating configuration.
func NewConfigValidateCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Long: `Validates the effective configuration: the config file, any project overlay
and ADTOPIA_* environment overrides. Every problem is reported.`,
		Example: `  # Validate current configuration
  adtopia config validate

  # Validate and show detailed information
  adtopia config validate --verbose`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigValidate(cmd, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show detailed validation information")

	return cmd
}

// runConfigValidate executes the configuration validation logic.
func runConfigValidate(cmd *cobra.Command, verbose bool) error {
	cfg := config.GetGlobalConfig()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if cfg.Backend.URL == "" {
		cmd.Println("Warning: backend.url is not set; bulk commands need it")
	}

	cmd.Printf("Configuration is valid\n")

	if verbose {
		printVerboseDetails(cmd, cfg)
	}

	return nil
}

// printVerboseDetails prints detailed configuration information.
func printVerboseDetails(cmd *cobra.Command, cfg *config.Config) {
	cmd.Println()
	cmd.Println("Configuration details:")
	cmd.Printf("  Config file: %s\n", cfg.ConfigPath())
	if dir := config.GetResolvedProjectDir(); dir != "" {
		cmd.Printf("  Project directory: %s\n", dir)
	}
	cmd.Printf("  Backend URL: %s\n", cfg.Backend.URL)
	cmd.Printf("  Bucket: %s\n", cfg.Backend.Bucket)
	cmd.Printf("  Rate limit: %g req/s (burst %d)\n", cfg.Backend.RateLimit, cfg.Backend.Burst)
	cmd.Printf("  Chunk size: %d, delay %s\n", cfg.Processing.ChunkSize, cfg.Processing.ChunkDelay)
	cmd.Printf("  Concurrency: %d\n", cfg.Processing.Concurrency)
	cmd.Printf("  Cache enabled: %t\n", cfg.Cache.Enabled)
	cmd.Printf("  Logging level: %s\n", cfg.Logging.Level)
	cmd.Printf("  Log file: %s\n", cfg.Logging.File)
}
