package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/adtopia/adtopia/internal/config"
	"github.com/adtopia/adtopia/internal/logging"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// logger is the package-level logger for CLI operations.
var logger zerolog.Logger //nolint:gochecknoglobals // Required for zerolog context integration

// NewRootCmd creates the root Cobra command for the adtopia CLI.
// It resolves configuration, wires up logging and tracing, and registers the
// bulk, cache and config subcommands.
func NewRootCmd(ver string) *cobra.Command {
	var logResult *logging.LogPathResult

	cmd := &cobra.Command{
		Use:           "adtopia",
		Short:         "AdTopia bulk operations",
		Long:          "AdTopia: upload, optimize and download gallery images and import ad cards in bulk",
		Version:       ver,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(cmd); err != nil {
				return err
			}
			result := setupLogging(cmd)
			logResult = &result
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if logResult != nil {
				return logResult.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().String("config", "", "config file (default ~/.adtopia/config.yaml)")
	cmd.PersistentFlags().String("project-dir", "", "project directory whose .adtopia/config.yaml overlays the global config")
	cmd.PersistentFlags().String("progress", "", "progress display: auto, tui, plain or none")
	cmd.PersistentFlags().StringP("output", "o", "", "summary format: table or json")

	cmd.AddCommand(
		NewOptimizeCmd(), NewDownloadCmd(), NewImportCmd(), NewUploadCmd(), NewGenerateCmd(),
		newCacheCmd(), newConfigCmd(),
	)

	return cmd
}

// loadConfig resolves the project directory and installs the global config.
// An explicit --config file replaces the global file; the project overlay and
// environment still apply on top of it.
func loadConfig(cmd *cobra.Command) error {
	ctx := cmd.Context()

	projectFlag, _ := cmd.Flags().GetString("project-dir")
	wd, _ := os.Getwd()
	projectDir := config.ResolveProjectDir(ctx, projectFlag, wd)
	config.SetResolvedProjectDir(projectDir)

	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		config.SetGlobalConfig(config.NewWithProjectDir(ctx, projectDir))
		return nil
	}

	cfg := config.Default()
	cfg.SetConfigPath(configFile)
	if err := cfg.Load(); err != nil {
		return err
	}
	if projectDir != "" {
		overlay := filepath.Join(projectDir, "config.yaml")
		if _, err := os.Stat(overlay); err == nil {
			if err := config.ShallowMergeYAML(cfg, overlay); err != nil {
				return fmt.Errorf("merging project config: %w", err)
			}
		}
	}
	cfg.ApplyEnv()
	config.SetGlobalConfig(cfg)
	return nil
}

const rootCmdExample = `  # Optimize every image listed in a gallery export
  adtopia optimize --file images.json --user-id 7f9c...

  # Download medium renditions into gallery-medium.zip
  adtopia download --file images.json --size medium

  # Upload local images under a folder
  adtopia upload photos/*.png --prefix summer

  # Import ad cards from CSV in chunks of 25
  adtopia import --csv cards.csv --chunk-size 25

  # Generate ad copy with a QR code for its share link
  adtopia generate --title "Red bike" --description "21 gears" --share-url https://adtopia.example/cards/{id}

  # Show local cache usage and saved cards
  adtopia cache stats
  adtopia cache cards

  # Initialize and edit configuration
  adtopia config init
  adtopia config set backend.url https://example.supabase.co`

// newCacheCmd creates the cache command group.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Local cache commands"}
	cmd.AddCommand(NewCacheStatsCmd(), NewCacheClearCmd(), NewCacheCleanupCmd(), NewCacheCardsCmd())
	return cmd
}

// newConfigCmd creates the config command group with configuration subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration management commands"}
	cmd.AddCommand(
		NewConfigInitCmd(), NewConfigSetCmd(), NewConfigGetCmd(),
		NewConfigListCmd(), NewConfigValidateCmd(),
	)
	return cmd
}
