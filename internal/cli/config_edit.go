package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adtopia/adtopia/internal/config"
)

// secretKeys are masked by config get and list.
//
//nolint:gochecknoglobals // Static key set.
var secretKeys = map[string]bool{
	"backend.anon_key":     true,
	"backend.access_token": true,
}

// NewConfigGetCmd creates the config get command.
func NewConfigGetCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a configuration value",
		Args:  cobra.ExactArgs(1),
		Example: `  adtopia config get processing.chunk_size
  adtopia config get backend.anon_key --reveal`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.GetGlobalConfig().Get(args[0])
			if err != nil {
				return err
			}
			cmd.Println(displayValue(args[0], v, reveal))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print secrets in full")
	return cmd
}

// NewConfigSetCmd creates the config set command. The value is written to the
// config file; environment overrides are never persisted.
func NewConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2), //nolint:mnd // key and value
		Example: `  adtopia config set backend.url https://example.supabase.co
  adtopia config set processing.chunk_delay 50ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := writableConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("refusing to save invalid configuration: %w", err)
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			cmd.Printf("Set %s in %s\n", strings.ToLower(args[0]), cfg.ConfigPath())
			return nil
		},
	}
}

// NewConfigListCmd creates the config list command.
func NewConfigListCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print every configuration value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.GetGlobalConfig()
			for _, key := range config.Keys() {
				v, _ := cfg.Get(key)
				cmd.Printf("%s = %s\n", key, displayValue(key, v, reveal))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print secrets in full")
	return cmd
}

// writableConfig loads the file config set edits: --config when given,
// else the global file.
func writableConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.FromFile()
	}
	cfg := config.Default()
	cfg.SetConfigPath(path)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// maskVisible is how many trailing characters of a secret are shown.
const maskVisible = 4

func displayValue(key, value string, reveal bool) string {
	if reveal || !secretKeys[strings.ToLower(key)] || value == "" {
		return value
	}
	if len(value) <= maskVisible {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-maskVisible) + value[len(value)-maskVisible:]
}
