package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/adtopia/adtopia/internal/logging"
)

// EnvProjectDir points at a project whose .adtopia/ config overlays the global one.
const EnvProjectDir = "ADTOPIA_PROJECT_DIR"

const projectDirName = ".adtopia"

var (
	resolvedProjectDir   string       //nolint:gochecknoglobals // Set once at startup, read by config loaders
	resolvedProjectDirMu sync.RWMutex //nolint:gochecknoglobals // Protects resolvedProjectDir
)

// SetResolvedProjectDir stores the resolved project directory for use by other config functions.
func SetResolvedProjectDir(dir string) {
	resolvedProjectDirMu.Lock()
	defer resolvedProjectDirMu.Unlock()
	resolvedProjectDir = dir
}

// GetResolvedProjectDir returns the stored resolved project directory.
func GetResolvedProjectDir() string {
	resolvedProjectDirMu.RLock()
	defer resolvedProjectDirMu.RUnlock()
	return resolvedProjectDir
}

// ResolveProjectDir finds the project-local .adtopia directory. It checks, in order:
//  1. flagValue (--project-dir)
//  2. ADTOPIA_PROJECT_DIR
//  3. the nearest ancestor of startDir containing .adtopia/, other than the
//     global config directory
//
// The result is absolute, or "" when no project is found. Nothing is created.
func ResolveProjectDir(ctx context.Context, flagValue, startDir string) string {
	if flagValue != "" {
		return toAbsProjectDir(ctx, flagValue)
	}
	if envDir := os.Getenv(EnvProjectDir); envDir != "" {
		return toAbsProjectDir(ctx, envDir)
	}
	if startDir == "" {
		return ""
	}

	global, _ := GetConfigDir()
	dir := toAbsProjectDir(ctx, startDir)
	for {
		parent := filepath.Dir(filepath.Dir(dir))
		if dir != global {
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				return dir
			}
		}
		if parent == filepath.Dir(dir) {
			return ""
		}
		dir = filepath.Join(parent, projectDirName)
	}
}

// NewWithProjectDir returns New() with projectDir/config.yaml shallow-merged
// on top. Environment overrides still win. A missing or unreadable overlay
// leaves the global config in effect.
func NewWithProjectDir(ctx context.Context, projectDir string) *Config {
	cfg := New()
	if projectDir == "" {
		return cfg
	}

	overlayPath := filepath.Join(projectDir, configFileName)
	if _, err := os.Stat(overlayPath); err != nil {
		return cfg
	}

	merged := New()
	if err := ShallowMergeYAML(merged, overlayPath); err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().
			Str("component", "config").
			Str("operation", "merge_project_config").
			Err(err).
			Str("overlay_path", overlayPath).
			Msg("failed to merge project config, using global defaults")
		return cfg
	}

	merged.ApplyEnv()
	return merged
}

// toAbsProjectDir resolves dir and appends .adtopia unless already present.
func toAbsProjectDir(ctx context.Context, dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().
			Str("component", "config").
			Err(err).
			Str("dir", dir).
			Msg("failed to resolve absolute path for project directory")
		abs = dir
	}

	if filepath.Base(abs) == projectDirName {
		return abs
	}
	return filepath.Join(abs, projectDirName)
}
