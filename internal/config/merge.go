package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Top-level YAML keys that map to Config sections.
const (
	keyBackend    = "backend"
	keyProcessing = "processing"
	keyCache      = "cache"
	keyLogging    = "logging"
	keyOutput     = "output"
)

// ShallowMergeYAML loads a YAML file and merges its top-level keys onto
// target. A section present in the overlay replaces the whole section in
// target; absent sections and unknown keys are left alone.
func ShallowMergeYAML(target *Config, overlayPath string) error {
	if target == nil {
		return errors.New("nil target *Config in ShallowMergeYAML")
	}

	data, err := os.ReadFile(overlayPath)
	if err != nil {
		return fmt.Errorf("reading overlay file %s: %w", overlayPath, err)
	}

	var overlay map[string]yaml.Node
	if err = yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing overlay YAML from %s: %w", overlayPath, err)
	}

	for key, node := range overlay {
		if err = mergeSection(target, key, &node); err != nil {
			return fmt.Errorf("applying overlay section %q: %w", key, err)
		}
	}
	return nil
}

// mergeSection decodes node into a zero value of the section named key and
// replaces that section of target.
func mergeSection(target *Config, key string, node *yaml.Node) error {
	switch key {
	case keyBackend:
		return replace(&target.Backend, node)
	case keyProcessing:
		return replace(&target.Processing, node)
	case keyCache:
		return replace(&target.Cache, node)
	case keyLogging:
		return replace(&target.Logging, node)
	case keyOutput:
		return replace(&target.Output, node)
	default:
		return nil
	}
}

func replace[T any](dst *T, node *yaml.Node) error {
	var v T
	if err := node.Decode(&v); err != nil {
		return err
	}
	*dst = v
	return nil
}
