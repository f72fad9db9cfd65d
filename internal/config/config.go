package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"gpucheckpoint/internal/configdir"
	"gpucheckpoint/internal/gpupath"
	"gpucheckpoint/internal/procscan"
)

// Load loads and merges configuration from system and user files
// Priority: defaults < system config < user config
func Load() (Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Try to load system config
	if err := mergeConfigFile(&cfg, SystemConfigPath()); err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to load system config: %w", err)
		}
		// System config not existing is OK, continue with defaults
	}

	// Try to load user config
	if userPath := UserConfigPath(); userPath != "" {
		if err := mergeConfigFile(&cfg, userPath); err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to load user config: %w", err)
			}
		}
	}

	// Validate the merged configuration
	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		return cfg, fmt.Errorf("config.validation.error: %v", formatValidationErrors(validationErrors))
	}

	return cfg, nil
}

// LoadFrom loads configuration from a specific file path
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := mergeConfigFile(&cfg, path); err != nil {
		return cfg, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		return cfg, fmt.Errorf("config.validation.error: %v", formatValidationErrors(validationErrors))
	}

	return cfg, nil
}

// mergeConfigFile reads a YAML file and merges it into the existing config
func mergeConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path is constructed from trusted sources
	if err != nil {
		return err
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	mergeConfig(cfg, &overlay)
	return nil
}

// mergeConfig merges non-zero values from src into dst. Extra patterns and
// indicators accumulate across files.
func mergeConfig(dst, src *Config) {
	if src.Detection.TimeoutMS != 0 {
		dst.Detection.TimeoutMS = src.Detection.TimeoutMS
	}
	if src.Detection.ProcRoot != "" {
		dst.Detection.ProcRoot = src.Detection.ProcRoot
	}
	if src.Detection.PeerScan != nil {
		v := *src.Detection.PeerScan
		dst.Detection.PeerScan = &v
	}
	if src.Detection.MinAnonymousMB != 0 {
		dst.Detection.MinAnonymousMB = src.Detection.MinAnonymousMB
	}
	dst.Detection.ExtraPatterns = append(dst.Detection.ExtraPatterns, src.Detection.ExtraPatterns...)
	dst.Detection.ExtraIndicators = append(dst.Detection.ExtraIndicators, src.Detection.ExtraIndicators...)

	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	if src.Logging.File != "" {
		dst.Logging.File = src.Logging.File
	}

	if src.Output.Format != "" {
		dst.Output.Format = src.Output.Format
	}
}

// formatValidationErrors formats validation errors for display
func formatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	if len(errors) == 1 {
		return errors[0].Error()
	}
	result := fmt.Sprintf("%d validation errors:\n", len(errors))
	for _, err := range errors {
		result += "  - " + err.Error() + "\n"
	}
	return result
}

// SystemConfigPath returns the path to the system configuration file
func SystemConfigPath() string {
	return filepath.Join(configdir.ConfigDir(), configdir.ConfigFileName)
}

// UserConfigPath returns the path to the user configuration file
func UserConfigPath() string {
	return configdir.UserConfigPath()
}

// Timeout returns the overall detection timeout.
func (d DetectionConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMS) * time.Millisecond
}

// PeerScanEnabled reports whether peer reference scanning is on.
func (d DetectionConfig) PeerScanEnabled() bool {
	return d.PeerScan == nil || *d.PeerScan
}

// MinAnonymousBytes returns the anonymous-compute threshold in bytes.
func (d DetectionConfig) MinAnonymousBytes() uint64 {
	if d.MinAnonymousMB <= 0 {
		return 0
	}
	return uint64(d.MinAnonymousMB) << 20
}

// PatternTable builds the GPU path table with the configured extra patterns.
func (d DetectionConfig) PatternTable() (*gpupath.Table, error) {
	specs := make([]gpupath.PatternSpec, len(d.ExtraPatterns))
	for i, p := range d.ExtraPatterns {
		specs[i] = gpupath.PatternSpec{Name: p.Name, Class: p.Class, Vendor: p.Vendor, Pattern: p.Pattern}
	}
	return gpupath.NewTable(specs)
}

// Indicators returns the default environment indicators plus configured extras.
func (d DetectionConfig) Indicators() ([]procscan.Indicator, error) {
	out := procscan.DefaultIndicators()
	for _, ic := range d.ExtraIndicators {
		cat, err := procscan.ParseCategory(ic.Category)
		if err != nil {
			return nil, fmt.Errorf("indicator %q: %w", ic.Name, err)
		}
		out = append(out, procscan.Indicator{
			Name:          ic.Name,
			Prefix:        ic.Prefix,
			Category:      cat,
			ValueContains: ic.ValueContains,
		})
	}
	return out, nil
}
