package config

import (
	"fmt"
	"strings"

	"gpucheckpoint/internal/gpupath"
	"gpucheckpoint/internal/procscan"
)

const (
	// MaxTimeoutMS caps detection.timeout_ms.
	MaxTimeoutMS = 600000
)

// Validate checks if the configuration is valid
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateDetection()...)
	errors = append(errors, c.validatePatterns()...)
	errors = append(errors, c.validateIndicators()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateOutput()...)

	return errors
}

func (c *Config) validateDetection() []ValidationError {
	var errors []ValidationError

	if c.Detection.TimeoutMS < 1 || c.Detection.TimeoutMS > MaxTimeoutMS {
		errors = append(errors, ValidationError{
			Path:    "detection.timeout_ms",
			Message: fmt.Sprintf("must be between 1 and %d, got %d", MaxTimeoutMS, c.Detection.TimeoutMS),
		})
	}

	if c.Detection.ProcRoot == "" || !strings.HasPrefix(c.Detection.ProcRoot, "/") {
		errors = append(errors, ValidationError{
			Path:    "detection.proc_root",
			Message: fmt.Sprintf("must be an absolute path, got '%s'", c.Detection.ProcRoot),
		})
	}

	if c.Detection.MinAnonymousMB < 1 {
		errors = append(errors, ValidationError{
			Path:    "detection.min_anonymous_mb",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Detection.MinAnonymousMB),
		})
	}

	return errors
}

func (c *Config) validatePatterns() []ValidationError {
	var errors []ValidationError
	for i, p := range c.Detection.ExtraPatterns {
		path := fmt.Sprintf("detection.extra_patterns[%d]", i)
		if p.Name == "" {
			errors = append(errors, ValidationError{Path: path + ".name", Message: "must not be empty"})
		}
		_, err := gpupath.NewTable([]gpupath.PatternSpec{{Name: p.Name, Class: p.Class, Vendor: p.Vendor, Pattern: p.Pattern}})
		if err != nil {
			errors = append(errors, ValidationError{Path: path, Message: err.Error()})
		}
	}
	return errors
}

func (c *Config) validateIndicators() []ValidationError {
	var errors []ValidationError
	for i, ind := range c.Detection.ExtraIndicators {
		path := fmt.Sprintf("detection.extra_indicators[%d]", i)
		if ind.Name == "" {
			errors = append(errors, ValidationError{Path: path + ".name", Message: "must not be empty"})
		}
		if _, err := procscan.ParseCategory(ind.Category); err != nil {
			errors = append(errors, ValidationError{Path: path + ".category", Message: err.Error()})
		}
	}
	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		errors = append(errors, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got '%s'", validLevels, c.Logging.Level),
		})
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, c.Logging.Format) {
		errors = append(errors, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("must be one of %v, got '%s'", validFormats, c.Logging.Format),
		})
	}

	return errors
}

func (c *Config) validateOutput() []ValidationError {
	validFormats := []string{"text", "json"}
	if contains(validFormats, c.Output.Format) {
		return nil
	}

	return []ValidationError{{
		Path:    "output.format",
		Message: fmt.Sprintf("must be one of %v, got '%s'", validFormats, c.Output.Format),
	}}
}

// contains checks if a string is in a slice
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
