package main

import (
	"fmt"
	"strings"

	"gpucheckpoint/internal/config"
	"gpucheckpoint/internal/logging"
)

func runConfig(a *app, args []string) int {
	if len(args) < 1 {
		fmt.Fprintf(a.stderr, "Usage: gpucheckpoint config <subcommand>\n")
		fmt.Fprintf(a.stderr, "Subcommands:\n")
		fmt.Fprintf(a.stderr, "  test [path]  Test configuration file for validity\n")
		return exitUsage
	}

	switch subcommand := strings.ToLower(args[0]); subcommand {
	case "test":
		return runConfigTest(a, args[1:])
	default:
		fmt.Fprintf(a.stderr, "Unknown config subcommand: %s\n", subcommand)
		fmt.Fprintf(a.stderr, "Valid subcommands: test\n")
		return exitUsage
	}
}

func runConfigTest(a *app, args []string) int {
	logger := logging.NewLoggerTo(a.stderr, logging.LevelWarn, logging.FormatJSON)

	var cfg config.Config
	var configErr error

	if len(args) > 0 {
		fmt.Fprintf(a.stdout, "Testing configuration file: %s\n", args[0])
		cfg, configErr = config.LoadFrom(args[0])
	} else {
		fmt.Fprintln(a.stdout, "Testing configuration (system + user merge):")
		fmt.Fprintf(a.stdout, "  System config: %s\n", config.SystemConfigPath())
		if userPath := config.UserConfigPath(); userPath != "" {
			fmt.Fprintf(a.stdout, "  User config:   %s\n", userPath)
		}
		fmt.Fprintln(a.stdout)
		cfg, configErr = config.Load()
	}

	if configErr != nil {
		fmt.Fprintf(a.stderr, "❌ Configuration validation FAILED:\n")
		fmt.Fprintf(a.stderr, "   %v\n", configErr)
		logger.Error("config.validation.error", "Configuration validation failed", map[string]interface{}{
			"error": configErr.Error(),
		})
		return exitError
	}

	fmt.Fprintln(a.stdout, "✓ Configuration is VALID")
	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, "Configuration Summary:")
	fmt.Fprintf(a.stdout, "  Timeout:              %s\n", cfg.Detection.Timeout())
	fmt.Fprintf(a.stdout, "  Proc Root:            %s\n", cfg.Detection.ProcRoot)
	fmt.Fprintf(a.stdout, "  Peer Scan:            %t\n", cfg.Detection.PeerScanEnabled())
	fmt.Fprintf(a.stdout, "  Min Anonymous:        %d MiB\n", cfg.Detection.MinAnonymousMB)
	fmt.Fprintf(a.stdout, "  Extra Patterns:       %d\n", len(cfg.Detection.ExtraPatterns))
	fmt.Fprintf(a.stdout, "  Extra Indicators:     %d\n", len(cfg.Detection.ExtraIndicators))
	fmt.Fprintf(a.stdout, "  Log Level:            %s\n", cfg.Logging.Level)
	fmt.Fprintf(a.stdout, "  Log Format:           %s\n", cfg.Logging.Format)
	fmt.Fprintf(a.stdout, "  Output Format:        %s\n", cfg.Output.Format)
	return exitOK
}
