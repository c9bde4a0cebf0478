package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runtimeConfig holds the process-level settings viper assembles from a
// config file, environment overrides, and command flags. This is distinct
// from sprintsettings.Store, which holds the user-facing tunables exposed
// over the HTTP API and persisted independently.
type runtimeConfig struct {
	ProjectRoot    string `mapstructure:"project_root"`
	DatabasePath   string `mapstructure:"database_path"`
	ManifestPath   string `mapstructure:"manifest_path"`
	DashboardDir   string `mapstructure:"dashboard_dir"`
	BindAddr       string `mapstructure:"bind_addr"`
	Environment    string `mapstructure:"environment"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
}

func defaultConfig() runtimeConfig {
	return runtimeConfig{
		ProjectRoot:  ".",
		DatabasePath: "sprintrunner.db",
		ManifestPath: "_bmad-output/sprint-status.yaml",
		DashboardDir: "",
		BindAddr:     ":8080",
		Environment:  "development",
	}
}

var configFlagNames = []string{
	"project-root", "database-path", "manifest-path", "dashboard-dir",
	"bind-addr", "environment", "tracing-enabled", "otlp-endpoint",
}

// registerConfigFlags adds every overridable config flag to cmd. Flags
// default to their zero value here; loadConfig only treats a flag as an
// override when the caller actually set it.
func registerConfigFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("project-root", "", "Root directory of the BMAD project being orchestrated")
	flags.String("database-path", "", "Path to the state database file")
	flags.String("manifest-path", "", "Path to the sprint-status.yaml manifest")
	flags.String("dashboard-dir", "", "Path to the built dashboard static assets")
	flags.String("bind-addr", "", "Address the HTTP server listens on")
	flags.String("environment", "", `Deployment environment ("development" or "production")`)
	flags.Bool("tracing-enabled", false, "Export OpenTelemetry traces via OTLP/HTTP")
	flags.String("otlp-endpoint", "", "OTLP/HTTP collector endpoint for tracing export")
}

func configKeyFor(flagName string) string {
	return strings.ReplaceAll(flagName, "-", "_")
}

// loadConfig searches for sprintrunner.json/.yaml in $HOME and the working
// directory, layers SPRINTRUNNER_* environment overrides and flags on top,
// and falls back to defaultConfig for anything left unset. Precedence is
// flag > environment > config file > default.
func loadConfig(cmd *cobra.Command) (runtimeConfig, error) {
	v := viper.New()
	v.SetConfigName("sprintrunner")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")
	v.SetEnvPrefix("SPRINTRUNNER")
	v.AutomaticEnv()

	defaults := defaultConfig()
	v.SetDefault("project_root", defaults.ProjectRoot)
	v.SetDefault("database_path", defaults.DatabasePath)
	v.SetDefault("manifest_path", defaults.ManifestPath)
	v.SetDefault("dashboard_dir", defaults.DashboardDir)
	v.SetDefault("bind_addr", defaults.BindAddr)
	v.SetDefault("environment", defaults.Environment)
	v.SetDefault("tracing_enabled", defaults.TracingEnabled)
	v.SetDefault("otlp_endpoint", defaults.OTLPEndpoint)

	for _, name := range configFlagNames {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			if err := v.BindPFlag(configKeyFor(name), flag); err != nil {
				return defaults, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return defaults, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg runtimeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return defaults, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
