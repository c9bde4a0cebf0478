package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFallsBackToDefaultsWithNoConfigFileOrFlags(t *testing.T) {
	cmd := newServeCommand()
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	require.Equal(t, defaultConfig(), cfg)
}

func TestLoadConfigPrefersExplicitFlagOverDefault(t *testing.T) {
	cmd := newServeCommand()
	require.NoError(t, cmd.Flags().Set("bind-addr", ":9999"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.BindAddr)
}

func TestConfigKeyForReplacesHyphensWithUnderscores(t *testing.T) {
	require.Equal(t, "database_path", configKeyFor("database-path"))
}
