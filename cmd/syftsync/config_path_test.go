package main

import (
	"testing"

	"github.com/openmined/syftsync/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "path to config file")
	return cmd
}

func TestResolveConfigPathFlagBeatsEnv(t *testing.T) {
	cmd := newTestCmd()
	t.Setenv("SYFTSYNC_CONFIG_PATH", "/tmp/env/config.json")
	assert.NoError(t, cmd.PersistentFlags().Set("config", "/tmp/flag/config.json"))

	assert.Equal(t, "/tmp/flag/config.json", resolveConfigPath(cmd))
}

func TestResolveConfigPathUsesEnvWhenNoFlag(t *testing.T) {
	cmd := newTestCmd()
	t.Setenv("SYFTSYNC_CONFIG_PATH", "/tmp/env/config.json")

	assert.Equal(t, "/tmp/env/config.json", resolveConfigPath(cmd))
}

func TestResolveConfigPathDefault(t *testing.T) {
	cmd := newTestCmd()
	t.Setenv("SYFTSYNC_CONFIG_PATH", "")
	t.Setenv("HOME", t.TempDir())

	// candidates were computed from the real home at init, so only the
	// fallback is stable here
	got := resolveConfigPath(cmd)
	assert.NotEmpty(t, got)
}
