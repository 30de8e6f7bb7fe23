package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapqa/snaplat/internal/config"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "run"}
	registerRunFlags(cmd)
	return cmd
}

func TestBuildConfigDefaultsAndArgs(t *testing.T) {
	cmd := newRunCommand()
	cfg, err := buildConfig(cmd, []string{"/mnt/subvol", "snap0"})
	require.NoError(t, err)

	assert.Equal(t, "/mnt/subvol", cfg.Volume)
	assert.Equal(t, "snap0", cfg.Snapshot)
	assert.Equal(t, 1, cfg.Threads)
	assert.Equal(t, config.OutputVerbose, cfg.Output)
	assert.Equal(t, []string{"chmod", "snapshot"}, cfg.Ops)
}

func TestBuildConfigFlagOverrides(t *testing.T) {
	cmd := newRunCommand()
	require.NoError(t, cmd.Flags().Set("threads", "8"))
	require.NoError(t, cmd.Flags().Set("ops", "create,sync"))
	require.NoError(t, cmd.Flags().Set("runtime", "120"))
	require.NoError(t, cmd.Flags().Set("provider", "script"))
	require.NoError(t, cmd.Flags().Set("plot", "true"))

	cfg, err := buildConfig(cmd, []string{"/mnt/subvol"})
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, uint(120), cfg.RuntimeSeconds)
	assert.Equal(t, config.ProviderScript, cfg.Provider)
	assert.Equal(t, config.OutputPlot, cfg.Output)

	set, err := cfg.OpSet()
	require.NoError(t, err)
	assert.True(t, set.Create)
	assert.True(t, set.Sync)
	assert.False(t, set.Chmod)
}

func TestBuildConfigRejectsInvalidCombination(t *testing.T) {
	cmd := newRunCommand()
	require.NoError(t, cmd.Flags().Set("ops", "chmod,create"))

	_, err := buildConfig(cmd, []string{"/mnt/subvol", "snap0"})
	assert.ErrorContains(t, err, "chmod and create")
}

func TestBuildConfigRequiresVolume(t *testing.T) {
	cmd := newRunCommand()
	_, err := buildConfig(cmd, nil)
	assert.Error(t, err)
}

func TestBuildConfigFileThenFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"volume: /mnt/subvol\nsnapshot: snap0\nthreads: 2\nops: [chmod, snapshot]\n"), 0o644))

	cmd := newRunCommand()
	require.NoError(t, cmd.Flags().Set("config", path))
	require.NoError(t, cmd.Flags().Set("threads", "6"))

	cfg, err := buildConfig(cmd, nil)
	require.NoError(t, err)

	assert.Equal(t, "/mnt/subvol", cfg.Volume, "from file")
	assert.Equal(t, 6, cfg.Threads, "flag wins over file")
}

func TestCreateTarget(t *testing.T) {
	dir := t.TempDir()
	target, err := createTarget(dir)
	require.NoError(t, err)

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o777), info.Mode().Perm())
	assert.Equal(t, dir, filepath.Dir(target))
}
