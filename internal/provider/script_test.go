//go:build unix

package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptRunsConfiguredCommands(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "synced")

	p := NewScript("/mnt/vol", "snap0", ScriptCommands{
		Create: []string{"true"},
		Wait:   []string{"true"},
		Sync:   []string{"sh", "-c", "touch " + marker},
	})

	transID, err := p.CreateAsync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), transID, "script provider has no real transaction id")
	require.NoError(t, p.WaitCommit(context.Background(), transID))

	require.NoError(t, p.Sync(context.Background()))
	_, err = os.Stat(marker)
	assert.NoError(t, err, "sync command ran")
}

func TestScriptPassesEnvironment(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "env")

	p := NewScript("/mnt/vol", "snap0", ScriptCommands{
		Sync: []string{"sh", "-c", "echo $SNAPLAT_VOLUME:$SNAPLAT_SNAPSHOT > " + out},
	})
	require.NoError(t, p.Sync(context.Background()))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/vol:snap0\n", string(data))
}

func TestScriptCommandFailure(t *testing.T) {
	p := NewScript("/mnt/vol", "snap0", ScriptCommands{
		Destroy: []string{"false"},
	})
	assert.Error(t, p.Destroy(context.Background()))
}

func TestScriptMissingCommand(t *testing.T) {
	p := NewScript("/mnt/vol", "snap0", ScriptCommands{})
	err := p.Sync(context.Background())
	assert.ErrorContains(t, err, "no sync command configured")
}
