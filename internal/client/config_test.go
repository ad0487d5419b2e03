package client_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D0NMEGA/MoltGrid/internal/client"
)

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".moltgrid", "config.json")

	saved := client.Config{APIKey: "af_test123", BaseURL: "http://example.com:8000"}
	require.NoError(t, client.SaveConfig(path, saved))

	loaded, err := client.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)

	// The key is a credential, so the file must be owner-only.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// The temp file from the atomic write must not linger.
	_, err = os.Stat(path + ".tmp")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := client.LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, client.Config{}, cfg)
}

func TestLoadConfigCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := client.LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted")
}

func TestSaveConfigOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	require.NoError(t, client.SaveConfig(path, client.Config{APIKey: "first"}))
	require.NoError(t, client.SaveConfig(path, client.Config{APIKey: "second"}))

	cfg, err := client.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "second", cfg.APIKey)
}

func TestResolveAPIKey(t *testing.T) {
	cfg := client.Config{APIKey: "file-key"}

	t.Setenv("MOLTGRID_API_KEY", "env-key")
	assert.Equal(t, "env-key", client.ResolveAPIKey(cfg))

	t.Setenv("MOLTGRID_API_KEY", "")
	assert.Equal(t, "file-key", client.ResolveAPIKey(cfg))
}
