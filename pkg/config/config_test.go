package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caster.env")
	contents := "# comment\nlisten_addr=:9000\ndefault_max_fps=60\nrecord_dir=/tmp/recordings\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, uint32(60), cfg.DefaultMaxFPS)
	assert.Equal(t, "/tmp/recordings", cfg.RecordDir)
	assert.Equal(t, "_screen_caster._tcp.local.", cfg.MDNSServiceName, "unset keys keep their default")
}

func TestValidateRejectsLowFPS(t *testing.T) {
	cfg := Default()
	cfg.DefaultMaxFPS = 5
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path.env")
	assert.Error(t, err)
}
