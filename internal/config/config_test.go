package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawerstore/internal/museum"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, filepath.Join("proj", ".project", ".catalog.db"), cfg.CatalogFile("proj"))
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drawerstore.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
root = "/data/drawers"
blob_driver = "memory"
museum_edit_keying = "updated"
metrics = "expvar"
lock_timeout = "250ms"
jpeg_quality = 90
`), 0o644))

	cfg, err := Load(path, envMap(map[string]string{
		EnvMetrics:     "prometheus",
		EnvJPEGQuality: "80",
	}))
	require.NoError(t, err)
	assert.Equal(t, "/data/drawers", cfg.Root)
	assert.Equal(t, "memory", cfg.BlobDriver)
	assert.Equal(t, museum.KeyByUpdated, cfg.EditKeying())
	assert.Equal(t, MetricsPrometheus, cfg.Metrics)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout.Duration)
	assert.Equal(t, 80, cfg.JPEGQuality)
	assert.Equal(t, "/tmp/c.db", Config{CatalogPath: "/tmp/c.db"}.CatalogFile("ignored"))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.toml"), envMap(nil))
	assert.Error(t, err, "explicit missing file")

	unknown := filepath.Join(dir, "unknown.toml")
	require.NoError(t, os.WriteFile(unknown, []byte("colour = \"red\"\n"), 0o644))
	_, err = Load(unknown, envMap(nil))
	assert.ErrorContains(t, err, "colour")

	t.Chdir(dir)
	for env, value := range map[string]string{
		EnvBlobDriver:       "s3",
		EnvMuseumEditKeying: "sideways",
		EnvMetrics:          "statsd",
		EnvLockTimeout:      "soon",
		EnvJPEGQuality:      "101",
	} {
		_, err := Load("", envMap(map[string]string{env: value}))
		assert.Error(t, err, "%s=%s", env, value)
	}
}
