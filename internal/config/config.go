// Package config loads the drawerstore command configuration: an optional
// TOML file overlaid by DRAWERSTORE_* environment variables. The store
// packages take no configuration from the environment themselves.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"drawerstore/internal/blob"
	"drawerstore/internal/layout"
	"drawerstore/internal/museum"
)

// DefaultFileName is read from the working directory when no path is given.
const DefaultFileName = "drawerstore.toml"

// Environment variables overriding file values.
const (
	EnvRoot             = "DRAWERSTORE_ROOT"
	EnvBlobDriver       = "DRAWERSTORE_BLOB_DRIVER"
	EnvCatalogPath      = "DRAWERSTORE_CATALOG_PATH"
	EnvMuseumEditKeying = "DRAWERSTORE_MUSEUM_EDIT_KEYING"
	EnvMetrics          = "DRAWERSTORE_METRICS"
	EnvMetricsFile      = "DRAWERSTORE_METRICS_FILE"
	EnvLockTimeout      = "DRAWERSTORE_LOCK_TIMEOUT"
	EnvJPEGQuality      = "DRAWERSTORE_JPEG_QUALITY"
)

// Metrics backends.
const (
	MetricsNone       = "none"
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

// Duration is a time.Duration read from a TOML string such as "5s".
type Duration struct{ time.Duration }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the resolved command configuration.
type Config struct {
	Root             string   `toml:"root"`
	BlobDriver       string   `toml:"blob_driver"`
	CatalogPath      string   `toml:"catalog_path"`
	MuseumEditKeying string   `toml:"museum_edit_keying"`
	Metrics          string   `toml:"metrics"`
	MetricsFile      string   `toml:"metrics_file"`
	LockTimeout      Duration `toml:"lock_timeout"`
	JPEGQuality      int      `toml:"jpeg_quality"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Root:             ".",
		BlobDriver:       string(blob.DriverFilesystem),
		MuseumEditKeying: museum.KeyByOriginal.String(),
		Metrics:          MetricsNone,
		LockTimeout:      Duration{5 * time.Second},
		JPEGQuality:      95,
	}
}

// Load resolves the configuration. An explicit path must exist; with an
// empty path DefaultFileName is read if present. getenv is os.Getenv in
// production.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}
	md, err := toml.DecodeFile(path, &cfg)
	switch {
	case err == nil:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return Config{}, fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	for env, dst := range map[string]*string{
		EnvRoot:             &c.Root,
		EnvBlobDriver:       &c.BlobDriver,
		EnvCatalogPath:      &c.CatalogPath,
		EnvMuseumEditKeying: &c.MuseumEditKeying,
		EnvMetrics:          &c.Metrics,
		EnvMetricsFile:      &c.MetricsFile,
	} {
		if v := strings.TrimSpace(getenv(env)); v != "" {
			*dst = v
		}
	}
	if v := strings.TrimSpace(getenv(EnvLockTimeout)); v != "" {
		if err := c.LockTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", EnvLockTimeout, err)
		}
	}
	if v := strings.TrimSpace(getenv(EnvJPEGQuality)); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvJPEGQuality, err)
		}
		c.JPEGQuality = q
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch blob.Driver(c.BlobDriver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	default:
		return fmt.Errorf("blob_driver %q: must be fs or memory", c.BlobDriver)
	}
	if _, err := museum.ParseEditKeying(c.MuseumEditKeying); err != nil {
		return err
	}
	switch c.Metrics {
	case MetricsNone, MetricsExpvar, MetricsPrometheus:
	default:
		return fmt.Errorf("metrics %q: must be none, expvar or prometheus", c.Metrics)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality %d: must be within 1..100", c.JPEGQuality)
	}
	if c.LockTimeout.Duration <= 0 {
		return fmt.Errorf("lock_timeout must be positive")
	}
	return nil
}

// EditKeying returns the parsed museum edit keying.
func (c Config) EditKeying() museum.EditKeying {
	k, _ := museum.ParseEditKeying(c.MuseumEditKeying)
	return k
}

// CatalogFile returns the catalog database path for the project at root.
func (c Config) CatalogFile(root string) string {
	if c.CatalogPath != "" {
		return c.CatalogPath
	}
	return layout.CatalogPath(root)
}
