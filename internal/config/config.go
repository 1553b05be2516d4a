// Package config loads the settings daemon configuration from a YAML file,
// .env files and SETTINGSD_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/betterseqta/settings-go/internal/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SETTINGSD_"

// Config is the daemon configuration.
type Config struct {
	Addr         string        `yaml:"addr"`
	DataDir      string        `yaml:"data_dir"`
	Backend      string        `yaml:"backend"`
	Debounce     time.Duration `yaml:"debounce"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// WriteLimit caps adapter writes per second. Zero means unlimited.
	WriteLimit float64 `yaml:"write_limit"`

	Backup   BackupConfig   `yaml:"backup"`
	Zeroconf ZeroconfConfig `yaml:"zeroconf"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

type BackupConfig struct {
	Dir      string        `yaml:"dir"` // defaults to <data_dir>/backups
	Interval time.Duration `yaml:"interval"`
	Retain   time.Duration `yaml:"retain"`
}

type ZeroconfConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"` // defaults to the hostname
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:         ":8420",
		DataDir:      defaultDataDir(),
		Backend:      storage.BackendJSON,
		Debounce:     500 * time.Millisecond,
		PollInterval: time.Second,
		Backup: BackupConfig{
			Interval: 24 * time.Hour,
			Retain:   90 * 24 * time.Hour,
		},
		Zeroconf: ZeroconfConfig{Enabled: true},
		Auth:     AuthConfig{Enabled: true},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "settingsd"
	}
	return filepath.Join(home, ".config", "settingsd")
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then SETTINGSD_* variables from the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
		slog.Debug("config: loaded env file", "path", p)
	}
	return nil
}

// ApplyEnv overrides fields from SETTINGSD_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("ADDR", &c.Addr)
	str("DATA_DIR", &c.DataDir)
	str("BACKEND", &c.Backend)
	dur("DEBOUNCE", &c.Debounce)
	dur("POLL_INTERVAL", &c.PollInterval)
	if v, ok := lookup(EnvPrefix + "WRITE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sWRITE_LIMIT: %w", EnvPrefix, err))
		} else {
			c.WriteLimit = f
		}
	}
	str("BACKUP_DIR", &c.Backup.Dir)
	dur("BACKUP_INTERVAL", &c.Backup.Interval)
	dur("BACKUP_RETAIN", &c.Backup.Retain)
	boolean("ZEROCONF_ENABLED", &c.Zeroconf.Enabled)
	str("ZEROCONF_NAME", &c.Zeroconf.Name)
	boolean("AUTH_ENABLED", &c.Auth.Enabled)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case storage.BackendMemory, storage.BackendJSON, storage.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("backend: unknown backend %q", c.Backend))
	}
	if c.DataDir == "" && c.Backend != storage.BackendMemory {
		errs = append(errs, errors.New("data_dir: required"))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("addr: required"))
	}
	if c.Debounce < 0 {
		errs = append(errs, errors.New("debounce: must not be negative"))
	}
	if c.PollInterval < 0 {
		errs = append(errs, errors.New("poll_interval: must not be negative"))
	}
	if c.WriteLimit < 0 {
		errs = append(errs, errors.New("write_limit: must not be negative"))
	}
	if c.Backup.Interval < 0 || c.Backup.Retain < 0 {
		errs = append(errs, errors.New("backup: durations must not be negative"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// BackupDir returns the configured backup directory or <data_dir>/backups.
func (c Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.DataDir, "backups")
}

// StorageOptions returns the adapter options for this configuration.
func (c Config) StorageOptions() storage.Options {
	return storage.Options{
		Backend:      c.Backend,
		Dir:          c.DataDir,
		Debounce:     c.Debounce,
		PollInterval: c.PollInterval,
	}
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// NewLogger returns a slog logger writing to w in the configured format.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	lvl, _ := l.SlogLevel()
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
