// Package config loads the notes client configuration from a YAML file,
// with SECURENOTES_* environment variables taking precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const appDir = "securenotes"

// Encryption providers.
const (
	ProviderPassphrase = "passphrase"
	ProviderKMS        = "kms"
	ProviderNone       = "none"
)

type Encryption struct {
	Provider string `yaml:"provider"`
	KMSKeyID string `yaml:"kms_key_id,omitempty"`
}

type Config struct {
	ServerURL       string        `yaml:"server_url"`
	DBPath          string        `yaml:"db_path"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	PushConcurrency int           `yaml:"push_concurrency"`
	Encryption      Encryption    `yaml:"encryption"`

	// Passphrase is never written to disk; it only comes from
	// SECURENOTES_PASSPHRASE.
	Passphrase string `yaml:"-"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		ServerURL:       "http://localhost:8080",
		DBPath:          filepath.Join(baseDir(), "notes.db"),
		SyncInterval:    30 * time.Second,
		RequestTimeout:  30 * time.Second,
		PushConcurrency: 4,
		Encryption:      Encryption{Provider: ProviderPassphrase},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/securenotes/config.yaml (or the
// platform equivalent).
func DefaultPath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

func baseDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "."+appDir)
	}
	return filepath.Join(dir, appDir)
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SECURENOTES_SERVER_URL": &c.ServerURL,
		"SECURENOTES_DB_PATH":    &c.DBPath,
		"SECURENOTES_ENCRYPTION": &c.Encryption.Provider,
		"SECURENOTES_KMS_KEY_ID": &c.Encryption.KMSKeyID,
		"SECURENOTES_PASSPHRASE": &c.Passphrase,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"SECURENOTES_SYNC_INTERVAL":   &c.SyncInterval,
		"SECURENOTES_REQUEST_TIMEOUT": &c.RequestTimeout,
	}
	for name, dst := range durations {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
	}

	if v, ok := lookup("SECURENOTES_PUSH_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SECURENOTES_PUSH_CONCURRENCY: %w", err)
		}
		c.PushConcurrency = n
	}
	return nil
}

// Validate checks the settings that do not depend on the account. The
// passphrase is checked when the encryptor is built.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url %q must be an http(s) URL", c.ServerURL)
	}
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	if c.SyncInterval < time.Second {
		return fmt.Errorf("sync_interval %s is below 1s", c.SyncInterval)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if c.PushConcurrency < 1 {
		return errors.New("push_concurrency must be at least 1")
	}

	switch c.Encryption.Provider {
	case ProviderPassphrase, ProviderNone:
	case ProviderKMS:
		if c.Encryption.KMSKeyID == "" {
			return errors.New("encryption.kms_key_id is required for the kms provider")
		}
	default:
		return fmt.Errorf("unknown encryption provider %q", c.Encryption.Provider)
	}
	return nil
}
