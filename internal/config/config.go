package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// FeedConfig subscribes a local calendar to an ICS feed. The feed is
// re-imported before every privacy sync pass.
type FeedConfig struct {
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`
	URL        string `yaml:"url" json:"url"`
}

// PrivacySyncConfig holds the engine knobs.
type PrivacySyncConfig struct {
	// SyncIntervalMinutes is the period of the background pass.
	SyncIntervalMinutes int `yaml:"sync_interval_minutes" json:"sync_interval_minutes"`

	// MaxConcurrentSyncs bounds how many rules run at once within a pass.
	MaxConcurrentSyncs int `yaml:"max_concurrent_syncs" json:"max_concurrent_syncs"`

	// DefaultTitle is used when a rule has neither a template nor a title.
	DefaultTitle string `yaml:"default_title" json:"default_title"`

	// MaxPastDays / MaxFutureDays cap a rule's sync window.
	MaxPastDays   int `yaml:"max_past_days" json:"max_past_days"`
	MaxFutureDays int `yaml:"max_future_days" json:"max_future_days"`

	// RetryFailedAfterMinutes is how long a scheduled pass waits before
	// re-attempting a rule whose last run failed. Zero disables the wait.
	RetryFailedAfterMinutes int `yaml:"retry_failed_after_minutes" json:"retry_failed_after_minutes"`

	// MaxRetryAttempts stops scheduled re-attempts after this many
	// consecutive failures. Zero means unlimited.
	MaxRetryAttempts int `yaml:"max_retry_attempts" json:"max_retry_attempts"`

	// ICSPublishDir is where the ICS provider writes published calendars
	// when the account does not name a path itself.
	ICSPublishDir string `yaml:"ics_publish_dir" json:"ics_publish_dir"`

	// ICSCacheDir holds the HTTP cache of imported ICS feeds.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the status API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// Database is the SQLite calendar store path.
	Database string `yaml:"database" json:"database"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// LogFile, if set, receives a rotated copy of the log.
	LogFile string `yaml:"log_file,omitempty" json:"log_file,omitempty"`

	// SentryDSN, if set, reports logged errors to Sentry.
	SentryDSN string `yaml:"sentry_dsn,omitempty" json:"sentry_dsn,omitempty"`

	// Environment is attached to Sentry reports.
	Environment string `yaml:"environment,omitempty" json:"environment,omitempty"`

	PrivacySync PrivacySyncConfig `yaml:"privacy_sync" json:"privacy_sync"`

	// Feeds are ICS subscriptions imported into local source calendars.
	Feeds []FeedConfig `yaml:"feeds,omitempty" json:"feeds,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen   = "127.0.0.1:8765"
	defaultDatabase = "./var/calmirror.db"
	defaultLogLevel = "info"

	defaultSyncIntervalMinutes = 5
	defaultMaxConcurrentSyncs  = 5
	defaultTitle               = "Private"
	defaultRetryAfterMinutes   = 30
	defaultMaxRetryAttempts    = 3
	defaultICSPublishDir       = "./var/published"
	defaultICSCacheDir         = "./var/ics-cache"
)

// MaxWindowDays is the hard cap on either side of a sync window.
const MaxWindowDays = 3650

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		Database: defaultDatabase,
		LogLevel: defaultLogLevel,
		PrivacySync: PrivacySyncConfig{
			SyncIntervalMinutes:     defaultSyncIntervalMinutes,
			MaxConcurrentSyncs:      defaultMaxConcurrentSyncs,
			DefaultTitle:            defaultTitle,
			MaxPastDays:             MaxWindowDays,
			MaxFutureDays:           MaxWindowDays,
			RetryFailedAfterMinutes: defaultRetryAfterMinutes,
			MaxRetryAttempts:        defaultMaxRetryAttempts,
			ICSPublishDir:           defaultICSPublishDir,
			ICSCacheDir:             defaultICSCacheDir,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave.
func (c *Config) Normalize() {
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}

	ps := &c.PrivacySync
	if ps.SyncIntervalMinutes <= 0 {
		ps.SyncIntervalMinutes = defaultSyncIntervalMinutes
	}
	if ps.MaxConcurrentSyncs <= 0 {
		ps.MaxConcurrentSyncs = defaultMaxConcurrentSyncs
	}
	if ps.DefaultTitle == "" {
		ps.DefaultTitle = defaultTitle
	}
	if ps.MaxPastDays <= 0 || ps.MaxPastDays > MaxWindowDays {
		ps.MaxPastDays = MaxWindowDays
	}
	if ps.MaxFutureDays <= 0 || ps.MaxFutureDays > MaxWindowDays {
		ps.MaxFutureDays = MaxWindowDays
	}
	// Negative retry knobs are meaningless; zero is a valid "disabled".
	if ps.RetryFailedAfterMinutes < 0 {
		ps.RetryFailedAfterMinutes = 0
	}
	if ps.MaxRetryAttempts < 0 {
		ps.MaxRetryAttempts = 0
	}
	if ps.ICSPublishDir == "" {
		ps.ICSPublishDir = defaultICSPublishDir
	}
	if ps.ICSCacheDir == "" {
		ps.ICSCacheDir = defaultICSCacheDir
	}
}

// Validate rejects values Normalize cannot repair.
func (c *Config) Validate() error {
	if c.BasicAuth != nil && (c.BasicAuth.Username == "") != (c.BasicAuth.Password == "") {
		return errors.New("basic_auth requires both username and password")
	}
	for i, f := range c.Feeds {
		if f.CalendarID == "" || f.URL == "" {
			return fmt.Errorf("feeds[%d] requires calendar_id and url", i)
		}
	}
	if c.PrivacySync.MaxConcurrentSyncs <= 0 {
		return fmt.Errorf("max_concurrent_syncs must be greater than 0, got %d", c.PrivacySync.MaxConcurrentSyncs)
	}
	if c.PrivacySync.SyncIntervalMinutes <= 0 {
		return fmt.Errorf("sync_interval_minutes must be greater than 0, got %d", c.PrivacySync.SyncIntervalMinutes)
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, cfg.Validate()
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return writeFileAtomic(dir, path, data)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".calmirror-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
