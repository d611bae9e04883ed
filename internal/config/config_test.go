package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
listen: ""
privacy_sync:
  sync_interval_minutes: 15
  max_concurrent_syncs: 0
  max_past_days: 9000
  max_retry_attempts: -2
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Listen)
	assert.Equal(t, 15, cfg.PrivacySync.SyncIntervalMinutes)
	assert.Equal(t, defaultMaxConcurrentSyncs, cfg.PrivacySync.MaxConcurrentSyncs)
	assert.Equal(t, MaxWindowDays, cfg.PrivacySync.MaxPastDays)
	assert.Zero(t, cfg.PrivacySync.MaxRetryAttempts)
	assert.Equal(t, defaultTitle, cfg.PrivacySync.DefaultTitle)
	assert.Equal(t, defaultRetryAfterMinutes, cfg.PrivacySync.RetryFailedAfterMinutes)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("privacy_sync: [oops"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateBasicAuth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin"}
	assert.Error(t, cfg.Validate())

	cfg.BasicAuth.Password = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidateFeeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Feeds = []FeedConfig{{CalendarID: "work", URL: "https://example.com/work.ics"}}
	assert.NoError(t, cfg.Validate())

	cfg.Feeds = append(cfg.Feeds, FeedConfig{CalendarID: "side"})
	assert.ErrorContains(t, cfg.Validate(), "feeds[1]")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.SentryDSN = "https://key@sentry.example.com/1"
	cfg.PrivacySync.DefaultTitle = "Blocked"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
