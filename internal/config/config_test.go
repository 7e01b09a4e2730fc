package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultBaseURL, cfg.BaseURL)
	assert.Equal(t, 3, cfg.UTCOffsetHours)
	assert.Equal(t, "0 21 * * 0", cfg.Schedule.Cron)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: "https://crm.example.com/ "
email: " teacher@example.com "
password: pw
user_id: 42
product_ids: [5, 3]
utc_offset_hours: 99
request_timeout: 15s
log_level: DEBUG
expand_recurring: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://crm.example.com", cfg.BaseURL)
	assert.Equal(t, "teacher@example.com", cfg.Email)
	assert.Equal(t, int64(42), cfg.UserID)
	assert.Equal(t, []int64{5, 3}, cfg.ProductIDs)
	assert.Equal(t, 3, cfg.UTCOffsetHours)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.ExpandRecurring)
	assert.Equal(t, defaultListen, cfg.Listen)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("product_ids: [oops"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Email = "teacher@example.com"
	cfg.Password = "pw"
	cfg.UserID = 7
	cfg.ProductIDs = []int64{1, 2}
	cfg.UTCOffsetHours = 0
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "admin"}
	cfg.Schedule.ICSURL = "https://calendar.example.com/private.ics"

	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "email, password, user_id, product_ids")

	cfg.Email = "a@b.c"
	cfg.Password = "pw"
	cfg.UserID = 1
	cfg.ProductIDs = []int64{1}
	assert.NoError(t, cfg.Validate())
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UTCOffsetHours = -4

	at := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC).In(cfg.Location())
	assert.Equal(t, 8, at.Hour())
	assert.Equal(t, "UTC-4", cfg.Location().String())
}
