package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate when the settings cannot drive a sync.
var ErrInvalid = errors.New("invalid config")

const (
	defaultBaseURL        = "http://backofficestage.bubulearn.com"
	defaultUTCOffsetHours = 3
	defaultListen         = "127.0.0.1:8080"
	defaultLogLevel       = "info"
	defaultScheduleCron   = "0 21 * * 0"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the upload endpoint.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ScheduleConfig drives the periodic sync of a published calendar export.
type ScheduleConfig struct {
	// Cron is a standard 5-field cron expression evaluated in the fixed
	// offset zone (see UTCOffsetHours).
	Cron string `yaml:"cron" json:"cron"`
	// ICSURL is the calendar export to download on every tick.
	ICSURL string `yaml:"ics_url" json:"ics_url"`
}

// Config is the top-level application configuration.
type Config struct {
	// BaseURL is the CRM backoffice root, without trailing slash.
	BaseURL string `yaml:"base_url" json:"base_url"`

	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password" json:"-"`

	// UserID is the CRM user (teacher) owning the calendar.
	UserID int64 `yaml:"user_id" json:"user_id"`

	// ProductIDs is the ordered list of catalog partitions. Order defines
	// lookup priority when resolving a phone number.
	ProductIDs []int64 `yaml:"product_ids" json:"product_ids"`

	// UTCOffsetHours is the fixed offset added to UTC timestamps of the
	// calendar export. No timezone database lookup is performed.
	UTCOffsetHours int `yaml:"utc_offset_hours" json:"utc_offset_hours"`

	// ExpandRecurring replaces RRULE events by their occurrences inside the
	// selected week instead of using only their first start.
	ExpandRecurring bool `yaml:"expand_recurring" json:"expand_recurring"`

	// RequestTimeout bounds every CRM request. Zero keeps the transport
	// default (no timeout).
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Listen is the HTTP listen address for the upload endpoint.
	Listen string `yaml:"listen" json:"listen"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        defaultBaseURL,
		ProductIDs:     []int64{},
		UTCOffsetHours: defaultUTCOffsetHours,
		LogLevel:       defaultLogLevel,
		Listen:         defaultListen,
		Schedule: ScheduleConfig{
			Cron: defaultScheduleCron,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.Email = strings.TrimSpace(c.Email)
	if c.ProductIDs == nil {
		c.ProductIDs = []int64{}
	}
	// Zero is a legitimate offset but also the YAML zero value; an export
	// from a UTC deployment sets utc_offset_hours explicitly, so only
	// out-of-range values are corrected here.
	if c.UTCOffsetHours < -12 || c.UTCOffsetHours > 14 {
		c.UTCOffsetHours = defaultUTCOffsetHours
	}
	if c.RequestTimeout < 0 {
		c.RequestTimeout = 0
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = defaultScheduleCron
	}
}

// Validate reports settings that would make a sync fail before or right at
// login. It does not touch the network.
func (c *Config) Validate() error {
	var missing []string
	if c.Email == "" {
		missing = append(missing, "email")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if c.UserID <= 0 {
		missing = append(missing, "user_id")
	}
	if len(c.ProductIDs) == 0 {
		missing = append(missing, "product_ids")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// Location returns the fixed zone lesson times are expressed in.
func (c *Config) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", c.UTCOffsetHours), c.UTCOffsetHours*3600)
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
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
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

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600, the file holds the CRM password.
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

	tmp, err := os.CreateTemp(dir, ".bubusync-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
