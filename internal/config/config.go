package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"schedcal/internal/calendar"
	"schedcal/internal/fileutil"
	appLog "schedcal/internal/log"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// PanelConfig mirrors the per-schedule options the dashboard panel reads
// alongside the document.
type PanelConfig struct {
	// HasPayload shows record values; when false every output's value is
	// blanked.
	HasPayload bool `yaml:"has_payload" json:"has_payload"`

	DisableWeekly    bool `yaml:"disable_weekly" json:"disable_weekly"`
	DisableEvent     bool `yaml:"disable_event" json:"disable_event"`
	DisableException bool `yaml:"disable_exception" json:"disable_exception"`

	// Min/Max bound numeric record values on write when both are set.
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// DefaultName is used for records submitted without a name.
	DefaultName string `yaml:"default_name" json:"default_name"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone schedules are materialized in
	// (e.g. "America/New_York"). Empty means UTC.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DocumentPath is the JSON schedule document served and edited.
	DocumentPath string `yaml:"document_path" json:"document_path"`

	// DocumentID names the document for write leases and logs.
	DocumentID string `yaml:"document_id" json:"document_id"`

	// RefreshCron is a standard 5-field cron spec (e.g. "*/5 * * * *")
	// for reloading the document from disk.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Panel PanelConfig `yaml:"panel" json:"panel"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "UTC"
	defaultDocumentPath = "/var/lib/schedcal/schedule.json"
	defaultDocumentID   = "default"
	defaultRefreshCron  = "*/5 * * * *"
	defaultLogLevel     = "info"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       defaultListen,
		Timezone:     defaultTimezone,
		DocumentPath: defaultDocumentPath,
		DocumentID:   defaultDocumentID,
		RefreshCron:  defaultRefreshCron,
		LogLevel:     defaultLogLevel,
		Panel: PanelConfig{
			HasPayload:  true,
			DefaultName: "Schedule",
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.DocumentPath == "" {
		c.DocumentPath = defaultDocumentPath
	}
	if c.DocumentID == "" {
		c.DocumentID = defaultDocumentID
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if _, err := appLog.ParseLevel(c.LogLevel); err != nil || c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Panel.DefaultName == "" {
		c.Panel.DefaultName = "Schedule"
	}
}

// Validate reports settings that Normalize cannot repair, such as an
// unknown timezone or a refresh spec cron rejects.
func (c *Config) Validate() error {
	if _, err := calendar.LoadLocation(c.Timezone); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("invalid refresh spec %q: %w", c.RefreshCron, err)
	}
	if c.Panel.Min != nil && c.Panel.Max != nil && *c.Panel.Min > *c.Panel.Max {
		return fmt.Errorf("panel min %v is greater than max %v", *c.Panel.Min, *c.Panel.Max)
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there with 0600
// permissions and returned. Otherwise the YAML is read, normalized and
// validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Return cfg with the error so the caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, data, ".schedcal-config-*.tmp")
}
