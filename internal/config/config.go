package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"caldup/internal/model"
)

// SelectorsConfig lets deployments override the ordered selector candidate
// lists without a rebuild. Empty lists fall back to the built-in defaults;
// ordering encodes a preference for the most specific/modern selector first.
type SelectorsConfig struct {
	// EventCards matches enhanceable event elements in the calendar grid.
	EventCards []string `yaml:"event_cards" json:"event_cards"`
	// DetailSurface matches the transient detail popup/panel.
	DetailSurface []string `yaml:"detail_surface" json:"detail_surface"`
	// DetailClose matches the control that dismisses the detail surface.
	DetailClose []string `yaml:"detail_close" json:"detail_close"`
}

// ResilienceConfig mirrors model.ResilienceConfig with file-friendly units.
type ResilienceConfig struct {
	MaxRetries             int `yaml:"max_retries" json:"max_retries"`
	RetryDelayMs           int `yaml:"retry_delay_ms" json:"retry_delay_ms"`
	HealthCheckIntervalSec int `yaml:"health_check_interval_sec" json:"health_check_interval_sec"`
	MaxErrorCount          int `yaml:"max_error_count" json:"max_error_count"`
	StaleEventThresholdSec int `yaml:"stale_event_threshold_sec" json:"stale_event_threshold_sec"`
	EnhancementTimeoutMs   int `yaml:"enhancement_timeout_ms" json:"enhancement_timeout_ms"`
}

// CredentialsConfig configures the ordered credential lookup chain for the
// API creation path. All fields are optional; when no source yields a
// usable credential, creation falls back to the URL path.
type CredentialsConfig struct {
	// StorageKeys are localStorage/sessionStorage keys probed on the host
	// page, in order.
	StorageKeys []string `yaml:"storage_keys" json:"storage_keys"`
	// CookieNames are browser cookie names probed in order.
	CookieNames []string `yaml:"cookie_names" json:"cookie_names"`
	// TokenEnv names an environment variable holding a bearer token.
	TokenEnv string `yaml:"token_env" json:"token_env"`
	// Token is a static bearer token (testing / service accounts).
	Token string `yaml:"token" json:"token"`

	// OAuth refresh-token flow. When RefreshToken is set, an oauth2 token
	// source is appended to the chain and renews access tokens itself.
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	RefreshToken string `yaml:"refresh_token" json:"refresh_token"`
	// TokenURL overrides the token endpoint (tests, proxies); "" means the
	// public Google endpoint.
	TokenURL string `yaml:"token_url" json:"token_url"`
}

// Config is the top-level application configuration.
type Config struct {
	// CalendarURL is the calendar web application to attach to.
	CalendarURL string `yaml:"calendar_url" json:"calendar_url"`

	// Listen is the HTTP listen address for the status API ("" disables it).
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for timed-event payloads.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Headless controls whether Chromium runs headless.
	Headless bool `yaml:"headless" json:"headless"`

	// CalendarID is the target calendar for API creation.
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`

	// APIBaseURL overrides the calendar API endpoint (tests, proxies).
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`

	// ArtifactDir, when set, receives an .ics backup of every created
	// duplicate.
	ArtifactDir string `yaml:"artifact_dir" json:"artifact_dir"`

	Selectors   SelectorsConfig   `yaml:"selectors" json:"selectors"`
	Resilience  ResilienceConfig  `yaml:"resilience" json:"resilience"`
	Credentials CredentialsConfig `yaml:"credentials" json:"credentials"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		CalendarURL: "https://calendar.google.com/calendar/r",
		Listen:      "127.0.0.1:8081",
		Timezone:    "UTC",
		Headless:    true,
		CalendarID:  "primary",
		Credentials: CredentialsConfig{
			StorageKeys: []string{"gapi_token", "oauth_token", "access_token"},
			CookieNames: []string{"calendar_token"},
			TokenEnv:    "CALDUP_TOKEN",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.CalendarURL == "" {
		c.CalendarURL = def.CalendarURL
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.CalendarID == "" {
		c.CalendarID = def.CalendarID
	}
	if c.Credentials.StorageKeys == nil {
		c.Credentials.StorageKeys = def.Credentials.StorageKeys
	}
	if c.Credentials.CookieNames == nil {
		c.Credentials.CookieNames = def.Credentials.CookieNames
	}
	if c.Credentials.TokenEnv == "" {
		c.Credentials.TokenEnv = def.Credentials.TokenEnv
	}
}

// ResilienceModel converts the file-friendly resilience section into the
// runtime struct, applying defaults for unset fields.
func (c *Config) ResilienceModel() model.ResilienceConfig {
	rc := model.ResilienceConfig{
		MaxRetries:          c.Resilience.MaxRetries,
		RetryDelay:          time.Duration(c.Resilience.RetryDelayMs) * time.Millisecond,
		HealthCheckInterval: time.Duration(c.Resilience.HealthCheckIntervalSec) * time.Second,
		MaxErrorCount:       c.Resilience.MaxErrorCount,
		StaleEventThreshold: time.Duration(c.Resilience.StaleEventThresholdSec) * time.Second,
		EnhancementTimeout:  time.Duration(c.Resilience.EnhancementTimeoutMs) * time.Millisecond,
	}
	rc.Normalize()
	return rc
}

// Location resolves the configured timezone, falling back to UTC on error.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create parent directory if needed, write
//     a default config with 0600 perms, and return the default config.
//   - If the file exists: read YAML, unmarshal, normalize defaults.
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
				// Even if save fails, return cfg with error so caller can decide.
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

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".caldup-config-*.tmp")
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
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the
// package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
