package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration accepts both Go duration strings ("30s") and bare integer
// seconds when decoded from TOML.
type Duration time.Duration

// UnmarshalText lets Viper parse "30s", "5m" or a bare integer seconds value.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue returns the underlying time.Duration.
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// ServerConfig binds the HTTP surface (§4.8).
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Workers int    `mapstructure:"workers"`
}

// UpstreamConfig configures the RubyGems upstream; crates.io and npm
// upstreams are fixed per spec §4.6 and are not user-configurable.
type UpstreamConfig struct {
	URL                string   `mapstructure:"url"`
	TimeoutSecs        int      `mapstructure:"timeout_secs"`
	ConnectionPoolSize int      `mapstructure:"connection_pool_size"`
	FallbackURLs       []string `mapstructure:"fallback_urls"`
}

// Timeout returns the configured upstream timeout, defaulting to 30s.
func (u UpstreamConfig) Timeout() time.Duration {
	if u.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(u.TimeoutSecs) * time.Second
}

// StorageConfig is the filesystem root for cached artifacts and index bodies.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig selects the inventory backend. A URL with a postgres(ql)://
// scheme selects PostgreSQL; otherwise Path selects a SQLite file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
	URL  string `mapstructure:"url"`
}

// Driver reports which inventory backend this configuration selects.
func (d DatabaseConfig) Driver() string {
	if strings.HasPrefix(d.URL, "postgres://") || strings.HasPrefix(d.URL, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// LoggingConfig controls the shared logrus logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
	File  string `mapstructure:"file"`
}

// HotcacheConfig drives the quarantine scheduler's cron tick and metadata
// pre-warm.
type HotcacheConfig struct {
	RefreshSchedule string `mapstructure:"refresh_schedule"`
}

// GemDelayOverride overrides the default quarantine delay for a gem name or
// glob pattern.
type GemDelayOverride struct {
	Name      string `mapstructure:"name"`
	Pattern   bool   `mapstructure:"pattern"`
	DelayDays int    `mapstructure:"delay_days"`
}

// PinnedVersion bypasses quarantine for a specific (name, version).
type PinnedVersion struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Reason  string `mapstructure:"reason"`
}

// DelayPolicyConfig configures the RubyGems quarantine window (§4.5).
type DelayPolicyConfig struct {
	Enabled           bool               `mapstructure:"enabled"`
	DefaultDelayDays  int                `mapstructure:"default_delay_days"`
	SkipWeekends      bool               `mapstructure:"skip_weekends"`
	BusinessHoursOnly bool               `mapstructure:"business_hours_only"`
	ReleaseHourUTC    int                `mapstructure:"release_hour_utc"`
	Gems              []GemDelayOverride `mapstructure:"gems"`
	Pinned            []PinnedVersion    `mapstructure:"pinned"`
}

// Config is the TOML file mapped onto Go types (§6).
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Upstream    UpstreamConfig    `mapstructure:"upstream"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Hotcache    HotcacheConfig    `mapstructure:"hotcache"`
	DelayPolicy DelayPolicyConfig `mapstructure:"delay_policy"`
}

// ListenAddr formats the bind address for fiber's Listen.
func (c *Config) ListenAddr() string {
	host := c.Server.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.Server.Port)
}
