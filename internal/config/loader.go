package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads and parses the TOML config file, injecting defaults and running
// semantic validation.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	cfg.Storage.Path = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8346)
	v.SetDefault("server.workers", 0)

	v.SetDefault("upstream.url", "https://rubygems.org")
	v.SetDefault("upstream.timeout_secs", 30)
	v.SetDefault("upstream.connection_pool_size", 100)

	v.SetDefault("storage.path", "./storage")

	v.SetDefault("database.path", "./vein.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", true)

	v.SetDefault("hotcache.refresh_schedule", "0 5 * * * *")

	v.SetDefault("delay_policy.enabled", false)
	v.SetDefault("delay_policy.default_delay_days", 3)
	v.SetDefault("delay_policy.skip_weekends", true)
	v.SetDefault("delay_policy.business_hours_only", true)
	v.SetDefault("delay_policy.release_hour_utc", 9)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8346
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Upstream.URL == "" {
		cfg.Upstream.URL = "https://rubygems.org"
	}
	if cfg.Upstream.ConnectionPoolSize == 0 {
		cfg.Upstream.ConnectionPoolSize = 100
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./storage"
	}
	if cfg.Database.Path == "" && cfg.Database.URL == "" {
		cfg.Database.Path = "./vein.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Hotcache.RefreshSchedule == "" {
		cfg.Hotcache.RefreshSchedule = "0 5 * * * *"
	}
	if cfg.DelayPolicy.DefaultDelayDays == 0 {
		cfg.DelayPolicy.DefaultDelayDays = 3
	}
	if cfg.DelayPolicy.ReleaseHourUTC == 0 {
		cfg.DelayPolicy.ReleaseHourUTC = 9
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("cannot parse Duration field: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported Duration type: %T", v)
		}
	}
}
