package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var validLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate runs semantic-level checks beyond what mapstructure enforces,
// so an invalid config fails fast at startup instead of at request time.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return newFieldError("server.port", "must be between 1 and 65535")
	}
	if c.Storage.Path == "" {
		return newFieldError("storage.path", "must not be empty")
	}
	if err := validateUpstream(c.Upstream.URL); err != nil {
		return fmt.Errorf("%s: %w", "upstream.url", err)
	}
	for i, fallback := range c.Upstream.FallbackURLs {
		if err := validateUpstream(fallback); err != nil {
			return fmt.Errorf("upstream.fallback_urls[%d]: %w", i, err)
		}
	}
	if c.Upstream.ConnectionPoolSize <= 0 {
		return newFieldError("upstream.connection_pool_size", "must be greater than 0")
	}

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if _, ok := validLogLevels[level]; !ok {
		return newFieldError("logging.level", "must be one of debug|info|warn|error")
	}
	c.Logging.Level = level

	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			return fmt.Errorf("%s: %w", "database.url", err)
		}
	}

	if c.DelayPolicy.DefaultDelayDays < 0 {
		return newFieldError("delay_policy.default_delay_days", "must not be negative")
	}
	if c.DelayPolicy.ReleaseHourUTC < 0 || c.DelayPolicy.ReleaseHourUTC > 23 {
		return newFieldError("delay_policy.release_hour_utc", "must be between 0 and 23")
	}
	for i, gem := range c.DelayPolicy.Gems {
		if strings.TrimSpace(gem.Name) == "" {
			return newFieldError(fmt.Sprintf("delay_policy.gems[%d].name", i), "must not be empty")
		}
		if gem.DelayDays < 0 {
			return newFieldError(fmt.Sprintf("delay_policy.gems[%d].delay_days", i), "must not be negative")
		}
	}
	for i, pin := range c.DelayPolicy.Pinned {
		if strings.TrimSpace(pin.Name) == "" || strings.TrimSpace(pin.Version) == "" {
			return newFieldError(fmt.Sprintf("delay_policy.pinned[%d]", i), "name and version are required")
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("missing upstream URL")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("only http/https supported, got: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("upstream missing host: %s", raw)
	}
	return nil
}
