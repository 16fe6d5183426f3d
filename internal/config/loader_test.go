package config

import "testing"

func TestLoadFailsWithInvalidUpstream(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("config with an invalid upstream URL should return an error")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
[upstream]
url = "https://rubygems.org"
timeout_secs = 30

[storage]
path = "./data"

[delay_policy]
default_delay_days = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("invalid default_delay_days should fail to decode")
	}
}
