package quarantine

import (
	"testing"
	"time"

	"github.com/vein-cache/vein/internal/config"
	"github.com/vein-cache/vein/internal/inventory"
)

func TestDelayDaysDefaultAndOverride(t *testing.T) {
	cfg := config.DelayPolicyConfig{
		DefaultDelayDays: 3,
		Gems: []config.GemDelayOverride{
			{Name: "rails", DelayDays: 7},
			{Name: "*-internal", DelayDays: 0, Pattern: true},
		},
	}
	if got := DelayDays(cfg, "rails"); got != 7 {
		t.Errorf("rails delay = %d, want 7", got)
	}
	if got := DelayDays(cfg, "rack"); got != 3 {
		t.Errorf("rack delay = %d, want 3", got)
	}
	if got := DelayDays(cfg, "my-gem-internal"); got != 0 {
		t.Errorf("my-gem-internal delay = %d, want 0", got)
	}
}

func TestGlobMatchVariants(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*-internal", "my-gem-internal", true},
		{"*-internal", "internal-gem", false},
		{"rails-*", "rails-api", true},
		{"rails-*", "my-rails", false},
		{"my-*-gem", "my-awesome-gem", true},
		{"my-*-gem", "your-awesome-gem", false},
		{"rails", "rails", true},
		{"rails", "rack", false},
		{"*", "anything", true},
	}
	for _, c := range cases {
		if got := globMatch(c.pattern, c.name); got != c.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", c.pattern, c.name, got, c.want)
		}
	}
}

func TestIsPinnedAndReason(t *testing.T) {
	cfg := config.DelayPolicyConfig{
		Pinned: []config.PinnedVersion{
			{Name: "nokogiri", Version: "1.16.0", Reason: "CVE-2024-XXXXX"},
		},
	}
	if !IsPinned(cfg, "nokogiri", "1.16.0") {
		t.Errorf("expected nokogiri 1.16.0 to be pinned")
	}
	if IsPinned(cfg, "nokogiri", "1.15.0") {
		t.Errorf("expected nokogiri 1.15.0 to not be pinned")
	}
	reason, ok := PinReason(cfg, "nokogiri", "1.16.0")
	if !ok || reason != "CVE-2024-XXXXX" {
		t.Errorf("got reason %q ok=%v", reason, ok)
	}
}

func TestAvailableAfterSkipsWeekendsAndAlignsHour(t *testing.T) {
	cfg := config.DelayPolicyConfig{
		DefaultDelayDays:  3,
		SkipWeekends:      true,
		BusinessHoursOnly: true,
		ReleaseHourUTC:    9,
	}
	// Thursday 2025-01-09 + 3 days = Sunday 2025-01-12, pushed to Monday.
	published := time.Date(2025, 1, 9, 14, 0, 0, 0, time.UTC)
	got := AvailableAfter(cfg, "rails", published)
	if got.Weekday() != time.Monday {
		t.Errorf("expected Monday, got %s", got.Weekday())
	}
	if got.Hour() != 9 {
		t.Errorf("expected hour 9, got %d", got.Hour())
	}
}

func TestAvailableAfterNoWeekendSkipStaysOnLandingDay(t *testing.T) {
	cfg := config.DelayPolicyConfig{DefaultDelayDays: 3}
	published := time.Date(2025, 1, 6, 14, 0, 0, 0, time.UTC) // Monday
	got := AvailableAfter(cfg, "rails", published)
	if got.Weekday() != time.Thursday {
		t.Errorf("expected Thursday, got %s", got.Weekday())
	}
}

func TestIsReleasablePrecedence(t *testing.T) {
	cfg := config.DelayPolicyConfig{
		Pinned: []config.PinnedVersion{{Name: "nokogiri", Version: "1.16.0", Reason: "pinned"}},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)

	blocked := inventory.GemVersion{Key: inventory.GemVersionKey{Name: "nokogiri", Version: "1.16.0"}, Status: inventory.StatusBlocked, AvailableAfter: now}
	if IsReleasable(cfg, blocked, now) {
		t.Errorf("blocked must win over pin")
	}

	pinnedStillQuarantined := inventory.GemVersion{Key: inventory.GemVersionKey{Name: "nokogiri", Version: "1.16.0"}, Status: inventory.StatusQuarantine, AvailableAfter: future}
	if !IsReleasable(cfg, pinnedStillQuarantined, now) {
		t.Errorf("pin should override a still-open quarantine window")
	}

	approved := inventory.GemVersion{Key: inventory.GemVersionKey{Name: "rack", Version: "1.0.0"}, Status: inventory.StatusApproved, AvailableAfter: future}
	if !IsReleasable(cfg, approved, now) {
		t.Errorf("approved should always be releasable")
	}

	quarantinedNoPinFuture := inventory.GemVersion{Key: inventory.GemVersionKey{Name: "rack", Version: "1.0.0"}, Status: inventory.StatusQuarantine, AvailableAfter: future}
	if IsReleasable(cfg, quarantinedNoPinFuture, now) {
		t.Errorf("unpinned version still inside its window must not be releasable")
	}

	quarantinedNoPinPast := inventory.GemVersion{Key: inventory.GemVersionKey{Name: "rack", Version: "1.0.0"}, Status: inventory.StatusQuarantine, AvailableAfter: now.Add(-time.Hour)}
	if !IsReleasable(cfg, quarantinedNoPinPast, now) {
		t.Errorf("version past its window must be releasable")
	}
}

func TestRecordNewVersionUsesComputedAvailability(t *testing.T) {
	cfg := config.DelayPolicyConfig{DefaultDelayDays: 3}
	now := time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC)
	gv := RecordNewVersion(cfg, "rails", "8.0.1", "", now)
	if gv.Status != inventory.StatusQuarantine {
		t.Errorf("expected quarantine status, got %s", gv.Status)
	}
	if !gv.AvailableAfter.After(now) {
		t.Errorf("expected available_after to be after published time")
	}
}
