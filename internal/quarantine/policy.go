// Package quarantine implements the RubyGems supply-chain delay buffer of
// §4.5: new versions sit in a quarantine window before they are visible in
// rewritten indexes, a periodic tick promotes versions whose window has
// elapsed, and admin operations can approve, block, or immediately release
// a version by hand.
//
// Grounded on _examples/original_source/src/config/delay_policy.rs (glob
// matching, per-gem delay override lookup) and
// _examples/original_source/crates/vein-adapter/src/cache/quarantine.rs
// (calculate_availability's weekend-skip/business-hours alignment). The
// original layers a `Pinned` status onto its own VersionStatus enum;
// spec.md's status set has no such value, so here a pin is instead an
// override checked at decision time (IsReleasable), never written into the
// stored row — see DESIGN.md's Open Question decision.
package quarantine

import (
	"strings"
	"time"

	"github.com/vein-cache/vein/internal/config"
	"github.com/vein-cache/vein/internal/inventory"
)

// DelayDays returns the quarantine window, in days, that a newly observed
// version of name should sit in before becoming eligible for promotion.
// Per-gem overrides are tried in configured order, first match wins;
// nothing matching falls back to the policy default.
func DelayDays(cfg config.DelayPolicyConfig, name string) int {
	for _, override := range cfg.Gems {
		if override.Pattern {
			if globMatch(override.Name, name) {
				return override.DelayDays
			}
			continue
		}
		if override.Name == name {
			return override.DelayDays
		}
	}
	return cfg.DefaultDelayDays
}

// IsPinned reports whether (name, version) appears in the policy's pin
// list, which overrides quarantine regardless of available_after.
func IsPinned(cfg config.DelayPolicyConfig, name, version string) bool {
	_, ok := PinReason(cfg, name, version)
	return ok
}

// PinReason returns the configured reason for pinning (name, version), and
// whether it is pinned at all.
func PinReason(cfg config.DelayPolicyConfig, name, version string) (string, bool) {
	for _, p := range cfg.Pinned {
		if p.Name == name && p.Version == version {
			return p.Reason, true
		}
	}
	return "", false
}

// AvailableAfter computes when a version published at `published` becomes
// eligible for promotion, per §4.4 step 1: add the gem's delay window,
// then, when SkipWeekends is set, push a weekend landing to the following
// Monday, and, when BusinessHoursOnly is set, align to the policy's
// configured release hour (UTC) on that day.
func AvailableAfter(cfg config.DelayPolicyConfig, name string, published time.Time) time.Time {
	delayDays := DelayDays(cfg, name)
	available := published.AddDate(0, 0, delayDays)

	if cfg.SkipWeekends {
		switch available.Weekday() {
		case time.Saturday:
			available = available.AddDate(0, 0, 2)
		case time.Sunday:
			available = available.AddDate(0, 0, 1)
		}
	}

	if cfg.BusinessHoursOnly {
		y, m, d := available.Date()
		available = time.Date(y, m, d, cfg.ReleaseHourUTC, 0, 0, 0, time.UTC)
	}

	return available
}

// IsReleasable decides whether row should be visible in a rewritten index
// right now, per §4.5's precedence: blocked and yanked always lose,
// approved always wins, a pin in current policy wins next, and only then
// does the stored available_after decide.
func IsReleasable(cfg config.DelayPolicyConfig, row inventory.GemVersion, now time.Time) bool {
	switch row.Status {
	case inventory.StatusBlocked, inventory.StatusYanked:
		return false
	case inventory.StatusApproved:
		return true
	}
	if IsPinned(cfg, row.Key.Name, row.Key.Version) {
		return true
	}
	return !now.Before(row.AvailableAfter)
}

// globMatch implements the same small wildcard grammar as the original's
// glob_match: "*" matches everything, a single leading or trailing "*"
// anchors a suffix or prefix match, one "*" in the middle does a
// prefix-and-suffix match, and anything else requires an exact match.
func globMatch(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*"); ok {
		return strings.HasSuffix(name, suffix)
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	if idx := strings.IndexByte(pattern, '*'); idx >= 0 {
		prefix, suffix := pattern[:idx], pattern[idx+1:]
		return strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix)
	}
	return pattern == name
}

// RecordNewVersion builds the quarantine row for a version observed for the
// first time, per §4.4 step 1. It does not touch the inventory: the caller
// (internal/server's recordNewVersions) checks that the version is not yet
// tracked and then upserts the returned row.
func RecordNewVersion(cfg config.DelayPolicyConfig, name, version, platform string, now time.Time) inventory.GemVersion {
	return inventory.GemVersion{
		Key:            inventory.GemVersionKey{Name: name, Version: version, Platform: platform},
		PublishedAt:    now,
		AvailableAfter: AvailableAfter(cfg, name, now),
		Status:         inventory.StatusQuarantine,
		StatusReason:   "auto",
	}
}
