package rewrite

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/vein-cache/vein/internal/inventory"
)

func TestInfoFiltersQuarantinedVersion(t *testing.T) {
	body := []byte("---\n1.0.0 |abc123|dep1\n1.1.0 |def456|dep1\n")
	available := func(version, platform string) bool {
		return version != "1.1.0"
	}
	got := Info(body, available)
	want := "---\n1.0.0 |abc123|dep1\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", string(got), want)
	}
}

func TestInfoTreatsRubyPlatformAsNoPlatform(t *testing.T) {
	body := []byte("1.0.0 ruby|abc123|\n")
	var seenPlatform string
	Info(body, func(version, platform string) bool {
		seenPlatform = platform
		return true
	})
	if seenPlatform != "" {
		t.Fatalf("expected ruby platform to be normalized to empty, got %q", seenPlatform)
	}
}

func isAvailableAt(now time.Time) ReleasableFunc {
	return func(row inventory.GemVersion) bool { return row.IsAvailable(now) }
}

func TestVersionsFiltersAndRecomputesChecksum(t *testing.T) {
	body := []byte("created_at: 2026-01-01T00:00:00Z\n---\nrails 8.0.0,8.0.1 oldsum\n")
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	lookup := func(name string) ([]inventory.GemVersion, error) {
		return []inventory.GemVersion{
			{Key: inventory.GemVersionKey{Name: "rails", Version: "8.0.0"}, Status: inventory.StatusApproved},
			{Key: inventory.GemVersionKey{Name: "rails", Version: "8.0.1"}, Status: inventory.StatusQuarantine, AvailableAfter: now.Add(72 * time.Hour)},
		}, nil
	}
	got := string(Versions(body, lookup, nil, isAvailableAt(now)))
	if !strings.Contains(got, "rails 8.0.0 ") {
		t.Fatalf("expected only 8.0.0 to survive, got %q", got)
	}
	if strings.Contains(got, "8.0.1") {
		t.Fatalf("expected 8.0.1 to be filtered out, got %q", got)
	}
	if strings.Contains(got, "oldsum") {
		t.Fatalf("expected checksum to be recomputed, got %q", got)
	}
}

// TestVersionsChecksumMatchesRewrittenInfoBody is the §8.4 testable
// property: the trailing checksum on a /versions line must equal the md5
// of the corresponding rewritten /info/<name> body, not a hash of the
// /versions line's own CSV.
func TestVersionsChecksumMatchesRewrittenInfoBody(t *testing.T) {
	body := []byte("---\nrails 8.0.0,8.0.1 oldsum\n")
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	lookup := func(name string) ([]inventory.GemVersion, error) {
		return []inventory.GemVersion{
			{Key: inventory.GemVersionKey{Name: "rails", Version: "8.0.0"}, Status: inventory.StatusApproved},
			{Key: inventory.GemVersionKey{Name: "rails", Version: "8.0.1"}, Status: inventory.StatusApproved},
		}, nil
	}
	rawInfo := []byte("---\n8.0.0 |abc123|dep1\n8.0.1 |def456|dep1\n")
	infoBody := func(name string) ([]byte, error) { return rawInfo, nil }

	got := string(Versions(body, lookup, infoBody, isAvailableAt(now)))

	available := BuildAvailability([]inventory.GemVersion{
		{Key: inventory.GemVersionKey{Name: "rails", Version: "8.0.0"}, Status: inventory.StatusApproved},
		{Key: inventory.GemVersionKey{Name: "rails", Version: "8.0.1"}, Status: inventory.StatusApproved},
	}, isAvailableAt(now))
	wantSum := md5.Sum(Info(rawInfo, available))
	want := hex.EncodeToString(wantSum[:])

	if !strings.Contains(got, want) {
		t.Fatalf("expected checksum %q (md5 of rewritten /info body), got %q", want, got)
	}
}

func TestVersionsDropsGemLineWhenAllVersionsQuarantined(t *testing.T) {
	body := []byte("---\nrails 8.0.1 oldsum\n")
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	lookup := func(name string) ([]inventory.GemVersion, error) {
		return []inventory.GemVersion{
			{Key: inventory.GemVersionKey{Name: "rails", Version: "8.0.1"}, Status: inventory.StatusQuarantine, AvailableAfter: now.Add(72 * time.Hour)},
		}, nil
	}
	got := string(Versions(body, lookup, nil, isAvailableAt(now)))
	if strings.Contains(got, "rails") {
		t.Fatalf("expected the rails line to be dropped entirely, got %q", got)
	}
}

func TestVersionsPassesThroughUntrackedGems(t *testing.T) {
	body := []byte("---\nunknown_gem 1.0.0 sum\n")
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	lookup := func(name string) ([]inventory.GemVersion, error) { return nil, nil }
	got := string(Versions(body, lookup, nil, isAvailableAt(now)))
	if got != string(body) {
		t.Fatalf("expected untracked gem line to pass through, got %q", got)
	}
}

func TestVersionsDeletionMarkerAlwaysPassesThrough(t *testing.T) {
	body := []byte("---\nrails 8.0.0,-8.0.1 oldsum\n")
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	lookup := func(name string) ([]inventory.GemVersion, error) {
		return []inventory.GemVersion{
			{Key: inventory.GemVersionKey{Name: "rails", Version: "8.0.0"}, Status: inventory.StatusApproved},
		}, nil
	}
	got := string(Versions(body, lookup, nil, isAvailableAt(now)))
	if !strings.Contains(got, "-8.0.1") {
		t.Fatalf("expected deletion marker to survive, got %q", got)
	}
}

func TestVersionsReleasableFuncHonorsOverridesBareIsAvailableDoesNot(t *testing.T) {
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	body := []byte("---\nnokogiri 1.16.0 oldsum\n")
	lookup := func(name string) ([]inventory.GemVersion, error) {
		return []inventory.GemVersion{
			{Key: inventory.GemVersionKey{Name: "nokogiri", Version: "1.16.0"}, Status: inventory.StatusQuarantine, AvailableAfter: now.Add(72 * time.Hour)},
		}, nil
	}
	pinned := func(row inventory.GemVersion) bool {
		return row.Key.Name == "nokogiri" && row.Key.Version == "1.16.0"
	}
	got := string(Versions(body, lookup, nil, pinned))
	if !strings.Contains(got, "1.16.0") {
		t.Fatalf("expected a pin override to keep 1.16.0 visible even though its window hasn't elapsed, got %q", got)
	}
}

func TestReferencedVersionsSkipsDeletionMarkers(t *testing.T) {
	body := []byte("---\nrails 8.0.0,-8.0.1,1.16.0-java sum\n")
	got := ReferencedVersions(body)
	want := []inventory.GemVersionKey{
		{Name: "rails", Version: "8.0.0"},
		{Name: "rails", Version: "1.16.0", Platform: "java"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d keys, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReferencedInfoVersions(t *testing.T) {
	body := []byte("---\n1.0.0 |abc|\n1.1.0 x86_64-linux|def|\n")
	got := ReferencedInfoVersions("rails", body)
	want := []inventory.GemVersionKey{
		{Name: "rails", Version: "1.0.0"},
		{Name: "rails", Version: "1.1.0", Platform: "x86_64-linux"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d keys, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSplitVersionPlatform(t *testing.T) {
	cases := []struct {
		entry        string
		wantVersion  string
		wantPlatform string
	}{
		{"1.0.0", "1.0.0", ""},
		{"1.16.0-x86_64-linux", "1.16.0", "x86_64-linux"},
		{"8.0.1-java", "8.0.1", "java"},
	}
	for _, c := range cases {
		v, p := splitVersionPlatform(c.entry)
		if v != c.wantVersion || p != c.wantPlatform {
			t.Errorf("splitVersionPlatform(%q) = (%q, %q), want (%q, %q)", c.entry, v, p, c.wantVersion, c.wantPlatform)
		}
	}
}
