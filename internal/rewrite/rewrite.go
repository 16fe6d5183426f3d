// Package rewrite filters quarantined gem versions out of RubyGems compact
// index responses before they reach a client, per §4.4: a version still
// inside its delay window must be invisible to `bundle install`/`bundle
// outdated` even though the blob itself is already cached.
//
// Grounded on _examples/original_source/src/proxy/quarantine.rs's
// filter_compact_info, which walks `/info/<gem>` lines dropping any whose
// version+platform key is quarantined. That file's filter_compact_versions
// is a deliberate stub (`#[allow(dead_code)]`, "pass through unfiltered...
// for now") — SPEC_FULL.md §4.4 calls for the real thing, so Versions below
// implements the per-gem line filtering and checksum recomputation the
// original left undone, in the same line-oriented style.
package rewrite

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/vein-cache/vein/internal/inventory"
)

// AvailabilityFunc reports whether a (version, platform) pair of a gem
// already known to the rewriter's caller should be visible to clients.
// platform is "" for the ruby platform.
type AvailabilityFunc func(version, platform string) bool

// Info filters quarantined versions out of a `/info/<gem>` compact index
// response. Lines are "version|checksum|deps" or "version
// platform|checksum|deps"; "---" and blank lines pass through untouched.
func Info(body []byte, available AvailabilityFunc) []byte {
	lines := strings.Split(string(body), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" || line == "---" {
			out = append(out, line)
			continue
		}
		version, platform, ok := parseInfoLine(line)
		if ok && !available(version, platform) {
			continue
		}
		out = append(out, line)
	}
	return []byte(strings.Join(out, "\n"))
}

func parseInfoLine(line string) (version, platform string, ok bool) {
	pipe := strings.IndexByte(line, '|')
	if pipe < 0 {
		return "", "", false
	}
	fields := strings.Fields(line[:pipe])
	if len(fields) == 0 {
		return "", "", false
	}
	version = fields[0]
	if len(fields) > 1 && fields[1] != "ruby" {
		platform = fields[1]
	}
	return version, platform, true
}

// GemVersionsLookup is the narrow slice of inventory.Store that Versions
// needs: one version list per gem named on a line of the compact index.
type GemVersionsLookup func(name string) ([]inventory.GemVersion, error)

// InfoBodyFunc returns the raw, unrewritten `/info/<name>` compact index
// body for a gem, so Versions can recompute each surviving line's checksum
// over the same bytes a client fetching /info/<name> would actually see
// (§4.4 step 3, §8.4: the checksum is "of the corresponding rewritten
// /info/<name> body", not of the /versions line's own CSV).
type InfoBodyFunc func(name string) ([]byte, error)

// ReleasableFunc decides whether a single known gem version row should be
// visible to clients right now. Callers build this from
// internal/quarantine.IsReleasable rather than the bare
// inventory.GemVersion.IsAvailable, so a config-level pin override is
// honored here the same way it is everywhere else a release decision is
// made.
type ReleasableFunc func(row inventory.GemVersion) bool

// Versions filters quarantined versions out of a `/versions` compact index
// response and recomputes each surviving line's checksum as the md5 of the
// corresponding rewritten `/info/<name>` body (§4.4 step 3, §8.4) — not a
// hash of the `/versions` line's own CSV, which carries no checksum-grade
// information of its own. infoBody supplies that body per gem name;
// available filters it the same way Info does, so the digest matches
// exactly what a client fetching /info/<name> next would receive.
//
// Each non-header line is "name v1,v2,v3 checksum". A version entry
// prefixed with "-" is a deletion marker (upstream pulled that version) and
// is always passed through unfiltered: it is already instructing the
// client to forget a version, not advertising one.
func Versions(body []byte, lookup GemVersionsLookup, infoBody InfoBodyFunc, releasable ReleasableFunc) []byte {
	lines := strings.Split(string(body), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" || line == "---" || strings.HasPrefix(line, "created_at:") {
			out = append(out, line)
			continue
		}
		rewritten, ok := filterVersionsLine(line, lookup, infoBody, releasable)
		if !ok {
			out = append(out, line) // unrecognized shape, pass through
			continue
		}
		if rewritten == "" {
			continue // every version on this line is quarantined; drop the gem entirely
		}
		out = append(out, rewritten)
	}
	return []byte(strings.Join(out, "\n"))
}

func filterVersionsLine(line string, lookup GemVersionsLookup, infoBody InfoBodyFunc, releasable ReleasableFunc) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", false
	}
	name, versionsCSV := fields[0], fields[1]

	known, err := lookup(name)
	if err != nil || len(known) == 0 {
		// Quarantine system has no rows for this gem yet: pass through
		// unfiltered rather than guess, matching the original's behavior
		// when get_gem_versions_for_index comes back empty.
		return line, true
	}
	available := availabilityFromRows(known, releasable)

	entries := strings.Split(versionsCSV, ",")
	kept := make([]string, 0, len(entries))
	for _, v := range entries {
		if strings.HasPrefix(v, "-") {
			kept = append(kept, v)
			continue
		}
		version, platform := splitVersionPlatform(v)
		if available(version, platform) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return "", true
	}

	csv := strings.Join(kept, ",")
	return name + " " + csv + " " + hex.EncodeToString(checksum(name, csv, available, infoBody)), true
}

// checksum computes the md5 of the rewritten /info/<name> body backing this
// /versions line. If the raw body can't be fetched, it falls back to
// hashing the CSV itself rather than failing the whole /versions response
// over one gem's transient info-fetch error.
func checksum(name, csv string, available AvailabilityFunc, infoBody InfoBodyFunc) []byte {
	if infoBody != nil {
		if raw, err := infoBody(name); err == nil {
			sum := md5.Sum(Info(raw, available))
			return sum[:]
		}
	}
	sum := md5.Sum([]byte(csv))
	return sum[:]
}

// splitVersionPlatform splits a compact-index version entry like
// "1.16.0-x86_64-linux" into its version and platform parts. RubyGems
// versions don't use "-" themselves (prereleases use a trailing ".pre"
// segment instead), so the first hyphen is always the platform boundary.
func splitVersionPlatform(entry string) (version, platform string) {
	if i := strings.IndexByte(entry, '-'); i >= 0 {
		return entry[:i], entry[i+1:]
	}
	return entry, ""
}

// BuildAvailability builds an AvailabilityFunc from a gem's known version
// rows, for callers of Info that already hold the rows (internal/server
// looks them up once and feeds the same rows to both Info's availability
// check and the §4.4 step 1 new-version scan).
func BuildAvailability(rows []inventory.GemVersion, releasable ReleasableFunc) AvailabilityFunc {
	return availabilityFromRows(rows, releasable)
}

// availabilityFromRows builds an AvailabilityFunc from a gem's known
// version rows, matching is_version_available's ruby-platform-means-no-
// platform key convention.
func availabilityFromRows(rows []inventory.GemVersion, releasable ReleasableFunc) AvailabilityFunc {
	available := make(map[string]bool, len(rows))
	for _, r := range rows {
		available[versionKey(r.Key.Version, r.Key.Platform)] = releasable(r)
	}
	return func(version, platform string) bool {
		ok, known := available[versionKey(version, platform)]
		if !known {
			// Not tracked in quarantine for this gem: default to visible,
			// same as the original treating an unpopulated entry as
			// available rather than silently hiding it.
			return true
		}
		return ok
	}
}

// ReferencedVersions scans a raw, unfiltered `/versions` compact index body
// and returns every (name, version, platform) triple it references, so a
// caller can record any row internal/quarantine doesn't know about yet
// (§4.4 step 1) before the response is filtered. Deletion markers are
// skipped: they withdraw a version, they don't announce one.
func ReferencedVersions(body []byte) []inventory.GemVersionKey {
	var out []inventory.GemVersionKey
	for _, line := range strings.Split(string(body), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		name := fields[0]
		for _, v := range strings.Split(fields[1], ",") {
			if strings.HasPrefix(v, "-") {
				continue
			}
			version, platform := splitVersionPlatform(v)
			out = append(out, inventory.GemVersionKey{Name: name, Version: version, Platform: platform})
		}
	}
	return out
}

// ReferencedInfoVersions scans a raw `/info/<gem>` compact index body and
// returns every (version, platform) pair it lists for gemName.
func ReferencedInfoVersions(gemName string, body []byte) []inventory.GemVersionKey {
	var out []inventory.GemVersionKey
	for _, line := range strings.Split(string(body), "\n") {
		if line == "" || line == "---" {
			continue
		}
		version, platform, ok := parseInfoLine(line)
		if !ok {
			continue
		}
		out = append(out, inventory.GemVersionKey{Name: gemName, Version: version, Platform: platform})
	}
	return out
}

func versionKey(version, platform string) string {
	if platform == "" || platform == "ruby" {
		return version
	}
	return version + ":" + platform
}
