package route

import (
	"regexp"
	"strings"
)

var (
	legacyExact = map[string]bool{
		"/specs.4.8.gz":            true,
		"/latest_specs.4.8.gz":     true,
		"/prerelease_specs.4.8.gz": true,
	}

	npmScopedPathRe  = regexp.MustCompile(`^/npm/(@[^/]+/[^/]+)(?:/-/([^/]+\.tgz))?$`)
	npmUnscopedPathRe = regexp.MustCompile(`^/npm/([^@/][^/]*)(?:/-/([^/]+\.tgz))?$`)
	quickSpecSuffix   = ".gemspec.rz"
)

// Classify maps a request path to a Match. It looks at the path only; the
// caller decides which HTTP methods reach it (internal/server routes GET
// and HEAD alike, per §4.8).
func Classify(path string) Match {
	switch {
	case path == "/up":
		return Match{Kind: Health}
	case path == "/.well-known/vein/sbom":
		return Match{Kind: Sbom}
	case path == "/versions":
		return Match{Kind: RubyGemsVersions}
	case legacyExact[path], strings.HasPrefix(path, "/api/v1/dependencies"):
		return Match{Kind: RubyGemsLegacy}
	}

	if name, ok := cutPrefixSuffix(path, "/info/", ""); ok && name != "" && !strings.Contains(name, "/") {
		return Match{Kind: RubyGemsInfo, Name: name}
	}

	if rest, ok := strings.CutPrefix(path, "/quick/Marshal.4.8/"); ok {
		if strings.HasSuffix(rest, quickSpecSuffix) {
			stem := strings.TrimSuffix(rest, quickSpecSuffix)
			if name, version, platform, ok := parseGemStem(stem); ok {
				return Match{Kind: RubyGemsQuickSpec, Name: name, Version: version, Platform: platform}
			}
		}
		return Match{Kind: NotRouted}
	}

	if rest, ok := strings.CutPrefix(path, "/gems/"); ok && strings.HasSuffix(rest, ".gem") {
		stem := strings.TrimSuffix(rest, ".gem")
		if name, version, platform, ok := parseGemStem(stem); ok {
			return Match{Kind: RubyGemsGem, Name: name, Version: version, Platform: platform}
		}
		return Match{Kind: NotRouted}
	}

	if rest, ok := strings.CutPrefix(path, "/crates-index/"); ok && rest != "" {
		segments := strings.Split(rest, "/")
		name := strings.ToLower(segments[len(segments)-1])
		if name == "" {
			return Match{Kind: NotRouted}
		}
		return Match{Kind: CratesIndex, Name: name}
	}

	if rest, ok := strings.CutPrefix(path, "/api/v1/crates/"); ok {
		segments := strings.Split(rest, "/")
		if len(segments) == 3 && segments[2] == "download" && segments[0] != "" && segments[1] != "" {
			return Match{Kind: CratesDownload, Name: segments[0], Version: segments[1]}
		}
		return Match{Kind: NotRouted}
	}

	if m := npmScopedPathRe.FindStringSubmatch(path); m != nil {
		return npmMatch(m[1], m[2])
	}
	if m := npmUnscopedPathRe.FindStringSubmatch(path); m != nil {
		return npmMatch(m[1], m[2])
	}

	return Match{Kind: NotRouted}
}

func npmMatch(name, tarballFile string) Match {
	if tarballFile == "" {
		return Match{Kind: NpmMetadata, Name: name}
	}
	version := versionFromNpmTarball(name, tarballFile)
	return Match{Kind: NpmTarball, Name: name, Version: version}
}

// versionFromNpmTarball extracts the version from a tarball file name of
// the shape <unscoped-name>-<version>.tgz.
func versionFromNpmTarball(name, file string) string {
	base := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		base = name[i+1:]
	}
	stem := strings.TrimSuffix(file, ".tgz")
	prefix := base + "-"
	if strings.HasPrefix(stem, prefix) {
		return strings.TrimPrefix(stem, prefix)
	}
	return ""
}

// parseGemStem splits a RubyGems file stem (the part before ".gem" or
// ".gemspec.rz") into name, version and an optional platform. RubyGems
// names and versions are both allowed to contain hyphens in principle, so
// this walks segments to find the first one that looks like the start of a
// version (leads with a digit); everything before it is the name, the
// matched segment is the version, and anything remaining is the platform.
func parseGemStem(stem string) (name, version, platform string, ok bool) {
	segments := strings.Split(stem, "-")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if seg[0] >= '0' && seg[0] <= '9' {
			if i == 0 {
				return "", "", "", false
			}
			name = strings.Join(segments[:i], "-")
			version = seg
			platform = strings.Join(segments[i+1:], "-")
			return name, version, platform, true
		}
	}
	return "", "", "", false
}

func cutPrefixSuffix(s, prefix, suffix string) (string, bool) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return "", false
	}
	if suffix == "" {
		return rest, true
	}
	rest, ok = strings.CutSuffix(rest, suffix)
	return rest, ok
}
