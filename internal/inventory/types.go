// Package inventory defines the narrow contract through which every other
// package learns what Vein has cached and what it is allowed to serve. No
// caller outside this package and its sqlite/postgres backends may see a
// *sql.DB, a driver error type, or dialect-specific SQL.
package inventory

import (
	"errors"
	"time"
)

// ErrNotFound is returned by lookup operations when no row matches the key.
var ErrNotFound = errors.New("inventory: not found")

// AssetKind identifies which ecosystem and shape of blob a CachedAsset holds.
type AssetKind string

const (
	AssetGem          AssetKind = "gem"
	AssetCrate        AssetKind = "crate"
	AssetNPMTarball   AssetKind = "npm-tarball"
	AssetRubygemsIndex AssetKind = "rubygems-index"
	AssetCratesIndex  AssetKind = "crates-index"
	AssetNPMMeta      AssetKind = "npm-meta"
)

// AssetKey identifies a single cached blob. Platform is only meaningful for
// gem kinds that carry a platform suffix (e.g. "x86_64-linux"); it is empty
// for source gems, crates, npm tarballs and every index asset.
type AssetKey struct {
	Kind     AssetKind
	Name     string
	Version  string
	Platform string
}

// CachedAsset is a row in the blob inventory: where a fetched object lives on
// disk, its verified digest, and when it was last served, so the eviction
// sweep (outside this package's scope) has something to sort by.
type CachedAsset struct {
	Key          AssetKey
	Path         string
	SHA256       string
	SizeBytes    int64
	FetchedAt    time.Time
	LastAccessed time.Time
}

// VersionStatus is the lifecycle state of a single gem version as tracked by
// the quarantine system. It is independent of whether the blob itself has
// been fetched yet.
type VersionStatus string

const (
	StatusQuarantine VersionStatus = "quarantine"
	StatusAvailable  VersionStatus = "available"
	StatusApproved   VersionStatus = "approved"
	StatusBlocked    VersionStatus = "blocked"
	StatusYanked     VersionStatus = "yanked"
)

// GemVersionKey identifies one version of one gem, optionally for a specific
// platform. Platform is empty for the common ruby-source case.
type GemVersionKey struct {
	Name     string
	Version  string
	Platform string
}

// GemVersion tracks the quarantine lifecycle of a single published gem
// version: when upstream published it, when it becomes (or became) available
// to callers, and whether upstream itself has since pulled it.
type GemVersion struct {
	Key            GemVersionKey
	PublishedAt    time.Time
	AvailableAfter time.Time
	Status         VersionStatus
	StatusReason   string
	UpstreamYanked bool
	UpdatedAt      time.Time
}

// IsAvailable reports whether the version may be served to a regular caller
// at the instant now, given only its own stored state (pinned overrides and
// delay-policy recalculation happen one layer up, in internal/quarantine).
func (v GemVersion) IsAvailable(now time.Time) bool {
	switch v.Status {
	case StatusBlocked, StatusYanked:
		return false
	case StatusApproved:
		return true
	default:
		return !now.Before(v.AvailableAfter)
	}
}

// GemMetadataKey identifies the metadata record for one gem version.
type GemMetadataKey = GemVersionKey

// GemMetadata holds the data Vein stores about a gem version that an
// external collaborator (the Ruby symbol indexer, the SBOM generator)
// produced. Vein owns persisting and serving this, never producing it.
type GemMetadata struct {
	Key                GemMetadataKey
	SBOMJSON           string
	Dependencies       []string
	HasNativeExtension bool
	Licenses           []string
	CreatedAt          time.Time
}

// CatalogGem is one row of the admin catalog browse view: the latest known
// version of a gem and when Vein last synced it from upstream.
type CatalogGem struct {
	Name          string
	LatestVersion string
	SyncedAt      time.Time
}
