package inventory

import (
	"context"
	"time"
)

// Store is the narrow contract every backend (sqlite, postgres) satisfies.
// Nothing outside this package may depend on how a Store is implemented;
// callers hold an inventory.Store, never a concrete backend type.
type Store interface {
	// GetAsset returns the CachedAsset for key, or ErrNotFound.
	GetAsset(ctx context.Context, key AssetKey) (*CachedAsset, error)
	// PutAsset inserts or replaces a CachedAsset row. Callers must only call
	// this after the underlying blob has been fsynced and atomically renamed
	// into place; a row must never point at a path that does not yet exist.
	PutAsset(ctx context.Context, asset CachedAsset) error
	// TouchAsset advances LastAccessed for key to at. Used on every cache
	// hit so eviction can find the coldest assets.
	TouchAsset(ctx context.Context, key AssetKey, at time.Time) error
	// DeleteAsset removes the CachedAsset row for key. Used by the corrupt
	// cache recovery path once the blob itself has been quarantined, so a
	// stale row never again resolves to a moved-aside file.
	DeleteAsset(ctx context.Context, key AssetKey) error

	// GetGemVersion returns the quarantine row for key, or ErrNotFound.
	GetGemVersion(ctx context.Context, key GemVersionKey) (*GemVersion, error)
	// UpsertGemVersion inserts a new version row or updates an existing one,
	// keyed on (name, version, platform).
	UpsertGemVersion(ctx context.Context, gv GemVersion) error
	// ListGemVersions returns every known version of name, in no particular
	// order.
	ListGemVersions(ctx context.Context, name string) ([]GemVersion, error)
	// PromoteDue flips every row with status=quarantine and
	// available_after<=now to status=available, and returns the count
	// promoted, for the scheduler tick's log line.
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	// RecentlyPromoted returns up to limit versions promoted at or after
	// since, for the scheduler's bounded-batch yank recheck.
	RecentlyPromoted(ctx context.Context, since time.Time, limit int) ([]GemVersion, error)
	// ApproveGemVersion sets status=approved regardless of available_after,
	// recording reason for the audit trail.
	ApproveGemVersion(ctx context.Context, key GemVersionKey, reason string) error
	// BlockGemVersion sets status=blocked, which hides the version from
	// rewritten index responses, recording reason. Direct artifact fetches
	// are not checked against status.
	BlockGemVersion(ctx context.Context, key GemVersionKey, reason string) error
	// MarkYanked records that upstream has pulled this version without
	// changing the local status field (see GemVersion.UpstreamYanked).
	MarkYanked(ctx context.Context, key GemVersionKey) error

	// ListCatalog returns catalog rows whose name has prefix, one page at a
	// time; page is zero-indexed and pages are a fixed size chosen by the
	// backend.
	ListCatalog(ctx context.Context, prefix string, page int) ([]CatalogGem, error)
	// UpsertCatalogGem records the latest known version of a gem and the
	// time it was synced.
	UpsertCatalogGem(ctx context.Context, gem CatalogGem) error

	// PutMetadata inserts or replaces the metadata row for key.
	PutMetadata(ctx context.Context, meta GemMetadata) error
	// GetMetadata returns the metadata row for key, or ErrNotFound.
	GetMetadata(ctx context.Context, key GemMetadataKey) (*GemMetadata, error)

	// Ping verifies the backend is reachable, for the /up liveness check.
	Ping(ctx context.Context) error
	// Close releases any held resources (connection pools, file handles).
	Close() error

	// Stats aggregates counts for the `vein stats` CLI command and the
	// admin dashboard's summary view (spec: "surfaced in admin stats").
	Stats(ctx context.Context) (InventoryStats, error)
	// IncrementLegacyRejections bumps the durable counter of legacy-API
	// requests rejected with 410 Gone (§4.8, §8.6's testable property).
	// Durable rather than in-process so the count survives a restart and
	// is accurate when multiple Vein instances share one backend.
	IncrementLegacyRejections(ctx context.Context) error
}

// InventoryStats summarizes the inventory for an operator: how much is
// cached, and how the known gem versions are distributed across the
// quarantine lifecycle.
type InventoryStats struct {
	CachedAssets        int64
	CatalogGems         int64
	GemVersionsByStatus map[VersionStatus]int64
	LegacyRejections    int64
}
