// Package sqlite is the default inventory backend, a single-file database
// suitable for a single Vein instance with no shared state requirement.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vein-cache/vein/internal/inventory"
)

const schema = `
CREATE TABLE IF NOT EXISTS cached_assets (
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	platform TEXT NOT NULL,
	path TEXT NOT NULL,
	sha256 TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	fetched_at DATETIME NOT NULL,
	last_accessed DATETIME NOT NULL,
	PRIMARY KEY (kind, name, version, platform)
);

CREATE TABLE IF NOT EXISTS gem_versions (
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	platform TEXT NOT NULL,
	published_at DATETIME NOT NULL,
	available_after DATETIME NOT NULL,
	status TEXT NOT NULL,
	status_reason TEXT NOT NULL DEFAULT '',
	upstream_yanked INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (name, version, platform)
);

CREATE INDEX IF NOT EXISTS idx_gem_versions_name ON gem_versions(name);
CREATE INDEX IF NOT EXISTS idx_gem_versions_status_available
	ON gem_versions(status, available_after);

CREATE TABLE IF NOT EXISTS gem_metadata (
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	platform TEXT NOT NULL,
	sbom_json TEXT NOT NULL DEFAULT '',
	dependencies TEXT NOT NULL DEFAULT '[]',
	has_native_extension INTEGER NOT NULL DEFAULT 0,
	licenses TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	PRIMARY KEY (name, version, platform)
);

CREATE TABLE IF NOT EXISTS catalog_gems (
	name TEXT PRIMARY KEY,
	latest_version TEXT NOT NULL,
	synced_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);
`

const legacyRejectionsCounter = "legacy_rejections"

const catalogPageSize = 100

// Store is the sqlite-backed inventory.Store.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the sqlite database at path, applying
// the schema idempotently.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite tolerates one writer; fs_store-style entry locks guard blobs, this guards rows

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &Store{db: db}, nil
}

var _ inventory.Store = (*Store)(nil)

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Stats(ctx context.Context) (inventory.InventoryStats, error) {
	var stats inventory.InventoryStats
	stats.GemVersionsByStatus = make(map[inventory.VersionStatus]int64)

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cached_assets`).Scan(&stats.CachedAssets); err != nil {
		return stats, fmt.Errorf("count cached assets: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_gems`).Scan(&stats.CatalogGems); err != nil {
		return stats, fmt.Errorf("count catalog gems: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM gem_versions GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count gem versions by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan gem version status count: %w", err)
		}
		stats.GemVersionsByStatus[inventory.VersionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, legacyRejectionsCounter).Scan(&stats.LegacyRejections)
	if err != nil && err != sql.ErrNoRows {
		return stats, fmt.Errorf("count legacy rejections: %w", err)
	}
	return stats, nil
}

func (s *Store) IncrementLegacyRejections(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1`,
		legacyRejectionsCounter)
	if err != nil {
		return fmt.Errorf("increment legacy rejections: %w", err)
	}
	return nil
}

func (s *Store) GetAsset(ctx context.Context, key inventory.AssetKey) (*inventory.CachedAsset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, sha256, size_bytes, fetched_at, last_accessed
		FROM cached_assets WHERE kind = ? AND name = ? AND version = ? AND platform = ?`,
		string(key.Kind), key.Name, key.Version, key.Platform)

	var asset inventory.CachedAsset
	asset.Key = key
	if err := row.Scan(&asset.Path, &asset.SHA256, &asset.SizeBytes, &asset.FetchedAt, &asset.LastAccessed); err != nil {
		if err == sql.ErrNoRows {
			return nil, inventory.ErrNotFound
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return &asset, nil
}

func (s *Store) PutAsset(ctx context.Context, asset inventory.CachedAsset) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_assets (kind, name, version, platform, path, sha256, size_bytes, fetched_at, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, name, version, platform) DO UPDATE SET
			path = excluded.path,
			sha256 = excluded.sha256,
			size_bytes = excluded.size_bytes,
			fetched_at = excluded.fetched_at,
			last_accessed = excluded.last_accessed`,
		string(asset.Key.Kind), asset.Key.Name, asset.Key.Version, asset.Key.Platform,
		asset.Path, asset.SHA256, asset.SizeBytes, asset.FetchedAt, asset.LastAccessed)
	if err != nil {
		return fmt.Errorf("put asset: %w", err)
	}
	return nil
}

func (s *Store) TouchAsset(ctx context.Context, key inventory.AssetKey, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cached_assets SET last_accessed = ?
		WHERE kind = ? AND name = ? AND version = ? AND platform = ?`,
		at, string(key.Kind), key.Name, key.Version, key.Platform)
	if err != nil {
		return fmt.Errorf("touch asset: %w", err)
	}
	return nil
}

func (s *Store) DeleteAsset(ctx context.Context, key inventory.AssetKey) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cached_assets WHERE kind = ? AND name = ? AND version = ? AND platform = ?`,
		string(key.Kind), key.Name, key.Version, key.Platform)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	return nil
}

func (s *Store) GetGemVersion(ctx context.Context, key inventory.GemVersionKey) (*inventory.GemVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT published_at, available_after, status, status_reason, upstream_yanked, updated_at
		FROM gem_versions WHERE name = ? AND version = ? AND platform = ?`,
		key.Name, key.Version, key.Platform)

	var gv inventory.GemVersion
	gv.Key = key
	var status string
	var yanked int
	if err := row.Scan(&gv.PublishedAt, &gv.AvailableAfter, &status, &gv.StatusReason, &yanked, &gv.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, inventory.ErrNotFound
		}
		return nil, fmt.Errorf("get gem version: %w", err)
	}
	gv.Status = inventory.VersionStatus(status)
	gv.UpstreamYanked = yanked != 0
	return &gv, nil
}

func (s *Store) UpsertGemVersion(ctx context.Context, gv inventory.GemVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gem_versions (name, version, platform, published_at, available_after, status, status_reason, upstream_yanked, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, version, platform) DO UPDATE SET
			published_at = excluded.published_at,
			available_after = excluded.available_after,
			status = excluded.status,
			status_reason = excluded.status_reason,
			upstream_yanked = excluded.upstream_yanked,
			updated_at = excluded.updated_at`,
		gv.Key.Name, gv.Key.Version, gv.Key.Platform, gv.PublishedAt, gv.AvailableAfter,
		string(gv.Status), gv.StatusReason, boolToInt(gv.UpstreamYanked), timeOrNow(gv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert gem version: %w", err)
	}
	return nil
}

func (s *Store) ListGemVersions(ctx context.Context, name string) ([]inventory.GemVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, platform, published_at, available_after, status, status_reason, upstream_yanked, updated_at
		FROM gem_versions WHERE name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("list gem versions: %w", err)
	}
	defer rows.Close()

	var out []inventory.GemVersion
	for rows.Next() {
		var gv inventory.GemVersion
		gv.Key.Name = name
		var status string
		var yanked int
		if err := rows.Scan(&gv.Key.Version, &gv.Key.Platform, &gv.PublishedAt, &gv.AvailableAfter, &status, &gv.StatusReason, &yanked, &gv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan gem version: %w", err)
		}
		gv.Status = inventory.VersionStatus(status)
		gv.UpstreamYanked = yanked != 0
		out = append(out, gv)
	}
	return out, rows.Err()
}

func (s *Store) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE gem_versions SET status = ?, updated_at = ?
		WHERE status = ? AND available_after <= ?`,
		string(inventory.StatusAvailable), now, string(inventory.StatusQuarantine), now)
	if err != nil {
		return 0, fmt.Errorf("promote due: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("promote due rows affected: %w", err)
	}
	return int(n), nil
}

func (s *Store) RecentlyPromoted(ctx context.Context, since time.Time, limit int) ([]inventory.GemVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, version, platform, published_at, available_after, status, status_reason, upstream_yanked, updated_at
		FROM gem_versions
		WHERE status = ? AND updated_at >= ?
		ORDER BY updated_at DESC
		LIMIT ?`, string(inventory.StatusAvailable), since, limit)
	if err != nil {
		return nil, fmt.Errorf("recently promoted: %w", err)
	}
	defer rows.Close()

	var out []inventory.GemVersion
	for rows.Next() {
		var gv inventory.GemVersion
		var status string
		var yanked int
		if err := rows.Scan(&gv.Key.Name, &gv.Key.Version, &gv.Key.Platform, &gv.PublishedAt, &gv.AvailableAfter, &status, &gv.StatusReason, &yanked, &gv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan recently promoted: %w", err)
		}
		gv.Status = inventory.VersionStatus(status)
		gv.UpstreamYanked = yanked != 0
		out = append(out, gv)
	}
	return out, rows.Err()
}

func (s *Store) ApproveGemVersion(ctx context.Context, key inventory.GemVersionKey, reason string) error {
	return s.setStatus(ctx, key, inventory.StatusApproved, reason)
}

func (s *Store) BlockGemVersion(ctx context.Context, key inventory.GemVersionKey, reason string) error {
	return s.setStatus(ctx, key, inventory.StatusBlocked, reason)
}

func (s *Store) setStatus(ctx context.Context, key inventory.GemVersionKey, status inventory.VersionStatus, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE gem_versions SET status = ?, status_reason = ?, updated_at = ?
		WHERE name = ? AND version = ? AND platform = ?`,
		string(status), reason, nowFunc(), key.Name, key.Version, key.Platform)
	if err != nil {
		return fmt.Errorf("set gem version status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set gem version status rows affected: %w", err)
	}
	if n == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

func (s *Store) MarkYanked(ctx context.Context, key inventory.GemVersionKey) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE gem_versions SET upstream_yanked = 1, updated_at = ?
		WHERE name = ? AND version = ? AND platform = ?`,
		nowFunc(), key.Name, key.Version, key.Platform)
	if err != nil {
		return fmt.Errorf("mark yanked: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark yanked rows affected: %w", err)
	}
	if n == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

func (s *Store) ListCatalog(ctx context.Context, prefix string, page int) ([]inventory.CatalogGem, error) {
	if page < 0 {
		page = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, latest_version, synced_at FROM catalog_gems
		WHERE name LIKE ? || '%'
		ORDER BY name
		LIMIT ? OFFSET ?`, prefix, catalogPageSize, page*catalogPageSize)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	defer rows.Close()

	var out []inventory.CatalogGem
	for rows.Next() {
		var g inventory.CatalogGem
		if err := rows.Scan(&g.Name, &g.LatestVersion, &g.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan catalog gem: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) UpsertCatalogGem(ctx context.Context, gem inventory.CatalogGem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_gems (name, latest_version, synced_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			latest_version = excluded.latest_version,
			synced_at = excluded.synced_at`,
		gem.Name, gem.LatestVersion, gem.SyncedAt)
	if err != nil {
		return fmt.Errorf("upsert catalog gem: %w", err)
	}
	return nil
}

func (s *Store) PutMetadata(ctx context.Context, meta inventory.GemMetadata) error {
	deps, err := json.Marshal(meta.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}
	licenses, err := json.Marshal(meta.Licenses)
	if err != nil {
		return fmt.Errorf("marshal licenses: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO gem_metadata (name, version, platform, sbom_json, dependencies, has_native_extension, licenses, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, version, platform) DO UPDATE SET
			sbom_json = excluded.sbom_json,
			dependencies = excluded.dependencies,
			has_native_extension = excluded.has_native_extension,
			licenses = excluded.licenses`,
		meta.Key.Name, meta.Key.Version, meta.Key.Platform, meta.SBOMJSON, string(deps),
		boolToInt(meta.HasNativeExtension), string(licenses), timeOrNow(meta.CreatedAt))
	if err != nil {
		return fmt.Errorf("put metadata: %w", err)
	}
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, key inventory.GemMetadataKey) (*inventory.GemMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sbom_json, dependencies, has_native_extension, licenses, created_at
		FROM gem_metadata WHERE name = ? AND version = ? AND platform = ?`,
		key.Name, key.Version, key.Platform)

	var meta inventory.GemMetadata
	meta.Key = key
	var deps, licenses string
	var native int
	if err := row.Scan(&meta.SBOMJSON, &deps, &native, &licenses, &meta.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, inventory.ErrNotFound
		}
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	meta.HasNativeExtension = native != 0
	if err := json.Unmarshal([]byte(deps), &meta.Dependencies); err != nil {
		return nil, fmt.Errorf("unmarshal dependencies: %w", err)
	}
	if err := json.Unmarshal([]byte(licenses), &meta.Licenses); err != nil {
		return nil, fmt.Errorf("unmarshal licenses: %w", err)
	}
	return &meta, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return nowFunc()
	}
	return t
}

// nowFunc exists so tests can be added later without reaching for a clock
// interface across the whole package.
var nowFunc = time.Now
