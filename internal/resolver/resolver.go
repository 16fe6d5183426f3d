// Package resolver implements §4.2: given a classified route, it decides
// whether to serve a cached blob, stream one through from upstream,
// revalidate a cached index body, reject the request outright, or do any
// of the above plus run the quarantine rewriter over the bytes before they
// reach the client. It never performs I/O itself — internal/server
// executes whichever Decision it returns.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vein-cache/vein/internal/inventory"
	"github.com/vein-cache/vein/internal/route"
)

// Kind is which of §4.2's five decision shapes this Decision carries.
type Kind int

const (
	ServeCached Kind = iota
	StreamThrough
	Revalidate
	Reject
	ServeRewritten
)

// RewriteKind says which quarantine rewrite (if any) must run over the
// bytes before a ServeRewritten decision's body reaches the client.
type RewriteKind int

const (
	RewriteNone RewriteKind = iota
	RewriteInfo
	RewriteVersions
)

// versionsAssetName is the sentinel inventory.AssetKey.Name used for the
// single global RubyGems /versions compact index file, which (unlike
// /info/<gem>) has no natural per-gem name of its own.
const versionsAssetName = "$versions"

// Decision is what Resolve returns: exactly the fields relevant to Kind
// are meaningful, the rest are zero.
type Decision struct {
	Kind Kind

	// ServeCached / Revalidate / ServeRewritten: what's on disk already.
	Asset *inventory.CachedAsset
	// StreamThrough / Revalidate / ServeRewritten: where to fetch from.
	Key          inventory.AssetKey
	UpstreamPath string
	// ETag is not set by Resolve; internal/server takes the If-None-Match
	// value for a conditional GET from its own ETagCache.
	ETag string
	// ServeRewritten: which rewrite applies, and for RewriteInfo, which gem.
	Rewrite RewriteKind
	GemName string
	// SBOM lookups that hit resolve immediately with no further I/O.
	SBOMJSON string
	// Reject.
	Code   int
	Reason string

	// StreamThrough for a crate/npm artifact whose index or metadata body
	// already carries an upstream-published digest: the fetcher verifies
	// this before writing the CachedAsset row (§4.3 step 4).
	PublishedDigest    string
	PublishedDigestAlg string
}

// SizeLookup reports the on-disk size of the blob backing key, and whether
// one exists at all — the resolver's size-consistency check for rule 1
// without depending on internal/storage directly.
type SizeLookup func(key inventory.AssetKey) (size int64, ok bool)

// DigestLookup returns the upstream-published digest for an artifact key,
// parsed by internal/server out of the index/metadata body it already
// fetched — crates.io's `cksum` (sha256) or npm's `dist.shasum` (sha1).
// alg is "" when no such digest exists for this kind (e.g. rubygems gems).
type DigestLookup func(key inventory.AssetKey) (digest, alg string, ok bool)

// Resolver holds the state Resolve needs: the inventory it consults, the
// size and digest lookups, and the index-kind revalidation TTL.
type Resolver struct {
	inv      inventory.Store
	sizeOf   SizeLookup
	digestOf DigestLookup
	indexTTL time.Duration
}

// New builds a Resolver. A zero or negative indexTTL uses the spec's
// default of 60 seconds.
func New(inv inventory.Store, sizeOf SizeLookup, indexTTL time.Duration) *Resolver {
	if indexTTL <= 0 {
		indexTTL = 60 * time.Second
	}
	return &Resolver{inv: inv, sizeOf: sizeOf, indexTTL: indexTTL}
}

// SetDigestLookup wires the published-digest callback. Optional: a resolver
// with no DigestLookup never populates Decision.PublishedDigest.
func (r *Resolver) SetDigestLookup(fn DigestLookup) {
	r.digestOf = fn
}

// Resolve decides what to do with a classified request, per §4.2's rules.
func (r *Resolver) Resolve(ctx context.Context, m route.Match, now time.Time) (Decision, error) {
	switch m.Kind {
	case route.RubyGemsGem:
		return r.resolveArtifact(ctx, inventory.AssetKey{Kind: inventory.AssetGem, Name: m.Name, Version: m.Version, Platform: m.Platform}, rubygemsGemPath(m))
	case route.RubyGemsQuickSpec:
		// Immutable per version just like a gem file: no index revalidation
		// rule in §4.2 names quickspec, so it is treated under rule 1.
		return r.resolveArtifact(ctx, inventory.AssetKey{Kind: inventory.AssetRubygemsIndex, Name: quickSpecAssetName(m)}, quickSpecPath(m))
	case route.CratesDownload:
		return r.resolveArtifact(ctx, inventory.AssetKey{Kind: inventory.AssetCrate, Name: m.Name, Version: m.Version}, cratesDownloadPath(m))
	case route.NpmTarball:
		return r.resolveArtifact(ctx, inventory.AssetKey{Kind: inventory.AssetNPMTarball, Name: m.Name, Version: m.Version}, npmTarballPath(m))

	case route.RubyGemsVersions:
		return r.resolveIndex(ctx, inventory.AssetKey{Kind: inventory.AssetRubygemsIndex, Name: versionsAssetName}, "/versions", now, RewriteVersions, "")
	case route.RubyGemsInfo:
		return r.resolveIndex(ctx, inventory.AssetKey{Kind: inventory.AssetRubygemsIndex, Name: m.Name}, "/info/"+m.Name, now, RewriteInfo, m.Name)
	case route.CratesIndex:
		return r.resolveIndex(ctx, inventory.AssetKey{Kind: inventory.AssetCratesIndex, Name: m.Name}, cratesIndexPath(m.Name), now, RewriteNone, "")
	case route.NpmMetadata:
		return r.resolveIndex(ctx, inventory.AssetKey{Kind: inventory.AssetNPMMeta, Name: m.Name}, "/"+m.Name, now, RewriteNone, "")

	case route.RubyGemsLegacy:
		return Decision{Kind: Reject, Code: 410, Reason: "legacy API disabled"}, nil

	case route.Sbom:
		return r.resolveSBOM(ctx, m)

	case route.Health:
		return Decision{Kind: Reject, Code: 404, Reason: "liveness is handled by the server, not the resolver"}, nil

	default:
		return Decision{Kind: Reject, Code: 404, Reason: "not routed"}, nil
	}
}

// resolveArtifact implements rule 1: content-addressed, immutable, never
// revalidated. A row that exists but whose file size no longer matches is
// treated the same as a miss — something removed or corrupted the blob
// out from under the inventory, and a miss re-fetches and re-verifies.
func (r *Resolver) resolveArtifact(ctx context.Context, key inventory.AssetKey, upstreamPath string) (Decision, error) {
	asset, err := r.inv.GetAsset(ctx, key)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return r.streamDecision(key, upstreamPath), nil
		}
		return Decision{}, fmt.Errorf("look up cached asset: %w", err)
	}

	if r.sizeOf != nil {
		if size, ok := r.sizeOf(key); !ok || size != asset.SizeBytes {
			return r.streamDecision(key, upstreamPath), nil
		}
	}
	return Decision{Kind: ServeCached, Asset: asset, Key: key, UpstreamPath: upstreamPath}, nil
}

// streamDecision builds a StreamThrough decision, attaching the upstream-
// published digest (if any) so the fetcher can verify it before the
// CachedAsset row is written.
func (r *Resolver) streamDecision(key inventory.AssetKey, upstreamPath string) Decision {
	d := Decision{Kind: StreamThrough, Key: key, UpstreamPath: upstreamPath}
	if r.digestOf != nil {
		if digest, alg, ok := r.digestOf(key); ok {
			d.PublishedDigest = digest
			d.PublishedDigestAlg = alg
		}
	}
	return d
}

// resolveIndex implements rule 2: always revalidate, but a fresh-within-
// TTL cached copy is served with no upstream contact at all.
func (r *Resolver) resolveIndex(ctx context.Context, key inventory.AssetKey, upstreamPath string, now time.Time, rewrite RewriteKind, gemName string) (Decision, error) {
	asset, err := r.inv.GetAsset(ctx, key)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return r.streamOrRewrite(key, upstreamPath, rewrite, gemName), nil
		}
		return Decision{}, fmt.Errorf("look up cached index asset: %w", err)
	}

	if now.Sub(asset.FetchedAt) < r.indexTTL {
		return r.serveOrRewrite(asset, key, rewrite, gemName), nil
	}

	d := Decision{Key: key, UpstreamPath: upstreamPath, Asset: asset}
	if rewrite != RewriteNone {
		d.Kind = ServeRewritten
		d.Rewrite = rewrite
		d.GemName = gemName
	} else {
		d.Kind = Revalidate
	}
	return d, nil
}

func (r *Resolver) streamOrRewrite(key inventory.AssetKey, upstreamPath string, rewrite RewriteKind, gemName string) Decision {
	d := Decision{Key: key, UpstreamPath: upstreamPath}
	if rewrite != RewriteNone {
		d.Kind = ServeRewritten
		d.Rewrite = rewrite
		d.GemName = gemName
	} else {
		d.Kind = StreamThrough
	}
	return d
}

func (r *Resolver) serveOrRewrite(asset *inventory.CachedAsset, key inventory.AssetKey, rewrite RewriteKind, gemName string) Decision {
	d := Decision{Asset: asset, Key: key}
	if rewrite != RewriteNone {
		d.Kind = ServeRewritten
		d.Rewrite = rewrite
		d.GemName = gemName
	} else {
		d.Kind = ServeCached
	}
	return d
}

// resolveSBOM implements rule 4: a cached SBOM serves directly; an
// uncached one for a gem that has at least been fetched triggers
// generation (an external collaborator Vein never implements itself) and
// is reported as not yet ready rather than a hard failure; a gem that was
// never fetched at all is a flat 404.
func (r *Resolver) resolveSBOM(ctx context.Context, m route.Match) (Decision, error) {
	platform := m.Platform
	if platform == "" {
		platform = "ruby"
	}
	metaKey := inventory.GemMetadataKey{Name: m.Name, Version: m.Version, Platform: platform}

	meta, err := r.inv.GetMetadata(ctx, metaKey)
	if err == nil && meta.SBOMJSON != "" {
		return Decision{Kind: ServeCached, SBOMJSON: meta.SBOMJSON}, nil
	}
	if err != nil && !errors.Is(err, inventory.ErrNotFound) {
		return Decision{}, fmt.Errorf("look up sbom metadata: %w", err)
	}

	assetKey := inventory.AssetKey{Kind: inventory.AssetGem, Name: m.Name, Version: m.Version, Platform: m.Platform}
	if _, err := r.inv.GetAsset(ctx, assetKey); err == nil {
		return Decision{Kind: Reject, Code: 202, Reason: "sbom generation triggered", Key: assetKey}, nil
	}
	return Decision{Kind: Reject, Code: 404, Reason: "gem not cached"}, nil
}

func rubygemsGemPath(m route.Match) string {
	name := m.Name + "-" + m.Version
	if m.Platform != "" {
		name += "-" + m.Platform
	}
	return "/gems/" + name + ".gem"
}

func quickSpecPath(m route.Match) string {
	name := m.Name + "-" + m.Version
	if m.Platform != "" {
		name += "-" + m.Platform
	}
	return "/quick/Marshal.4.8/" + name + ".gemspec.rz"
}

func quickSpecAssetName(m route.Match) string {
	name := m.Name + "-" + m.Version
	if m.Platform != "" {
		name += "-" + m.Platform
	}
	return "quick-" + name
}

func cratesDownloadPath(m route.Match) string {
	return "/crates/" + m.Name + "/" + m.Name + "-" + m.Version + ".crate"
}

func npmTarballPath(m route.Match) string {
	base := m.Name
	if i := strings.LastIndex(m.Name, "/"); i >= 0 {
		base = m.Name[i+1:]
	}
	return "/" + m.Name + "/-/" + base + "-" + m.Version + ".tgz"
}

// cratesIndexPath reproduces crates.io's own sparse-index sharding scheme:
// https://doc.rust-lang.org/cargo's documented 1/2/3/N-character directory
// convention, independent of how deep Vein's own /crates-index/ request
// path happened to be nested.
func cratesIndexPath(name string) string {
	switch len(name) {
	case 0:
		return "/"
	case 1:
		return "/1/" + name
	case 2:
		return "/2/" + name
	case 3:
		return "/3/" + name[:1] + "/" + name
	default:
		return "/" + name[:2] + "/" + name[2:4] + "/" + name
	}
}
