package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/vein-cache/vein/internal/apperror"
	"github.com/vein-cache/vein/internal/inventory"
	"github.com/vein-cache/vein/internal/quarantine"
	"github.com/vein-cache/vein/internal/resolver"
	"github.com/vein-cache/vein/internal/rewrite"
	"github.com/vein-cache/vein/internal/route"
	"github.com/vein-cache/vein/internal/storage"
	"github.com/vein-cache/vein/internal/upstream"
)

// revalidate implements the plain (non-rewrite) Revalidate decision: the
// index body is stale past its TTL, so send a conditional GET and either
// bump the cached row's freshness window (304) or replace the cached body
// (200), then serve whichever body ends up current.
//
// Grounded on _examples/rogeecn-any-hub/internal/proxy/handler.go's
// isCacheFresh/rememberETag/cachedETag, adapted from that file's separate
// HEAD-then-GET dance to the single conditional GET spec.md calls for.
func (s *Server) revalidate(c fiber.Ctx, ctx context.Context, match route.Match, d resolver.Decision, method, requestID string, now time.Time) error {
	client := s.clientFor(match.Kind)
	body, fresh, err := s.conditionalFetch(ctx, client, d.Key, d.UpstreamPath, now)
	if err != nil {
		return s.renderError(c, err, requestID)
	}

	cacheHit := "false"
	if fresh {
		cacheHit = "true"
		f, _, openErr := s.storage.OpenAsset(d.Key)
		if openErr != nil {
			return s.renderError(c, apperror.WithCorrelation(apperror.InventoryFailure, openErr), requestID)
		}
		defer f.Close()
		body, err = io.ReadAll(f)
		if err != nil {
			return s.renderError(c, apperror.WithCorrelation(apperror.InventoryFailure, err), requestID)
		}
	}

	return s.writeBody(c, d.Key.Kind, body, cacheHit, method, requestID)
}

// serveRewritten implements the ServeRewritten decision across all three
// shapes resolver.resolveIndex can produce: a fresh cache hit (just
// rewrite the stored raw bytes), a cache miss (fetch, cache, then
// rewrite), or a stale hit (conditional GET, then rewrite whichever body
// is current). In every case it first scans the raw body for versions
// internal/quarantine has never seen, per §4.4 step 1.
func (s *Server) serveRewritten(c fiber.Ctx, ctx context.Context, match route.Match, d resolver.Decision, method, requestID string, now time.Time) error {
	var body []byte
	var err error

	switch {
	case d.Asset == nil:
		body, err = s.fetchAndCacheIndex(ctx, s.clientFor(match.Kind), d.Key, d.UpstreamPath, now)
	case d.UpstreamPath == "":
		body, err = s.readCachedIndex(d.Key)
	default:
		var fresh bool
		body, fresh, err = s.conditionalFetch(ctx, s.clientFor(match.Kind), d.Key, d.UpstreamPath, now)
		if err == nil && fresh {
			body, err = s.readCachedIndex(d.Key)
		}
	}
	if err != nil {
		return s.renderError(c, err, requestID)
	}

	if observeErr := s.recordNewVersions(ctx, d.Rewrite, d.GemName, body, now); observeErr != nil {
		s.log.WithError(observeErr).Warn("record_new_versions_failed")
	}

	filtered, err := s.applyRewrite(ctx, d.Rewrite, d.GemName, body, now)
	if err != nil {
		return s.renderError(c, apperror.WithCorrelation(apperror.InventoryFailure, err), requestID)
	}

	return s.writeBody(c, d.Key.Kind, filtered, "false", method, requestID)
}

func (s *Server) applyRewrite(ctx context.Context, kind resolver.RewriteKind, gemName string, body []byte, now time.Time) ([]byte, error) {
	releasable := rewrite.ReleasableFunc(s.releasableFunc(now))
	switch kind {
	case resolver.RewriteVersions:
		lookup := func(name string) ([]inventory.GemVersion, error) {
			return s.inv.ListGemVersions(ctx, name)
		}
		infoBody := func(name string) ([]byte, error) {
			return s.rawInfoBody(ctx, name, now)
		}
		return rewrite.Versions(body, lookup, infoBody, releasable), nil
	case resolver.RewriteInfo:
		rows, err := s.inv.ListGemVersions(ctx, gemName)
		if err != nil {
			return nil, fmt.Errorf("list gem versions for %s: %w", gemName, err)
		}
		available := rewrite.BuildAvailability(rows, releasable)
		return rewrite.Info(body, available), nil
	default:
		return body, nil
	}
}

// recordNewVersions implements §4.4 step 1's "insert a row for any version
// the index references that internal/quarantine has never seen." It scans
// the raw, unfiltered body so a version still inside its delay window is
// recorded even though applyRewrite is about to hide it from the client.
func (s *Server) recordNewVersions(ctx context.Context, kind resolver.RewriteKind, gemName string, body []byte, now time.Time) error {
	var keys []inventory.GemVersionKey
	switch kind {
	case resolver.RewriteVersions:
		keys = rewrite.ReferencedVersions(body)
	case resolver.RewriteInfo:
		keys = rewrite.ReferencedInfoVersions(gemName, body)
	default:
		return nil
	}

	for _, key := range keys {
		_, err := s.inv.GetGemVersion(ctx, inventory.GemVersionKey{Name: key.Name, Version: key.Version, Platform: key.Platform})
		if err == nil {
			continue
		}
		if !errors.Is(err, inventory.ErrNotFound) {
			return fmt.Errorf("look up gem version %s %s: %w", key.Name, key.Version, err)
		}
		row := quarantine.RecordNewVersion(s.cfg.DelayPolicy, key.Name, key.Version, key.Platform, now)
		if err := s.inv.UpsertGemVersion(ctx, row); err != nil {
			return fmt.Errorf("record gem version %s %s: %w", key.Name, key.Version, err)
		}
	}
	return nil
}

// lookupPublishedDigest is the resolver.DigestLookup Server supplies: for a
// crate or npm tarball key, it reads whatever sparse-index/metadata body is
// already cached for that gem/crate and parses out the version's
// upstream-published digest, per §4.3 step 4. A cache miss on the index
// itself just means no digest is available yet — the fetcher then falls
// back to recording whatever it downloads without verification, same as
// before this lookup existed.
func (s *Server) lookupPublishedDigest(key inventory.AssetKey) (digest, alg string, ok bool) {
	switch key.Kind {
	case inventory.AssetCrate:
		body, err := s.readCachedIndex(inventory.AssetKey{Kind: inventory.AssetCratesIndex, Name: key.Name})
		if err != nil {
			return "", "", false
		}
		cksum, found := upstream.ParseCratesChecksum(body, key.Version)
		return cksum, "sha256", found
	case inventory.AssetNPMTarball:
		body, err := s.readCachedIndex(inventory.AssetKey{Kind: inventory.AssetNPMMeta, Name: key.Name})
		if err != nil {
			return "", "", false
		}
		shasum, found := upstream.ParseNPMShasum(body, key.Version)
		return shasum, "sha1", found
	default:
		return "", "", false
	}
}

// rawInfoBody returns the raw, unrewritten `/info/<name>` compact index
// body for name, from cache if one exists, or by fetching (and caching) it
// fresh otherwise. Used only to recompute a `/versions` line's checksum
// (§4.4 step 3) — it does not revalidate a cached body's freshness the way
// resolveIndex does, since the checksum only needs to match the body a
// client would read right now, not the absolute latest upstream state.
func (s *Server) rawInfoBody(ctx context.Context, name string, now time.Time) ([]byte, error) {
	key := inventory.AssetKey{Kind: inventory.AssetRubygemsIndex, Name: name}
	if _, err := s.inv.GetAsset(ctx, key); err == nil {
		return s.readCachedIndex(key)
	}
	return s.fetchAndCacheIndex(ctx, s.rubygems, key, "/info/"+name, now)
}

func (s *Server) readCachedIndex(key inventory.AssetKey) ([]byte, error) {
	f, _, err := s.storage.OpenAsset(key)
	if err != nil {
		return nil, apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("open cached index: %w", err))
	}
	defer f.Close()
	body, err := io.ReadAll(io.LimitReader(f, maxIndexBodyBytes))
	if err != nil {
		return nil, apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("read cached index: %w", err))
	}
	return body, nil
}

// fetchAndCacheIndex fetches path from client (no conditional headers,
// this is a first-time fetch), persists the raw body into storage and
// inventory the same way internal/fetcher does for binary artifacts, and
// returns the body for the caller to rewrite.
func (s *Server) fetchAndCacheIndex(ctx context.Context, client *upstream.Client, key inventory.AssetKey, path string, now time.Time) ([]byte, error) {
	resp, err := client.Get(ctx, path, nil)
	if err != nil {
		return nil, apperror.New(apperror.UpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperror.New(apperror.NotFound, fmt.Errorf("upstream: %s not found", path))
	}
	if resp.StatusCode/100 != 2 {
		return nil, apperror.New(apperror.UpstreamUnavailable, fmt.Errorf("upstream status %d for %s", resp.StatusCode, path))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexBodyBytes))
	if err != nil {
		return nil, apperror.New(apperror.UpstreamUnavailable, fmt.Errorf("read upstream body: %w", err))
	}

	if err := s.persistIndex(ctx, key, body, now); err != nil {
		return nil, err
	}
	s.etags.Remember(key, resp.Header.Get("ETag"))
	return body, nil
}

// conditionalFetch sends a GET with If-None-Match set from the cached
// ETag, if any. On 304 it bumps the cached row's FetchedAt so the next
// resolve sees it as fresh again. On 200 it replaces the cached body.
func (s *Server) conditionalFetch(ctx context.Context, client *upstream.Client, key inventory.AssetKey, path string, now time.Time) (body []byte, fresh bool, err error) {
	headers := http.Header{}
	if etag := s.etags.Get(key); etag != "" {
		headers.Set("If-None-Match", etag)
	}

	resp, err := client.Get(ctx, path, headers)
	if err != nil {
		return nil, false, apperror.New(apperror.UpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if err := s.bumpFreshness(ctx, key, now); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, apperror.New(apperror.NotFound, fmt.Errorf("upstream: %s not found", path))
	case resp.StatusCode/100 != 2:
		return nil, false, apperror.New(apperror.UpstreamUnavailable, fmt.Errorf("upstream status %d for %s", resp.StatusCode, path))
	}

	newBody, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexBodyBytes))
	if err != nil {
		return nil, false, apperror.New(apperror.UpstreamUnavailable, fmt.Errorf("read upstream body: %w", err))
	}
	if err := s.persistIndex(ctx, key, newBody, now); err != nil {
		return nil, false, err
	}
	s.etags.Remember(key, resp.Header.Get("ETag"))
	return newBody, false, nil
}

func (s *Server) bumpFreshness(ctx context.Context, key inventory.AssetKey, now time.Time) error {
	asset, err := s.inv.GetAsset(ctx, key)
	if err != nil {
		return apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("look up asset for freshness bump: %w", err))
	}
	asset.FetchedAt = now
	if err := s.inv.PutAsset(ctx, *asset); err != nil {
		return apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("bump freshness: %w", err))
	}
	return nil
}

func (s *Server) persistIndex(ctx context.Context, key inventory.AssetKey, body []byte, now time.Time) error {
	tmp, err := s.storage.CreateTemp()
	if err != nil {
		return apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("create temp file: %w", err))
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		storage.RemoveTemp(tmpPath)
		return apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		storage.RemoveTemp(tmpPath)
		return apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("fsync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		storage.RemoveTemp(tmpPath)
		return apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("close temp file: %w", err))
	}

	finalPath, err := s.storage.Publish(ctx, key, tmpPath)
	if err != nil {
		return apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("publish index: %w", err))
	}

	sum := sha256.Sum256(body)
	asset := inventory.CachedAsset{
		Key:          key,
		Path:         finalPath,
		SHA256:       hex.EncodeToString(sum[:]),
		SizeBytes:    int64(len(body)),
		FetchedAt:    now,
		LastAccessed: now,
	}
	if err := s.inv.PutAsset(ctx, asset); err != nil {
		return apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("record index asset: %w", err))
	}
	return nil
}

func (s *Server) writeBody(c fiber.Ctx, kind inventory.AssetKind, body []byte, cacheHit string, method, requestID string) error {
	c.Set("Content-Type", contentTypeFor(kind))
	c.Response().Header.SetContentLength(len(body))
	c.Set("X-Vein-Cache-Hit", cacheHit)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(fiber.StatusOK)
	if method == http.MethodHead {
		return nil
	}
	_, err := io.Copy(c.Response().BodyWriter(), bytes.NewReader(body))
	return err
}
