package server

import (
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
	"github.com/vein-cache/vein/internal/fetcher"
	"github.com/vein-cache/vein/internal/inventory"
	"github.com/vein-cache/vein/internal/logging"
	"github.com/vein-cache/vein/internal/resolver"
	"github.com/vein-cache/vein/internal/route"
	"github.com/vein-cache/vein/internal/storage"
	"github.com/vein-cache/vein/internal/upstream"
)

// handle is the single entry point every request passes through: classify
// the path, resolve a decision, execute it. GET and HEAD are routed alike
// per §4.8; anything else is rejected outright.
func (s *Server) handle(c fiber.Ctx) error {
	method := c.Method()
	if method != http.MethodGet && method != http.MethodHead {
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "method_not_allowed"})
	}

	path := string(c.Request().URI().Path())
	match := route.Classify(path)
	requestID := RequestID(c)

	if match.Kind == route.Health {
		return s.handleHealth(c)
	}
	if match.Kind == route.Sbom {
		var ok bool
		match, ok = s.sbomMatch(c, match)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request"})
		}
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()

	decision, err := s.res.Resolve(ctx, match, now)
	if err != nil {
		return s.renderError(c, err, requestID)
	}

	log := s.log.WithFields(logging.RequestFields(match.Kind.String(), decisionKindName(decision.Kind), match.Name, match.Version, decision.Kind == resolver.ServeCached))

	switch decision.Kind {
	case resolver.ServeCached:
		if decision.SBOMJSON != "" {
			return s.serveSBOM(c, decision.SBOMJSON, requestID)
		}
		return s.serveCachedAsset(c, ctx, decision, method, requestID)
	case resolver.StreamThrough:
		return s.streamThrough(c, ctx, match, decision, method, requestID)
	case resolver.Revalidate:
		return s.revalidate(c, ctx, match, decision, method, requestID, now)
	case resolver.ServeRewritten:
		return s.serveRewritten(c, ctx, match, decision, method, requestID, now)
	case resolver.Reject:
		if decision.Code == 202 {
			s.triggerSBOM(decision.Key, log)
		}
		if match.Kind == route.RubyGemsLegacy {
			if err := s.inv.IncrementLegacyRejections(ctx); err != nil {
				log.WithError(err).Warn("legacy_rejection_counter_failed")
			}
		}
		return s.renderReject(c, decision.Code, decision.Reason)
	default:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_routed"})
	}
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.inv.Ping(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "inventory_unreachable"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// sbomMatch fills in the (name, version, platform) the path-only classifier
// leaves blank for /.well-known/vein/sbom, from the ?gem=&version=&
// platform= query parameters.
func (s *Server) sbomMatch(c fiber.Ctx, match route.Match) (route.Match, bool) {
	match.Name = c.Query("gem")
	match.Version = c.Query("version")
	match.Platform = c.Query("platform")
	if match.Name == "" || match.Version == "" {
		return match, false
	}
	return match, true
}

func (s *Server) serveSBOM(c fiber.Ctx, json string, requestID string) error {
	c.Set("Content-Type", "application/json")
	c.Set("X-Vein-Cache-Hit", "true")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(fiber.StatusOK)
	_, err := c.Response().BodyWriter().Write([]byte(json))
	return err
}

// serveCachedAsset implements the ServeCached decision for an on-disk
// blob: verify its bytes still hash to the digest recorded at fetch time,
// then copy it to the response, touching LastAccessed so eviction can find
// the coldest assets. Verification reads the whole file before any
// response bytes are written — a mismatch must never reach the client,
// which rules out hashing while streaming (§7 CorruptCache).
func (s *Server) serveCachedAsset(c fiber.Ctx, ctx context.Context, d resolver.Decision, method, requestID string) error {
	f, info, err := s.storage.OpenAsset(d.Key)
	if err != nil {
		return s.renderError(c, apperror.New(apperror.NotFound, err), requestID)
	}
	defer f.Close()

	if d.Asset != nil {
		hasher := sha256.New()
		if _, err := io.Copy(hasher, f); err != nil {
			return s.renderError(c, apperror.WithCorrelation(apperror.InventoryFailure, err), requestID)
		}
		if hex.EncodeToString(hasher.Sum(nil)) != d.Asset.SHA256 {
			return s.recoverCorruptAsset(c, ctx, d, method, requestID)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return s.renderError(c, apperror.WithCorrelation(apperror.InventoryFailure, err), requestID)
		}
	}

	c.Set("Content-Type", contentTypeFor(d.Key.Kind))
	c.Response().Header.SetContentLength(int(info.Size()))
	c.Set("X-Vein-Cache-Hit", "true")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(fiber.StatusOK)

	go s.touchAsset(d.Key)

	if method == http.MethodHead {
		return nil
	}
	_, err = storage.CopyWithContext(ctx, c.Response().BodyWriter(), f)
	return err
}

// recoverCorruptAsset implements §7's CorruptCache protocol: the blob on
// disk no longer hashes to its recorded digest, so it is moved aside,
// its row is dropped, and the request is retried exactly once as a fresh
// upstream fetch. Only a failure on that retry surfaces as CorruptCache to
// the client; success is indistinguishable from an ordinary miss.
func (s *Server) recoverCorruptAsset(c fiber.Ctx, ctx context.Context, d resolver.Decision, method, requestID string) error {
	s.log.WithFields(logging.RequestFields(string(d.Key.Kind), "corrupt_cache", d.Key.Name, d.Key.Version, false)).
		Warn("corrupt_cache_detected")

	if err := s.storage.QuarantineCorrupt(d.Key); err != nil {
		return s.renderError(c, apperror.WithCorrelation(apperror.CorruptCache, fmt.Errorf("quarantine corrupt asset: %w", err)), requestID)
	}
	if err := s.inv.DeleteAsset(ctx, d.Key); err != nil {
		return s.renderError(c, apperror.WithCorrelation(apperror.CorruptCache, fmt.Errorf("delete corrupt asset row: %w", err)), requestID)
	}
	if d.UpstreamPath == "" {
		return s.renderError(c, apperror.WithCorrelation(apperror.CorruptCache, errors.New("no upstream path to retry corrupt asset")), requestID)
	}

	client := s.clientForAssetKind(d.Key.Kind)

	c.Set("Content-Type", contentTypeFor(d.Key.Kind))
	c.Set("X-Vein-Cache-Hit", "false")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(fiber.StatusOK)
	if method == http.MethodHead {
		return nil
	}

	req := fetcher.Request{
		Key: d.Key, UpstreamPath: d.UpstreamPath, Client: client,
		OnHeaders: func(h http.Header) { relayUpstreamHeaders(c, h) },
	}
	if err := s.fetch.Fetch(ctx, req, c.Response().BodyWriter()); err != nil {
		return s.renderError(c, apperror.WithCorrelation(apperror.CorruptCache, fmt.Errorf("retry after corrupt cache: %w", err)), requestID)
	}
	return nil
}

func (s *Server) touchAsset(key inventory.AssetKey) {
	_ = s.inv.TouchAsset(context.Background(), key, time.Now())
}

// streamThrough implements the StreamThrough decision: a cache miss on an
// artifact or a never-before-seen index body. internal/fetcher handles the
// singleflight leader/follower fan-out and the cache write.
func (s *Server) streamThrough(c fiber.Ctx, ctx context.Context, match route.Match, d resolver.Decision, method, requestID string) error {
	client := s.clientFor(match.Kind)

	c.Set("Content-Type", contentTypeFor(d.Key.Kind))
	c.Set("X-Vein-Cache-Hit", "false")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(fiber.StatusOK)

	if method == http.MethodHead {
		return nil
	}

	req := fetcher.Request{
		Key: d.Key, UpstreamPath: d.UpstreamPath, Client: client,
		PublishedDigest: d.PublishedDigest, PublishedDigestAlg: d.PublishedDigestAlg,
		OnHeaders: func(h http.Header) { relayUpstreamHeaders(c, h) },
	}
	if err := s.fetch.Fetch(ctx, req, c.Response().BodyWriter()); err != nil {
		return s.renderError(c, err, requestID)
	}
	return nil
}

func (s *Server) clientFor(kind route.Kind) *upstream.Client {
	switch kind {
	case route.RubyGemsGem, route.RubyGemsQuickSpec, route.RubyGemsVersions, route.RubyGemsInfo:
		return s.rubygems
	case route.CratesDownload:
		return s.cratesArt
	case route.CratesIndex:
		return s.cratesIdx
	case route.NpmTarball, route.NpmMetadata:
		return s.npm
	default:
		return s.rubygems
	}
}

// clientForAssetKind maps a CachedAsset's kind straight to its upstream
// client, for call sites (corrupt-cache retry) that hold a Decision rather
// than the route.Kind clientFor expects.
func (s *Server) clientForAssetKind(kind inventory.AssetKind) *upstream.Client {
	switch kind {
	case inventory.AssetGem, inventory.AssetRubygemsIndex:
		return s.rubygems
	case inventory.AssetCrate:
		return s.cratesArt
	case inventory.AssetCratesIndex:
		return s.cratesIdx
	case inventory.AssetNPMTarball, inventory.AssetNPMMeta:
		return s.npm
	default:
		return s.rubygems
	}
}

func contentTypeFor(kind inventory.AssetKind) string {
	switch kind {
	case inventory.AssetGem:
		return "application/octet-stream"
	case inventory.AssetCrate:
		return "application/x-tar"
	case inventory.AssetNPMTarball:
		return "application/octet-stream"
	case inventory.AssetRubygemsIndex:
		return "text/plain; charset=utf-8"
	case inventory.AssetCratesIndex:
		return "text/plain; charset=utf-8"
	case inventory.AssetNPMMeta:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func decisionKindName(k resolver.Kind) string {
	switch k {
	case resolver.ServeCached:
		return "serve_cached"
	case resolver.StreamThrough:
		return "stream_through"
	case resolver.Revalidate:
		return "revalidate"
	case resolver.ServeRewritten:
		return "serve_rewritten"
	case resolver.Reject:
		return "reject"
	default:
		return "unknown"
	}
}
