// Package fetcher is the stream-through fetch path of §4.3: on a cache
// miss, exactly one goroutine (the singleflight leader) pulls the upstream
// body once, tees it simultaneously to the requesting client, a rolling
// SHA-256, and a temp file, then publishes the temp file into
// internal/storage and records it in internal/inventory only after the
// rename succeeds. Every other concurrent caller for the same key attaches
// as a follower and receives the same bytes as they are produced.
//
// Grounded on _examples/rogeecn-any-hub/internal/proxy/handler.go's
// cacheAndStream, whose io.TeeReader(resp.Body, c.Response().BodyWriter())
// feeding straight into a cache writer is the same idea generalized here
// across a fan-out of followers instead of a single response writer.
package fetcher

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vein-cache/vein/internal/apperror"
	"github.com/vein-cache/vein/internal/inventory"
	"github.com/vein-cache/vein/internal/singleflight"
	"github.com/vein-cache/vein/internal/storage"
	"github.com/vein-cache/vein/internal/upstream"
)

const chunkSize = 32 * 1024

// nowFunc is a seam for tests; production always uses time.Now.
var nowFunc = time.Now

// Request describes one fetch: which upstream to hit, which asset key the
// bytes land under once verified, and (when the ecosystem published one
// ahead of the body, e.g. crates.io's index cksum or npm's dist.shasum)
// the digest to verify the body against before it is ever published.
type Request struct {
	Key          inventory.AssetKey
	UpstreamPath string
	Client       *upstream.Client
	Headers      http.Header

	// PublishedDigest, when non-empty, is compared against the body's
	// digest before the CachedAsset row is written (§4.3 step 4).
	// PublishedDigestAlg names the hash it was produced with: "sha1" for
	// npm's dist.shasum, anything else (including "") for crates.io's
	// sha256 cksum, which shares the fetcher's own rolling SHA-256.
	PublishedDigest    string
	PublishedDigestAlg string

	// OnHeaders, if set, is called once with the upstream response's
	// headers after a successful status check but before any body bytes
	// are written — the caller's chance to relay upstream headers (minus
	// hop-by-hop ones) onto the client response ahead of streaming it.
	OnHeaders func(http.Header)
}

// Fetcher ties internal/upstream, internal/storage, internal/singleflight
// and internal/inventory together to implement one miss, end to end.
type Fetcher struct {
	storage *storage.Store
	inv     inventory.Store
	coord   *singleflight.Coordinator
}

// New builds a Fetcher sharing one singleflight.Coordinator across every
// call, so concurrent misses for the same key collapse onto one leader
// regardless of which ecosystem request triggered them.
func New(store *storage.Store, inv inventory.Store, bufferSize int) *Fetcher {
	return &Fetcher{storage: store, inv: inv, coord: singleflight.New(bufferSize)}
}

// Fetch streams req's bytes to w, either by performing the upstream fetch
// itself (if this call becomes the leader) or by relaying another
// goroutine's in-flight fetch (if it becomes a follower). It returns once
// the body is fully delivered to w or an error occurs; the underlying
// fetch and cache write continue to completion regardless of whether w
// itself errors out (a client disconnecting must not abort the write that
// every other waiter is depending on).
func (f *Fetcher) Fetch(ctx context.Context, req Request, w io.Writer) error {
	key := assetKeyString(req.Key)
	leader, follower := f.coord.Join(key)
	if leader != nil {
		return f.runLeader(ctx, req, leader, w)
	}
	defer follower.Release()
	return relay(follower, w)
}

func (f *Fetcher) runLeader(ctx context.Context, req Request, leader *singleflight.Leader, w io.Writer) error {
	defer leader.Release()

	tmp, err := f.storage.CreateTemp()
	if err != nil {
		leader.Fail(err)
		return apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("create temp file: %w", err))
	}
	tmpPath := tmp.Name()

	resp, err := req.Client.Get(ctx, req.UpstreamPath, req.Headers)
	if err != nil {
		tmp.Close()
		storage.RemoveTemp(tmpPath)
		leader.Fail(err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperror.New(apperror.UpstreamTimeout, err)
		}
		return apperror.New(apperror.UpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		tmp.Close()
		storage.RemoveTemp(tmpPath)
		notFound := apperror.New(apperror.NotFound, fmt.Errorf("upstream: %s not found", req.UpstreamPath))
		leader.Fail(notFound)
		return notFound
	}
	if resp.StatusCode/100 != 2 {
		tmp.Close()
		storage.RemoveTemp(tmpPath)
		unavailable := apperror.New(apperror.UpstreamUnavailable, fmt.Errorf("upstream status %d for %s", resp.StatusCode, req.UpstreamPath))
		leader.Fail(unavailable)
		return unavailable
	}

	if req.OnHeaders != nil {
		req.OnHeaders(resp.Header)
	}

	size, digest, altDigest, err := teeBody(resp.Body, tmp, w, leader, req.PublishedDigestAlg)
	if err != nil {
		tmp.Close()
		storage.RemoveTemp(tmpPath)
		wrapped := apperror.New(apperror.UpstreamUnavailable, err)
		leader.Fail(wrapped)
		return wrapped
	}

	if req.PublishedDigest != "" {
		verify := digest
		if req.PublishedDigestAlg == "sha1" {
			verify = altDigest
		}
		if !strings.EqualFold(verify, req.PublishedDigest) {
			tmp.Close()
			storage.RemoveTemp(tmpPath)
			mismatch := apperror.New(apperror.IntegrityFailure, fmt.Errorf("digest mismatch: got %s want %s", verify, req.PublishedDigest))
			leader.Fail(mismatch)
			return mismatch
		}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		storage.RemoveTemp(tmpPath)
		wrapped := apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("fsync temp file: %w", err))
		leader.Fail(wrapped)
		return wrapped
	}
	if err := tmp.Close(); err != nil {
		storage.RemoveTemp(tmpPath)
		wrapped := apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("close temp file: %w", err))
		leader.Fail(wrapped)
		return wrapped
	}

	finalPath, err := f.storage.Publish(ctx, req.Key, tmpPath)
	if err != nil {
		wrapped := apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("publish asset: %w", err))
		leader.Fail(wrapped)
		return wrapped
	}

	now := nowFunc()
	asset := inventory.CachedAsset{
		Key:          req.Key,
		Path:         finalPath,
		SHA256:       digest,
		SizeBytes:    size,
		FetchedAt:    now,
		LastAccessed: now,
	}
	// The row is only written after the rename above succeeds, so a reader
	// can never observe a row pointing at a path that doesn't exist yet.
	if err := f.inv.PutAsset(ctx, asset); err != nil {
		wrapped := apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("record asset: %w", err))
		leader.Fail(wrapped)
		return wrapped
	}

	leader.Finish()
	return nil
}

// teeBody reads src in bounded chunks, writing each chunk to tmp, updating
// a rolling SHA-256 (always, for the CachedAsset row) and, when altAlg
// names one, a second rolling hash used only for published-digest
// verification (npm publishes sha1, not sha256). It also broadcasts each
// chunk to followers via leader and best-effort writes it to w. A write
// failure on w is not fatal: the leader's own client may have gone away,
// but the fetch that every follower and the cache itself depends on must
// still run to completion.
func teeBody(src io.Reader, tmp io.Writer, w io.Writer, leader *singleflight.Leader, altAlg string) (size int64, digestHex, altDigestHex string, err error) {
	hasher := sha256.New()
	var altHasher hash.Hash
	if altAlg == "sha1" {
		altHasher = sha1.New()
	}
	buf := make([]byte, chunkSize)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := tmp.Write(chunk); err != nil {
				return size, "", "", fmt.Errorf("write temp file: %w", err)
			}
			hasher.Write(chunk)
			if altHasher != nil {
				altHasher.Write(chunk)
			}
			size += int64(n)
			_, _ = w.Write(chunk)
			leader.Publish(chunk)
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return size, "", "", fmt.Errorf("read upstream body: %w", readErr)
		}
	}

	digestHex = hex.EncodeToString(hasher.Sum(nil))
	if altHasher != nil {
		altDigestHex = hex.EncodeToString(altHasher.Sum(nil))
	}
	return size, digestHex, altDigestHex, nil
}

// relay drains a follower's chunk stream straight to w.
func relay(follower *singleflight.Follower, w io.Writer) error {
	for {
		chunk, ok := follower.Next()
		if !ok {
			return apperror.New(apperror.UpstreamUnavailable, singleflight.ErrFollowerDetached)
		}
		switch chunk.Kind {
		case singleflight.ChunkData:
			if _, err := w.Write(chunk.Data); err != nil {
				return err
			}
		case singleflight.ChunkEnd:
			return nil
		case singleflight.ChunkError:
			return chunk.Err
		}
	}
}

func assetKeyString(key inventory.AssetKey) string {
	return string(key.Kind) + "|" + key.Name + "|" + key.Version + "|" + key.Platform
}
