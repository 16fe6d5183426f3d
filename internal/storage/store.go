// Package storage is the blob half of the inventory: a content-addressed
// file tree rooted at a single configured path, written only through
// temp-file-then-atomic-rename so that a reader never observes a
// partially-written file under a final name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vein-cache/vein/internal/inventory"
)

// ErrNotFound is returned when the requested path does not exist under the
// storage root.
var ErrNotFound = errors.New("storage: not found")

// Store is the filesystem half of the blob + inventory pair described by
// §4.7: a single root directory, one entryLock per relative path so
// concurrent writers to the same final name serialize, and a .tmp
// subdirectory for in-progress writes.
type Store struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// Open roots a Store at basePath, creating it and its .tmp subdirectory if
// they do not already exist.
func Open(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, ".tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("create tmp path: %w", err)
	}

	return &Store{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// FinalPath returns the absolute path an asset key resolves to, following
// the layout in §4.7: rubygems/gems/<name>-<version>[-<platform>].gem,
// crates/<name>/<name>-<version>.crate, npm/<name>/-/<file>.tgz (scoped
// names keep their leading "@scope/"), and cache/<kind>/<shard>/<name> for
// index/metadata assets.
func (s *Store) FinalPath(key inventory.AssetKey) (string, error) {
	rel, err := relativePath(key)
	if err != nil {
		return "", err
	}
	return s.resolve(rel)
}

// CreateTemp opens a new temp file under <root>/.tmp, named with a random
// uuid per §4.3 step 2, for the fetcher's leader to stream into.
func (s *Store) CreateTemp() (*os.File, error) {
	name := filepath.Join(s.basePath, ".tmp", uuid.NewString())
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

// Publish atomically renames tempPath into the final location for key,
// creating parent directories as needed. It does not fsync; the caller
// syncs and closes the temp file first. It returns the absolute final path.
func (s *Store) Publish(ctx context.Context, key inventory.AssetKey, tempPath string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	finalPath, err := s.FinalPath(key)
	if err != nil {
		return "", err
	}

	unlock := s.lockPath(finalPath)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("create asset directory: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return "", fmt.Errorf("rename into place: %w", err)
	}
	return finalPath, nil
}

// OpenAsset opens the file backing key for reading, returning ErrNotFound
// if it is absent.
func (s *Store) OpenAsset(key inventory.AssetKey) (*os.File, os.FileInfo, error) {
	finalPath, err := s.FinalPath(key)
	if err != nil {
		return nil, nil, err
	}
	return s.openPath(finalPath)
}

func (s *Store) openPath(p string) (*os.File, os.FileInfo, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, ErrNotFound
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return f, info, nil
}

// QuarantineCorrupt moves the file at key's final path aside (suffixed
// .corrupt-<uuid>) rather than deleting it outright, per the CorruptCache
// recovery path in §7: the row is gone from the inventory by the time this
// is called, so the moved-aside file is orphaned but inspectable.
func (s *Store) QuarantineCorrupt(key inventory.AssetKey) error {
	finalPath, err := s.FinalPath(key)
	if err != nil {
		return err
	}
	unlock := s.lockPath(finalPath)
	defer unlock()

	dest := finalPath + ".corrupt-" + uuid.NewString()
	if err := os.Rename(finalPath, dest); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("quarantine corrupt file: %w", err)
	}
	return nil
}

// RemoveTemp deletes a temp file, used on upstream failure or digest
// mismatch before any rename has happened.
func RemoveTemp(tempPath string) {
	os.Remove(tempPath)
}

func (s *Store) lockPath(p string) func() {
	s.mu.Lock()
	lock := s.locks[p]
	if lock == nil {
		lock = &entryLock{}
		s.locks[p] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, p)
		}
		s.mu.Unlock()
	}
}

func (s *Store) resolve(rel string) (string, error) {
	rel = path.Clean("/" + rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "", errors.New("empty asset path")
	}

	full := filepath.Join(s.basePath, filepath.FromSlash(rel))
	if !strings.HasPrefix(full, s.basePath) {
		return "", errors.New("invalid asset path")
	}
	return full, nil
}

func relativePath(key inventory.AssetKey) (string, error) {
	if key.Name == "" {
		return "", errors.New("asset name required")
	}

	switch key.Kind {
	case inventory.AssetGem:
		if key.Version == "" {
			return "", errors.New("gem version required")
		}
		fileName := key.Name + "-" + key.Version
		if key.Platform != "" {
			fileName += "-" + key.Platform
		}
		return path.Join("rubygems", "gems", fileName+".gem"), nil
	case inventory.AssetCrate:
		if key.Version == "" {
			return "", errors.New("crate version required")
		}
		fileName := key.Name + "-" + key.Version + ".crate"
		return path.Join("crates", key.Name, fileName), nil
	case inventory.AssetNPMTarball:
		if key.Version == "" {
			return "", errors.New("npm tarball version required")
		}
		fileName := tarballFileName(key.Name, key.Version)
		return path.Join("npm", key.Name, "-", fileName), nil
	case inventory.AssetRubygemsIndex, inventory.AssetCratesIndex, inventory.AssetNPMMeta:
		shard := shardOf(key.Name)
		return path.Join("cache", string(key.Kind), shard, key.Name), nil
	default:
		return "", fmt.Errorf("unknown asset kind %q", key.Kind)
	}
}

// tarballFileName mirrors npm's own convention of using the unscoped
// package name as the tarball's base name, e.g. @scope/pkg -> pkg-1.0.0.tgz.
func tarballFileName(name, version string) string {
	base := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		base = name[i+1:]
	}
	return base + "-" + version + ".tgz"
}

// shardOf returns a short, deterministic subdirectory for an index/metadata
// asset so a single directory never accumulates every package name in the
// registry.
func shardOf(name string) string {
	if name == "" {
		return "_"
	}
	c := name[0]
	if c >= 'A' && c <= 'Z' {
		c += 'a' - 'A'
	}
	return string(c)
}

// CopyWithContext copies src into dst in bounded chunks, aborting promptly
// if ctx is cancelled mid-copy.
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
