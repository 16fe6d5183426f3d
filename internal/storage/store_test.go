package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/vein-cache/vein/internal/inventory"
)

func TestFinalPathLayout(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	cases := []struct {
		key  inventory.AssetKey
		want string
	}{
		{inventory.AssetKey{Kind: inventory.AssetGem, Name: "rails", Version: "8.0.1"}, "rubygems/gems/rails-8.0.1.gem"},
		{inventory.AssetKey{Kind: inventory.AssetGem, Name: "nokogiri", Version: "1.16.0", Platform: "x86_64-linux"}, "rubygems/gems/nokogiri-1.16.0-x86_64-linux.gem"},
		{inventory.AssetKey{Kind: inventory.AssetCrate, Name: "serde", Version: "1.0.200"}, "crates/serde/serde-1.0.200.crate"},
		{inventory.AssetKey{Kind: inventory.AssetNPMTarball, Name: "@scope/pkg", Version: "1.0.0"}, "npm/@scope/pkg/-/pkg-1.0.0.tgz"},
		{inventory.AssetKey{Kind: inventory.AssetRubygemsIndex, Name: "rails"}, "cache/rubygems-index/r/rails"},
	}

	for _, c := range cases {
		got, err := s.FinalPath(c.key)
		if err != nil {
			t.Fatalf("final path for %+v: %v", c.key, err)
		}
		if !strings.HasSuffix(got, c.want) {
			t.Fatalf("expected path to end with %q, got %q", c.want, got)
		}
	}
}

func TestPublishIsAtomicAndReadableAfterRename(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	key := inventory.AssetKey{Kind: inventory.AssetGem, Name: "rails", Version: "8.0.1"}

	if _, _, err := s.OpenAsset(key); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before publish, got %v", err)
	}

	tmp, err := s.CreateTemp()
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	body := []byte("gem bytes")
	if _, err := tmp.Write(body); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		t.Fatalf("sync temp: %v", err)
	}
	tempPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		t.Fatalf("close temp: %v", err)
	}

	finalPath, err := s.Publish(context.Background(), key, tempPath)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Fatalf("temp file should be gone after rename, stat err = %v", err)
	}

	f, info, err := s.OpenAsset(key)
	if err != nil {
		t.Fatalf("open asset after publish: %v", err)
	}
	defer f.Close()
	if info.Size() != int64(len(body)) {
		t.Fatalf("expected size %d, got %d", len(body), info.Size())
	}
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read asset: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("unexpected body: %q", got)
	}
	if finalPath == "" {
		t.Fatalf("expected non-empty final path")
	}
}

func TestQuarantineCorruptMovesFileAside(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	key := inventory.AssetKey{Kind: inventory.AssetCrate, Name: "serde", Version: "1.0.200"}

	tmp, err := s.CreateTemp()
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	tmp.WriteString("crate bytes")
	tempPath := tmp.Name()
	tmp.Close()

	if _, err := s.Publish(context.Background(), key, tempPath); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if err := s.QuarantineCorrupt(key); err != nil {
		t.Fatalf("quarantine corrupt: %v", err)
	}
	if _, _, err := s.OpenAsset(key); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after quarantine, got %v", err)
	}
}

func TestCopyWithContextDigest(t *testing.T) {
	src := strings.NewReader("hello world")
	var dst strings.Builder
	h := sha256.New()
	n, err := CopyWithContext(context.Background(), io.MultiWriter(&dst, h), src)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if n != int64(len("hello world")) {
		t.Fatalf("unexpected byte count: %d", n)
	}
	if hex.EncodeToString(h.Sum(nil)) == "" {
		t.Fatalf("expected non-empty digest")
	}
}
