package sbom

import (
	"context"
	"testing"
	"time"

	"github.com/vein-cache/vein/internal/inventory"
)

type fakeStore struct {
	metadata map[string]inventory.GemMetadata
}

func newFakeStore() *fakeStore { return &fakeStore{metadata: make(map[string]inventory.GemMetadata)} }

func mkey(k inventory.GemMetadataKey) string { return k.Name + "|" + k.Version + "|" + k.Platform }

func (f *fakeStore) GetAsset(ctx context.Context, key inventory.AssetKey) (*inventory.CachedAsset, error) {
	return nil, inventory.ErrNotFound
}
func (f *fakeStore) PutAsset(ctx context.Context, asset inventory.CachedAsset) error { return nil }
func (f *fakeStore) TouchAsset(ctx context.Context, key inventory.AssetKey, at time.Time) error {
	return nil
}
func (f *fakeStore) DeleteAsset(ctx context.Context, key inventory.AssetKey) error { return nil }
func (f *fakeStore) IncrementLegacyRejections(ctx context.Context) error            { return nil }
func (f *fakeStore) GetGemVersion(ctx context.Context, key inventory.GemVersionKey) (*inventory.GemVersion, error) {
	return nil, inventory.ErrNotFound
}
func (f *fakeStore) UpsertGemVersion(ctx context.Context, gv inventory.GemVersion) error { return nil }
func (f *fakeStore) ListGemVersions(ctx context.Context, name string) ([]inventory.GemVersion, error) {
	return nil, nil
}
func (f *fakeStore) PromoteDue(ctx context.Context, now time.Time) (int, error) { return 0, nil }
func (f *fakeStore) RecentlyPromoted(ctx context.Context, since time.Time, limit int) ([]inventory.GemVersion, error) {
	return nil, nil
}
func (f *fakeStore) ApproveGemVersion(ctx context.Context, key inventory.GemVersionKey, reason string) error {
	return nil
}
func (f *fakeStore) BlockGemVersion(ctx context.Context, key inventory.GemVersionKey, reason string) error {
	return nil
}
func (f *fakeStore) MarkYanked(ctx context.Context, key inventory.GemVersionKey) error { return nil }
func (f *fakeStore) ListCatalog(ctx context.Context, prefix string, page int) ([]inventory.CatalogGem, error) {
	return nil, nil
}
func (f *fakeStore) UpsertCatalogGem(ctx context.Context, gem inventory.CatalogGem) error { return nil }
func (f *fakeStore) PutMetadata(ctx context.Context, meta inventory.GemMetadata) error {
	f.metadata[mkey(meta.Key)] = meta
	return nil
}
func (f *fakeStore) GetMetadata(ctx context.Context, key inventory.GemMetadataKey) (*inventory.GemMetadata, error) {
	m, ok := f.metadata[mkey(key)]
	if !ok {
		return nil, inventory.ErrNotFound
	}
	return &m, nil
}
func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }
func (f *fakeStore) Stats(ctx context.Context) (inventory.InventoryStats, error) {
	return inventory.InventoryStats{}, nil
}

type fakeGenerator struct {
	doc string
	err error
}

func (g fakeGenerator) Generate(ctx context.Context, key inventory.GemMetadataKey) (string, error) {
	return g.doc, g.err
}

func TestTriggerStoresGeneratedDocument(t *testing.T) {
	store := newFakeStore()
	key := inventory.GemMetadataKey{Name: "rails", Version: "8.0.1", Platform: "ruby"}

	meta, err := Trigger(context.Background(), fakeGenerator{doc: `{"bomFormat":"CycloneDX"}`}, store, key)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if meta.SBOMJSON == "" {
		t.Fatalf("expected sbom json to be stored")
	}
	stored, err := store.GetMetadata(context.Background(), key)
	if err != nil || stored.SBOMJSON != meta.SBOMJSON {
		t.Fatalf("expected metadata to be persisted, got %+v err=%v", stored, err)
	}
}

func TestTriggerPreservesExistingFieldsNotOwnedByGenerator(t *testing.T) {
	store := newFakeStore()
	key := inventory.GemMetadataKey{Name: "rails", Version: "8.0.1", Platform: "ruby"}
	store.metadata[mkey(key)] = inventory.GemMetadata{Key: key, Dependencies: []string{"activesupport"}, Licenses: []string{"MIT"}}

	meta, err := Trigger(context.Background(), fakeGenerator{doc: "{}"}, store, key)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(meta.Dependencies) != 1 || meta.Dependencies[0] != "activesupport" {
		t.Errorf("expected prior dependencies to survive, got %v", meta.Dependencies)
	}
}

func TestTriggerReturnsErrorOnGeneratorFailure(t *testing.T) {
	store := newFakeStore()
	key := inventory.GemMetadataKey{Name: "rails", Version: "8.0.1"}

	_, err := Trigger(context.Background(), fakeGenerator{err: context.DeadlineExceeded}, store, key)
	if err == nil {
		t.Fatalf("expected an error from a failing generator")
	}
}

func TestNoGeneratorAlwaysFails(t *testing.T) {
	_, err := NoGenerator{}.Generate(context.Background(), inventory.GemMetadataKey{Name: "rails", Version: "8.0.1"})
	if err == nil {
		t.Fatalf("expected NoGenerator to fail")
	}
}
