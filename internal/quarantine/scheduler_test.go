package quarantine

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vein-cache/vein/internal/inventory"
)

type fakeStore struct {
	mu        sync.Mutex
	versions  map[string]inventory.GemVersion
	promoted  []inventory.GemVersion
	yankedSet map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{versions: make(map[string]inventory.GemVersion), yankedSet: make(map[string]bool)}
}

func vkey(k inventory.GemVersionKey) string { return k.Name + "|" + k.Version + "|" + k.Platform }

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
	f.mu.Lock()
	defer f.mu.Unlock()
	gv, ok := f.versions[vkey(key)]
	if !ok {
		return nil, inventory.ErrNotFound
	}
	return &gv, nil
}
func (f *fakeStore) UpsertGemVersion(ctx context.Context, gv inventory.GemVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[vkey(gv.Key)] = gv
	return nil
}
func (f *fakeStore) ListGemVersions(ctx context.Context, name string) ([]inventory.GemVersion, error) {
	return nil, nil
}
func (f *fakeStore) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for k, gv := range f.versions {
		if gv.Status == inventory.StatusQuarantine && !now.Before(gv.AvailableAfter) {
			gv.Status = inventory.StatusAvailable
			gv.UpdatedAt = now
			f.versions[k] = gv
			f.promoted = append(f.promoted, gv)
			count++
		}
	}
	return count, nil
}
func (f *fakeStore) RecentlyPromoted(ctx context.Context, since time.Time, limit int) ([]inventory.GemVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]inventory.GemVersion(nil), f.promoted...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (f *fakeStore) ApproveGemVersion(ctx context.Context, key inventory.GemVersionKey, reason string) error {
	return nil
}
func (f *fakeStore) BlockGemVersion(ctx context.Context, key inventory.GemVersionKey, reason string) error {
	return nil
}
func (f *fakeStore) MarkYanked(ctx context.Context, key inventory.GemVersionKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.yankedSet[vkey(key)] = true
	gv := f.versions[vkey(key)]
	gv.Status = inventory.StatusYanked
	gv.UpstreamYanked = true
	f.versions[vkey(key)] = gv
	return nil
}
func (f *fakeStore) ListCatalog(ctx context.Context, prefix string, page int) ([]inventory.CatalogGem, error) {
	return nil, nil
}
func (f *fakeStore) UpsertCatalogGem(ctx context.Context, gem inventory.CatalogGem) error { return nil }
func (f *fakeStore) PutMetadata(ctx context.Context, meta inventory.GemMetadata) error    { return nil }
func (f *fakeStore) GetMetadata(ctx context.Context, key inventory.GemMetadataKey) (*inventory.GemMetadata, error) {
	return nil, inventory.ErrNotFound
}
func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }
func (f *fakeStore) Stats(ctx context.Context) (inventory.InventoryStats, error) {
	return inventory.InventoryStats{}, nil
}

type fakeChecker struct {
	yanked map[string]bool
}

func (c *fakeChecker) IsYanked(ctx context.Context, name, version string) (bool, error) {
	return c.yanked[name+"|"+version], nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRunOncePromotesDueVersions(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.versions["rails|8.0.1|"] = inventory.GemVersion{
		Key: inventory.GemVersionKey{Name: "rails", Version: "8.0.1"}, Status: inventory.StatusQuarantine,
		AvailableAfter: now.Add(-time.Hour),
	}
	store.versions["rack|2.0.0|"] = inventory.GemVersion{
		Key: inventory.GemVersionKey{Name: "rack", Version: "2.0.0"}, Status: inventory.StatusQuarantine,
		AvailableAfter: now.Add(time.Hour),
	}

	s := New(store, nil, testLogger())
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	gv, _ := store.GetGemVersion(context.Background(), inventory.GemVersionKey{Name: "rails", Version: "8.0.1"})
	if gv.Status != inventory.StatusAvailable {
		t.Errorf("expected rails 8.0.1 to be promoted, got %s", gv.Status)
	}
	gv2, _ := store.GetGemVersion(context.Background(), inventory.GemVersionKey{Name: "rack", Version: "2.0.0"})
	if gv2.Status != inventory.StatusQuarantine {
		t.Errorf("expected rack 2.0.0 to remain quarantined, got %s", gv2.Status)
	}
}

func TestRunOnceMarksYankedVersionsFromChecker(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.versions["evilgem|1.0.0|"] = inventory.GemVersion{
		Key: inventory.GemVersionKey{Name: "evilgem", Version: "1.0.0"}, Status: inventory.StatusQuarantine,
		AvailableAfter: now.Add(-time.Hour),
	}
	checker := &fakeChecker{yanked: map[string]bool{"evilgem|1.0.0": true}}

	s := New(store, checker, testLogger())
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	gv, _ := store.GetGemVersion(context.Background(), inventory.GemVersionKey{Name: "evilgem", Version: "1.0.0"})
	if gv.Status != inventory.StatusYanked {
		t.Errorf("expected evilgem 1.0.0 to end up yanked, got %s", gv.Status)
	}
}
