package resolver

import (
	"strings"
	"sync"

	"github.com/vein-cache/vein/internal/inventory"
)

// ETagCache remembers the most recently seen ETag per asset key so a
// Revalidate decision's conditional GET can send If-None-Match without a
// round trip to the inventory backend for something this ephemeral.
//
// Grounded on _examples/rogeecn-any-hub/internal/proxy/handler.go's
// `etags sync.Map` plus its rememberETag/cachedETag/forgetETag/
// normalizeETag quartet, keyed here by inventory.AssetKey instead of the
// teacher's hub+path locator pair.
type ETagCache struct {
	values sync.Map // key: inventory.AssetKey, value: string
}

// NewETagCache returns an empty cache.
func NewETagCache() *ETagCache {
	return &ETagCache{}
}

// Remember stores the normalized ETag for key, doing nothing if etag is
// empty after normalization.
func (c *ETagCache) Remember(key inventory.AssetKey, etag string) {
	etag = NormalizeETag(etag)
	if etag == "" {
		return
	}
	c.values.Store(key, etag)
}

// Get returns the remembered ETag for key, or "" if none is cached.
func (c *ETagCache) Get(key inventory.AssetKey) string {
	if v, ok := c.values.Load(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Forget removes any remembered ETag for key, used when upstream reports
// the resource no longer exists.
func (c *ETagCache) Forget(key inventory.AssetKey) {
	c.values.Delete(key)
}

// NormalizeETag strips surrounding whitespace and double quotes. A weak
// validator's W/ prefix is kept, so W/"abc" and "abc" do not compare equal.
func NormalizeETag(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return strings.Trim(value, "\"")
}
