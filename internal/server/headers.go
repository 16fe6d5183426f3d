package server

import (
	"net/http"
	"net/textproto"
	"strings"

	"github.com/gofiber/fiber/v3"
)

// hopByHopHeaders are the headers RFC 7230 forbids a proxy from forwarding
// unchanged.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {},
}

// CopyHeaders copies every header in src into dst except hop-by-hop ones,
// used when relaying an upstream response's headers back to the client.
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func isHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// IsHopByHopHeader reports whether key should be stripped by a proxy.
func IsHopByHopHeader(key string) bool {
	return isHopByHopHeader(key)
}

// relayUpstreamHeaders copies an upstream response's headers onto the
// client response via CopyHeaders, for the stream-through and corrupt-
// cache-retry paths that fetch straight from upstream rather than serving
// an already-cached body. Content-Type is never relayed: the caller
// already derives the canonical type from the asset kind, which is more
// trustworthy than whatever an origin happened to send.
func relayUpstreamHeaders(c fiber.Ctx, src http.Header) {
	dst := http.Header{}
	CopyHeaders(dst, src)
	for key, values := range dst {
		if strings.EqualFold(key, "Content-Type") {
			continue
		}
		for _, v := range values {
			c.Set(key, v)
		}
	}
}
