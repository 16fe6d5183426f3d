// Package server hosts the Fiber HTTP service that implements §4.8's
// surface: path-based routing via internal/route, the middleware chain
// (request ID, panic recovery), and the dispatcher that executes every
// internal/resolver.Decision against internal/storage, internal/fetcher,
// internal/rewrite, internal/quarantine and internal/sbom.
//
// Grounded on _examples/rogeecn-any-hub/internal/server's Fiber wiring and
// _examples/rogeecn-any-hub/internal/proxy/handler.go's cache-serve/
// revalidate/stream flow, generalized from that repo's Host-based
// HubRegistry routing to path-based internal/route.Classify dispatch:
// Vein fronts three ecosystems under one base URL rather than one hub per
// domain.
package server
