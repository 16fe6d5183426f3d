package server

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vein-cache/vein/internal/config"
	"github.com/vein-cache/vein/internal/fetcher"
	"github.com/vein-cache/vein/internal/inventory"
	"github.com/vein-cache/vein/internal/quarantine"
	"github.com/vein-cache/vein/internal/resolver"
	"github.com/vein-cache/vein/internal/sbom"
	"github.com/vein-cache/vein/internal/storage"
	"github.com/vein-cache/vein/internal/upstream"
)

// maxIndexBodyBytes bounds how many bytes a single index/metadata body
// (compact index lines, crates sparse index, npm package metadata) can take
// up while it is buffered in memory for quarantine scanning and rewriting.
// These bodies are small text documents, never artifacts, so this is an
// order of magnitude above anything real ever seen in practice.
const maxIndexBodyBytes = 64 << 20

// Server wires every package §4.8's HTTP surface depends on: the decision
// engine, the singleflight fetch path, the blob store, the inventory, one
// upstream.Client per ecosystem, and the SBOM generation collaborator.
type Server struct {
	cfg *config.Config
	log *logrus.Logger

	inv     inventory.Store
	storage *storage.Store
	fetch   *fetcher.Fetcher
	res     *resolver.Resolver
	etags   *resolver.ETagCache
	sbomGen sbom.Generator

	rubygems  *upstream.Client
	cratesIdx *upstream.Client
	cratesArt *upstream.Client
	npm       *upstream.Client
}

// New builds a Server from its already-opened dependencies. gen may be nil,
// in which case SBOM-trigger decisions degrade to a logged failure via
// sbom.NoGenerator rather than a nil-pointer panic.
func New(cfg *config.Config, log *logrus.Logger, inv inventory.Store, store *storage.Store, gen sbom.Generator) *Server {
	if gen == nil {
		gen = sbom.NoGenerator{}
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		inv:     inv,
		storage: store,
		sbomGen: gen,
		etags:   resolver.NewETagCache(),

		rubygems:  upstream.RubyGems(cfg.Upstream),
		cratesIdx: upstream.CratesIndex(cfg.Upstream),
		cratesArt: upstream.CratesStatic(cfg.Upstream),
		npm:       upstream.NPM(cfg.Upstream),
	}

	s.fetch = fetcher.New(store, inv, 0)

	indexTTL := 60 * time.Second
	s.res = resolver.New(inv, s.assetSize, indexTTL)
	s.res.SetDigestLookup(s.lookupPublishedDigest)

	return s
}

// assetSize is the resolver.SizeLookup Server supplies: the size currently
// on disk for key, or !ok if the file is missing, so a cache row whose blob
// was removed out from under it (manual cleanup, a failed eviction) is
// treated as a miss rather than served as a zero-byte response.
func (s *Server) assetSize(key inventory.AssetKey) (int64, bool) {
	f, info, err := s.storage.OpenAsset(key)
	if err != nil {
		return 0, false
	}
	f.Close()
	return info.Size(), true
}

func (s *Server) releasableFunc(now time.Time) func(row inventory.GemVersion) bool {
	return func(row inventory.GemVersion) bool {
		return quarantine.IsReleasable(s.cfg.DelayPolicy, row, now)
	}
}
