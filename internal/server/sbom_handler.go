package server

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/vein-cache/vein/internal/inventory"
	"github.com/vein-cache/vein/internal/sbom"
)

// triggerSBOM runs the configured sbom.Generator in the background after a
// 202 has already been returned to the client: generation can take far
// longer than a request is willing to wait, so the client is told to poll
// again later rather than block the connection on it.
func (s *Server) triggerSBOM(key inventory.AssetKey, log *logrus.Entry) {
	platform := key.Platform
	if platform == "" {
		platform = "ruby"
	}
	metaKey := inventory.GemMetadataKey{Name: key.Name, Version: key.Version, Platform: platform}
	go func() {
		if _, err := sbom.Trigger(context.Background(), s.sbomGen, s.inv, metaKey); err != nil {
			log.WithError(err).Warn("sbom_generation_failed")
		}
	}()
}
