// Package sbom defines the narrow contract between Vein and the SBOM
// generator (§1's external collaborator, never implemented here): given a
// gem Vein has already cached, produce a CycloneDX/SPDX document, which
// Trigger then persists through internal/inventory.
//
// Grounded on SPEC_FULL.md's explicit callout that SBOM generation, like
// the Ruby symbol indexer, is produced by something outside Vein and only
// stored/served by it — this package is the seam, not the generator.
package sbom

import (
	"context"
	"fmt"
	"time"

	"github.com/vein-cache/vein/internal/inventory"
)

// Generator produces an SBOM document for a cached gem version. A real
// deployment wires this to an external service or subprocess; Vein only
// calls it and persists the result.
type Generator interface {
	Generate(ctx context.Context, key inventory.GemMetadataKey) (json string, err error)
}

// Trigger runs gen for key and stores the result as a GemMetadata row,
// satisfying §4.2 rule 4's "trigger on-demand SBOM generation ... and
// store." It is the caller's responsibility to have already confirmed the
// gem itself is cached before calling Trigger.
func Trigger(ctx context.Context, gen Generator, inv inventory.Store, key inventory.GemMetadataKey) (*inventory.GemMetadata, error) {
	if gen == nil {
		return nil, fmt.Errorf("sbom: no generator configured")
	}

	doc, err := gen.Generate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("generate sbom for %s %s: %w", key.Name, key.Version, err)
	}

	meta := inventory.GemMetadata{
		Key:       key,
		SBOMJSON:  doc,
		CreatedAt: time.Now(),
	}
	if existing, err := inv.GetMetadata(ctx, key); err == nil && existing != nil {
		meta.Dependencies = existing.Dependencies
		meta.HasNativeExtension = existing.HasNativeExtension
		meta.Licenses = existing.Licenses
	}
	if err := inv.PutMetadata(ctx, meta); err != nil {
		return nil, fmt.Errorf("store sbom metadata for %s %s: %w", key.Name, key.Version, err)
	}
	return &meta, nil
}

// NoGenerator is a Generator that always fails, used as the default when no
// external collaborator is configured so a 202 decision degrades to a
// logged failure instead of a nil-pointer panic.
type NoGenerator struct{}

func (NoGenerator) Generate(ctx context.Context, key inventory.GemMetadataKey) (string, error) {
	return "", fmt.Errorf("sbom: no generator configured for %s %s", key.Name, key.Version)
}
