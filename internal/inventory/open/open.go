// Package open selects and opens the inventory backend named by
// config.DatabaseConfig.Driver(), so callers never branch on dialect
// themselves. It lives outside package inventory to avoid an import cycle
// (the postgres and sqlite backends import inventory for its shared types).
package open

import (
	"fmt"

	"github.com/vein-cache/vein/internal/config"
	"github.com/vein-cache/vein/internal/inventory"
	"github.com/vein-cache/vein/internal/inventory/postgres"
	"github.com/vein-cache/vein/internal/inventory/sqlite"
)

// Open selects and opens the backend named by cfg.Driver(), so callers never
// branch on dialect themselves.
func Open(cfg config.DatabaseConfig) (inventory.Store, error) {
	switch cfg.Driver() {
	case "postgres":
		s, err := postgres.Open(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres inventory: %w", err)
		}
		return s, nil
	default:
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite inventory: %w", err)
		}
		return s, nil
	}
}
