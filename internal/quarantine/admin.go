package quarantine

import (
	"context"
	"fmt"

	"github.com/vein-cache/vein/internal/apperror"
	"github.com/vein-cache/vein/internal/inventory"
)

// Admin exposes the manual operations of §4.5 (approve and block) plus
// status lookups, for the CLI's `quarantine` subcommand. It has no
// promotion tick of its own; `quarantine promote` uses Scheduler.RunOnce.
type Admin struct {
	inv inventory.Store
}

// NewAdmin builds an Admin over inv.
func NewAdmin(inv inventory.Store) *Admin {
	return &Admin{inv: inv}
}

// Approve sets (name, version[, platform]) to approved, which makes it
// visible in rewritten indexes regardless of available_after, per §4.5.
func (a *Admin) Approve(ctx context.Context, key inventory.GemVersionKey, reason string) error {
	if err := a.inv.ApproveGemVersion(ctx, key, reason); err != nil {
		return apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("approve %s %s: %w", key.Name, key.Version, err))
	}
	return nil
}

// Block sets (name, version[, platform]) to blocked, which hides it from
// rewritten indexes and rejects direct fetches even if pinned, per §4.5.
func (a *Admin) Block(ctx context.Context, key inventory.GemVersionKey, reason string) error {
	if err := a.inv.BlockGemVersion(ctx, key, reason); err != nil {
		return apperror.WithCorrelation(apperror.InventoryFailure, fmt.Errorf("block %s %s: %w", key.Name, key.Version, err))
	}
	return nil
}

// Status returns the current row for key, or inventory.ErrNotFound if it
// has never been observed.
func (a *Admin) Status(ctx context.Context, key inventory.GemVersionKey) (*inventory.GemVersion, error) {
	return a.inv.GetGemVersion(ctx, key)
}

// List returns every tracked version of name, for the `quarantine list`
// CLI subcommand and the admin status page.
func (a *Admin) List(ctx context.Context, name string) ([]inventory.GemVersion, error) {
	return a.inv.ListGemVersions(ctx, name)
}
