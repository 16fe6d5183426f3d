package upstream

import (
	"context"
	"encoding/json"
	"fmt"
)

// rubygemsVersion is the subset of RubyGems' `/api/v1/versions/<gem>.json`
// response fields the yank recheck needs.
type rubygemsVersion struct {
	Number string `json:"number"`
	Yanked bool   `json:"yanked,omitempty"`
}

// YankChecker queries RubyGems' versions API to ask whether a specific
// version has been pulled since it was cached, satisfying
// internal/quarantine.YankChecker without that package importing
// net/http. Grounded on RubyGems' own versions.json surface, the only
// place upstream yank state is exposed; the original never implemented
// this recheck (mark_yanked exists only as a bare row mutation with no
// caller), so this adapter is SPEC_FULL.md's own addition for §4.5 step 2.
type YankChecker struct {
	client *Client
}

// NewYankChecker builds a YankChecker against the given RubyGems client.
func NewYankChecker(client *Client) *YankChecker {
	return &YankChecker{client: client}
}

// IsYanked reports whether version of name is missing or marked yanked in
// upstream's current versions list.
func (c *YankChecker) IsYanked(ctx context.Context, name, version string) (bool, error) {
	resp, err := c.client.Get(ctx, fmt.Sprintf("/api/v1/versions/%s.json", name), nil)
	if err != nil {
		return false, fmt.Errorf("fetch versions for %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		// Gem no longer exists upstream at all; treat every version as yanked.
		return true, nil
	}
	if resp.StatusCode/100 != 2 {
		return false, fmt.Errorf("unexpected status %d fetching versions for %s", resp.StatusCode, name)
	}

	var versions []rubygemsVersion
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return false, fmt.Errorf("decode versions for %s: %w", name, err)
	}

	for _, v := range versions {
		if v.Number == version {
			return v.Yanked, nil
		}
	}
	// Version isn't listed at all: upstream removed it entirely.
	return true, nil
}
