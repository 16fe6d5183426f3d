package quarantine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vein-cache/vein/internal/inventory"
)

// DefaultSchedule matches the original's hourly-at-minute-5 promotion tick.
const DefaultSchedule = "0 5 * * * *"

// recheckBatchSize bounds how many recently promoted versions get an
// upstream yank recheck per tick (§4.5 step 2: "bounded batch").
const recheckBatchSize = 50

// YankChecker asks an upstream registry whether a specific version has
// since been pulled. internal/upstream.YankChecker, built on the RubyGems
// client, satisfies this (kept out of this package so
// internal/quarantine never imports net/http directly).
type YankChecker interface {
	IsYanked(ctx context.Context, name, version string) (bool, error)
}

// Scheduler drives the §4.5 promotion tick on a cron schedule and exposes
// RunOnce for the `quarantine promote` and `cache refresh` CLI subcommands.
type Scheduler struct {
	inv     inventory.Store
	checker YankChecker
	log     *logrus.Logger
	cron    *cron.Cron
}

// New builds a Scheduler. checker may be nil, in which case the yank
// recheck step (§4.5 step 2) is skipped entirely.
func New(inv inventory.Store, checker YankChecker, log *logrus.Logger) *Scheduler {
	return &Scheduler{inv: inv, checker: checker, log: log}
}

// Start registers the promotion tick on schedule (the six-field cron
// syntax robfig/cron/v3's WithSeconds parser expects, matching §6's
// `refresh_schedule` format) and runs it in the background until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	s.cron = cron.New(cron.WithSeconds())
	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.log.WithError(err).Error("quarantine promotion tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule quarantine promotion: %w", err)
	}

	s.cron.Start()
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
	return nil
}

// RunOnce performs one promotion tick: promote every due version, then
// recheck upstream yank state for a bounded batch of what was just
// promoted. It is what both the cron tick and `quarantine promote` call.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := time.Now()

	promoted, err := s.inv.PromoteDue(ctx, now)
	if err != nil {
		return fmt.Errorf("promote due quarantine versions: %w", err)
	}
	if promoted > 0 {
		s.log.WithField("promoted", promoted).Info("promoted quarantined gem versions")
	} else {
		s.log.Debug("no quarantined versions ready for promotion")
	}

	if s.checker == nil {
		return nil
	}
	return s.recheckYanks(ctx, now)
}

// recheckYanks re-verifies upstream yank state for recently promoted
// versions using a bounded pool of concurrent upstream versions-listing
// GETs, and marks a pulled version both upstream_yanked and status=yanked,
// so a gem pulled shortly after its quarantine window closes doesn't stay
// visible indefinitely.
func (s *Scheduler) recheckYanks(ctx context.Context, now time.Time) error {
	recent, err := s.inv.RecentlyPromoted(ctx, now.Add(-24*time.Hour), recheckBatchSize)
	if err != nil {
		return fmt.Errorf("list recently promoted versions: %w", err)
	}
	if len(recent) == 0 {
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(8)

	for _, gv := range recent {
		gv := gv
		group.Go(func() error {
			yanked, err := s.checker.IsYanked(groupCtx, gv.Key.Name, gv.Key.Version)
			if err != nil {
				s.log.WithError(err).WithField("gem", gv.Key.Name).WithField("version", gv.Key.Version).
					Warn("yank recheck failed, leaving status unchanged")
				return nil
			}
			if !yanked {
				return nil
			}
			if err := s.inv.MarkYanked(groupCtx, gv.Key); err != nil {
				return fmt.Errorf("mark %s %s yanked: %w", gv.Key.Name, gv.Key.Version, err)
			}
			gv.Status = inventory.StatusYanked
			gv.UpstreamYanked = true
			gv.UpdatedAt = now
			if err := s.inv.UpsertGemVersion(groupCtx, gv); err != nil {
				return fmt.Errorf("set %s %s status yanked: %w", gv.Key.Name, gv.Key.Version, err)
			}
			s.log.WithField("gem", gv.Key.Name).WithField("version", gv.Key.Version).
				Info("upstream yanked a promoted version")
			return nil
		})
	}

	return group.Wait()
}
