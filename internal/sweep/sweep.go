// Package sweep runs the periodic retention pass: archiving stale processed
// communications and flagging records whose retention window has elapsed.
// Flagged records are surfaced for operators; the sweep never deletes
// anything itself.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	commsstore "commhub/internal/comms/store"
	"commhub/internal/governance/policy"
	identitystore "commhub/internal/identity/store"
	"commhub/internal/platform/metrics"
	"commhub/pkg/domain"
)

// Archiver is the slice of the communications service the sweep drives.
type Archiver interface {
	Archive(ctx context.Context, cutoff time.Time) (int, error)
}

type Sweeper struct {
	archiver   Archiver
	comms      commsstore.Store
	identities identitystore.Store
	resolver   *policy.Resolver
	log        *slog.Logger
	metrics    *metrics.Metrics

	interval     time.Duration
	archiveAfter time.Duration
}

func New(archiver Archiver, comms commsstore.Store, identities identitystore.Store, resolver *policy.Resolver, logger *slog.Logger, m *metrics.Metrics, interval time.Duration, archiveAfterDays int) *Sweeper {
	return &Sweeper{
		archiver:     archiver,
		comms:        comms,
		identities:   identities,
		resolver:     resolver,
		log:          logger,
		metrics:      m,
		interval:     interval,
		archiveAfter: time.Duration(archiveAfterDays) * 24 * time.Hour,
	}
}

// Run loops until the context is cancelled. One pass runs immediately so a
// freshly started server does not wait a full interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Sweeper) pass(ctx context.Context) {
	now := time.Now().UTC()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		archived, err := s.archiver.Archive(gctx, now.Add(-s.archiveAfter))
		if err != nil {
			s.log.ErrorContext(gctx, "archive pass failed", slog.String("error", err.Error()))
			return nil
		}
		if archived > 0 {
			s.log.InfoContext(gctx, "archived stale communications", slog.Int("count", archived))
		}
		return nil
	})

	g.Go(func() error {
		eligible, err := s.CountHardDeleteEligible(gctx, now)
		if err != nil {
			s.log.ErrorContext(gctx, "eligibility pass failed", slog.String("error", err.Error()))
			return nil
		}
		if s.metrics != nil {
			s.metrics.HardDeleteEligible.Set(float64(eligible))
		}
		if eligible > 0 {
			s.log.InfoContext(gctx, "records past retention window",
				slog.Int("count", eligible))
		}
		return nil
	})

	_ = g.Wait()
}

// CountHardDeleteEligible counts soft-deleted records whose restoration
// window has closed under a policy that allows hard deletion. These are
// candidates for an operator-driven purge, nothing more.
func (s *Sweeper) CountHardDeleteEligible(ctx context.Context, now time.Time) (int, error) {
	eligible := 0

	commPolicy := s.resolver.Resolve(ctx, domain.EntityCommunication)
	if commPolicy.HardDeleteAllowed {
		comms, err := s.comms.List(ctx, commsstore.Filter{IncludeDeleted: true})
		if err != nil {
			return 0, err
		}
		for _, c := range comms {
			if c.IsDeleted() && now.After(commPolicy.RestorationDeadline(*c.DeletedAt)) {
				eligible++
			}
		}
	}

	contactPolicy := s.resolver.Resolve(ctx, domain.EntityContact)
	if contactPolicy.HardDeleteAllowed {
		contacts, err := s.identities.ListContacts(ctx, true)
		if err != nil {
			return 0, err
		}
		for _, c := range contacts {
			if c.IsDeleted() && now.After(contactPolicy.RestorationDeadline(*c.DeletedAt)) {
				eligible++
			}
		}
	}

	return eligible, nil
}
