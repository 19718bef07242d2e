// Package service is the governance engine: the single entry point for
// soft deletion, approval, restoration, and hard deletion of every governed
// entity type. Each action writes an immutable audit row in the same unit
// of work as the mutation it describes.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"commhub/internal/governance/models"
	"commhub/internal/governance/policy"
	"commhub/internal/governance/store"
	identitymodels "commhub/internal/identity/models"
	"commhub/internal/platform/metrics"
	"commhub/pkg/domain"
	dErrors "commhub/pkg/domain-errors"
	"commhub/pkg/platform/sentinel"
	txcontext "commhub/pkg/platform/tx"
	"commhub/pkg/requestcontext"
)

// softDelete aliases the shared deletion state every governed entity embeds.
type softDelete = identitymodels.SoftDelete

// Publisher mirrors audit rows to an external compliance sink. Publishing is
// best effort; the database row is the record of truth.
type Publisher interface {
	PublishAudit(ctx context.Context, a *models.DeletionAudit) error
}

type Service struct {
	store     store.Store
	resolver  *policy.Resolver
	resources map[domain.EntityType]Resource
	log       *slog.Logger

	// db is nil in memory mode; with it set, mutation plus audit row
	// commit in one transaction.
	db        *sql.DB
	metrics   *metrics.Metrics
	publisher Publisher
}

type Option func(*Service)

func WithDB(db *sql.DB) Option {
	return func(s *Service) { s.db = db }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func New(st store.Store, resolver *policy.Resolver, resources map[domain.EntityType]Resource, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     st,
		resolver:  resolver,
		resources: resources,
		log:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const cascadeContextPrefix = "cascade:"

// Delete soft-deletes an entity under its policy. When the policy demands
// approval the entity is parked pending instead, and nothing cascades until
// an approver signs off. The result carries the audit row id and whether the
// deletion took effect or is waiting on approval.
func (s *Service) Delete(ctx context.Context, entityType domain.EntityType, entityID, actor, reason string) (models.ActionResult, error) {
	resource, pol, err := s.lookup(entityType)
	if err != nil {
		return models.ActionResult{}, err
	}
	if actor == "" {
		return models.ActionResult{}, dErrors.New(dErrors.CodeInvalidInput, "actor is required")
	}
	pcy := pol(ctx)

	state, err := s.loadState(ctx, resource, entityType, entityID)
	if err != nil {
		return models.ActionResult{}, err
	}
	if state.IsDeleted() {
		return models.ActionResult{}, dErrors.New(dErrors.CodeConflict, "entity is already deleted")
	}
	if state.IsPending() {
		return models.ActionResult{}, dErrors.New(dErrors.CodeConflict, "a deletion request is already pending")
	}

	now := requestcontext.Now(ctx)
	audit := s.newAudit(entityType, entityID, actor, reason, pcy, now)

	var cascaded []*models.DeletionAudit
	err = s.inTx(ctx, func(ctx context.Context) error {
		if pcy.RequiresApproval {
			audit.Action = models.ActionDeletionRequested
			if err := resource.Apply(ctx, entityID, func(sd *softDelete) {
				sd.MarkPending(now, actor, reason)
			}); err != nil {
				return err
			}
			return s.store.AppendAudit(ctx, audit)
		}

		audit.Action = models.ActionSoftDeleted
		if err := resource.Apply(ctx, entityID, func(sd *softDelete) {
			sd.MarkDeleted(now, actor, reason, "")
		}); err != nil {
			return err
		}
		if err := s.store.AppendAudit(ctx, audit); err != nil {
			return err
		}
		if pcy.CascadeToChildren {
			var err error
			cascaded, err = s.cascadeDelete(ctx, resource, entityID, audit, now)
			return err
		}
		return nil
	})
	if err != nil {
		return models.ActionResult{}, s.translate(err, entityType)
	}

	status := models.StatusDeleted
	if pcy.RequiresApproval {
		status = models.StatusPendingApproval
		if s.metrics != nil {
			s.metrics.PendingApprovals.Inc()
		}
		s.log.InfoContext(ctx, "deletion pending approval",
			slog.String("entity_type", string(entityType)),
			slog.String("entity_id", entityID),
			slog.String("actor", actor))
	} else {
		if s.metrics != nil {
			s.metrics.Deletions.WithLabelValues("soft").Inc()
		}
		s.log.InfoContext(ctx, "entity soft-deleted",
			slog.String("entity_type", string(entityType)),
			slog.String("entity_id", entityID),
			slog.String("actor", actor),
			slog.Int("cascaded", len(cascaded)))
	}
	s.mirror(ctx, audit, cascaded)
	return models.ActionResult{AuditID: audit.ID, Status: status}, nil
}

// Approve executes a pending deletion. The retention clock starts now, not
// when the request was filed.
func (s *Service) Approve(ctx context.Context, entityType domain.EntityType, entityID, approver string) (models.ActionResult, error) {
	resource, pol, err := s.lookup(entityType)
	if err != nil {
		return models.ActionResult{}, err
	}
	if approver == "" {
		return models.ActionResult{}, dErrors.New(dErrors.CodeInvalidInput, "approver is required")
	}
	pcy := pol(ctx)

	state, err := s.loadState(ctx, resource, entityType, entityID)
	if err != nil {
		return models.ActionResult{}, err
	}
	if !state.IsPending() {
		return models.ActionResult{}, dErrors.New(dErrors.CodeNoPendingApproval, "no deletion request is pending for this entity")
	}

	now := requestcontext.Now(ctx)
	reason := state.DeletionReason
	audit := s.newAudit(entityType, entityID, approver, reason, pcy, now)
	audit.Action = models.ActionDeletionApproved
	audit.Context = "requested by " + state.DeletedBy

	var cascaded []*models.DeletionAudit
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := resource.Apply(ctx, entityID, func(sd *softDelete) {
			sd.MarkDeleted(now, approver, reason, "")
		}); err != nil {
			return err
		}
		if err := s.store.AppendAudit(ctx, audit); err != nil {
			return err
		}
		if pcy.CascadeToChildren {
			var err error
			cascaded, err = s.cascadeDelete(ctx, resource, entityID, audit, now)
			return err
		}
		return nil
	})
	if err != nil {
		return models.ActionResult{}, s.translate(err, entityType)
	}

	if s.metrics != nil {
		s.metrics.PendingApprovals.Dec()
		s.metrics.Deletions.WithLabelValues("approved").Inc()
	}
	s.log.InfoContext(ctx, "deletion approved",
		slog.String("entity_type", string(entityType)),
		slog.String("entity_id", entityID),
		slog.String("approver", approver))
	s.mirror(ctx, audit, cascaded)
	return models.ActionResult{AuditID: audit.ID, Status: models.StatusDeleted}, nil
}

// Restore brings a soft-deleted entity back, along with children deleted by
// the same cascade. Past the retention window the entity is unrecoverable
// and the caller gets RestorationWindowExpired. Restoring a pending request
// cancels it.
func (s *Service) Restore(ctx context.Context, entityType domain.EntityType, entityID, actor string) (models.ActionResult, error) {
	resource, pol, err := s.lookup(entityType)
	if err != nil {
		return models.ActionResult{}, err
	}
	if actor == "" {
		return models.ActionResult{}, dErrors.New(dErrors.CodeInvalidInput, "actor is required")
	}
	pcy := pol(ctx)

	state, err := s.loadState(ctx, resource, entityType, entityID)
	if err != nil {
		return models.ActionResult{}, err
	}

	now := requestcontext.Now(ctx)
	audit := s.newAudit(entityType, entityID, actor, "", pcy, now)
	audit.Action = models.ActionRestored

	switch {
	case state.IsPending():
		audit.Context = "cancelled pending request"
		err = s.inTx(ctx, func(ctx context.Context) error {
			if err := resource.Apply(ctx, entityID, func(sd *softDelete) { sd.ClearDeleted() }); err != nil {
				return err
			}
			return s.store.AppendAudit(ctx, audit)
		})
		if err != nil {
			return models.ActionResult{}, s.translate(err, entityType)
		}
		if s.metrics != nil {
			s.metrics.PendingApprovals.Dec()
		}

	case state.IsDeleted():
		// Restoration runs strictly before the deadline; from that
		// instant on the record is hard-delete eligible instead.
		deadline := pcy.RestorationDeadline(*state.DeletedAt)
		if !now.Before(deadline) {
			return models.ActionResult{}, dErrors.New(dErrors.CodeRestorationWindowExpired,
				fmt.Sprintf("restoration window closed %s", deadline.Format(time.RFC3339)))
		}
		deletedAt := *state.DeletedAt
		var cascaded []*models.DeletionAudit
		err = s.inTx(ctx, func(ctx context.Context) error {
			if err := resource.Apply(ctx, entityID, func(sd *softDelete) { sd.ClearDeleted() }); err != nil {
				return err
			}
			if err := s.store.AppendAudit(ctx, audit); err != nil {
				return err
			}
			var err error
			cascaded, err = s.cascadeRestore(ctx, resource, entityID, audit, deletedAt)
			return err
		})
		if err != nil {
			return models.ActionResult{}, s.translate(err, entityType)
		}
		s.mirror(ctx, audit, cascaded)

	default:
		return models.ActionResult{}, dErrors.New(dErrors.CodeConflict, "entity is not deleted")
	}

	if state.IsPending() {
		s.mirror(ctx, audit, nil)
	}
	if s.metrics != nil {
		s.metrics.Restorations.Inc()
	}
	s.log.InfoContext(ctx, "entity restored",
		slog.String("entity_type", string(entityType)),
		slog.String("entity_id", entityID),
		slog.String("actor", actor))
	return models.ActionResult{AuditID: audit.ID, Status: models.StatusActive}, nil
}

// HardDelete permanently removes an already soft-deleted entity when its
// policy allows it and the retention window has run out. Children are purged
// first so nothing orphans. The audit trail keeps the full record of what
// existed.
func (s *Service) HardDelete(ctx context.Context, entityType domain.EntityType, entityID, actor, reason string) (models.ActionResult, error) {
	resource, pol, err := s.lookup(entityType)
	if err != nil {
		return models.ActionResult{}, err
	}
	if actor == "" {
		return models.ActionResult{}, dErrors.New(dErrors.CodeInvalidInput, "actor is required")
	}
	pcy := pol(ctx)
	if !pcy.HardDeleteAllowed {
		return models.ActionResult{}, dErrors.New(dErrors.CodeHardDeleteForbidden,
			"policy for "+string(entityType)+" forbids hard deletion")
	}

	state, err := s.loadState(ctx, resource, entityType, entityID)
	if err != nil {
		return models.ActionResult{}, err
	}
	if !state.IsDeleted() {
		return models.ActionResult{}, dErrors.New(dErrors.CodeConflict, "hard deletion requires a prior soft delete")
	}

	now := requestcontext.Now(ctx)
	if deadline := pcy.RestorationDeadline(*state.DeletedAt); now.Before(deadline) {
		return models.ActionResult{}, dErrors.New(dErrors.CodeHardDeleteForbidden,
			fmt.Sprintf("retention window runs until %s", deadline.Format(time.RFC3339)))
	}
	audit := s.newAudit(entityType, entityID, actor, reason, pcy, now)
	audit.Action = models.ActionHardDeleted

	var cascaded []*models.DeletionAudit
	err = s.inTx(ctx, func(ctx context.Context) error {
		children, err := resource.Children(ctx, entityID)
		if err != nil {
			return err
		}
		for _, child := range children {
			childResource, ok := s.resources[child.EntityType]
			if !ok {
				return fmt.Errorf("no resource for child type %s", child.EntityType)
			}
			if err := childResource.Purge(ctx, child.ID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				return err
			}
			childAudit := s.newAudit(child.EntityType, child.ID, actor, reason, s.resolver.Resolve(ctx, child.EntityType), now)
			childAudit.Action = models.ActionHardDeleted
			childAudit.ParentAuditID = &audit.ID
			if err := s.store.AppendAudit(ctx, childAudit); err != nil {
				return err
			}
			cascaded = append(cascaded, childAudit)
		}
		if err := resource.Purge(ctx, entityID); err != nil {
			return err
		}
		return s.store.AppendAudit(ctx, audit)
	})
	if err != nil {
		return models.ActionResult{}, s.translate(err, entityType)
	}

	if s.metrics != nil {
		s.metrics.Deletions.WithLabelValues("hard").Inc()
	}
	s.log.InfoContext(ctx, "entity hard-deleted",
		slog.String("entity_type", string(entityType)),
		slog.String("entity_id", entityID),
		slog.String("actor", actor),
		slog.Int("cascaded", len(cascaded)))
	s.mirror(ctx, audit, cascaded)
	return models.ActionResult{AuditID: audit.ID, Status: models.StatusHardDeleted}, nil
}

// AuditTrail returns matching audit rows, newest first.
func (s *Service) AuditTrail(ctx context.Context, f store.AuditFilter) ([]*models.DeletionAudit, error) {
	out, err := s.store.ListAudit(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list audit trail", err)
	}
	return out, nil
}

// Policies returns the stored deletion policies.
func (s *Service) Policies(ctx context.Context) ([]*models.DeletionPolicy, error) {
	out, err := s.store.ListPolicies(ctx)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list policies", err)
	}
	return out, nil
}

func (s *Service) cascadeDelete(ctx context.Context, resource Resource, entityID string, parent *models.DeletionAudit, now time.Time) ([]*models.DeletionAudit, error) {
	children, err := resource.Children(ctx, entityID)
	if err != nil {
		return nil, err
	}
	var out []*models.DeletionAudit
	cascadeContext := cascadeContextPrefix + parent.ID.String()
	for _, child := range children {
		childResource, ok := s.resources[child.EntityType]
		if !ok {
			return nil, fmt.Errorf("no resource for child type %s", child.EntityType)
		}
		state, err := childResource.Load(ctx, child.ID)
		if err != nil {
			return nil, err
		}
		if state.IsDeleted() {
			continue
		}
		if err := childResource.Apply(ctx, child.ID, func(sd *softDelete) {
			sd.MarkDeleted(now, parent.Actor, parent.Reason, cascadeContext)
		}); err != nil {
			return nil, err
		}
		childAudit := s.newAudit(child.EntityType, child.ID, parent.Actor, parent.Reason, s.resolver.Resolve(ctx, child.EntityType), now)
		childAudit.Action = models.ActionSoftDeleted
		childAudit.Context = cascadeContext
		childAudit.ParentAuditID = &parent.ID
		if err := s.store.AppendAudit(ctx, childAudit); err != nil {
			return nil, err
		}
		out = append(out, childAudit)
	}
	return out, nil
}

// cascadeRestore brings back only children taken down together with the
// parent: same deletion instant, cascade-tagged context. Children deleted
// independently stay deleted.
func (s *Service) cascadeRestore(ctx context.Context, resource Resource, entityID string, parent *models.DeletionAudit, deletedAt time.Time) ([]*models.DeletionAudit, error) {
	children, err := resource.Children(ctx, entityID)
	if err != nil {
		return nil, err
	}
	var out []*models.DeletionAudit
	for _, child := range children {
		childResource, ok := s.resources[child.EntityType]
		if !ok {
			return nil, fmt.Errorf("no resource for child type %s", child.EntityType)
		}
		state, err := childResource.Load(ctx, child.ID)
		if err != nil {
			return nil, err
		}
		if !state.IsDeleted() {
			continue
		}
		if len(state.DeletionContext) < len(cascadeContextPrefix) ||
			state.DeletionContext[:len(cascadeContextPrefix)] != cascadeContextPrefix {
			continue
		}
		if !state.DeletedAt.Equal(deletedAt) {
			continue
		}
		if err := childResource.Apply(ctx, child.ID, func(sd *softDelete) { sd.ClearDeleted() }); err != nil {
			return nil, err
		}
		childAudit := s.newAudit(child.EntityType, child.ID, parent.Actor, "", s.resolver.Resolve(ctx, child.EntityType), parent.CreatedAt)
		childAudit.Action = models.ActionRestored
		childAudit.ParentAuditID = &parent.ID
		if err := s.store.AppendAudit(ctx, childAudit); err != nil {
			return nil, err
		}
		out = append(out, childAudit)
	}
	return out, nil
}

func (s *Service) lookup(entityType domain.EntityType) (Resource, func(context.Context) models.DeletionPolicy, error) {
	if !entityType.IsValid() {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "unknown entity type: "+string(entityType))
	}
	if entityType == domain.EntityProcessingLog {
		return nil, nil, dErrors.New(dErrors.CodeConflict, "processing log entries are append-only and cannot be deleted")
	}
	resource, ok := s.resources[entityType]
	if !ok {
		return nil, nil, dErrors.New(dErrors.CodeInternal, "no resource registered for "+string(entityType))
	}
	return resource, func(ctx context.Context) models.DeletionPolicy {
		return s.resolver.Resolve(ctx, entityType)
	}, nil
}

func (s *Service) loadState(ctx context.Context, resource Resource, entityType domain.EntityType, entityID string) (softDelete, error) {
	state, err := resource.Load(ctx, entityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return softDelete{}, dErrors.New(dErrors.CodeNotFound, string(entityType)+" not found")
		}
		if dErrors.CodeOf(err) != dErrors.CodeInternal {
			return softDelete{}, err
		}
		return softDelete{}, dErrors.Wrap(dErrors.CodeInternal, "load "+string(entityType), err)
	}
	return state, nil
}

func (s *Service) newAudit(entityType domain.EntityType, entityID, actor, reason string, pcy models.DeletionPolicy, now time.Time) *models.DeletionAudit {
	return &models.DeletionAudit{
		ID:             domain.NewAuditID(),
		EntityType:     entityType,
		EntityID:       entityID,
		Actor:          actor,
		Reason:         reason,
		PolicySnapshot: pcy,
		CreatedAt:      now,
	}
}

func (s *Service) inTx(ctx context.Context, fn func(context.Context) error) error {
	if s.db == nil {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin governance tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit governance tx: %w", err)
	}
	return nil
}

func (s *Service) mirror(ctx context.Context, audit *models.DeletionAudit, cascaded []*models.DeletionAudit) {
	if s.publisher == nil {
		return
	}
	for _, a := range append([]*models.DeletionAudit{audit}, cascaded...) {
		if err := s.publisher.PublishAudit(ctx, a); err != nil {
			s.log.WarnContext(ctx, "audit mirror publish failed",
				slog.String("audit_id", a.ID.String()),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Service) translate(err error, entityType domain.EntityType) error {
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, string(entityType)+" not found")
	}
	return dErrors.Wrap(dErrors.CodeInternal, "governance operation failed", err)
}
