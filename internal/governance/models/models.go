package models

import (
	"time"

	"commhub/pkg/domain"
)

// DeletionPolicy decides how one entity type may leave the system.
//
// RetentionDays counts from the moment the soft delete takes effect; a
// pending approval does not start the clock.
type DeletionPolicy struct {
	EntityType        domain.EntityType         `json:"entity_type"`
	Category          domain.ComplianceCategory `json:"compliance_category"`
	RetentionDays     int                       `json:"retention_days"`
	HardDeleteAllowed bool                      `json:"hard_delete_allowed"`
	RequiresApproval  bool                      `json:"requires_approval"`
	CascadeToChildren bool                      `json:"cascade_to_children"`
	Description       string                    `json:"description,omitempty"`
}

// RestorationDeadline is the instant the restoration window closes for a
// record soft-deleted at deletedAt. Restoration requires now to be strictly
// before it; hard deletion requires now to have reached it.
func (p DeletionPolicy) RestorationDeadline(deletedAt time.Time) time.Time {
	return deletedAt.AddDate(0, 0, p.RetentionDays)
}

// EntityStatus is the lifecycle state an entity lands in after a governance
// action.
type EntityStatus string

const (
	StatusPendingApproval EntityStatus = "pending_approval"
	StatusDeleted         EntityStatus = "deleted"
	StatusActive          EntityStatus = "active"
	StatusHardDeleted     EntityStatus = "hard_deleted"
)

// ActionResult ties the audit row an action wrote to the state it left the
// entity in, so callers can tell an effective deletion from one parked
// pending approval.
type ActionResult struct {
	AuditID domain.AuditID `json:"audit_id"`
	Status  EntityStatus   `json:"status"`
}

// AuditAction names what a deletion audit row records.
type AuditAction string

const (
	ActionDeletionRequested AuditAction = "deletion_requested"
	ActionSoftDeleted       AuditAction = "soft_deleted"
	ActionDeletionApproved  AuditAction = "deletion_approved"
	ActionRestored          AuditAction = "restored"
	ActionHardDeleted       AuditAction = "hard_deleted"
)

// DeletionAudit is one immutable row in the governance trail. Cascaded child
// operations carry the parent's audit id so the whole action reads as a tree.
//
// PolicySnapshot preserves the policy as it stood when the action ran;
// later policy edits never rewrite history.
type DeletionAudit struct {
	ID             domain.AuditID    `json:"id"`
	EntityType     domain.EntityType `json:"entity_type"`
	EntityID       string            `json:"entity_id"`
	Action         AuditAction       `json:"action"`
	Actor          string            `json:"actor"`
	Reason         string            `json:"reason,omitempty"`
	Context        string            `json:"context,omitempty"`
	PolicySnapshot DeletionPolicy    `json:"policy_snapshot"`
	ParentAuditID  *domain.AuditID   `json:"parent_audit_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
