package port

import (
	"context"

	"github.com/stagecraft/approvalflow/internal/domain/entity"
)

// Candidate is one eligible actor returned by the entity resolver. Role is
// the role under which the actor qualified, empty for explicit users.
type Candidate struct {
	UserID string
	Role   string
}

// EntityResolver is the engine's window onto the business records it governs.
// It supplies candidate pools for assignment resolution and receives the
// terminal outcome so the owning record can update its own status. The engine
// never touches business tables directly.
type EntityResolver interface {
	// ResolveCandidatePool returns the actors eligible to act on the given
	// stage for the given business entity.
	ResolveCandidatePool(ctx context.Context, entityType, entityID string, stage *entity.StageDefinition) ([]Candidate, error)

	// ResolveRoleMembers returns the members of a role in the context of a
	// business entity, used when an escalation reassigns to a supervisor role.
	ResolveRoleMembers(ctx context.Context, entityType, entityID, role string) ([]Candidate, error)

	// OnInstanceCompleted is called after an instance commits COMPLETED.
	OnInstanceCompleted(ctx context.Context, entityType, entityID string) error

	// OnInstanceRejected is called after an instance commits REJECTED, with
	// the outcome that caused it (REJECTED or CHANGES_REQUESTED).
	OnInstanceRejected(ctx context.Context, entityType, entityID string, outcome entity.Outcome) error
}

// SignatureCapture obtains signature references for stages that demand one.
// The engine stores only the opaque reference it returns.
type SignatureCapture interface {
	CaptureSignature(ctx context.Context, actorID, documentRef string) (string, error)
}

// Notifier delivers one queued notification. Delivery is fire-and-forget
// from the engine's perspective; failures are retried by the outbox worker,
// never surfaced to the user action that queued them.
type Notifier interface {
	Notify(ctx context.Context, notification *entity.Notification) error
}
