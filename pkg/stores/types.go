package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/netops/pkg/engine"
)

// ErrNotFound is returned when a requested operation is not archived.
var ErrNotFound = errors.New("operation not found")

// OperationRecord is an archived operation
type OperationRecord struct {
	ID          string                 `json:"id"`
	Kind        engine.OperationKind   `json:"kind"`
	TargetID    string                 `json:"target_id"`
	Command     string                 `json:"command"`
	Status      engine.OperationStatus `json:"status"`
	Reason      *string                `json:"reason,omitempty"`
	ErrorClass  *string                `json:"error_class,omitempty"`
	ErrorCode   *string                `json:"error_code,omitempty"`
	Artifact    *string                `json:"artifact,omitempty"` // JSON blob
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ArchivedAt  time.Time              `json:"archived_at"`
}

// Duration returns how long the operation ran.
func (r *OperationRecord) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// PhaseRecord is one archived phase, Seq being its position in the operation.
type PhaseRecord struct {
	OperationID string             `json:"operation_id"`
	Seq         int                `json:"seq"`
	Name        string             `json:"name"`
	Status      engine.PhaseStatus `json:"status"`
	Reason      *string            `json:"reason,omitempty"`
	Budget      engine.Budget      `json:"budget"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	Elapsed     time.Duration      `json:"elapsed"`
	Attempts    []engine.Attempt   `json:"attempts"`
}

// ListFilter narrows ListOperations. Zero fields match everything.
type ListFilter struct {
	TargetID string
	Kind     engine.OperationKind
	Status   engine.OperationStatus
	Since    time.Time
	Limit    int
	Offset   int
}

// Store defines the interface for the operation archive
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Archive stores op with its phase log. Archiving the same operation
	// again replaces the previous record.
	Archive(ctx context.Context, op *engine.Operation) error

	GetOperation(ctx context.Context, id string) (*OperationRecord, error)
	ListOperations(ctx context.Context, filter ListFilter) ([]*OperationRecord, error)
	ListPhases(ctx context.Context, operationID string) ([]*PhaseRecord, error)

	// Prune deletes operations that started before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	HealthCheck(ctx context.Context) error
}
