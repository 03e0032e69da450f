package operations

import (
	"context"

	"github.com/openfroyo/netops/pkg/engine"
)

// Device is the management-platform view of a network element.
type Device interface {
	// IssueCommand sends a CLI command to the target. Failures are transport errors.
	IssueCommand(ctx context.Context, targetID, command string) error

	// ReadTableValue reads one cell of a device table. A missing row is a
	// transport error carrying engine.ErrCodeNotFound.
	ReadTableValue(ctx context.Context, targetID, tableID, rowKey string) (string, error)

	// ReadTablePrimaryKeys returns the ordered row keys of a device table.
	ReadTablePrimaryKeys(ctx context.Context, targetID, tableID string) ([]string, error)

	// IsReachable reports whether the target currently responds.
	IsReachable(ctx context.Context, targetID string) bool
}

// Notifier receives the lifecycle of every operation. For a given operation
// NotifyOperationStarted is called first, followed by exactly one of
// NotifyOperationSucceeded or NotifyOperationFailed.
type Notifier interface {
	NotifyOperationStarted(ctx context.Context, op *engine.Operation) error
	NotifyOperationSucceeded(ctx context.Context, op *engine.Operation, artifact any) error
	NotifyOperationFailed(ctx context.Context, op *engine.Operation, reason string) error
}

// ArtifactProbe checks whether a backup file has landed on the file server.
type ArtifactProbe interface {
	// ArtifactExists returns false, nil while the file is not there yet.
	ArtifactExists(ctx context.Context, loc BackupLocation) (bool, error)
}

// Archiver stores finished operations together with their phase log.
type Archiver interface {
	Archive(ctx context.Context, op *engine.Operation) error
}

// Admitter decides whether an operation may touch the device at all.
// A denial must be returned as a configuration error.
type Admitter interface {
	Admit(ctx context.Context, op *engine.Operation) error
}

// OperationObserver is an optional extension of engine.Observer that is told
// when operations start and finish.
type OperationObserver interface {
	OperationStarted(op *engine.Operation)
	OperationCompleted(op *engine.Operation)
}

// ProgressObserver is an optional extension of engine.Observer that receives
// informational install progress reads.
type ProgressObserver interface {
	InstallProgress(op *engine.Operation, attempt int, progress string)
}
