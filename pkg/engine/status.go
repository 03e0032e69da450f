package engine

import (
	"encoding/json"
	"fmt"
)

// AttemptOutcome represents the result of a single poll.
type AttemptOutcome string

const (
	// AttemptSuccess indicates the predicate observed the awaited state.
	AttemptSuccess AttemptOutcome = "success"

	// AttemptPending indicates the awaited state was not observed yet.
	AttemptPending AttemptOutcome = "pending"

	// AttemptError indicates the predicate failed with a non-recoverable error.
	AttemptError AttemptOutcome = "error"
)

// Validate checks if the attempt outcome is valid.
func (o AttemptOutcome) Validate() error {
	switch o {
	case AttemptSuccess, AttemptPending, AttemptError:
		return nil
	default:
		return fmt.Errorf("invalid attempt outcome: %s", o)
	}
}

// PhaseStatus represents the status of a phase within an operation.
type PhaseStatus string

const (
	// PhaseStatusPending indicates the phase has not started.
	PhaseStatusPending PhaseStatus = "pending"

	// PhaseStatusRunning indicates the phase is polling.
	PhaseStatusRunning PhaseStatus = "running"

	// PhaseStatusSucceeded indicates the awaited state was observed.
	PhaseStatusSucceeded PhaseStatus = "succeeded"

	// PhaseStatusFailed indicates the phase failed or timed out.
	PhaseStatusFailed PhaseStatus = "failed"

	// PhaseStatusSkipped indicates the phase never ran because an earlier phase did not succeed.
	PhaseStatusSkipped PhaseStatus = "skipped"

	// PhaseStatusCancelled indicates the phase was aborted by cancellation.
	PhaseStatusCancelled PhaseStatus = "cancelled"
)

// IsTerminal returns true if the phase status represents a final state.
func (s PhaseStatus) IsTerminal() bool {
	return s == PhaseStatusSucceeded || s == PhaseStatusFailed ||
		s == PhaseStatusSkipped || s == PhaseStatusCancelled
}

// Validate checks if the phase status is valid.
func (s PhaseStatus) Validate() error {
	switch s {
	case PhaseStatusPending, PhaseStatusRunning, PhaseStatusSucceeded,
		PhaseStatusFailed, PhaseStatusSkipped, PhaseStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid phase status: %s", s)
	}
}

// OperationStatus represents the overall status of an operation.
type OperationStatus string

const (
	// OperationStatusPending indicates the operation has been created but not dispatched.
	OperationStatusPending OperationStatus = "pending"

	// OperationStatusRunning indicates the operation is executing.
	OperationStatusRunning OperationStatus = "running"

	// OperationStatusSucceeded indicates every phase succeeded.
	OperationStatusSucceeded OperationStatus = "succeeded"

	// OperationStatusFailed indicates the operation failed.
	OperationStatusFailed OperationStatus = "failed"

	// OperationStatusCancelled indicates the operation was cancelled.
	OperationStatusCancelled OperationStatus = "cancelled"
)

// IsTerminal returns true if the operation status represents a final state.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationStatusSucceeded || s == OperationStatusFailed ||
		s == OperationStatusCancelled
}

// Validate checks if the operation status is valid.
func (s OperationStatus) Validate() error {
	switch s {
	case OperationStatusPending, OperationStatusRunning, OperationStatusSucceeded,
		OperationStatusFailed, OperationStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid operation status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s OperationStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *OperationStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = OperationStatus(str)
	return s.Validate()
}

// OperationState is the controller state machine position.
type OperationState string

const (
	StateIdle                    OperationState = "idle"
	StateCommandIssued           OperationState = "command_issued"
	StateAwaitingArtifact        OperationState = "awaiting_artifact"
	StateAwaitingInstallProgress OperationState = "awaiting_install_progress"
	// StateAwaitingRestart covers the wait for the device to become reachable again.
	StateAwaitingRestart OperationState = "awaiting_restart"
	StateSettling        OperationState = "settling"
	StateDone            OperationState = "done"
)

// OperationKind identifies the flow an operation belongs to.
type OperationKind string

const (
	OperationKindBackup OperationKind = "backup"
	OperationKindUpdate OperationKind = "update"
)
