package engine

import (
	"time"
)

// Attempt is a single poll made by the Retrier.
type Attempt struct {
	// Index is the zero-based attempt number within its phase.
	Index int `json:"index"`

	// Timestamp is when the attempt started.
	Timestamp time.Time `json:"timestamp"`

	// Outcome is the result of the attempt.
	Outcome AttemptOutcome `json:"outcome"`
}

// Budget bounds a phase. A phase fails once MaxAttempts polls were unsuccessful
// or once MaxDuration has elapsed since its first attempt, whichever comes first.
type Budget struct {
	// InterAttemptDelay is slept between an unsuccessful attempt and the next one.
	InterAttemptDelay time.Duration `json:"inter_attempt_delay"`

	// MaxAttempts bounds the number of polls. Zero or less means unbounded.
	MaxAttempts int `json:"max_attempts"`

	// MaxDuration bounds wall-clock time since the first attempt. Zero or less means unbounded.
	MaxDuration time.Duration `json:"max_duration"`
}

// Validate checks that the budget terminates.
func (b Budget) Validate() error {
	if b.InterAttemptDelay < 0 {
		return NewConfigurationError("inter-attempt delay must not be negative", nil).
			WithCode(ErrCodeValidation)
	}
	if b.MaxAttempts <= 0 && b.MaxDuration <= 0 {
		return NewConfigurationError("budget needs max attempts or max duration", nil).
			WithCode(ErrCodeValidation)
	}
	return nil
}

// Phase is the record of one bounded polling sub-task of an operation.
type Phase struct {
	// Name identifies the phase (e.g., "install-progress").
	Name string `json:"name"`

	// State is the controller state while this phase runs.
	State OperationState `json:"state,omitempty"`

	// Budget is the attempt/duration budget the phase ran with.
	Budget Budget `json:"budget"`

	// Attempts lists the polls made, in order.
	Attempts []Attempt `json:"attempts,omitempty"`

	// Status is the phase result.
	Status PhaseStatus `json:"status"`

	// Reason is the failure reason for failed or cancelled phases.
	Reason string `json:"reason,omitempty"`

	// Err is the classified failure, if any.
	Err error `json:"-"`

	// StartedAt is when the phase started.
	StartedAt time.Time `json:"started_at,omitempty"`

	// Elapsed is the time spent in the phase.
	Elapsed time.Duration `json:"elapsed"`
}

// AttemptCount returns the number of polls made.
func (p *Phase) AttemptCount() int {
	return len(p.Attempts)
}

// Operation is one full device interaction composed of ordered phases.
type Operation struct {
	// ID is the unique identifier of the operation.
	ID string `json:"id"`

	// Kind is the flow (backup, update).
	Kind OperationKind `json:"kind"`

	// TargetID is the opaque device identifier.
	TargetID string `json:"target_id"`

	// Command is the command issued to the device.
	Command string `json:"command,omitempty"`

	// State is the controller state machine position.
	State OperationState `json:"state"`

	// Phases is the ordered phase log.
	Phases []*Phase `json:"phases"`

	// Status is the overall result.
	Status OperationStatus `json:"status"`

	// Reason is the failure reason reported to the notifier.
	Reason string `json:"reason,omitempty"`

	// Err is the classified failure, if any.
	Err error `json:"-"`

	// Artifact is the value forwarded on success (e.g., a backup location).
	Artifact interface{} `json:"artifact,omitempty"`

	// StartedAt is when the operation was dispatched.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the operation reached Done.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Phase returns the phase with the given name, or nil.
func (o *Operation) Phase(name string) *Phase {
	for _, p := range o.Phases {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Duration returns how long the operation ran.
func (o *Operation) Duration() time.Duration {
	if o.CompletedAt == nil {
		return 0
	}
	return o.CompletedAt.Sub(o.StartedAt)
}
