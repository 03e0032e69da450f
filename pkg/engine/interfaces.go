package engine

import (
	"context"
	"time"
)

// Clock abstracts wall-clock time so polling can be driven deterministically in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep suspends for d. It returns ctx.Err() as soon as ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// Predicate queries external state once. It returns true when the awaited state
// is observed and false when it is not yet observed. A non-nil error is
// non-recoverable and is never retried.
type Predicate func(ctx context.Context, attempt int) (bool, error)

// PhaseSpec describes a phase before it runs.
type PhaseSpec struct {
	// Name identifies the phase.
	Name string

	// State is the controller state reported while this phase runs.
	State OperationState

	// Budget bounds the phase.
	Budget Budget

	// Prepare runs once before the first attempt. A failure fails the phase with no attempts.
	Prepare func(ctx context.Context) error

	// Predicate is polled until it reports true.
	Predicate Predicate

	// TimeoutReason is the failure reason used when the budget is exhausted.
	TimeoutReason string
}

// Observer receives lifecycle callbacks from the Retrier and Sequencer.
// Implementations must not block.
type Observer interface {
	// PhaseStarted is called before a phase's Prepare hook.
	PhaseStarted(op *Operation, phase *Phase)

	// AttemptCompleted is called after every poll.
	AttemptCompleted(op *Operation, phase *Phase, attempt Attempt)

	// PhaseCompleted is called once a phase reaches a terminal status (skipped phases included).
	PhaseCompleted(op *Operation, phase *Phase)
}

// NopObserver ignores all callbacks.
type NopObserver struct{}

func (NopObserver) PhaseStarted(*Operation, *Phase)               {}
func (NopObserver) AttemptCompleted(*Operation, *Phase, Attempt) {}
func (NopObserver) PhaseCompleted(*Operation, *Phase)             {}

// Observers fans callbacks out to several observers in order.
type Observers []Observer

func (os Observers) PhaseStarted(op *Operation, phase *Phase) {
	for _, o := range os {
		o.PhaseStarted(op, phase)
	}
}

func (os Observers) AttemptCompleted(op *Operation, phase *Phase, attempt Attempt) {
	for _, o := range os {
		o.AttemptCompleted(op, phase, attempt)
	}
}

func (os Observers) PhaseCompleted(op *Operation, phase *Phase) {
	for _, o := range os {
		o.PhaseCompleted(op, phase)
	}
}
