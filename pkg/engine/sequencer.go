package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Sequencer runs the phases of an operation strictly in order.
// The first phase that does not succeed halts the sequence and every later
// phase is marked skipped without being invoked.
type Sequencer struct {
	// retrier polls each phase's predicate
	retrier *Retrier

	// clock timestamps phases
	clock Clock

	// observer receives phase and attempt callbacks
	observer Observer

	logger zerolog.Logger
}

// NewSequencer creates a new phase sequencer.
func NewSequencer(clock Clock, observer Observer, logger zerolog.Logger) *Sequencer {
	if clock == nil {
		clock = SystemClock{}
	}
	if observer == nil {
		observer = NopObserver{}
	}

	return &Sequencer{
		retrier:  NewRetrier(clock),
		clock:    clock,
		observer: observer,
		logger:   logger,
	}
}

// Run executes specs against op. The phase log is appended to op.Phases and
// op.Reason is set from the failing phase. The returned error is the failing
// phase's classified error, or nil when every phase succeeded.
func (s *Sequencer) Run(ctx context.Context, op *Operation, specs []PhaseSpec) error {
	if op == nil {
		return NewConfigurationError("operation is nil", nil).WithCode(ErrCodeValidation)
	}

	phases := make([]*Phase, len(specs))
	for i, spec := range specs {
		phases[i] = &Phase{
			Name:   spec.Name,
			State:  spec.State,
			Budget: spec.Budget,
			Status: PhaseStatusPending,
		}
	}
	op.Phases = append(op.Phases, phases...)

	for i, spec := range specs {
		phase := phases[i]
		if err := s.runPhase(ctx, op, phase, spec); err != nil {
			op.Reason = phase.Reason
			s.markSkipped(op, phases[i+1:], phase.Name)
			return err
		}
	}

	return nil
}

func (s *Sequencer) runPhase(ctx context.Context, op *Operation, phase *Phase, spec PhaseSpec) error {
	logger := s.logger.With().
		Str("operation_id", op.ID).
		Str("target", op.TargetID).
		Str("phase", phase.Name).
		Logger()

	phase.Status = PhaseStatusRunning
	phase.StartedAt = s.clock.Now()
	if spec.State != "" {
		op.State = spec.State
	}
	s.observer.PhaseStarted(op, phase)

	logger.Debug().
		Int("max_attempts", spec.Budget.MaxAttempts).
		Dur("inter_attempt_delay", spec.Budget.InterAttemptDelay).
		Dur("max_duration", spec.Budget.MaxDuration).
		Msg("Phase started")

	if err := ctx.Err(); err != nil {
		return s.finish(op, phase, spec, NewCancelledError(err), logger)
	}

	if spec.Prepare != nil {
		if err := spec.Prepare(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = NewCancelledError(ctxErr)
			}
			return s.finish(op, phase, spec, classifyPredicateError(err), logger)
		}
	}

	hook := func(a Attempt) {
		phase.Attempts = append(phase.Attempts, a)
		s.observer.AttemptCompleted(op, phase, a)
		logger.Debug().
			Int("attempt", a.Index).
			Str("outcome", string(a.Outcome)).
			Msg("Attempt completed")
	}

	_, err := s.retrier.RetryObserved(ctx, spec.Predicate, spec.Budget, hook)
	return s.finish(op, phase, spec, err, logger)
}

// finish records the terminal status of phase and returns the classified error.
func (s *Sequencer) finish(op *Operation, phase *Phase, spec PhaseSpec, err error, logger zerolog.Logger) error {
	phase.Elapsed = s.clock.Now().Sub(phase.StartedAt)

	if err == nil {
		phase.Status = PhaseStatusSucceeded
		s.observer.PhaseCompleted(op, phase)
		logger.Debug().
			Int("attempts", phase.AttemptCount()).
			Dur("elapsed", phase.Elapsed).
			Msg("Phase succeeded")
		return nil
	}

	switch ClassOf(err) {
	case ErrorClassCancelled:
		phase.Status = PhaseStatusCancelled
	case ErrorClassTimeout:
		phase.Status = PhaseStatusFailed
		reason := spec.TimeoutReason
		if reason == "" {
			reason = fmt.Sprintf("phase %s timed out", phase.Name)
		}
		err = NewTimeoutError(reason).
			WithDetail("attempts", phase.AttemptCount()).
			WithDetail("elapsed", phase.Elapsed.String())
	default:
		phase.Status = PhaseStatusFailed
	}

	if e, ok := asEngineError(err); ok {
		if e.Phase == "" {
			e.WithPhase(phase.Name)
		}
		if e.Target == "" {
			e.WithTarget(op.TargetID)
		}
	}

	phase.Err = err
	phase.Reason = ReasonOf(err)
	s.observer.PhaseCompleted(op, phase)

	logger.Warn().
		Err(err).
		Str("status", string(phase.Status)).
		Int("attempts", phase.AttemptCount()).
		Dur("elapsed", phase.Elapsed).
		Msg("Phase did not succeed")

	return err
}

// markSkipped marks every phase in rest as skipped.
func (s *Sequencer) markSkipped(op *Operation, rest []*Phase, failed string) {
	for _, phase := range rest {
		phase.Status = PhaseStatusSkipped
		phase.Reason = fmt.Sprintf("skipped after %s", failed)
		s.observer.PhaseCompleted(op, phase)
	}
}
