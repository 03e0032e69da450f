package engine

import (
	"context"
	"errors"
	"time"
)

// RetryResult is the outcome of a Retrier run.
type RetryResult struct {
	// Succeeded is true when the predicate reported the awaited state.
	Succeeded bool

	// Elapsed is the time between the first attempt and the end of the run.
	Elapsed time.Duration

	// Attempts lists every poll in order.
	Attempts []Attempt
}

// AttemptHook is called after every poll with the recorded attempt.
type AttemptHook func(Attempt)

// Retrier polls a predicate under a Budget. It holds no per-run state, so a
// single Retrier may serve concurrent operations.
type Retrier struct {
	clock Clock
}

// NewRetrier creates a retrier driven by clock. A nil clock means SystemClock.
func NewRetrier(clock Clock) *Retrier {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Retrier{clock: clock}
}

// Retry polls predicate until it reports true, fails, or the budget runs out.
//
// The first attempt is made immediately. After each unsuccessful attempt the
// wall-clock budget is checked first, then the attempt budget, and only then
// does the retrier sleep for the inter-attempt delay. Exhaustion returns a
// TimeoutError with Succeeded false. Cancellation, including cancellation
// that lands while the predicate runs, returns a CancelledError.
func (r *Retrier) Retry(ctx context.Context, predicate Predicate, budget Budget) (RetryResult, error) {
	return r.RetryObserved(ctx, predicate, budget, nil)
}

// RetryObserved is Retry with a hook invoked after every attempt.
func (r *Retrier) RetryObserved(
	ctx context.Context,
	predicate Predicate,
	budget Budget,
	hook AttemptHook,
) (RetryResult, error) {
	var result RetryResult

	if predicate == nil {
		return result, NewConfigurationError("predicate is nil", nil).WithCode(ErrCodeValidation)
	}
	if err := budget.Validate(); err != nil {
		return result, err
	}

	start := r.clock.Now()
	record := func(a Attempt) {
		result.Attempts = append(result.Attempts, a)
		result.Elapsed = r.clock.Now().Sub(start)
		if hook != nil {
			hook(a)
		}
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Elapsed = r.clock.Now().Sub(start)
			return result, NewCancelledError(err)
		}

		a := Attempt{Index: attempt, Timestamp: r.clock.Now()}
		ok, err := predicate(ctx, attempt)

		// A predicate's I/O may fail or report a state only because ctx
		// ended; neither result is trustworthy once ctx is done.
		if ctxErr := ctx.Err(); ctxErr != nil {
			a.Outcome = AttemptError
			record(a)
			return result, NewCancelledError(ctxErr)
		}
		if err != nil {
			a.Outcome = AttemptError
			record(a)
			return result, classifyPredicateError(err)
		}
		if ok {
			a.Outcome = AttemptSuccess
			record(a)
			result.Succeeded = true
			return result, nil
		}

		a.Outcome = AttemptPending
		record(a)

		if budget.MaxDuration > 0 && result.Elapsed > budget.MaxDuration {
			return result, NewTimeoutError("wall-clock budget exhausted").
				WithDetail("attempts", len(result.Attempts)).
				WithDetail("elapsed", result.Elapsed.String())
		}
		if budget.MaxAttempts > 0 && attempt+1 >= budget.MaxAttempts {
			return result, NewTimeoutError("attempt budget exhausted").
				WithDetail("attempts", len(result.Attempts)).
				WithDetail("elapsed", result.Elapsed.String())
		}

		if budget.InterAttemptDelay > 0 {
			if err := r.clock.Sleep(ctx, budget.InterAttemptDelay); err != nil {
				result.Elapsed = r.clock.Now().Sub(start)
				return result, NewCancelledError(err)
			}
		}
	}
}

// classifyPredicateError turns bare context errors into CancelledError and
// passes everything else through untouched.
func classifyPredicateError(err error) error {
	if ClassOf(err) != ErrorClassCancelled {
		return err
	}
	var e *EngineError
	if errors.As(err, &e) {
		return err
	}
	return NewCancelledError(err)
}
