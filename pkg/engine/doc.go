// Package engine provides the bounded polling core used by netops device operations.
//
// # Overview
//
// Many device operations complete asynchronously: a command is accepted at once
// but its effect (a file appearing on a TFTP server, an image installing, a
// switch rebooting) can only be confirmed by polling. The engine models this as:
//
//  1. Retrier - polls a Predicate under a Budget (attempts and wall-clock)
//  2. Sequencer - runs named phases in order, short-circuiting on failure
//  3. Operation - the record of one device interaction and its phase log
//
// # Budgets
//
// The first attempt is made immediately. After an unsuccessful attempt the
// elapsed time since the first attempt is compared against MaxDuration, then
// the attempt count against MaxAttempts, and only then does the Retrier sleep
// InterAttemptDelay. An attempt that started before the deadline always
// completes and is counted.
//
//	budget := engine.Budget{
//	    InterAttemptDelay: 100 * time.Millisecond,
//	    MaxDuration:       15 * time.Minute,
//	}
//
// # Errors
//
// Failures are classified EngineError values. Predicate errors are never
// retried; only a (false, nil) observation is. Cancellation through the
// context is reported as ErrorClassCancelled and never as a timeout.
//
// # Time
//
// All waiting goes through Clock.Sleep so tests can substitute
// enginetest.FakeClock and run multi-minute budgets instantly.
package engine
