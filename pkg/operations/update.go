package operations

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/openfroyo/netops/pkg/engine"
)

// Update phase names and failure reasons.
const (
	PhaseInstallProgress = "install-progress"
	PhaseAwaitReachable  = "await-reachable"
	PhaseSettle          = "settle"

	ReasonInstallFailed    = "install command failed"
	ReasonISSUUnsuccessful = "ISSU unsuccessful"
	ReasonStillUnreachable = "element remains in timeout"
)

// UpdateOptions configures an UpdateController.
type UpdateOptions struct {
	// ResponseTableID holds one row per pending command response.
	ResponseTableID string

	// ProgressTableID holds command output keyed by response index.
	ProgressTableID string

	// InstallAttempts bounds the install progress phase.
	InstallAttempts int

	// ProgressQueryDelay is waited after issuing a progress query.
	ProgressQueryDelay time.Duration

	// ProgressReadDelay is waited after reading progress, before checking reachability.
	ProgressReadDelay time.Duration

	// ReachableAttempts bounds the wait for the device to come back.
	ReachableAttempts int

	// ReachableInterval is slept between reachability checks.
	ReachableInterval time.Duration

	// SettleDelay is waited once the device is reachable again.
	SettleDelay time.Duration

	Commands CommandSet

	// IssuePolicy defaults to IssuePolicyFatal.
	IssuePolicy IssuePolicy
}

// DefaultUpdateOptions returns the NX-OS ISSU timings.
func DefaultUpdateOptions() UpdateOptions {
	return UpdateOptions{
		ResponseTableID:    "9700",
		ProgressTableID:    "9703",
		InstallAttempts:    7,
		ProgressQueryDelay: 15 * time.Second,
		ProgressReadDelay:  45 * time.Second,
		ReachableAttempts:  6,
		ReachableInterval:  60 * time.Second,
		SettleDelay:        60 * time.Second,
		Commands:           NXOSCommands,
		IssuePolicy:        IssuePolicyFatal,
	}
}

// UpdateRequest asks for one software update.
type UpdateRequest struct {
	TargetID string

	// Image is the image file location, e.g. "bootflash:nxos.9.3.10.bin".
	Image string
}

// UpdateController installs a software image and confirms the device restarts
// and comes back.
type UpdateController struct {
	controller
	opts UpdateOptions
}

// NewUpdateController creates an update controller.
func NewUpdateController(deps Deps, opts UpdateOptions) (*UpdateController, error) {
	if opts.ResponseTableID == "" || opts.ProgressTableID == "" {
		return nil, engine.NewConfigurationError("response and progress table ids are required", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if opts.InstallAttempts <= 0 || opts.ReachableAttempts <= 0 {
		return nil, engine.NewConfigurationError("install and reachable attempts must be positive", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if opts.Commands.Install == "" {
		opts.Commands = NXOSCommands
	}

	c, err := newController(deps, "update")
	if err != nil {
		return nil, err
	}
	return &UpdateController{controller: c, opts: opts}, nil
}

// Run performs the update and returns the finished operation.
func (u *UpdateController) Run(ctx context.Context, req UpdateRequest) (*engine.Operation, error) {
	op := u.start(ctx, engine.OperationKindUpdate, req.TargetID)

	command, err := u.opts.Commands.InstallCommand(req.Image)
	if err != nil {
		return u.finish(ctx, op, nil, err)
	}
	op.Command = command

	if err := u.admit(ctx, op); err != nil {
		return u.finish(ctx, op, nil, err)
	}

	if err := u.issue(ctx, op, command, u.opts.IssuePolicy); err != nil {
		return u.finish(ctx, op, nil, err)
	}
	op.State = engine.StateCommandIssued

	var reference int
	err = u.sequencer.Run(ctx, op, []engine.PhaseSpec{
		{
			Name:          PhaseInstallProgress,
			State:         engine.StateAwaitingInstallProgress,
			Budget:        engine.Budget{MaxAttempts: u.opts.InstallAttempts},
			Prepare:       u.readReference(op, &reference),
			Predicate:     u.installPredicate(op, &reference),
			TimeoutReason: ReasonISSUUnsuccessful,
		},
		{
			Name:  PhaseAwaitReachable,
			State: engine.StateAwaitingRestart,
			Budget: engine.Budget{
				InterAttemptDelay: u.opts.ReachableInterval,
				MaxAttempts:       u.opts.ReachableAttempts,
			},
			Predicate: func(ctx context.Context, _ int) (bool, error) {
				return u.device.IsReachable(ctx, op.TargetID), nil
			},
			TimeoutReason: ReasonStillUnreachable,
		},
		{
			Name:   PhaseSettle,
			State:  engine.StateSettling,
			Budget: engine.Budget{MaxAttempts: 1},
			Predicate: func(ctx context.Context, _ int) (bool, error) {
				if err := u.clock.Sleep(ctx, u.opts.SettleDelay); err != nil {
					return false, err
				}
				return true, nil
			},
		},
	})
	if err != nil {
		return u.finish(ctx, op, nil, err)
	}

	return u.finish(ctx, op, nil, nil)
}

// readReference requires exactly one integer primary key in the response table.
func (u *UpdateController) readReference(op *engine.Operation, reference *int) func(context.Context) error {
	return func(ctx context.Context) error {
		keys, err := u.device.ReadTablePrimaryKeys(ctx, op.TargetID, u.opts.ResponseTableID)
		if err != nil {
			if engine.ClassOf(err) == "" {
				err = engine.NewTransportError("read primary keys failed", err)
			}
			return err
		}
		if len(keys) != 1 {
			return engine.NewPreconditionError(ReasonInstallFailed,
				fmt.Errorf("expected 1 primary key in table %s, found %d", u.opts.ResponseTableID, len(keys))).
				WithCode(engine.ErrCodePrimaryKeys)
		}
		n, err := strconv.Atoi(keys[0])
		if err != nil {
			return engine.NewPreconditionError(ReasonInstallFailed,
				fmt.Errorf("primary key %q is not an index: %w", keys[0], err)).
				WithCode(engine.ErrCodePrimaryKeys)
		}
		*reference = n
		return nil
	}
}

// installPredicate queries install progress and reports success once the
// device stops responding, which means it is restarting into the new image.
func (u *UpdateController) installPredicate(op *engine.Operation, reference *int) engine.Predicate {
	return func(ctx context.Context, attempt int) (bool, error) {
		logger := u.opLogger(op).With().Str("phase", PhaseInstallProgress).Int("attempt", attempt).Logger()

		// Progress queries race the reboot, so a failed query is not fatal.
		if err := u.issue(ctx, op, u.opts.Commands.InstallProgress, IssuePolicyLogAndContinue); err != nil {
			return false, err
		}
		if err := u.clock.Sleep(ctx, u.opts.ProgressQueryDelay); err != nil {
			return false, err
		}

		key := strconv.Itoa(*reference + attempt + 1)
		progress, err := u.device.ReadTableValue(ctx, op.TargetID, u.opts.ProgressTableID, key)
		switch {
		case err == nil:
			logger.Debug().Str("row", key).Str("progress", progress).Msg("Install progress read")
			if p, ok := u.observer.(ProgressObserver); ok {
				p.InstallProgress(op, attempt, progress)
			}
		case engine.IsNotFound(err):
			logger.Debug().Str("row", key).Msg("Install progress not available yet")
		default:
			return false, err
		}

		if err := u.clock.Sleep(ctx, u.opts.ProgressReadDelay); err != nil {
			return false, err
		}

		return !u.device.IsReachable(ctx, op.TargetID), nil
	}
}
