package operations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/netops/pkg/engine"
)

// Deps are the collaborators shared by every controller.
type Deps struct {
	// Device is required.
	Device Device

	// Notifier is required.
	Notifier Notifier

	// Clock defaults to engine.SystemClock.
	Clock engine.Clock

	// Observer receives phase callbacks. It may also implement
	// OperationObserver and ProgressObserver.
	Observer engine.Observer

	// Archiver, when set, stores every finished operation.
	Archiver Archiver

	// Admitter, when set, is consulted before any command is issued.
	Admitter Admitter

	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger
}

// controller holds what BackupController and UpdateController have in common.
type controller struct {
	device    Device
	notifier  Notifier
	clock     engine.Clock
	observer  engine.Observer
	archiver  Archiver
	admitter  Admitter
	sequencer *engine.Sequencer
	logger    zerolog.Logger
}

func newController(deps Deps, component string) (controller, error) {
	if deps.Device == nil {
		return controller{}, engine.NewConfigurationError("device is required", nil).WithCode(engine.ErrCodeValidation)
	}
	if deps.Notifier == nil {
		return controller{}, engine.NewConfigurationError("notifier is required", nil).WithCode(engine.ErrCodeValidation)
	}

	clock := deps.Clock
	if clock == nil {
		clock = engine.SystemClock{}
	}
	observer := deps.Observer
	if observer == nil {
		observer = engine.NopObserver{}
	}
	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	logger = logger.With().Str("component", component).Logger()

	return controller{
		device:    deps.Device,
		notifier:  deps.Notifier,
		clock:     clock,
		observer:  observer,
		archiver:  deps.Archiver,
		admitter:  deps.Admitter,
		sequencer: engine.NewSequencer(clock, observer, logger),
		logger:    logger,
	}, nil
}

// start creates the operation record and notifies that it started.
func (c *controller) start(ctx context.Context, kind engine.OperationKind, targetID string) *engine.Operation {
	op := &engine.Operation{
		ID:        uuid.New().String(),
		Kind:      kind,
		TargetID:  targetID,
		State:     engine.StateIdle,
		Status:    engine.OperationStatusRunning,
		StartedAt: c.clock.Now(),
	}

	if o, ok := c.observer.(OperationObserver); ok {
		o.OperationStarted(op)
	}
	if err := c.notifier.NotifyOperationStarted(context.WithoutCancel(ctx), op); err != nil {
		c.opLogger(op).Warn().Err(err).Msg("Failed to notify operation start")
	}

	c.opLogger(op).Info().Msg("Operation started")
	return op
}

// admit runs the admission policy, if any.
func (c *controller) admit(ctx context.Context, op *engine.Operation) error {
	if c.admitter == nil {
		return nil
	}
	if err := c.admitter.Admit(ctx, op); err != nil {
		if engine.ClassOf(err) == "" {
			return engine.NewConfigurationError("operation denied by policy", err).
				WithCode(engine.ErrCodePolicyDenied)
		}
		return err
	}
	return nil
}

// issue sends command to the target and applies policy to a transport failure.
func (c *controller) issue(ctx context.Context, op *engine.Operation, command string, policy IssuePolicy) error {
	logger := c.opLogger(op)

	err := c.device.IssueCommand(ctx, op.TargetID, command)
	if err == nil {
		logger.Debug().Str("command", command).Msg("Command issued")
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return engine.NewCancelledError(ctxErr)
	}
	if engine.ClassOf(err) == "" {
		err = engine.NewTransportError("command issue failed", err).WithCode(engine.ErrCodeCommandFailed)
	}

	if policy == IssuePolicyLogAndContinue {
		logger.Warn().
			Err(err).
			Str("command", command).
			Str("issue_policy", policy.String()).
			Msg("Command issue failed, continuing")
		return nil
	}
	return err
}

// finish classifies err, notifies exactly once and archives op.
func (c *controller) finish(ctx context.Context, op *engine.Operation, artifact any, err error) (*engine.Operation, error) {
	now := c.clock.Now()
	op.CompletedAt = &now
	op.State = engine.StateDone

	var e *engine.EngineError
	if err != nil && errors.As(err, &e) && e.Target == "" {
		e.WithTarget(op.TargetID)
	}

	// Notifications and archiving must survive a cancelled operation context.
	bg := context.WithoutCancel(ctx)
	logger := c.opLogger(op)

	if err == nil {
		op.Status = engine.OperationStatusSucceeded
		op.Artifact = artifact
		if nerr := c.notifier.NotifyOperationSucceeded(bg, op, artifact); nerr != nil {
			logger.Warn().Err(nerr).Msg("Failed to notify operation success")
		}
		logger.Info().Dur("duration", op.Duration()).Msg("Operation succeeded")
	} else {
		op.Status = engine.OperationStatusFailed
		op.Err = err
		if engine.IsCancelled(err) {
			op.Status = engine.OperationStatusCancelled
		}
		if op.Reason == "" {
			op.Reason = engine.ReasonOf(err)
		}
		if nerr := c.notifier.NotifyOperationFailed(bg, op, op.Reason); nerr != nil {
			logger.Warn().Err(nerr).Msg("Failed to notify operation failure")
		}
		logger.Error().
			Err(err).
			Str("status", string(op.Status)).
			Str("reason", op.Reason).
			Dur("duration", op.Duration()).
			Msg("Operation failed")
	}

	if o, ok := c.observer.(OperationObserver); ok {
		o.OperationCompleted(op)
	}

	if c.archiver != nil {
		if aerr := c.archiver.Archive(bg, op); aerr != nil {
			logger.Warn().Err(aerr).Msg("Failed to archive operation")
		}
	}

	return op, err
}

func (c *controller) opLogger(op *engine.Operation) *zerolog.Logger {
	l := c.logger.With().
		Str("operation_id", op.ID).
		Str("kind", string(op.Kind)).
		Str("target", op.TargetID).
		Logger()
	return &l
}
