package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/netops/pkg/engine"
)

// Observer turns controller callbacks into metrics, spans and log lines.
// It implements engine.Observer as well as the operation and install
// progress extensions the controllers look for.
type Observer struct {
	tel *Telemetry

	mu    sync.Mutex
	ops   map[string]context.Context
	spans map[string]trace.Span
}

// NewObserver creates an observer reporting to tel.
func NewObserver(tel *Telemetry) *Observer {
	return &Observer{
		tel:   tel,
		ops:   make(map[string]context.Context),
		spans: make(map[string]trace.Span),
	}
}

func phaseKey(op *engine.Operation, phase string) string {
	return op.ID + "/" + phase
}

// OperationStarted opens the operation span.
func (o *Observer) OperationStarted(op *engine.Operation) {
	ctx, span := o.tel.Tracer.StartOperationSpan(context.Background(), op)

	o.mu.Lock()
	o.ops[op.ID] = ctx
	o.spans[op.ID] = span
	o.mu.Unlock()

	o.tel.Metrics.RecordOperationStarted(string(op.Kind))
}

// OperationCompleted closes the operation span and records the outcome.
func (o *Observer) OperationCompleted(op *engine.Operation) {
	o.mu.Lock()
	span := o.spans[op.ID]
	delete(o.spans, op.ID)
	delete(o.ops, op.ID)
	o.mu.Unlock()

	o.tel.Metrics.RecordOperationCompleted(string(op.Kind), string(op.Status), op.Duration())

	if op.Status != engine.OperationStatusSucceeded {
		class, code := failureClass(op)
		o.tel.Metrics.RecordError(string(class), code)
	}

	if span == nil {
		return
	}
	span.SetAttributes(AttrOperationStatus.String(string(op.Status)))
	if op.Status == engine.OperationStatusSucceeded {
		RecordSuccess(span)
	} else {
		span.SetAttributes(AttrReason.String(op.Reason))
		RecordError(span, errors.New(op.Reason))
	}
	endSpan(span, op.CompletedAt)
}

// PhaseStarted opens a phase span under the operation span.
func (o *Observer) PhaseStarted(op *engine.Operation, phase *engine.Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()

	parent, ok := o.ops[op.ID]
	if !ok {
		parent = context.Background()
	}
	_, span := o.tel.Tracer.StartPhaseSpan(parent, op, phase)
	o.spans[phaseKey(op, phase.Name)] = span
}

// AttemptCompleted counts the poll.
func (o *Observer) AttemptCompleted(op *engine.Operation, phase *engine.Phase, attempt engine.Attempt) {
	o.tel.Metrics.RecordAttempt(string(op.Kind), phase.Name, string(attempt.Outcome))
}

// PhaseCompleted closes the phase span. Skipped phases never had one.
func (o *Observer) PhaseCompleted(op *engine.Operation, phase *engine.Phase) {
	o.tel.Metrics.RecordPhase(string(op.Kind), phase.Name, string(phase.Status), phase.Elapsed)

	key := phaseKey(op, phase.Name)
	o.mu.Lock()
	span := o.spans[key]
	delete(o.spans, key)
	o.mu.Unlock()

	if span == nil {
		return
	}
	span.SetAttributes(
		AttrPhaseStatus.String(string(phase.Status)),
		AttrAttempts.Int(phase.AttemptCount()),
	)
	if phase.Status == engine.PhaseStatusSucceeded {
		RecordSuccess(span)
	} else {
		span.SetAttributes(AttrErrorClass.String(string(engine.ClassOf(phase.Err))))
		RecordError(span, phase.Err)
	}
	end := phase.StartedAt.Add(phase.Elapsed)
	endSpan(span, &end)
}

// InstallProgress logs the progress text read from the device.
func (o *Observer) InstallProgress(op *engine.Operation, attempt int, progress string) {
	o.tel.Metrics.RecordProgressRead(op.TargetID)
	o.tel.Logger.Zerolog().Info().
		Str("operation_id", op.ID).
		Str("target", op.TargetID).
		Int("attempt", attempt).
		Str("progress", progress).
		Msg("Install progress")

	o.mu.Lock()
	span := o.spans[phaseKey(op, o.runningPhase(op))]
	o.mu.Unlock()
	if span != nil {
		span.AddEvent("install.progress", trace.WithAttributes(AttrProgress.String(progress)))
	}
}

func (o *Observer) runningPhase(op *engine.Operation) string {
	for _, p := range op.Phases {
		if p.Status == engine.PhaseStatusRunning {
			return p.Name
		}
	}
	return ""
}

func failureClass(op *engine.Operation) (engine.ErrorClass, string) {
	class := engine.ClassOf(op.Err)
	if class == "" {
		class = "unclassified"
	}
	var e *engine.EngineError
	if errors.As(op.Err, &e) {
		return class, e.Code
	}
	return class, ""
}

func endSpan(span trace.Span, at *time.Time) {
	if at == nil {
		span.End()
		return
	}
	span.End(trace.WithTimestamp(*at))
}
