// Package notify reports operation lifecycles to the management platform.
//
// The JSON notifier writes one line per event:
//
//	{"event":"operation.started","operation_id":"…","kind":"backup","target":"leaf-1","time":"…"}
//	{"event":"operation.succeeded","operation_id":"…","artifact":{"tftp":"10.0.0.5","folder_path":"conf/_CMC/leaf-1","file_name":"…"},…}
//	{"event":"operation.failed","operation_id":"…","reason":"no data obtained within timeout",…}
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/openfroyo/netops/pkg/engine"
	"github.com/openfroyo/netops/pkg/operations"
)

// Event names.
const (
	EventStarted   = "operation.started"
	EventSucceeded = "operation.succeeded"
	EventFailed    = "operation.failed"
)

var _ operations.Notifier = (*JSONNotifier)(nil)

// JSONNotifier writes lifecycle events as JSON lines.
type JSONNotifier struct {
	out    zerolog.Logger
	closer io.Closer
}

// Open returns a notifier writing to output, which is stdout, stderr or a
// file path that events are appended to.
func Open(output string) (*JSONNotifier, error) {
	switch output {
	case "", "stdout":
		return NewJSONNotifier(os.Stdout), nil
	case "stderr":
		return NewJSONNotifier(os.Stderr), nil
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open notification output %s: %w", output, err)
	}
	n := NewJSONNotifier(f)
	n.closer = f
	return n, nil
}

// NewJSONNotifier returns a notifier writing to w.
func NewJSONNotifier(w io.Writer) *JSONNotifier {
	return &JSONNotifier{out: zerolog.New(zerolog.SyncWriter(w))}
}

// Close closes the output file, if Open created one.
func (n *JSONNotifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer.Close()
}

// NotifyOperationStarted implements operations.Notifier.
func (n *JSONNotifier) NotifyOperationStarted(ctx context.Context, op *engine.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.event(EventStarted, op).
		Time("time", op.StartedAt.UTC()).
		Msg("")
	return nil
}

// NotifyOperationSucceeded implements operations.Notifier.
func (n *JSONNotifier) NotifyOperationSucceeded(ctx context.Context, op *engine.Operation, artifact any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := n.terminal(EventSucceeded, op)
	if artifact != nil {
		e = e.Interface("artifact", artifact)
	}
	e.Msg("")
	return nil
}

// NotifyOperationFailed implements operations.Notifier.
func (n *JSONNotifier) NotifyOperationFailed(ctx context.Context, op *engine.Operation, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := n.terminal(EventFailed, op).Str("reason", reason)
	if class := engine.ClassOf(op.Err); class != "" {
		e = e.Str("error_class", string(class))
	}
	var ee *engine.EngineError
	if errors.As(op.Err, &ee) && ee.Code != "" {
		e = e.Str("error_code", ee.Code)
	}
	e.Msg("")
	return nil
}

func (n *JSONNotifier) event(name string, op *engine.Operation) *zerolog.Event {
	e := n.out.Log().
		Str("event", name).
		Str("operation_id", op.ID).
		Str("kind", string(op.Kind)).
		Str("target", op.TargetID)
	if op.Command != "" {
		e = e.Str("command", op.Command)
	}
	return e
}

func (n *JSONNotifier) terminal(name string, op *engine.Operation) *zerolog.Event {
	at := op.StartedAt
	if op.CompletedAt != nil {
		at = *op.CompletedAt
	}
	return n.event(name, op).
		Str("status", string(op.Status)).
		Time("time", at.UTC()).
		Dur("duration_ms", op.Duration()).
		Array("phases", phaseArray(op.Phases))
}

// phaseArray summarizes the phase log.
func phaseArray(phases []*engine.Phase) *zerolog.Array {
	arr := zerolog.Arr()
	for _, p := range phases {
		arr.Dict(zerolog.Dict().
			Str("name", p.Name).
			Str("status", string(p.Status)).
			Int("attempts", p.AttemptCount()).
			Dur("elapsed_ms", p.Elapsed).
			Str("reason", p.Reason))
	}
	return arr
}

// Multi fans every event out to each notifier and joins their errors.
type Multi []operations.Notifier

var _ operations.Notifier = Multi(nil)

// OpenAll opens a JSON notifier for every output.
func OpenAll(outputs []string) (Multi, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("at least one notification output is required")
	}

	m := make(Multi, 0, len(outputs))
	for _, output := range outputs {
		n, err := Open(output)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m = append(m, n)
	}
	return m, nil
}

// Close closes every notifier that holds a resource.
func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if c, ok := n.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// NotifyOperationStarted implements operations.Notifier.
func (m Multi) NotifyOperationStarted(ctx context.Context, op *engine.Operation) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyOperationStarted(ctx, op))
	}
	return errors.Join(errs...)
}

// NotifyOperationSucceeded implements operations.Notifier.
func (m Multi) NotifyOperationSucceeded(ctx context.Context, op *engine.Operation, artifact any) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyOperationSucceeded(ctx, op, artifact))
	}
	return errors.Join(errs...)
}

// NotifyOperationFailed implements operations.Notifier.
func (m Multi) NotifyOperationFailed(ctx context.Context, op *engine.Operation, reason string) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyOperationFailed(ctx, op, reason))
	}
	return errors.Join(errs...)
}
