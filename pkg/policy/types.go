package policy

import (
	"time"

	"github.com/openfroyo/netops/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not deny the operation.
	SeverityWarning Severity = "warning"

	// SeverityError denies the operation.
	SeverityError Severity = "error"

	// SeverityCritical denies the operation.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies admission.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a named Rego module. Its package must define a deny set whose
// members are either strings or objects with message and severity keys.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to deny members that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies compiled into the binary. Reloads keep them.
	Builtin bool `json:"builtin"`

	// Source is the file the policy was read from.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was read or compiled in.
	LoadedAt time.Time `json:"loaded_at"`
}

// Violation is one member of a policy's deny set.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Decision is the outcome of evaluating every enabled policy against an
// operation.
type Decision struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Blocking returns the violations that deny the operation.
func (d *Decision) Blocking() []Violation {
	var out []Violation
	for _, v := range d.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies see as input.
type Input struct {
	Operation OperationInput `json:"operation"`
	Time      TimeInput      `json:"time"`
}

// OperationInput describes the operation being admitted.
type OperationInput struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	TargetID string `json:"target_id"`
	Command  string `json:"command"`
}

// TimeInput is the operation start time in UTC, split for maintenance
// window rules.
type TimeInput struct {
	RFC3339 string `json:"rfc3339"`
	Weekday string `json:"weekday"`
	Hour    int    `json:"hour"`
	Minute  int    `json:"minute"`
}

// NewInput builds the policy input for op.
func NewInput(op *engine.Operation) Input {
	at := op.StartedAt.UTC()
	return Input{
		Operation: OperationInput{
			ID:       op.ID,
			Kind:     string(op.Kind),
			TargetID: op.TargetID,
			Command:  op.Command,
		},
		Time: TimeInput{
			RFC3339: at.Format(time.RFC3339),
			Weekday: at.Weekday().String(),
			Hour:    at.Hour(),
			Minute:  at.Minute(),
		},
	}
}
