package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openfroyo/netops/pkg/engine"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want engine.ErrorClass
	}{
		{"configuration", engine.NewConfigurationError("bad kind", nil), engine.ErrorClassConfiguration},
		{"precondition", engine.NewPreconditionError("install command failed", nil), engine.ErrorClassPrecondition},
		{"transport", engine.NewTransportError("dial", errors.New("refused")), engine.ErrorClassTransport},
		{"timeout", engine.NewTimeoutError("ISSU unsuccessful"), engine.ErrorClassTimeout},
		{"cancelled", engine.NewCancelledError(context.Canceled), engine.ErrorClassCancelled},
		{"wrapped", fmt.Errorf("backup: %w", engine.NewTimeoutError("x")), engine.ErrorClassTimeout},
		{"bare context", context.Canceled, engine.ErrorClassCancelled},
		{"plain", errors.New("plain"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.ClassOf(tt.err))
		})
	}
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, "", engine.ReasonOf(nil))
	assert.Equal(t, "ISSU unsuccessful", engine.ReasonOf(engine.NewTimeoutError("ISSU unsuccessful")))
	assert.Equal(t, "operation cancelled", engine.ReasonOf(engine.NewCancelledError(context.Canceled)))
	assert.Equal(t, "copy failed: refused",
		engine.ReasonOf(engine.NewTransportError("copy failed", errors.New("refused"))))
	assert.Equal(t, "plain", engine.ReasonOf(errors.New("plain")))
}

func TestEngineErrorIsMatchesClassAndCode(t *testing.T) {
	err := engine.NewConfigurationError("unsupported kind", nil).
		WithCode(engine.ErrCodeUnsupportedKind).
		WithTarget("switch-01")

	assert.ErrorIs(t, err, &engine.EngineError{Class: engine.ErrorClassConfiguration, Code: engine.ErrCodeUnsupportedKind})
	assert.NotErrorIs(t, err, &engine.EngineError{Class: engine.ErrorClassConfiguration, Code: engine.ErrCodeValidation})
	assert.Contains(t, err.Error(), "target=switch-01")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, engine.IsNotFound(engine.NewTransportError("row missing", nil).WithCode(engine.ErrCodeNotFound)))
	assert.False(t, engine.IsNotFound(engine.NewTransportError("row missing", nil)))
	assert.False(t, engine.IsNotFound(errors.New("not found")))
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, engine.PhaseStatusSkipped.IsTerminal())
	assert.False(t, engine.PhaseStatusRunning.IsTerminal())
	assert.True(t, engine.OperationStatusCancelled.IsTerminal())
	assert.Error(t, engine.PhaseStatus("bogus").Validate())
	assert.NoError(t, engine.AttemptPending.Validate())
}
