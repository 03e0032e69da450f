package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/netops/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func testOperation(kind engine.OperationKind, target, command string) *engine.Operation {
	return &engine.Operation{
		ID:        "op-1",
		Kind:      kind,
		TargetID:  target,
		Command:   command,
		StartedAt: time.Date(2026, 10, 17, 2, 30, 0, 0, time.UTC),
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	want := []string{"command-required", "install-source", "known-kind", "known-target", "single-command"}
	if len(policies) != len(want) {
		t.Fatalf("Expected %d built-in policies, got %d", len(want), len(policies))
	}
	for i, p := range policies {
		if p.Name != want[i] {
			t.Errorf("policy %d: expected %s, got %s", i, want[i], p.Name)
		}
		if !p.Builtin || !p.Enabled {
			t.Errorf("policy %s should be an enabled built-in", p.Name)
		}
	}
}

func TestEvaluate_Builtins(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name           string
		op             *engine.Operation
		expectAllowed  bool
		expectPolicies []string
	}{
		{
			name:          "backup",
			op:            testOperation(engine.OperationKindBackup, "leaf-1", "copy running-config tftp://10.0.0.5/leaf-1/leaf-1-2026-10-17T02-30-00-running.cfg"),
			expectAllowed: true,
		},
		{
			name:          "update from bootflash",
			op:            testOperation(engine.OperationKindUpdate, "leaf-1", "install all nxos bootflash:nxos.9.3.10.bin non-interruptive"),
			expectAllowed: true,
		},
		{
			name:           "empty command",
			op:             testOperation(engine.OperationKindBackup, "leaf-1", "  "),
			expectAllowed:  false,
			expectPolicies: []string{"command-required"},
		},
		{
			name:           "unknown kind",
			op:             testOperation("reload", "leaf-1", "reload"),
			expectAllowed:  false,
			expectPolicies: []string{"known-kind"},
		},
		{
			name:           "chained command",
			op:             testOperation(engine.OperationKindBackup, "leaf-1", "copy running-config tftp://x/y/z; write erase"),
			expectAllowed:  false,
			expectPolicies: []string{"single-command"},
		},
		{
			name:           "tftp image warns only",
			op:             testOperation(engine.OperationKindUpdate, "leaf-1", "install all nxos tftp://10.0.0.5/nxos.bin non-interruptive"),
			expectAllowed:  true,
			expectPolicies: []string{"install-source"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := eng.Evaluate(context.Background(), tt.op)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if decision.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v: %+v", tt.expectAllowed, decision.Allowed, decision.Violations)
			}

			var got []string
			for _, v := range decision.Violations {
				got = append(got, v.Policy)
			}
			if strings.Join(got, ",") != strings.Join(tt.expectPolicies, ",") {
				t.Errorf("Expected violations from %v, got %v", tt.expectPolicies, got)
			}
			if len(decision.Warnings) != 0 {
				t.Errorf("Unexpected warnings: %v", decision.Warnings)
			}
		})
	}
}

func TestAdmit_Denied(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.Admit(context.Background(), testOperation(engine.OperationKindBackup, "leaf-1", ""))
	if err == nil {
		t.Fatal("Expected denial")
	}
	if !engine.IsConfiguration(err) {
		t.Errorf("Expected configuration error, got %v", err)
	}

	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("Expected *engine.EngineError, got %T", err)
	}
	if ee.Code != engine.ErrCodePolicyDenied {
		t.Errorf("Expected code %s, got %s", engine.ErrCodePolicyDenied, ee.Code)
	}
	if ee.Target != "leaf-1" {
		t.Errorf("Expected target leaf-1, got %s", ee.Target)
	}
	if !strings.Contains(ee.Message, "op-1 has no command") {
		t.Errorf("Expected policy message in %q", ee.Message)
	}
}

func TestAdmit_Allowed(t *testing.T) {
	eng := newTestEngine(t)

	op := testOperation(engine.OperationKindUpdate, "leaf-1", "install all nxos ftp://srv/nxos.bin non-interruptive")
	if err := eng.Admit(context.Background(), op); err != nil {
		t.Fatalf("Expected warning-only violation to be admitted, got %v", err)
	}
}

func TestAdmit_Cancelled(t *testing.T) {
	eng := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := eng.Admit(ctx, testOperation(engine.OperationKindBackup, "leaf-1", "copy running-config tftp://a/b/c"))
	if err == nil {
		t.Fatal("Expected error for cancelled context")
	}
	if !engine.IsCancelled(err) {
		t.Errorf("Expected cancelled error, got %v", err)
	}
}

func TestSetDevices_KnownTarget(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	op := testOperation(engine.OperationKindBackup, "spine-9", "copy running-config tftp://a/b/c")
	if err := eng.Admit(ctx, op); err != nil {
		t.Fatalf("Without inventory any target is admitted, got %v", err)
	}

	if err := eng.SetDevices(ctx, []string{"leaf-1", "leaf-2"}); err != nil {
		t.Fatalf("SetDevices failed: %v", err)
	}

	err := eng.Admit(ctx, op)
	if err == nil || !strings.Contains(err.Error(), "spine-9 is not a configured device") {
		t.Fatalf("Expected unknown target denial, got %v", err)
	}

	op.TargetID = "leaf-2"
	if err := eng.Admit(ctx, op); err != nil {
		t.Fatalf("Expected leaf-2 to be admitted, got %v", err)
	}

	// A second write replaces the inventory.
	if err := eng.SetDevices(ctx, []string{"spine-9"}); err != nil {
		t.Fatalf("SetDevices failed: %v", err)
	}
	if err := eng.Admit(ctx, op); err == nil {
		t.Fatal("Expected leaf-2 to be denied after inventory change")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	op := testOperation(engine.OperationKindBackup, "leaf-1", "")

	if err := eng.DisablePolicy("command-required"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	if err := eng.Admit(ctx, op); err != nil {
		t.Fatalf("Expected admission with policy disabled, got %v", err)
	}

	p, err := eng.GetPolicy("command-required")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.Enabled {
		t.Error("Policy should be disabled")
	}

	if err := eng.EnablePolicy("command-required"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	if err := eng.Admit(ctx, op); err == nil {
		t.Fatal("Expected denial with policy enabled")
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

const windowPolicy = `# Updates only run at night.
# severity: error
package netops.admission.window

import rego.v1

deny contains msg if {
	input.operation.kind == "update"
	input.time.hour >= 6
	msg := sprintf("updates are not admitted at %d:00 UTC", [input.time.hour])
}
`

func TestLoadPolicies_Window(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "window.rego"), []byte(windowPolicy), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	p, err := eng.GetPolicy("window")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.Builtin || p.Description != "Updates only run at night." {
		t.Errorf("Unexpected policy: %+v", p)
	}

	night := testOperation(engine.OperationKindUpdate, "leaf-1", "install all nxos bootflash:nxos.bin non-interruptive")
	if err := eng.Admit(ctx, night); err != nil {
		t.Fatalf("Expected night update to be admitted, got %v", err)
	}

	day := testOperation(engine.OperationKindUpdate, "leaf-1", "install all nxos bootflash:nxos.bin non-interruptive")
	day.StartedAt = time.Date(2026, 10, 17, 14, 0, 0, 0, time.UTC)
	err = eng.Admit(ctx, day)
	if err == nil || !strings.Contains(err.Error(), "updates are not admitted at 14:00 UTC") {
		t.Fatalf("Expected window denial, got %v", err)
	}

	backup := testOperation(engine.OperationKindBackup, "leaf-1", "copy running-config tftp://a/b/c")
	backup.StartedAt = day.StartedAt
	if err := eng.Admit(ctx, backup); err != nil {
		t.Fatalf("Expected backup to be admitted, got %v", err)
	}
}

func TestReplace(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{Name: "window", Rego: windowPolicy, Enabled: true}
	if err := eng.Replace(ctx, []Policy{custom}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if len(eng.ListPolicies()) != 6 {
		t.Fatalf("Expected 6 policies, got %d", len(eng.ListPolicies()))
	}

	broken := Policy{Name: "broken", Rego: "package netops.broken\n\ndeny contains msg if {", Enabled: true}
	if err := eng.Replace(ctx, []Policy{broken}); err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("window"); err != nil {
		t.Errorf("Failed replace must keep the previous set: %v", err)
	}

	if err := eng.Replace(ctx, nil); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if _, err := eng.GetPolicy("window"); err == nil {
		t.Error("Expected window policy to be removed")
	}
	if _, err := eng.GetPolicy("known-kind"); err != nil {
		t.Errorf("Built-in policies must survive replace: %v", err)
	}

	dup := []Policy{custom, custom}
	if err := eng.Replace(ctx, dup); err == nil {
		t.Error("Expected duplicate name error")
	}
}

func TestNewInput(t *testing.T) {
	op := testOperation(engine.OperationKindUpdate, "leaf-1", "install all nxos bootflash:x non-interruptive")
	op.StartedAt = time.Date(2026, 10, 17, 4, 5, 0, 0, time.FixedZone("CEST", 2*3600))

	in := NewInput(op)
	if in.Time.Hour != 2 || in.Time.Minute != 5 {
		t.Errorf("Expected 02:05 UTC, got %02d:%02d", in.Time.Hour, in.Time.Minute)
	}
	if in.Time.Weekday != "Saturday" {
		t.Errorf("Expected Saturday, got %s", in.Time.Weekday)
	}
	if in.Time.RFC3339 != "2026-10-17T02:05:00Z" {
		t.Errorf("Unexpected timestamp %s", in.Time.RFC3339)
	}
	if in.Operation.Kind != "update" || in.Operation.TargetID != "leaf-1" {
		t.Errorf("Unexpected operation input: %+v", in.Operation)
	}
}
