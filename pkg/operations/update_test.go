package operations_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/netops/pkg/engine"
	"github.com/openfroyo/netops/pkg/engine/enginetest"
	"github.com/openfroyo/netops/pkg/operations"
)

const installImage = "install all nxos bootflash:image.bin non-interruptive"

type updateFixture struct {
	device   *fakeDevice
	notifier *fakeNotifier
	clock    *enginetest.FakeClock
	observer *progressRecorder
	ctrl     *operations.UpdateController
}

func newUpdateFixture(t *testing.T, device *fakeDevice) *updateFixture {
	t.Helper()

	f := &updateFixture{
		device:   device,
		notifier: &fakeNotifier{},
		clock:    enginetest.NewFakeClock(epoch),
		observer: &progressRecorder{},
	}
	ctrl, err := operations.NewUpdateController(operations.Deps{
		Device:   f.device,
		Notifier: f.notifier,
		Clock:    f.clock,
		Observer: f.observer,
	}, operations.DefaultUpdateOptions())
	require.NoError(t, err)
	f.ctrl = ctrl
	return f
}

func (f *updateFixture) run(ctx context.Context) (*engine.Operation, error) {
	return f.ctrl.Run(ctx, operations.UpdateRequest{TargetID: "42/2002", Image: "bootflash:image.bin"})
}

func progressQueries(cmds []string) int {
	n := 0
	for _, c := range cmds {
		if c == operations.NXOSCommands.InstallProgress {
			n++
		}
	}
	return n
}

func TestUpdateEndToEnd(t *testing.T) {
	device := &fakeDevice{
		primaryKeys: []string{"5"},
		values:      map[string]string{"9703/6": "Install is in progress, 40%"},
		// install attempt 0 reachable, attempt 1 unreachable, then back on first poll
		reachable: []bool{true, false, true},
	}
	f := newUpdateFixture(t, device)

	op, err := f.run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, engine.OperationStatusSucceeded, op.Status)
	assert.Equal(t, engine.StateDone, op.State)
	assert.Equal(t, installImage, op.Command)
	assert.Equal(t, []string{installImage, "sh install all progress", "sh install all progress"}, device.Commands())
	assert.Equal(t, []string{"9703/6", "9703/7"}, device.reads)

	require.Len(t, op.Phases, 3)
	assert.Equal(t, 2, op.Phase(operations.PhaseInstallProgress).AttemptCount())
	assert.Equal(t, 1, op.Phase(operations.PhaseAwaitReachable).AttemptCount())
	assert.Equal(t, engine.PhaseStatusSucceeded, op.Phase(operations.PhaseSettle).Status)

	assert.Equal(t, []time.Duration{
		15 * time.Second, 45 * time.Second,
		15 * time.Second, 45 * time.Second,
		60 * time.Second,
	}, f.clock.Sleeps())
	assert.Equal(t, 3*time.Minute, op.Duration())

	assert.Equal(t, []string{"started", "succeeded"}, f.notifier.Events())
	assert.Equal(t, []string{"0:Install is in progress, 40%"}, f.observer.progress)
	assert.Equal(t, 1, f.observer.started)
	assert.Equal(t, 1, f.observer.done)
}

func TestUpdateReachabilityLostOnThirdAttempt(t *testing.T) {
	device := &fakeDevice{
		primaryKeys: []string{"12"},
		reachable:   []bool{true, true, false, true},
	}
	f := newUpdateFixture(t, device)

	op, err := f.run(context.Background())

	require.NoError(t, err)
	phase := op.Phase(operations.PhaseInstallProgress)
	assert.Equal(t, engine.PhaseStatusSucceeded, phase.Status)
	assert.Equal(t, 3, phase.AttemptCount())
	assert.Equal(t, 3, progressQueries(device.Commands()))
	assert.Equal(t, []string{"9703/13", "9703/14", "9703/15"}, device.reads)
}

func TestUpdateReachabilityNeverLost(t *testing.T) {
	device := &fakeDevice{primaryKeys: []string{"5"}, reachable: []bool{true}}
	f := newUpdateFixture(t, device)

	op, err := f.run(context.Background())

	require.Error(t, err)
	assert.True(t, engine.IsTimeout(err))
	assert.Equal(t, operations.ReasonISSUUnsuccessful, op.Reason)

	phase := op.Phase(operations.PhaseInstallProgress)
	assert.Equal(t, engine.PhaseStatusFailed, phase.Status)
	assert.Equal(t, 7, phase.AttemptCount())
	assert.Equal(t, 7*time.Minute, phase.Elapsed)
	assert.Equal(t, engine.PhaseStatusSkipped, op.Phase(operations.PhaseAwaitReachable).Status)
	assert.Equal(t, engine.PhaseStatusSkipped, op.Phase(operations.PhaseSettle).Status)
	assert.Equal(t, []string{"started", "failed:ISSU unsuccessful"}, f.notifier.Events())
}

func TestUpdateDeviceNeverComesBack(t *testing.T) {
	device := &fakeDevice{primaryKeys: []string{"5"}, reachable: []bool{false}}
	f := newUpdateFixture(t, device)

	op, err := f.run(context.Background())

	require.Error(t, err)
	assert.True(t, engine.IsTimeout(err))
	phase := op.Phase(operations.PhaseAwaitReachable)
	assert.Equal(t, 6, phase.AttemptCount())
	assert.Equal(t, 5*time.Minute, phase.Elapsed)
	assert.Equal(t, engine.PhaseStatusSkipped, op.Phase(operations.PhaseSettle).Status)
	assert.Equal(t, []string{"started", "failed:element remains in timeout"}, f.notifier.Events())
}

func TestUpdatePrimaryKeyPrecondition(t *testing.T) {
	tests := []struct {
		name string
		keys []string
	}{
		{name: "no keys", keys: nil},
		{name: "two keys", keys: []string{"5", "6"}},
		{name: "not an index", keys: []string{"abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := &fakeDevice{primaryKeys: tt.keys}
			f := newUpdateFixture(t, device)

			op, err := f.run(context.Background())

			require.Error(t, err)
			assert.True(t, engine.IsPrecondition(err))
			assert.Equal(t, 0, op.Phase(operations.PhaseInstallProgress).AttemptCount())
			assert.Equal(t, 0, progressQueries(device.Commands()))
			assert.Empty(t, device.reads)
			assert.Zero(t, device.reachableCalls)
			assert.Empty(t, f.clock.Sleeps())
			assert.True(t, strings.HasPrefix(op.Reason, operations.ReasonInstallFailed))

			events := f.notifier.Events()
			require.Len(t, events, 2)
			assert.Equal(t, "failed:"+op.Reason, events[1])
		})
	}
}

func TestUpdateIssueErrorIsFatal(t *testing.T) {
	device := &fakeDevice{
		primaryKeys: []string{"5"},
		issueErr:    map[string]error{installImage: errors.New("element in timeout")},
	}
	f := newUpdateFixture(t, device)

	op, err := f.run(context.Background())

	require.Error(t, err)
	assert.True(t, engine.IsTransport(err))
	assert.Empty(t, op.Phases)
	assert.Equal(t, []string{installImage}, device.Commands())
	assert.Equal(t, []string{"started", "failed:command issue failed: element in timeout"}, f.notifier.Events())
}

func TestUpdateEmptyImage(t *testing.T) {
	device := &fakeDevice{primaryKeys: []string{"5"}}
	f := newUpdateFixture(t, device)

	op, err := f.ctrl.Run(context.Background(), operations.UpdateRequest{TargetID: "42/2002", Image: "  "})

	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
	assert.Empty(t, device.Commands())
	assert.Equal(t, engine.OperationStatusFailed, op.Status)
}

func TestUpdateProgressQueryFailureIsTolerated(t *testing.T) {
	device := &fakeDevice{
		primaryKeys: []string{"5"},
		issueErr:    map[string]error{"sh install all progress": errors.New("busy")},
		reachable:   []bool{false, true},
	}
	f := newUpdateFixture(t, device)

	op, err := f.run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, op.Phase(operations.PhaseInstallProgress).AttemptCount())
}

func TestUpdateCancelledWhileAwaitingReachable(t *testing.T) {
	device := &fakeDevice{primaryKeys: []string{"5"}, reachable: []bool{false}}
	f := newUpdateFixture(t, device)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// sleeps 0 and 1 belong to install attempt 0; sleep 3 is the second reachable interval.
	f.clock.OnSleep = func(n int, _ time.Duration) {
		if n == 3 {
			cancel()
		}
	}

	op, err := f.run(ctx)

	require.Error(t, err)
	assert.True(t, engine.IsCancelled(err))
	assert.False(t, engine.IsTimeout(err))
	assert.Equal(t, engine.OperationStatusCancelled, op.Status)
	assert.Equal(t, engine.PhaseStatusCancelled, op.Phase(operations.PhaseAwaitReachable).Status)
	assert.Equal(t, 2, op.Phase(operations.PhaseAwaitReachable).AttemptCount())
	assert.Equal(t, engine.PhaseStatusSkipped, op.Phase(operations.PhaseSettle).Status)
	assert.Equal(t, []string{"started", "failed:operation cancelled"}, f.notifier.Events())
}

func TestUpdateCancelledDuringReachabilityCheck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A reachability check cut short by cancellation reports the device as
	// down, which must not pass for a restart.
	device := &fakeDevice{primaryKeys: []string{"5"}, reachable: []bool{false}, onReachable: cancel}
	f := newUpdateFixture(t, device)

	op, err := f.run(ctx)

	require.Error(t, err)
	assert.True(t, engine.IsCancelled(err))
	assert.Equal(t, engine.OperationStatusCancelled, op.Status)

	install := op.Phase(operations.PhaseInstallProgress)
	assert.Equal(t, engine.PhaseStatusCancelled, install.Status)
	require.Equal(t, 1, install.AttemptCount())
	assert.Equal(t, engine.AttemptError, install.Attempts[0].Outcome)
	assert.Equal(t, engine.PhaseStatusSkipped, op.Phase(operations.PhaseAwaitReachable).Status)
	assert.Equal(t, engine.PhaseStatusSkipped, op.Phase(operations.PhaseSettle).Status)
	assert.Equal(t, []string{"started", "failed:operation cancelled"}, f.notifier.Events())
}

func TestUpdateProgressIsLoggedOnceByObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	device := &fakeDevice{
		primaryKeys: []string{"5"},
		values:      map[string]string{"9703/6": "Install is in progress, 40%"},
		reachable:   []bool{false, true},
	}
	observer := &progressRecorder{}
	ctrl, err := operations.NewUpdateController(operations.Deps{
		Device:   device,
		Notifier: &fakeNotifier{},
		Clock:    enginetest.NewFakeClock(epoch),
		Observer: observer,
		Logger:   &logger,
	}, operations.DefaultUpdateOptions())
	require.NoError(t, err)

	_, err = ctrl.Run(context.Background(), operations.UpdateRequest{TargetID: "42/2002", Image: "bootflash:image.bin"})

	require.NoError(t, err)
	assert.Equal(t, []string{"0:Install is in progress, 40%"}, observer.progress)
	assert.NotContains(t, buf.String(), "Install progress")
}

func TestNewUpdateControllerValidation(t *testing.T) {
	deps := operations.Deps{Device: &fakeDevice{}, Notifier: &fakeNotifier{}}

	opts := operations.DefaultUpdateOptions()
	opts.InstallAttempts = 0
	_, err := operations.NewUpdateController(deps, opts)
	assert.True(t, engine.IsConfiguration(err))

	_, err = operations.NewUpdateController(operations.Deps{Notifier: &fakeNotifier{}}, operations.DefaultUpdateOptions())
	assert.True(t, engine.IsConfiguration(err))
}
