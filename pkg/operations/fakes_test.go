package operations_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openfroyo/netops/pkg/engine"
	"github.com/openfroyo/netops/pkg/operations"
)

// fakeDevice is a scripted operations.Device.
type fakeDevice struct {
	mu sync.Mutex

	commands []string
	issueErr map[string]error

	primaryKeys []string
	keysErr     error

	// values maps "table/row" to a cell value; missing rows are NotFound.
	values map[string]string
	reads  []string

	// reachable is consumed one entry per IsReachable call; the last entry repeats.
	reachable      []bool
	reachableCalls int

	// onReachable runs at the start of every IsReachable call.
	onReachable func()
}

func (d *fakeDevice) IssueCommand(_ context.Context, _ string, command string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, command)
	if err, ok := d.issueErr[command]; ok {
		return err
	}
	return nil
}

func (d *fakeDevice) ReadTableValue(_ context.Context, _ string, tableID, rowKey string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := tableID + "/" + rowKey
	d.reads = append(d.reads, key)
	if v, ok := d.values[key]; ok {
		return v, nil
	}
	return "", engine.NewTransportError(fmt.Sprintf("row %s not found", key), nil).WithCode(engine.ErrCodeNotFound)
}

func (d *fakeDevice) ReadTablePrimaryKeys(context.Context, string, string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.primaryKeys, d.keysErr
}

func (d *fakeDevice) IsReachable(context.Context, string) bool {
	if d.onReachable != nil {
		d.onReachable()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.reachable) == 0 {
		return true
	}
	i := d.reachableCalls
	if i >= len(d.reachable) {
		i = len(d.reachable) - 1
	}
	d.reachableCalls++
	return d.reachable[i]
}

func (d *fakeDevice) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// fakeNotifier records notifications as "started", "succeeded" and "failed:<reason>".
type fakeNotifier struct {
	mu        sync.Mutex
	events    []string
	artifacts []any
}

func (n *fakeNotifier) NotifyOperationStarted(context.Context, *engine.Operation) error {
	n.add("started")
	return nil
}

func (n *fakeNotifier) NotifyOperationSucceeded(_ context.Context, _ *engine.Operation, artifact any) error {
	n.mu.Lock()
	n.artifacts = append(n.artifacts, artifact)
	n.mu.Unlock()
	n.add("succeeded")
	return nil
}

func (n *fakeNotifier) NotifyOperationFailed(_ context.Context, _ *engine.Operation, reason string) error {
	n.add("failed:" + reason)
	return nil
}

func (n *fakeNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func (n *fakeNotifier) add(e string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

// fakeProbe reports the artifact present from attempt readyAt on.
type fakeProbe struct {
	calls   int
	readyAt int
	err     error

	// onCall runs at the start of every ArtifactExists call.
	onCall func()
}

func (p *fakeProbe) ArtifactExists(context.Context, operations.BackupLocation) (bool, error) {
	if p.onCall != nil {
		p.onCall()
	}
	p.calls++
	if p.err != nil {
		return false, p.err
	}
	return p.readyAt >= 0 && p.calls > p.readyAt, nil
}

type fakeArchiver struct {
	ops []*engine.Operation
}

func (a *fakeArchiver) Archive(_ context.Context, op *engine.Operation) error {
	a.ops = append(a.ops, op)
	return nil
}

type denyAll struct{}

func (denyAll) Admit(context.Context, *engine.Operation) error {
	return errors.New("maintenance window closed")
}

// progressRecorder captures install progress events on top of the phase callbacks.
type progressRecorder struct {
	engine.NopObserver
	mu       sync.Mutex
	progress []string
	started  int
	done     int
}

func (p *progressRecorder) InstallProgress(_ *engine.Operation, attempt int, progress string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = append(p.progress, fmt.Sprintf("%d:%s", attempt, progress))
}

func (p *progressRecorder) OperationStarted(*engine.Operation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started++
}

func (p *progressRecorder) OperationCompleted(*engine.Operation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
}
