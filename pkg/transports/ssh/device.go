package ssh

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/netops/pkg/engine"
)

// Target is one managed network device.
type Target struct {
	// ID is the identifier operations refer to the device by.
	ID string

	// Name is the display name used in backup file names.
	Name string

	Config *Config
}

// TableIDs names the two command tables a Device exposes.
type TableIDs struct {
	// Responses holds a single row keyed by the index of the latest command.
	Responses string

	// Output holds the output of every command keyed by its index.
	Output string
}

// DefaultTableIDs mirrors the parameter ids of the management platform driver.
var DefaultTableIDs = TableIDs{Responses: "9700", Output: "9703"}

// maxRetainedOutputs bounds the per-target output table.
const maxRetainedOutputs = 256

// commandLog is the per-target command history backing the tables.
type commandLog struct {
	seq     int
	latest  int
	outputs map[int]string
}

// Device implements operations.Device over SSH. Every issued command gets an
// increasing index; its output can be read back from the output table once
// the command has finished.
type Device struct {
	mu       sync.Mutex
	targets  map[string]Target
	sessions map[string]Transport
	logs     map[string]*commandLog
	tables   TableIDs

	// ctx bounds commands that outlive IssueCommand; Close cancels it.
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup

	// newTransport creates the transport for a target config.
	newTransport func(*Config) (Transport, error)
}

// NewDevice creates a device layer for targets.
func NewDevice(targets []Target, tables TableIDs) (*Device, error) {
	if tables.Responses == "" || tables.Output == "" {
		return nil, fmt.Errorf("response and output table ids are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		ctx:      ctx,
		cancel:   cancel,
		targets:  make(map[string]Target, len(targets)),
		sessions: make(map[string]Transport),
		logs:     make(map[string]*commandLog),
		tables:   tables,
		newTransport: func(cfg *Config) (Transport, error) {
			return NewClient(cfg)
		},
	}

	for _, t := range targets {
		if t.ID == "" {
			cancel()
			return nil, fmt.Errorf("target id is required")
		}
		if t.Config == nil {
			cancel()
			return nil, fmt.Errorf("target %s: ssh config is required", t.ID)
		}
		if _, dup := d.targets[t.ID]; dup {
			cancel()
			return nil, fmt.Errorf("duplicate target id: %s", t.ID)
		}
		d.targets[t.ID] = t
	}

	return d, nil
}

// Target returns the target registered under id.
func (d *Device) Target(id string) (Target, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.targets[id]
	return t, ok
}

// session returns a connected transport for targetID, dialing on first use.
func (d *Device) session(ctx context.Context, targetID string) (Transport, error) {
	d.mu.Lock()
	target, ok := d.targets[targetID]
	t := d.sessions[targetID]
	d.mu.Unlock()

	if !ok {
		return nil, engine.NewConfigurationError(fmt.Sprintf("unknown target %q", targetID), nil).
			WithCode(engine.ErrCodeValidation)
	}
	if t != nil && t.IsConnected() {
		return t, nil
	}

	if t == nil {
		var err error
		t, err = d.newTransport(target.Config)
		if err != nil {
			return nil, engine.NewConfigurationError("invalid ssh config", err).WithTarget(targetID)
		}
		d.mu.Lock()
		d.sessions[targetID] = t
		d.mu.Unlock()
	}

	if err := t.Connect(ctx); err != nil {
		return nil, engine.NewTransportError("connect failed", err).WithTarget(targetID)
	}
	return t, nil
}

// IssueCommand starts command on the target and returns once the device has
// accepted it. The command gets the next index at once; its output is
// recorded under that index when it finishes. Commands such as "install all"
// run until the device reboots and drops the session, which still counts as
// issued.
func (d *Device) IssueCommand(ctx context.Context, targetID, command string) error {
	if err := ctx.Err(); err != nil {
		return engine.NewCancelledError(err)
	}

	t, err := d.session(ctx, targetID)
	if err != nil {
		return err
	}

	rc, err := t.StartCommand(d.ctx, command)
	if err != nil {
		return engine.NewTransportError("command failed", err).
			WithCode(engine.ErrCodeCommandFailed).
			WithTarget(targetID).
			WithDetail("command", command)
	}

	d.mu.Lock()
	cl := d.logs[targetID]
	if cl == nil {
		cl = &commandLog{outputs: make(map[int]string)}
		d.logs[targetID] = cl
	}
	cl.seq++
	cl.latest = cl.seq
	index := cl.seq
	d.mu.Unlock()

	d.running.Add(1)
	go func() {
		defer d.running.Done()
		res, err := rc.Wait()
		d.record(targetID, index, res)

		log.Debug().
			Err(err).
			Str("target", targetID).
			Int("index", index).
			Dur("duration", res.Duration).
			Msg("command recorded")
	}()
	return nil
}

// record stores the output of the command at index. Failed commands keep
// their error output so it can be read back like any other output.
func (d *Device) record(targetID string, index int, res ExecResult) {
	out := res.Stdout
	if out == "" {
		out = res.Stderr
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cl := d.logs[targetID]
	if cl == nil {
		return
	}
	cl.outputs[index] = out
	delete(cl.outputs, index-maxRetainedOutputs)
}

// wait blocks until every started command has finished.
func (d *Device) wait() {
	d.running.Wait()
}

// ReadTableValue reads the output recorded under rowKey.
func (d *Device) ReadTableValue(_ context.Context, targetID, tableID, rowKey string) (string, error) {
	if err := d.checkTable(targetID, tableID); err != nil {
		return "", err
	}

	notFound := engine.NewTransportError(fmt.Sprintf("row %s not found in table %s", rowKey, tableID), nil).
		WithCode(engine.ErrCodeNotFound).
		WithTarget(targetID)

	index, err := strconv.Atoi(rowKey)
	if err != nil {
		return "", notFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cl := d.logs[targetID]
	if cl == nil {
		return "", notFound
	}
	if tableID == d.tables.Responses && index != cl.latest {
		return "", notFound
	}
	out, ok := cl.outputs[index]
	if !ok {
		return "", notFound
	}
	return out, nil
}

// ReadTablePrimaryKeys returns the row keys of tableID in ascending order.
func (d *Device) ReadTablePrimaryKeys(_ context.Context, targetID, tableID string) ([]string, error) {
	if err := d.checkTable(targetID, tableID); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cl := d.logs[targetID]
	if cl == nil {
		return nil, nil
	}

	if tableID == d.tables.Responses {
		return []string{strconv.Itoa(cl.latest)}, nil
	}

	indexes := make([]int, 0, len(cl.outputs))
	for i := range cl.outputs {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	keys := make([]string, len(indexes))
	for i, n := range indexes {
		keys[i] = strconv.Itoa(n)
	}
	return keys, nil
}

// IsReachable reports whether the target accepts a session and answers the
// health check within its reachability timeout. A failed probe drops the
// session so the next call redials.
func (d *Device) IsReachable(ctx context.Context, targetID string) bool {
	target, ok := d.Target(targetID)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, target.Config.ReachabilityTimeout)
	defer cancel()

	t, err := d.session(ctx, targetID)
	if err == nil {
		err = t.HealthCheck(ctx)
	}
	if err != nil {
		log.Debug().Err(err).Str("target", targetID).Msg("target unreachable")
		d.drop(targetID)
		return false
	}
	return true
}

// Close ends running commands and disconnects every session.
func (d *Device) Close() error {
	d.cancel()
	d.wait()

	d.mu.Lock()
	sessions := d.sessions
	d.sessions = make(map[string]Transport)
	d.mu.Unlock()

	var firstErr error
	for id, t := range sessions {
		if err := t.Disconnect(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("disconnect %s: %w", id, err)
		}
	}
	return firstErr
}

func (d *Device) drop(targetID string) {
	d.mu.Lock()
	t := d.sessions[targetID]
	delete(d.sessions, targetID)
	d.mu.Unlock()

	if t != nil {
		_ = t.Disconnect()
	}
}

func (d *Device) checkTable(targetID, tableID string) error {
	if _, ok := d.Target(targetID); !ok {
		return engine.NewConfigurationError(fmt.Sprintf("unknown target %q", targetID), nil).
			WithCode(engine.ErrCodeValidation)
	}
	if tableID != d.tables.Responses && tableID != d.tables.Output {
		return engine.NewTransportError(fmt.Sprintf("unknown table %s", tableID), nil).
			WithCode(engine.ErrCodeNotFound).
			WithTarget(targetID)
	}
	return nil
}
