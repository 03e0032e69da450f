package operations

import (
	"context"
	"time"

	"github.com/openfroyo/netops/pkg/engine"
)

// Backup defaults.
const (
	DefaultBaseFolder         = "conf/_CMC/"
	DefaultVRF                = "vrf management"
	DefaultBackupPollInterval = 100 * time.Millisecond
	DefaultBackupTimeout      = 15 * time.Minute

	// PhaseAwaitArtifact is the single polling phase of a backup.
	PhaseAwaitArtifact = "await-artifact"

	// ReasonNoData is reported when no artifact appeared within the budget.
	ReasonNoData = "no data obtained within timeout"
)

// BackupLocation describes where a backup was written.
type BackupLocation struct {
	Server     string `json:"tftp"`
	FolderPath string `json:"folder_path"`
	FileName   string `json:"file_name"`
}

// BackupOptions configures a BackupController.
type BackupOptions struct {
	// Server is the TFTP server address.
	Server string

	// BaseFolder is prefixed to the sanitized device name to form the folder path.
	BaseFolder string

	// VRF is appended to the copy command; empty omits it.
	VRF string

	PollInterval time.Duration
	Timeout      time.Duration

	// Probe, when set, must confirm the file exists before the backup succeeds.
	Probe ArtifactProbe

	Commands CommandSet

	// IssuePolicy defaults to IssuePolicyLogAndContinue.
	IssuePolicy IssuePolicy
}

// DefaultBackupOptions returns options for server with every default applied.
func DefaultBackupOptions(server string) BackupOptions {
	return BackupOptions{
		Server:       server,
		BaseFolder:   DefaultBaseFolder,
		VRF:          DefaultVRF,
		PollInterval: DefaultBackupPollInterval,
		Timeout:      DefaultBackupTimeout,
		Commands:     NXOSCommands,
		IssuePolicy:  IssuePolicyLogAndContinue,
	}
}

// BackupRequest asks for one configuration backup.
type BackupRequest struct {
	// TargetID identifies the device to the Device collaborator.
	TargetID string

	// DeviceName is used for the folder and file names after sanitization.
	DeviceName string

	Kind ConfigurationKind
}

// BackupController copies a device configuration to a TFTP server and waits
// for the artifact.
type BackupController struct {
	controller
	opts BackupOptions
}

// NewBackupController creates a backup controller.
func NewBackupController(deps Deps, opts BackupOptions) (*BackupController, error) {
	if opts.Server == "" {
		return nil, engine.NewConfigurationError("tftp server is required", nil).WithCode(engine.ErrCodeValidation)
	}
	if opts.Commands.CopyConfig == "" {
		opts.Commands = NXOSCommands
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultBackupPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBackupTimeout
	}

	c, err := newController(deps, "backup")
	if err != nil {
		return nil, err
	}
	return &BackupController{controller: c, opts: opts}, nil
}

// Location returns where a backup of name taken at the given time is written.
func (b *BackupController) Location(name string, at time.Time, kind ConfigurationKind) BackupLocation {
	sanitized := SanitizeDeviceName(name)
	return BackupLocation{
		Server:     b.opts.Server,
		FolderPath: b.opts.BaseFolder + sanitized,
		FileName:   BackupFileName(sanitized, at, kind),
	}
}

// Run performs the backup and returns the finished operation. The returned
// error is the classified failure, already reported to the notifier.
func (b *BackupController) Run(ctx context.Context, req BackupRequest) (*engine.Operation, error) {
	op := b.start(ctx, engine.OperationKindBackup, req.TargetID)

	if err := req.Kind.Validate(); err != nil {
		return b.finish(ctx, op, nil, err)
	}

	loc := b.Location(req.DeviceName, op.StartedAt, req.Kind)
	command, err := b.opts.Commands.BackupCommand(req.Kind, loc, b.opts.VRF)
	if err != nil {
		return b.finish(ctx, op, nil, err)
	}
	op.Command = command

	if err := b.admit(ctx, op); err != nil {
		return b.finish(ctx, op, nil, err)
	}

	if err := b.issue(ctx, op, command, b.opts.IssuePolicy); err != nil {
		return b.finish(ctx, op, nil, err)
	}
	op.State = engine.StateCommandIssued

	err = b.sequencer.Run(ctx, op, []engine.PhaseSpec{{
		Name:  PhaseAwaitArtifact,
		State: engine.StateAwaitingArtifact,
		Budget: engine.Budget{
			InterAttemptDelay: b.opts.PollInterval,
			MaxDuration:       b.opts.Timeout,
		},
		Predicate:     b.artifactPredicate(loc),
		TimeoutReason: ReasonNoData,
	}})
	if err != nil {
		return b.finish(ctx, op, nil, err)
	}

	return b.finish(ctx, op, loc, nil)
}

// artifactPredicate confirms the backup file. With no ArtifactProbe the location
// itself is the artifact: the device is never asked about the copy, so the
// phase succeeds on its first attempt even when the copy command could not
// be issued under the log-and-continue policy.
func (b *BackupController) artifactPredicate(loc BackupLocation) engine.Predicate {
	return func(ctx context.Context, _ int) (bool, error) {
		if b.opts.Probe == nil {
			return true, nil
		}
		ok, err := b.opts.Probe.ArtifactExists(ctx, loc)
		if err != nil && engine.IsNotFound(err) {
			return false, nil
		}
		return ok, err
	}
}
