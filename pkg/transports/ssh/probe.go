package ssh

import (
	"context"
	"errors"
	"io/fs"
	"path"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/netops/pkg/engine"
	"github.com/openfroyo/netops/pkg/operations"
)

// SFTPProbe checks for backup files on the TFTP server over SFTP.
type SFTPProbe struct {
	transport Transport

	// root is the TFTP root directory on the file server.
	root string
}

// NewSFTPProbe creates a probe that logs into the file server described by config.
func NewSFTPProbe(config *Config, root string) (*SFTPProbe, error) {
	client, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	return &SFTPProbe{transport: client, root: root}, nil
}

// Path returns the absolute path of loc on the file server.
func (p *SFTPProbe) Path(loc operations.BackupLocation) string {
	return path.Join(p.root, loc.FolderPath, loc.FileName)
}

// ArtifactExists reports whether the backup file exists and is not empty.
func (p *SFTPProbe) ArtifactExists(ctx context.Context, loc operations.BackupLocation) (bool, error) {
	if !p.transport.IsConnected() {
		if err := p.transport.Connect(ctx); err != nil {
			return false, engine.NewTransportError("file server connect failed", err)
		}
	}

	remote := p.Path(loc)
	info, err := p.transport.Stat(ctx, remote)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, engine.NewTransportError("stat backup file failed", err).
			WithDetail("path", remote)
	}

	if info.IsDir() {
		return false, engine.NewPreconditionError("backup path is a directory", nil).
			WithDetail("path", remote)
	}

	log.Debug().Str("path", remote).Int64("size", info.Size()).Msg("backup file found")
	return info.Size() > 0, nil
}

// Close disconnects from the file server.
func (p *SFTPProbe) Close() error {
	return p.transport.Disconnect()
}
