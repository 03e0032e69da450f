package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// RunningCommand is a command started with StartCommand. Its session stays
// open until the command exits, the session drops or the start context ends.
type RunningCommand struct {
	Command   string
	StartedAt time.Time

	host    string
	session *ssh.Session
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	done    chan struct{}

	mu     sync.Mutex
	killed error

	result ExecResult
	err    error
}

// StartCommand starts cmd in a new session and returns as soon as the remote
// side has accepted the exec request. ctx bounds the whole command, not only
// its start: when ctx ends the session is closed.
func (c *Client) StartCommand(ctx context.Context, cmd string) (*RunningCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "execute", Err: err}
	}

	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}

	rc := &RunningCommand{
		Command:   cmd,
		StartedAt: time.Now(),
		host:      c.config.Host,
		session:   session,
		done:      make(chan struct{}),
	}
	session.Stdout = &rc.stdout
	session.Stderr = &rc.stderr

	log.Debug().
		Str("host", c.config.Host).
		Str("command", cmd).
		Msg("starting command")

	if err := session.Start(cmd); err != nil {
		_ = session.Close()
		return nil, &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to start command: %w", err),
			IsTemporary: true,
		}
	}

	go rc.wait()
	go rc.watch(ctx)

	return rc, nil
}

// watch closes the session when ctx ends before the command does.
func (rc *RunningCommand) watch(ctx context.Context) {
	select {
	case <-rc.done:
	case <-ctx.Done():
		rc.mu.Lock()
		rc.killed = ctx.Err()
		rc.mu.Unlock()
		// Network OSes often ignore signals; closing the session is what ends the exec.
		_ = rc.session.Signal(ssh.SIGKILL)
		_ = rc.session.Close()
	}
}

func (rc *RunningCommand) wait() {
	execErr := rc.session.Wait()
	_ = rc.session.Close()

	rc.mu.Lock()
	if rc.killed != nil {
		execErr = rc.killed
	}
	rc.mu.Unlock()

	rc.result = ExecResult{
		Stdout:    strings.TrimSpace(rc.stdout.String()),
		Stderr:    strings.TrimSpace(rc.stderr.String()),
		StartedAt: rc.StartedAt,
		Duration:  time.Since(rc.StartedAt),
	}

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			rc.result.ExitCode = exitErr.ExitStatus()
			rc.err = &TransportError{
				Op:  "execute",
				Err: fmt.Errorf("command exited with code %d: %s", rc.result.ExitCode, rc.result.Stderr),
			}
		} else {
			rc.result.ExitCode = -1
			rc.err = &TransportError{Op: "execute", Err: execErr, IsTemporary: true}
		}
	}

	log.Debug().
		Str("host", rc.host).
		Str("command", rc.Command).
		Int("stdout_len", len(rc.result.Stdout)).
		Int("stderr_len", len(rc.result.Stderr)).
		Dur("duration", rc.result.Duration).
		Err(execErr).
		Msg("command completed")

	close(rc.done)
}

// Done is closed once the command has finished.
func (rc *RunningCommand) Done() <-chan struct{} {
	return rc.done
}

// Wait blocks until the command finishes and returns its result. A session
// that ends without an exit status, as when a device reboots, is a temporary
// TransportError; the output received until then is still returned.
func (rc *RunningCommand) Wait() (ExecResult, error) {
	<-rc.done
	return rc.result, rc.err
}

// ExecuteCommand runs cmd and waits for it, bounded by the configured command timeout.
func (c *Client) ExecuteCommand(ctx context.Context, cmd string) (ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	rc, err := c.StartCommand(ctx, cmd)
	if err != nil {
		return ExecResult{StartedAt: time.Now(), ExitCode: -1}, err
	}
	return rc.Wait()
}
