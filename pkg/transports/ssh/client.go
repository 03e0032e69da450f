package ssh

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client implements Transport over a single SSH connection.
type Client struct {
	config *Config

	client      *ssh.Client
	proxy       *ssh.Client
	connMu      sync.RWMutex
	isConnected bool
	connectedAt time.Time
	lastUsedAt  time.Time
}

// NewClient creates a new SSH transport client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{config: config}, nil
}

// Connect establishes an SSH connection to the remote host.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected && c.client != nil {
		if err := c.healthCheckInternal(ctx); err == nil {
			return nil
		}
		log.Warn().Str("host", c.config.Host).Msg("existing connection is dead, reconnecting")
		c.closeLocked()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{
			Op:          "connect",
			Err:         err,
			IsAuthError: true,
		}
	}

	if c.config.IsProxyEnabled() {
		return c.connectViaProxy(ctx, clientConfig)
	}

	return c.connectDirect(ctx, clientConfig)
}

// connectDirect establishes a direct SSH connection.
func (c *Client) connectDirect(ctx context.Context, clientConfig *ssh.ClientConfig) error {
	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		// A dial that completes after cancellation must not leak.
		go func() {
			if client := <-connChan; client != nil {
				_ = client.Close()
			}
		}()
		return &TransportError{
			Op:          "connect",
			Err:         ctx.Err(),
			IsTemporary: true,
		}
	case err := <-errChan:
		return &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: true,
		}
	case client := <-connChan:
		c.established(client, nil)
		log.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// connectViaProxy establishes an SSH connection through a jump host.
func (c *Client) connectViaProxy(ctx context.Context, targetConfig *ssh.ClientConfig) error {
	proxyConfig := &Config{
		Host:                  c.config.ProxyHost,
		Port:                  c.config.ProxyPort,
		User:                  c.config.ProxyUser,
		AuthMethod:            c.config.ProxyAuthMethod,
		Password:              c.config.ProxyPassword,
		PrivateKeyPath:        c.config.ProxyPrivateKeyPath,
		ConnectionTimeout:     c.config.ConnectionTimeout,
		StrictHostKeyChecking: c.config.StrictHostKeyChecking,
		KnownHostsPath:        c.config.KnownHostsPath,
	}

	proxyClientConfig, err := proxyConfig.BuildSSHClientConfig()
	if err != nil {
		return fmt.Errorf("failed to build proxy config: %w", err)
	}

	log.Debug().Str("proxy", proxyConfig.Address()).Msg("connecting to proxy host")

	proxyClient, err := ssh.Dial("tcp", proxyConfig.Address(), proxyClientConfig)
	if err != nil {
		return &TransportError{
			Op:          "connect-proxy",
			Err:         err,
			IsTemporary: true,
		}
	}

	if err := ctx.Err(); err != nil {
		_ = proxyClient.Close()
		return &TransportError{Op: "connect-proxy", Err: err, IsTemporary: true}
	}

	targetAddress := c.config.Address()
	proxyConn, err := proxyClient.Dial("tcp", targetAddress)
	if err != nil {
		_ = proxyClient.Close()
		return &TransportError{
			Op:          "connect-via-proxy",
			Err:         err,
			IsTemporary: true,
		}
	}

	ncc, chans, reqs, err := ssh.NewClientConn(proxyConn, targetAddress, targetConfig)
	if err != nil {
		_ = proxyConn.Close()
		_ = proxyClient.Close()
		return &TransportError{
			Op:          "connect-via-proxy",
			Err:         err,
			IsTemporary: true,
			IsAuthError: true,
		}
	}

	c.established(ssh.NewClient(ncc, chans, reqs), proxyClient)
	log.Info().Str("target", targetAddress).Str("proxy", proxyConfig.Address()).Msg("SSH connection established via proxy")
	return nil
}

// established records a fresh connection (must be called with lock held).
func (c *Client) established(client, proxy *ssh.Client) {
	c.client = client
	c.proxy = proxy
	c.isConnected = true
	c.connectedAt = time.Now()
	c.lastUsedAt = c.connectedAt

	if c.config.KeepAliveInterval > 0 {
		go c.keepAlive(client)
	}
}

// Disconnect closes the SSH connection and releases all resources.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil
	}

	log.Debug().Str("host", c.config.Host).Msg("closing SSH connection")

	if err := c.closeLocked(); err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *Client) closeLocked() error {
	var err error
	if c.client != nil {
		err = c.client.Close()
	}
	if c.proxy != nil {
		_ = c.proxy.Close()
	}
	c.client = nil
	c.proxy = nil
	c.isConnected = false
	return err
}

// IsConnected returns true if the transport has an active connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.isConnected
}

// HealthCheck runs the configured health check command.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return &TransportError{
			Op:  "healthcheck",
			Err: fmt.Errorf("not connected"),
		}
	}

	return c.healthCheckInternal(ctx)
}

// healthCheckInternal performs the actual health check (must be called with lock held).
func (c *Client) healthCheckInternal(ctx context.Context) error {
	session, err := c.client.NewSession()
	if err != nil {
		return &TransportError{
			Op:          "healthcheck",
			Err:         err,
			IsTemporary: true,
		}
	}
	defer session.Close()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(c.config.HealthCheckCommand)
	}()

	select {
	case <-ctx.Done():
		return &TransportError{Op: "healthcheck", Err: ctx.Err(), IsTemporary: true}
	case err := <-done:
		if err != nil {
			return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
		}
		return nil
	}
}

// keepAlive sends periodic keep-alive requests until client is replaced or fails.
func (c *Client) keepAlive(client *ssh.Client) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for range ticker.C {
		c.connMu.RLock()
		current := c.client
		c.connMu.RUnlock()
		if current != client {
			return
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			retries++
			log.Warn().Err(err).Str("host", c.config.Host).Int("retries", retries).Msg("keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				log.Error().Str("host", c.config.Host).Msg("keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
		c.touch()
	}
}

func (c *Client) touch() {
	c.connMu.Lock()
	c.lastUsedAt = time.Now()
	c.connMu.Unlock()
}

// GetConnectionInfo returns information about the current connection.
func (c *Client) GetConnectionInfo() ConnectionInfo {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return ConnectionInfo{
		Host:         c.config.Host,
		Port:         c.config.Port,
		User:         c.config.User,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastUsedAt,
	}
}

// getClient returns the underlying SSH client.
func (c *Client) getClient() (*ssh.Client, error) {
	c.connMu.RLock()
	client, connected := c.client, c.isConnected
	c.connMu.RUnlock()

	if !connected || client == nil {
		return nil, &TransportError{
			Op:  "get-client",
			Err: fmt.Errorf("not connected"),
		}
	}

	c.touch()
	return client, nil
}

// Stat returns file information for remotePath via SFTP.
func (c *Client) Stat(ctx context.Context, remotePath string) (os.FileInfo, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	type result struct {
		info os.FileInfo
		err  error
	}
	done := make(chan result, 1)

	go func() {
		sftpClient, err := sftp.NewClient(sshClient)
		if err != nil {
			done <- result{err: &TransportError{
				Op:          "sftp",
				Err:         fmt.Errorf("failed to create SFTP client: %w", err),
				IsTemporary: true,
			}}
			return
		}
		defer sftpClient.Close()

		info, err := sftpClient.Stat(remotePath)
		done <- result{info: info, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, &TransportError{Op: "stat", Err: ctx.Err(), IsTemporary: true}
	case r := <-done:
		return r.info, r.err
	}
}
