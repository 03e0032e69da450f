package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func connectedClient(t *testing.T, server *testSSHServer) *Client {
	t.Helper()

	client, err := NewClient(server.clientConfig())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect() })
	return client
}

func TestClientConnect(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server)

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}

	info := client.GetConnectionInfo()
	if info.User != "admin" {
		t.Errorf("expected user 'admin', got '%s'", info.User)
	}
	if info.ConnectedAt.IsZero() {
		t.Error("expected ConnectedAt to be set")
	}
}

func TestClientConnectBadPassword(t *testing.T) {
	server := newTestSSHServer(t)
	config := server.clientConfig()
	config.Password = "wrong"

	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	err = client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect to fail")
	}

	var transportErr *TransportError
	if !errors.As(err, &transportErr) || transportErr.Op != "connect" {
		t.Errorf("expected connect TransportError, got %v", err)
	}
}

func TestClientHealthCheck(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check failed: %v", err)
	}

	server.healthy.Store(false)
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check to fail")
	}
}

func TestClientDisconnect(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server)

	if err := client.Disconnect(); err != nil {
		t.Errorf("disconnect failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected client to be disconnected")
	}
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check on closed client to fail")
	}
}

func TestClientExecuteCommand(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server)
	ctx := context.Background()

	t.Run("successful command", func(t *testing.T) {
		res, err := client.ExecuteCommand(ctx, "show version")
		if err != nil {
			t.Fatalf("command failed: %v", err)
		}
		if res.Stdout != "command: show version" {
			t.Errorf("expected echoed command, got '%s'", res.Stdout)
		}
		if res.ExitCode != 0 {
			t.Errorf("expected exit code 0, got %d", res.ExitCode)
		}
	})

	t.Run("non-zero exit", func(t *testing.T) {
		res, err := client.ExecuteCommand(ctx, "bad command")
		if err == nil {
			t.Fatal("expected error")
		}
		if res.ExitCode != 1 {
			t.Errorf("expected exit code 1, got %d", res.ExitCode)
		}
		if res.Stderr != "% Invalid command" {
			t.Errorf("expected stderr, got '%s'", res.Stderr)
		}
	})

	t.Run("command timeout", func(t *testing.T) {
		client.config.CommandTimeout = 100 * time.Millisecond
		defer func() { client.config.CommandTimeout = 2 * time.Minute }()

		_, err := client.ExecuteCommand(ctx, "sleep")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestClientStat(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server)

	dir := t.TempDir()
	file := filepath.Join(dir, "running.cfg")
	if err := os.WriteFile(file, []byte("hostname nx-core-01\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	info, err := client.Stat(context.Background(), file)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size() != int64(len("hostname nx-core-01\n")) {
		t.Errorf("unexpected size %d", info.Size())
	}

	_, err = client.Stat(context.Background(), filepath.Join(dir, "missing.cfg"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestClientKeyBasedAuth(t *testing.T) {
	server := newTestSSHServer(t)

	keyPath := filepath.Join(t.TempDir(), "test_key")
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	config := server.clientConfig()
	config.AuthMethod = AuthMethodKey
	config.PrivateKeyPath = keyPath

	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect with key auth: %v", err)
	}
	defer client.Disconnect()

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
}
