package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// installDuration is how long an "install all" exec stays open.
const installDuration = 300 * time.Millisecond

// testSSHServer is a minimal device emulator: exec requests answer a few
// NX-OS style commands and the sftp subsystem serves the local filesystem.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	done     chan struct{}

	// healthy controls whether the health check command succeeds.
	healthy atomic.Bool

	mu       sync.Mutex
	commands []string
}

func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	_, hostKey, err := generateTestKey()
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "admin" && string(pass) == "cisco123" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &testSSHServer{
		listener: listener,
		config:   config,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
	}
	server.healthy.Store(true)

	go server.serve()
	t.Cleanup(server.close)

	return server
}

// clientConfig returns a password-auth config pointing at the server.
func (s *testSSHServer) clientConfig() *Config {
	host, portStr, _ := net.SplitHostPort(s.addr)
	port := 0
	fmt.Sscanf(portStr, "%d", &port)

	config := DefaultConfig(host, "admin")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "cisco123"
	config.StrictHostKeyChecking = false
	config.ConnectionTimeout = 5 * time.Second
	config.ReachabilityTimeout = 5 * time.Second
	return config
}

func (s *testSSHServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}

		go s.handleChannel(channel, requests)
	}
}

func exitStatus(code byte) []byte {
	return []byte{0, 0, 0, code}
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			command := string(req.Payload[4:])
			if req.WantReply {
				req.Reply(true, nil)
			}

			s.mu.Lock()
			s.commands = append(s.commands, command)
			s.mu.Unlock()

			switch {
			case command == "true":
				if s.healthy.Load() {
					channel.SendRequest("exit-status", false, exitStatus(0))
				} else {
					channel.SendRequest("exit-status", false, exitStatus(1))
				}
			case command == "sh install all progress":
				channel.Write([]byte("Install is in progress, please wait.\n"))
				channel.SendRequest("exit-status", false, exitStatus(0))
			case strings.HasPrefix(command, "bad"):
				channel.Stderr().Write([]byte("% Invalid command\n"))
				channel.SendRequest("exit-status", false, exitStatus(1))
			case strings.HasPrefix(command, "install all"):
				// The device reboots into the new image: the session ends
				// without an exit status.
				channel.Write([]byte("Installer will perform compatibility check first.\n"))
				time.Sleep(installDuration)
			case command == "sleep":
				time.Sleep(2 * time.Second)
				channel.SendRequest("exit-status", false, exitStatus(0))
			default:
				channel.Write([]byte("command: " + command + "\n"))
				channel.SendRequest("exit-status", false, exitStatus(0))
			}
			return

		case "subsystem":
			if string(req.Payload[4:]) != "sftp" {
				if req.WantReply {
					req.Reply(false, nil)
				}
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			_ = server.Serve()
			_ = server.Close()
			return

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *testSSHServer) close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	s.listener.Close()
}

// generateTestKey generates an ED25519 key pair.
func generateTestKey() (ssh.PublicKey, ssh.Signer, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	signer, err := ssh.NewSignerFromKey(privKey)
	if err != nil {
		return nil, nil, err
	}

	publicKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, nil, err
	}

	return publicKey, signer, nil
}
