package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client reads and writes files on one remote host.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu          sync.Mutex
	client      *ssh.Client
	sftp        *sftp.Client
	release     func()
	connectedAt time.Time
}

// NewClient creates a client. It does not connect.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.FileMode == 0 {
		config.FileMode = 0o644
	}

	return &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("host", config.Address()).Logger(),
	}, nil
}

type dialResult struct {
	client *ssh.Client
	err    error
}

// Connect establishes the SSH connection and opens an SFTP session on it.
// Connecting an already connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp != nil {
		return nil
	}

	clientConfig, release, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Host: c.config.Address(), Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	c.logger.Debug().Msg("Establishing SSH connection")

	resCh := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		resCh <- dialResult{client: client, err: err}
	}()

	var client *ssh.Client
	select {
	case <-ctx.Done():
		go func() {
			if r := <-resCh; r.client != nil {
				_ = r.client.Close()
			}
			release()
		}()
		return &TransportError{Op: "connect", Host: address, Err: ctx.Err(), IsTemporary: true}
	case r := <-resCh:
		if r.err != nil {
			release()
			return &TransportError{Op: "connect", Host: address, Err: r.err, IsTemporary: true}
		}
		client = r.client
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		release()
		return &TransportError{
			Op:          "sftp-init",
			Host:        address,
			Err:         fmt.Errorf("failed to start SFTP: %w", err),
			IsTemporary: true,
		}
	}

	c.client = client
	c.sftp = sftpClient
	c.release = release
	c.connectedAt = time.Now()

	c.logger.Info().Msg("SSH connection established")
	return nil
}

// Close closes the SFTP session and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	c.logger.Debug().Msg("Closing SSH connection")

	_ = c.sftp.Close()
	err := c.client.Close()
	c.release()
	c.client = nil
	c.sftp = nil

	if err != nil {
		return &TransportError{Op: "disconnect", Host: c.config.Address(), Err: err}
	}
	return nil
}

// IsConnected returns true if the client has an open session.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sftp != nil
}

// HealthCheck verifies the session still answers requests.
func (c *Client) HealthCheck(ctx context.Context) error {
	s, err := c.session(ctx, "healthcheck")
	if err != nil {
		return err
	}
	if _, err := s.Getwd(); err != nil {
		return &TransportError{Op: "healthcheck", Host: c.config.Address(), Err: err, IsTemporary: true}
	}
	return nil
}

func (c *Client) session(ctx context.Context, op string) (*sftp.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: op, Host: c.config.Address(), Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp == nil {
		return nil, &TransportError{Op: op, Host: c.config.Address(), Err: fmt.Errorf("not connected")}
	}
	return c.sftp, nil
}

// ReadFile returns the content of a remote file. A missing file yields an
// error matching fs.ErrNotExist.
func (c *Client) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	s, err := c.session(ctx, "read")
	if err != nil {
		return nil, err
	}

	f, err := s.Open(remotePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", remotePath, fs.ErrNotExist)
		}
		return nil, &TransportError{Op: "read", Host: c.config.Address(), Err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &TransportError{Op: "read", Host: c.config.Address(), Err: err, IsTemporary: true}
	}
	return data, nil
}

// WriteFile replaces a remote file through a temporary file in the same
// directory, creating parent directories as needed.
func (c *Client) WriteFile(ctx context.Context, remotePath string, data []byte) error {
	s, err := c.session(ctx, "write")
	if err != nil {
		return err
	}

	start := time.Now()
	dir := path.Dir(remotePath)
	if err := s.MkdirAll(dir); err != nil {
		return &TransportError{Op: "mkdir", Host: c.config.Address(), Err: err}
	}

	tmp := path.Join(dir, "."+path.Base(remotePath)+".tmp-"+uuid.NewString()[:8])
	if err := c.writeTemp(s, tmp, data); err != nil {
		_ = s.Remove(tmp)
		return &TransportError{Op: "write", Host: c.config.Address(), Err: err, IsTemporary: true}
	}

	if err := s.PosixRename(tmp, remotePath); err != nil {
		// Servers without posix-rename refuse to rename over a file.
		_ = s.Remove(remotePath)
		if err := s.Rename(tmp, remotePath); err != nil {
			_ = s.Remove(tmp)
			return &TransportError{Op: "rename", Host: c.config.Address(), Err: err}
		}
	}

	c.logger.Debug().
		Str("path", remotePath).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Remote file written")
	return nil
}

func (c *Client) writeTemp(s *sftp.Client, tmp string, data []byte) error {
	f, err := s.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(c.config.FileMode); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ConnectedAt returns when the current connection was established.
func (c *Client) ConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedAt
}
