package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/nixser/pkg/transports/ssh"
)

// destination is where one render's text is stored.
type destination interface {
	// Key names the output in the history.
	Key() string

	// Read returns the current content, or an error matching
	// fs.ErrNotExist when there is none.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the content atomically.
	Write(ctx context.Context, data []byte) error
}

// WithRemotes enables ssh:// outputs, written over connections from pool.
func WithRemotes(pool *ssh.Pool) Option {
	return func(e *Engine) {
		e.remotes = pool
	}
}

func (e *Engine) resolveOutput(ctx context.Context, output string) (destination, error) {
	if !ssh.IsTarget(output) {
		path, err := filepath.Abs(output)
		if err != nil {
			return nil, err
		}
		return localFile(path), nil
	}

	if e.remotes == nil {
		return nil, fmt.Errorf("remote outputs are not enabled")
	}
	target, err := ssh.ParseTarget(output)
	if err != nil {
		return nil, err
	}
	client, err := e.remotes.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	return &remoteFile{client: client, target: target}, nil
}

type localFile string

func (f localFile) Key() string { return string(f) }

func (f localFile) Read(context.Context) ([]byte, error) {
	return os.ReadFile(string(f))
}

func (f localFile) Write(_ context.Context, data []byte) error {
	return writeFileAtomic(string(f), data)
}

// writeFileAtomic replaces path through a temporary file in the same
// directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

type remoteFile struct {
	client *ssh.Client
	target *ssh.Target
}

func (f *remoteFile) Key() string { return f.target.String() }

func (f *remoteFile) Read(ctx context.Context) ([]byte, error) {
	return f.client.ReadFile(ctx, f.target.Path)
}

func (f *remoteFile) Write(ctx context.Context, data []byte) error {
	return f.client.WriteFile(ctx, f.target.Path, data)
}
