package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/nixser/pkg/nix"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const (
	defaultWASMMemoryPages = 256 // 16 MiB
	maxGeneratorOutput     = 64 << 20
)

// WASMDecoder runs a WASI command module and decodes the JSON it writes to
// stdout. The module gets no filesystem, network or environment; its only
// argument is the source file name.
type WASMDecoder struct {
	timeout          time.Duration
	memoryLimitPages uint32
}

// NewWASMDecoder creates a decoder with the given time limit and memory cap
// in 64 KiB pages. Zero values select 30 seconds and 16 MiB.
func NewWASMDecoder(timeout time.Duration, memoryLimitPages uint32) *WASMDecoder {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if memoryLimitPages == 0 {
		memoryLimitPages = defaultWASMMemoryPages
	}
	return &WASMDecoder{timeout: timeout, memoryLimitPages: memoryLimitPages}
}

// Decode instantiates the module, which runs its _start function to
// completion.
func (d *WASMDecoder) Decode(ctx context.Context, src Source) (nix.Value, error) {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(d.memoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(runCtx, runtimeConfig)
	defer runtime.Close(context.Background())

	if _, err := wasi_snapshot_preview1.Instantiate(runCtx, runtime); err != nil {
		return nix.Value{}, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := runtime.CompileModule(runCtx, src.Data)
	if err != nil {
		return nix.Value{}, LoadError{File: src.Name, Message: fmt.Sprintf("invalid module: %v", err)}
	}

	stdout := &cappedBuffer{limit: maxGeneratorOutput}
	stderr := &cappedBuffer{limit: 4096}
	moduleConfig := wazero.NewModuleConfig().
		WithArgs(filepath.Base(src.Name)).
		WithStdout(stdout).
		WithStderr(stderr)

	mod, err := runtime.InstantiateModule(runCtx, compiled, moduleConfig)
	if mod != nil {
		_ = mod.Close(runCtx)
	}
	if err != nil {
		var exitErr *sys.ExitError
		switch {
		case runCtx.Err() != nil:
			return nix.Value{}, LoadError{File: src.Name, Message: fmt.Sprintf("generator stopped: %v", runCtx.Err())}
		case errors.As(err, &exitErr) && exitErr.ExitCode() == 0:
		case errors.As(err, &exitErr):
			return nix.Value{}, LoadError{File: src.Name, Message: generatorFailure(fmt.Sprintf("exit code %d", exitErr.ExitCode()), stderr)}
		default:
			return nix.Value{}, LoadError{File: src.Name, Message: generatorFailure(err.Error(), stderr)}
		}
	}
	if stdout.overflow {
		return nix.Value{}, LoadError{File: src.Name, Message: fmt.Sprintf("generator output exceeds %d bytes", maxGeneratorOutput)}
	}

	return NewJSONDecoder().Decode(ctx, Source{Name: src.Name, Data: stdout.Bytes()})
}

func generatorFailure(reason string, stderr *cappedBuffer) string {
	msg := "generator failed: " + reason
	if s := strings.TrimSpace(stderr.String()); s != "" {
		msg += ": " + s
	}
	return msg
}

// cappedBuffer keeps at most limit bytes and records whether more arrived.
type cappedBuffer struct {
	bytes.Buffer
	limit    int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.limit - b.Len(); len(p) > room {
		p = p[:max(room, 0)]
		b.overflow = true
	}
	b.Buffer.Write(p)
	return n, nil
}
