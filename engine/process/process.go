// Package process runs the engine as a child process speaking the LSP base
// protocol on stdio, and exposes it through the engine call/callback
// surface.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/gossip-lsp/langruby/engine"
	"github.com/gossip-lsp/langruby/jsonrpc"
	"github.com/gossip-lsp/langruby/transport"
)

// DefaultCommand is the engine executable used when neither the loader nor
// the payload names one.
const DefaultCommand = "sorbet"

// DefaultArgs starts Sorbet as a language server over stdio.
var DefaultArgs = []string{"--lsp", "--disable-watchman", "--dir", "."}

// Loader starts engine processes.
type Loader struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Logger  *slog.Logger
}

// Instantiate starts the engine. A non-empty payload source overrides the
// loader's command.
func (l *Loader) Instantiate(ctx context.Context, p engine.Payload) (engine.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := l.Command
	if p.Source != "" {
		name = p.Source
	}
	if name == "" {
		name = DefaultCommand
	}
	args := l.Args
	if args == nil {
		args = DefaultArgs
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = l.Dir
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stderr = os.Stderr

	proc, err := transport.Command(cmd)
	if err != nil {
		return nil, err
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Module{
		proc:      proc,
		codec:     jsonrpc.NewCodec(proc, proc),
		callbacks: make(map[engine.Handle]func(string)),
		logger:    logger.With("engine", name, "pid", proc.Pid()),
	}
	go m.readLoop()
	return m, nil
}

// Module is a running engine process. Every framed message the process
// writes is handed, body only, to the callback whose handle sent last.
type Module struct {
	proc   *transport.Process
	codec  *jsonrpc.Codec
	logger *slog.Logger

	mu        sync.Mutex
	callbacks map[engine.Handle]func(string)
	next      engine.Handle
	active    engine.Handle
}

// RegisterCallback implements engine.Module.
func (m *Module) RegisterCallback(fn func(string)) engine.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.callbacks[m.next] = fn
	return m.next
}

// Invoke implements engine.Module. Messages already carrying a
// Content-Length header are written as is.
func (m *Module) Invoke(export string, argTypes []engine.ArgType, args ...any) error {
	h, msg, err := engine.CheckLSPArgs(export, argTypes, args)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if _, ok := m.callbacks[h]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: unknown handle %d", engine.ErrBadArguments, h)
	}
	m.active = h
	m.mu.Unlock()

	if err := m.proc.Err(); err != nil {
		return err
	}
	if bytes.HasPrefix([]byte(msg), []byte("Content-Length:")) {
		_, err = m.proc.Write([]byte(msg))
		return err
	}
	return m.codec.Write([]byte(msg))
}

func (m *Module) readLoop() {
	for {
		body, err := m.codec.Read()
		if err != nil {
			if !errors.Is(err, os.ErrClosed) {
				m.logger.Debug("engine output ended", "error", err)
			}
			return
		}
		m.mu.Lock()
		fn := m.callbacks[m.active]
		m.mu.Unlock()
		if fn == nil {
			m.logger.Warn("dropping engine output before first message", "bytes", len(body))
			continue
		}
		fn(string(body))
	}
}

// Done is closed when the process exits.
func (m *Module) Done() <-chan struct{} { return m.proc.Done() }

// Err reports how the process exited.
func (m *Module) Err() error { return m.proc.Err() }

// Close stops the process.
func (m *Module) Close() error { return m.proc.Close() }
