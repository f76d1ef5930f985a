// Package engine is the boundary to the language-analysis engine. The engine
// is an opaque module reachable only through one exported entry point and a
// callback slot: messages go in by invoking the export, answers come back
// through a registered callback.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ExportLSP is the engine export that accepts one protocol message.
const ExportLSP = "lsp"

// ArgType tags an argument passed to an engine export.
type ArgType string

const (
	ArgNumber ArgType = "number"
	ArgString ArgType = "string"
)

// LSPArgTypes is the argument signature of ExportLSP: the callback handle
// followed by the message text.
var LSPArgTypes = []ArgType{ArgNumber, ArgString}

// ErrUnknownExport is returned by modules asked to invoke an export they do
// not have.
var ErrUnknownExport = errors.New("engine: unknown export")

// ErrBadArguments is returned when an invocation does not match the export's
// signature.
var ErrBadArguments = errors.New("engine: arguments do not match signature")

// Payload is what a Loader instantiates: a path or URL naming the engine,
// and optionally its already fetched bytes.
type Payload struct {
	Source string
	Bytes  []byte
}

// Handle identifies a registered callback.
type Handle int

// Module is an instantiated engine.
type Module interface {
	// RegisterCallback makes fn reachable from the engine and returns the
	// handle to pass back in through Invoke.
	RegisterCallback(fn func(message string)) Handle

	// Invoke calls an engine export. Callbacks may fire before Invoke
	// returns.
	Invoke(export string, argTypes []ArgType, args ...any) error

	Close() error
}

// Faulter is implemented by modules that can fail after instantiation, such
// as an engine running in a child process.
type Faulter interface {
	Done() <-chan struct{}
	Err() error
}

// Loader instantiates engine modules.
type Loader interface {
	Instantiate(ctx context.Context, p Payload) (Module, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, p Payload) (Module, error)

func (f LoaderFunc) Instantiate(ctx context.Context, p Payload) (Module, error) {
	return f(ctx, p)
}

// InstantiationError reports that the engine module could not be created.
type InstantiationError struct {
	Source string
	Err    error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("instantiating engine %s: %v", e.Source, e.Err)
}

func (e *InstantiationError) Unwrap() error { return e.Err }

// SendReceive registers receive as the engine's answer callback and returns
// the function that sends a message to the engine.
type SendReceive func(receive func(message string)) (send func(message string) error)

// Engine is a connected engine module.
type Engine struct {
	module Module
	source string

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
	mu        sync.Mutex
	err       error
}

// Connect instantiates the engine described by p.
func Connect(ctx context.Context, loader Loader, p Payload) (*Engine, error) {
	m, err := loader.Instantiate(ctx, p)
	if err != nil {
		return nil, &InstantiationError{Source: p.Source, Err: err}
	}
	e := &Engine{module: m, source: p.Source, closed: make(chan struct{})}
	e.done = e.closed
	if f, ok := m.(Faulter); ok {
		e.done = make(chan struct{})
		go func() {
			select {
			case <-f.Done():
			case <-e.closed:
			}
			close(e.done)
		}()
	}
	return e, nil
}

// SendReceive registers receive and returns a send function bound to its
// handle. Each call registers a separate callback.
func (e *Engine) SendReceive(receive func(message string)) func(message string) error {
	h := e.module.RegisterCallback(receive)
	return func(message string) error {
		select {
		case <-e.closed:
			return ErrClosed
		default:
		}
		return e.module.Invoke(ExportLSP, LSPArgTypes, int(h), message)
	}
}

// ErrClosed is returned by sends on a closed engine.
var ErrClosed = errors.New("engine: closed")

// Done is closed when the engine faults or is closed.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err reports why the engine stopped.
func (e *Engine) Err() error {
	e.mu.Lock()
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if f, ok := e.module.(Faulter); ok {
		return f.Err()
	}
	return nil
}

// Source returns the payload source the engine was loaded from.
func (e *Engine) Source() string { return e.source }

// Close releases the module.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.err = ErrClosed
		e.mu.Unlock()
		close(e.closed)
		err = e.module.Close()
	})
	return err
}

// HandleArg extracts a callback handle from an Invoke argument.
func HandleArg(v any) (Handle, error) {
	switch h := v.(type) {
	case Handle:
		return h, nil
	case int:
		return Handle(h), nil
	case int64:
		return Handle(h), nil
	case float64:
		return Handle(h), nil
	default:
		return 0, fmt.Errorf("%w: handle is %T", ErrBadArguments, v)
	}
}

// CheckLSPArgs validates an ExportLSP invocation and returns its handle and
// message.
func CheckLSPArgs(export string, argTypes []ArgType, args []any) (Handle, string, error) {
	if export != ExportLSP {
		return 0, "", fmt.Errorf("%w: %s", ErrUnknownExport, export)
	}
	if len(argTypes) != 2 || argTypes[0] != ArgNumber || argTypes[1] != ArgString || len(args) != 2 {
		return 0, "", fmt.Errorf("%w: %v", ErrBadArguments, argTypes)
	}
	h, err := HandleArg(args[0])
	if err != nil {
		return 0, "", err
	}
	msg, ok := args[1].(string)
	if !ok {
		return 0, "", fmt.Errorf("%w: message is %T", ErrBadArguments, args[1])
	}
	return h, msg, nil
}
