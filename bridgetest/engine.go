package bridgetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gossip-lsp/langruby/engine"
	"github.com/gossip-lsp/langruby/jsonrpc"
	"github.com/gossip-lsp/langruby/protocol"
)

// FakeEngine is a scripted engine module. It answers initialize with empty
// capabilities and other requests from a table of canned results, and it
// records every message it receives. It is its own engine.Loader.
type FakeEngine struct {
	mu        sync.Mutex
	next      engine.Handle
	callbacks map[engine.Handle]func(string)
	active    engine.Handle
	results   map[string]json.RawMessage
	failures  map[string]*jsonrpc.Error
	held      map[string]bool
	async     bool
	received  []jsonrpc.Message

	doneOnce sync.Once
	done     chan struct{}
	err      error
}

// NewFakeEngine creates an engine that answers every request with null.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		callbacks: make(map[engine.Handle]func(string)),
		results:   make(map[string]json.RawMessage),
		failures:  make(map[string]*jsonrpc.Error),
		held:      make(map[string]bool),
		done:      make(chan struct{}),
	}
}

// Instantiate implements engine.Loader.
func (f *FakeEngine) Instantiate(ctx context.Context, _ engine.Payload) (engine.Module, error) {
	return f, ctx.Err()
}

// SetResult answers method with the JSON text result.
func (f *FakeEngine) SetResult(method, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[method] = json.RawMessage(result)
}

// SetError answers method with an error response.
func (f *FakeEngine) SetError(method string, code int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = &jsonrpc.Error{Code: code, Message: message}
}

// Hold leaves requests for method unanswered.
func (f *FakeEngine) Hold(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held[method] = true
}

// SetAsync makes each reply arrive from its own goroutine, so replies may
// overtake each other.
func (f *FakeEngine) SetAsync(async bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.async = async
}

// RegisterCallback implements engine.Module.
func (f *FakeEngine) RegisterCallback(fn func(string)) engine.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.callbacks[f.next] = fn
	return f.next
}

// Invoke implements engine.Module. Each invocation carries one message.
func (f *FakeEngine) Invoke(export string, argTypes []engine.ArgType, args ...any) error {
	h, text, err := engine.CheckLSPArgs(export, argTypes, args)
	if err != nil {
		return err
	}
	select {
	case <-f.done:
		return f.Err()
	default:
	}
	msg, err := jsonrpc.DecodeMessage([]byte(text))
	if err != nil {
		return err
	}

	f.mu.Lock()
	if _, ok := f.callbacks[h]; !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: unknown handle %d", engine.ErrBadArguments, h)
	}
	f.active = h
	f.received = append(f.received, msg)
	req, isReq := msg.(*jsonrpc.Request)
	if !isReq || f.held[req.Method] {
		f.mu.Unlock()
		return nil
	}
	var reply *jsonrpc.Response
	switch {
	case req.Method == protocol.MethodInitialize:
		reply = jsonrpc.NewResponse(req.ID, &protocol.InitializeResult{}, nil)
	case f.failures[req.Method] != nil:
		reply = jsonrpc.NewResponse(req.ID, nil, f.failures[req.Method])
	default:
		result := f.results[req.Method]
		if result == nil {
			result = json.RawMessage("null")
		}
		reply = jsonrpc.NewResponse(req.ID, result, nil)
	}
	async := f.async
	f.mu.Unlock()

	if async {
		go f.emit(reply)
		return nil
	}
	f.emit(reply)
	return nil
}

// Emit sends an engine-initiated message, such as publishDiagnostics, to
// the callback that invoked last.
func (f *FakeEngine) Emit(msg jsonrpc.Message) {
	f.emit(msg)
}

func (f *FakeEngine) emit(msg jsonrpc.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	cb := f.callbacks[f.active]
	f.mu.Unlock()
	if cb != nil {
		cb(string(data))
	}
}

// Received returns the requests and notifications received for method.
func (f *FakeEngine) Received(method string) []jsonrpc.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []jsonrpc.Message
	for _, m := range f.received {
		switch m := m.(type) {
		case *jsonrpc.Request:
			if m.Method == method {
				out = append(out, m)
			}
		case *jsonrpc.Notification:
			if m.Method == method {
				out = append(out, m)
			}
		}
	}
	return out
}

// Crash makes the engine fail with err.
func (f *FakeEngine) Crash(err error) {
	f.doneOnce.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

// Done implements engine.Faulter.
func (f *FakeEngine) Done() <-chan struct{} { return f.done }

// Err implements engine.Faulter.
func (f *FakeEngine) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close implements engine.Module.
func (f *FakeEngine) Close() error {
	f.Crash(engine.ErrClosed)
	return nil
}
