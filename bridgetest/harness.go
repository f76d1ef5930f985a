// Package bridgetest provides testing utilities for langruby bridges.
// It includes an in-memory frontend client that talks to a Server without
// network I/O, an in-memory repository that answers the file content query,
// and assertion helpers for hover and location results.
package bridgetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gossip-lsp/langruby"
	"github.com/gossip-lsp/langruby/host"
	"github.com/gossip-lsp/langruby/jsonrpc"
	"github.com/gossip-lsp/langruby/protocol"
	"github.com/gossip-lsp/langruby/transport"
)

// Client is a test frontend connected to a server over an in-memory
// transport. It provides typed helpers for the host-facing requests.
type Client struct {
	t    testing.TB
	conn *jsonrpc.Conn
	stop func()
	done chan error

	mu            sync.Mutex
	notifications []notification
}

type notification struct {
	Method string
	Params json.RawMessage
}

// NewClient creates a test client connected to s and initializes it.
// The server runs in a background goroutine and is stopped when the test
// completes.
func NewClient(t testing.TB, s *langruby.Server) *Client {
	c := NewUninitializedClient(t, s)
	c.Initialize()
	return c
}

// NewUninitializedClient is NewClient without the initialize handshake.
func NewUninitializedClient(t testing.TB, s *langruby.Server) *Client {
	clientTransport, serverTransport := transport.MemoryPipe()

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		t:    t,
		stop: cancel,
		done: make(chan error, 1),
	}

	go func() {
		err := langruby.Serve(ctx, s, langruby.WithTransport(serverTransport))
		c.done <- err
	}()

	r, w := jsonrpc.NewStream(clientTransport, clientTransport, nil)
	c.conn = jsonrpc.NewConn(r, w, func(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "client does not handle requests"}
	}, func(ctx context.Context, method string, params jsonrpc.RawMessage) {
		c.mu.Lock()
		c.notifications = append(c.notifications, notification{Method: method, Params: params})
		c.mu.Unlock()
	})

	go func() {
		c.conn.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		c.conn.Close()
		clientTransport.Close()
	})

	return c
}

// Initialize sends the initialize request and initialized notification.
func (c *Client) Initialize() *protocol.InitializeResult {
	c.t.Helper()
	var result protocol.InitializeResult
	c.call(protocol.MethodInitialize, &protocol.InitializeParams{
		Capabilities: protocol.ClientCapabilities{},
	}, &result)
	c.notify(protocol.MethodInitialized, &protocol.InitializedParams{})
	return &result
}

func positionParams(uri string, pos host.Position) langruby.PositionParams {
	return langruby.PositionParams{
		TextDocument: host.TextDocument{URI: uri},
		Position:     pos,
	}
}

// Hover sends a textDocument/hover request. A null result is a nil hover.
func (c *Client) Hover(uri string, pos host.Position) (*host.Hover, error) {
	c.t.Helper()
	var result *host.Hover
	err := c.Call(protocol.MethodHover, langruby.HoverParams{PositionParams: positionParams(uri, pos)}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Definition sends a textDocument/definition request.
func (c *Client) Definition(uri string, pos host.Position) ([]host.Location, error) {
	c.t.Helper()
	var result []host.Location
	err := c.Call(protocol.MethodDefinition, langruby.DefinitionParams{PositionParams: positionParams(uri, pos)}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// References sends a textDocument/references request.
func (c *Client) References(uri string, pos host.Position, includeDeclaration bool) ([]host.Location, error) {
	c.t.Helper()
	var result []host.Location
	err := c.Call(protocol.MethodReferences, langruby.ReferenceParams{
		PositionParams: positionParams(uri, pos),
		Context:        protocol.ReferenceContext{IncludeDeclaration: includeDeclaration},
	}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Notifications returns the params of every notification received for
// method so far.
func (c *Client) Notifications(method string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []json.RawMessage
	for _, n := range c.notifications {
		if n.Method == method {
			out = append(out, n.Params)
		}
	}
	return out
}

// WaitForNotification polls until a notification for method arrives and
// returns its params.
func (c *Client) WaitForNotification(method string, timeout time.Duration) json.RawMessage {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := c.Notifications(method); len(got) > 0 {
			return got[len(got)-1]
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.t.Fatalf("timed out waiting for %s", method)
	return nil
}

// Notify sends a notification.
func (c *Client) Notify(method string, params interface{}) {
	c.t.Helper()
	c.notify(method, params)
}

// Shutdown sends the shutdown request.
func (c *Client) Shutdown() {
	c.t.Helper()
	c.call(protocol.MethodShutdown, nil, nil)
}

// Exit sends the exit notification and waits for Serve to return.
func (c *Client) Exit() error {
	c.t.Helper()
	c.notify(protocol.MethodExit, nil)
	select {
	case err := <-c.done:
		return err
	case <-time.After(5 * time.Second):
		c.t.Fatal("server did not stop after exit")
		return nil
	}
}

// Call sends a request and decodes its result into result. A JSON-RPC
// error response is returned as *jsonrpc.Error.
func (c *Client) Call(method string, params, result interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.conn.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshalling result: %w", err)
		}
	}
	return nil
}

func (c *Client) call(method string, params, result interface{}) {
	c.t.Helper()
	if err := c.Call(method, params, result); err != nil {
		c.t.Fatalf("call %s failed: %v", method, err)
	}
}

func (c *Client) notify(method string, params interface{}) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.conn.Notify(ctx, method, params); err != nil {
		c.t.Fatalf("notify %s failed: %v", method, err)
	}
}
