// Package transport provides the byte streams the bridge speaks over: stdio,
// TCP and WebSocket for the host-facing server, an in-memory pipe for tests,
// and a child process for the engine.
package transport

import "io"

// Transport is a bidirectional byte stream carrying Content-Length framed
// JSON-RPC.
type Transport interface {
	io.ReadWriteCloser
}

// Func creates a Transport on demand, typically by waiting for a client.
type Func func() (Transport, error)
