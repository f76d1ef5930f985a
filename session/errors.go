package session

import "errors"

var (
	// ErrTimeout indicates a request outlived its deadline. The engine is
	// not told; a late response is dropped.
	ErrTimeout = errors.New("session: request timed out")

	// ErrFaulted indicates the engine connection failed. Errors wrapping it
	// also wrap the cause.
	ErrFaulted = errors.New("session: engine faulted")

	// ErrClosed indicates the session was closed.
	ErrClosed = errors.New("session: closed")

	// ErrNotReady indicates the handshake has not completed.
	ErrNotReady = errors.New("session: not ready")
)
