// Package jsonrpc implements a bidirectional JSON-RPC 2.0 connection with
// request/response correlation. Messages travel over a MessageReader and
// MessageWriter pair, which may be a Content-Length framed byte stream or an
// engine channel that hands over one message per callback.
package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned by calls made after Close, and by pending calls
	// that were still waiting when the connection was closed.
	ErrClosed = errors.New("jsonrpc: connection closed")

	// ErrAlreadyListening is returned when a reader is asked to deliver to
	// a second listener.
	ErrAlreadyListening = errors.New("jsonrpc: reader already has a listener")
)

// Handler processes an incoming JSON-RPC request or notification.
type Handler func(ctx context.Context, method string, params RawMessage) (result interface{}, err error)

// NotificationHandler processes an incoming JSON-RPC notification.
type NotificationHandler func(ctx context.Context, method string, params RawMessage)

// MessageReader delivers decoded messages from the peer.
type MessageReader interface {
	// Listen registers the callback that receives every message. It returns
	// once delivery has been set up; messages arrive asynchronously.
	Listen(callback func(Message)) error

	// Done is closed when the reader stops delivering.
	Done() <-chan struct{}

	// Err reports why the reader stopped. It is nil while running.
	Err() error
}

// MessageWriter sends messages to the peer.
type MessageWriter interface {
	Write(msg Message) error
}

// Conn is a bidirectional JSON-RPC 2.0 connection.
type Conn struct {
	reader  MessageReader
	writer  MessageWriter
	handler Handler
	notif   NotificationHandler
	logger  *slog.Logger
	trace   bool

	mu      sync.Mutex
	pending map[string]chan *Response
	nextID  atomic.Int64

	listenOnce sync.Once
	closeOnce  sync.Once
	done       chan struct{}
	err        error
	cancel     context.CancelFunc
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithLogger sets the logger used for dropped messages and tracing.
func WithLogger(l *slog.Logger) ConnOption {
	return func(c *Conn) { c.logger = l }
}

// WithTrace logs every message sent and received at debug level.
func WithTrace(enabled bool) ConnOption {
	return func(c *Conn) { c.trace = enabled }
}

// NewConn creates a new JSON-RPC connection over the given reader and writer.
// handler serves requests from the peer; notif serves notifications and may
// be nil, in which case notifications go to handler.
func NewConn(r MessageReader, w MessageWriter, handler Handler, notif NotificationHandler, opts ...ConnOption) *Conn {
	c := &Conn{
		reader:  r,
		writer:  w,
		handler: handler,
		notif:   notif,
		pending: make(map[string]chan *Response),
		done:    make(chan struct{}),
		cancel:  func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	return c
}

// Listen starts delivering incoming messages. Handlers run with a context
// derived from ctx. Listen returns immediately; use Done to wait for the
// connection to end.
func (c *Conn) Listen(ctx context.Context) error {
	err := ErrAlreadyListening
	c.listenOnce.Do(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		err = c.reader.Listen(func(msg Message) { c.deliver(ctx, msg) })
		if err != nil {
			c.fail(fmt.Errorf("listening: %w", err))
			return
		}
		go func() {
			select {
			case <-c.reader.Done():
				rerr := c.reader.Err()
				if rerr == nil {
					rerr = io.EOF
				}
				c.fail(fmt.Errorf("reading message: %w", rerr))
			case <-c.done:
			}
		}()
	})
	return err
}

// Run listens and blocks until the connection ends or ctx is cancelled. A
// clean close or the peer hanging up returns nil.
func (c *Conn) Run(ctx context.Context) error {
	if err := c.Listen(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	case <-c.done:
	}
	err := c.Err()
	if errors.Is(err, ErrClosed) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (c *Conn) deliver(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case *Request:
		c.traceMessage("recv request", m.Method, m.ID)
		go c.handleRequest(ctx, m)
	case *Notification:
		c.traceMessage("recv notification", m.Method, ID{})
		go c.handleNotification(ctx, m)
	case *Response:
		c.traceMessage("recv response", "", m.ID)
		c.handleResponse(m)
	}
}

func (c *Conn) handleRequest(ctx context.Context, req *Request) {
	var (
		result interface{}
		err    error
	)
	if c.handler == nil {
		err = &Error{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	} else {
		result, err = c.handler(ctx, req.Method, req.Params)
	}
	if werr := c.write(NewResponse(req.ID, result, err)); werr != nil {
		c.logger.Warn("failed to write response", "method", req.Method, "id", req.ID.String(), "error", werr)
	}
}

func (c *Conn) handleNotification(ctx context.Context, notif *Notification) {
	if c.notif != nil {
		c.notif(ctx, notif.Method, notif.Params)
	} else if c.handler != nil {
		c.handler(ctx, notif.Method, notif.Params)
	}
}

func (c *Conn) handleResponse(resp *Response) {
	key := resp.ID.Key()
	c.mu.Lock()
	ch, ok := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping response for unknown request", "id", resp.ID.String())
		return
	}
	ch <- resp
}

// Call sends a request and waits for its response. The pending entry is
// dropped when ctx ends; the peer is not told.
func (c *Conn) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	id := IntID(c.nextID.Add(1))
	req, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Response, 1)
	key := id.Key()
	c.mu.Lock()
	if c.isDone() {
		c.mu.Unlock()
		return nil, c.Err()
	}
	c.pending[key] = ch
	c.mu.Unlock()

	if err := c.write(req); err != nil {
		c.forget(key)
		return nil, fmt.Errorf("writing %s request: %w", method, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.forget(key)
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.Err()
	}
}

// Request is Call for callers that only want the result. An error response
// is returned as a *Error.
func (c *Conn) Request(ctx context.Context, method string, params interface{}) (RawMessage, error) {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return RawMessage("null"), nil
	}
	return resp.Result, nil
}

// Notify sends a notification (no response expected).
func (c *Conn) Notify(ctx context.Context, method string, params interface{}) error {
	if c.isDone() {
		return c.Err()
	}
	notif, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	if err := c.write(notif); err != nil {
		return fmt.Errorf("writing %s notification: %w", method, err)
	}
	return nil
}

func (c *Conn) write(msg Message) error {
	switch m := msg.(type) {
	case *Request:
		c.traceMessage("send request", m.Method, m.ID)
	case *Notification:
		c.traceMessage("send notification", m.Method, ID{})
	case *Response:
		c.traceMessage("send response", "", m.ID)
	}
	return c.writer.Write(msg)
}

func (c *Conn) traceMessage(msg, method string, id ID) {
	if !c.trace {
		return
	}
	attrs := []any{}
	if method != "" {
		attrs = append(attrs, "method", method)
	}
	if id.IsValid() {
		attrs = append(attrs, "id", id.String())
	}
	c.logger.Debug(msg, attrs...)
}

func (c *Conn) forget(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

// Pending returns the number of requests still waiting for a response.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Done is closed once the connection has failed or been closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, or nil while it is running.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// fail ends the connection with err. Every pending call returns err.
func (c *Conn) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		for key := range c.pending {
			delete(c.pending, key)
		}
		close(c.done)
		cancel := c.cancel
		c.mu.Unlock()
		cancel()
		if closer, ok := c.reader.(io.Closer); ok {
			_ = closer.Close()
		}
	})
}

// Close terminates the connection. Pending and later calls fail with ErrClosed.
func (c *Conn) Close() {
	c.fail(ErrClosed)
}
