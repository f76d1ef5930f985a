// Package channel adapts the engine's call/callback surface to the
// jsonrpc.MessageReader and jsonrpc.MessageWriter pair. Engine callbacks post
// into a bounded mailbox; a single pump goroutine decodes what arrives and
// delivers whole messages to the listener.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gossip-lsp/langruby/engine"
	"github.com/gossip-lsp/langruby/jsonrpc"
)

var (
	// ErrClosed is returned by writes after the channel has closed or failed.
	ErrClosed = errors.New("channel: closed")

	// ErrAlreadyListening is returned by a second Listen.
	ErrAlreadyListening = jsonrpc.ErrAlreadyListening
)

// Framing selects how messages are carried by engine calls and callbacks.
type Framing int

const (
	// FramingMessage carries exactly one JSON-RPC message per call.
	FramingMessage Framing = iota

	// FramingStream carries Content-Length framed text that may be split
	// or coalesced arbitrarily across calls.
	FramingStream
)

func (f Framing) String() string {
	switch f {
	case FramingMessage:
		return "message"
	case FramingStream:
		return "stream"
	default:
		return fmt.Sprintf("Framing(%d)", int(f))
	}
}

// ParseFraming parses "message" or "stream". The empty string is
// FramingMessage.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(s) {
	case "", "message":
		return FramingMessage, nil
	case "stream":
		return FramingStream, nil
	default:
		return 0, fmt.Errorf("unknown framing %q", s)
	}
}

// DefaultMailbox is the default mailbox capacity.
const DefaultMailbox = 1

type options struct {
	framing   Framing
	mailbox   int
	faultDone <-chan struct{}
	faultErr  func() error
	logger    *slog.Logger
}

// Option configures New.
type Option func(*options)

// WithFraming selects the framing. The default is FramingMessage.
func WithFraming(f Framing) Option {
	return func(o *options) { o.framing = f }
}

// WithMailbox sets the mailbox capacity. Engine callbacks block while the
// mailbox is full.
func WithMailbox(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.mailbox = n
		}
	}
}

// WithFault ties the channel to the engine's lifetime: when done is closed
// the reader fails with err().
func WithFault(done <-chan struct{}, err func() error) Option {
	return func(o *options) {
		o.faultDone = done
		o.faultErr = err
	}
}

// WithLogger sets the logger for dropped payloads.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Reader delivers engine callbacks as decoded messages.
type Reader struct {
	framing Framing
	logger  *slog.Logger
	mailbox chan string
	fault   <-chan struct{}
	faultFn func() error

	mu        sync.Mutex
	listening bool
	err       error
	done      chan struct{}
	once      sync.Once

	// buf holds partial stream input; only the pump touches it.
	buf []byte
}

// Writer sends messages to the engine.
type Writer struct {
	framing Framing
	send    func(string) error
	done    <-chan struct{}
	mu      sync.Mutex
}

// New connects to the engine through connect and returns the two halves of
// the channel.
func New(connect engine.SendReceive, opts ...Option) (*Reader, *Writer) {
	o := options{framing: FramingMessage, mailbox: DefaultMailbox}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	r := &Reader{
		framing: o.framing,
		logger:  o.logger,
		mailbox: make(chan string, o.mailbox),
		fault:   o.faultDone,
		faultFn: o.faultErr,
		done:    make(chan struct{}),
	}
	w := &Writer{framing: o.framing, done: r.done}
	w.send = connect(r.post)
	return r, w
}

// post is the engine callback.
func (r *Reader) post(message string) {
	select {
	case r.mailbox <- message:
	case <-r.done:
	}
}

// Listen implements jsonrpc.MessageReader.
func (r *Reader) Listen(callback func(jsonrpc.Message)) error {
	r.mu.Lock()
	if r.listening {
		r.mu.Unlock()
		return ErrAlreadyListening
	}
	r.listening = true
	r.mu.Unlock()

	if r.fault != nil {
		go func() {
			select {
			case <-r.fault:
				var err error
				if r.faultFn != nil {
					err = r.faultFn()
				}
				if err == nil {
					err = errors.New("engine stopped")
				}
				r.Fail(err)
			case <-r.done:
			}
		}()
	}
	go r.pump(callback)
	return nil
}

func (r *Reader) pump(callback func(jsonrpc.Message)) {
	for {
		select {
		case raw := <-r.mailbox:
			if r.framing == FramingStream {
				r.deliverStream(raw, callback)
			} else {
				r.deliver([]byte(raw), callback)
			}
		case <-r.done:
			return
		}
	}
}

func (r *Reader) deliver(data []byte, callback func(jsonrpc.Message)) {
	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		r.logger.Warn("dropping undecodable engine message", "error", err, "bytes", len(data))
		return
	}
	callback(msg)
}

func (r *Reader) deliverStream(chunk string, callback func(jsonrpc.Message)) {
	r.buf = append(r.buf, chunk...)
	for {
		body, n, err := jsonrpc.SplitFrame(r.buf)
		if err != nil {
			r.logger.Warn("dropping unframed engine output", "error", err, "bytes", len(r.buf))
			r.buf = nil
			return
		}
		if n == 0 {
			return
		}
		r.deliver(body, callback)
		r.buf = r.buf[n:]
	}
}

// Fail stops delivery with err.
func (r *Reader) Fail(err error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		close(r.done)
	})
}

// Close stops delivery.
func (r *Reader) Close() error {
	r.Fail(ErrClosed)
	return nil
}

// Done is closed once the reader has failed or closed.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Err reports why the reader stopped.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Write implements jsonrpc.MessageWriter. Writes are serialized; the
// message is handed to the engine before Write returns.
func (w *Writer) Write(msg jsonrpc.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if w.framing == FramingStream {
		data = jsonrpc.Frame(data)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	if err := w.send(string(data)); err != nil {
		return fmt.Errorf("sending to engine: %w", err)
	}
	return nil
}
