package jsonrpc

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// StreamReader reads Content-Length framed messages from a byte stream.
type StreamReader struct {
	codec  *Codec
	closer io.Closer
	logger *slog.Logger

	mu        sync.Mutex
	listening bool
	done      chan struct{}
	err       error
	once      sync.Once
}

// StreamWriter writes Content-Length framed messages to a byte stream.
type StreamWriter struct {
	codec *Codec
}

// NewStream returns a reader and writer sharing one framed stream. If r
// implements io.Closer, closing the reader closes it.
func NewStream(r io.Reader, w io.Writer, logger *slog.Logger) (*StreamReader, *StreamWriter) {
	codec := NewCodec(r, w)
	sr := &StreamReader{codec: codec, logger: logger, done: make(chan struct{})}
	if c, ok := r.(io.Closer); ok {
		sr.closer = c
	}
	if sr.logger == nil {
		sr.logger = slog.Default()
	}
	return sr, &StreamWriter{codec: codec}
}

// Listen starts a goroutine that decodes messages until the stream fails.
// Undecodable bodies are logged and skipped.
func (r *StreamReader) Listen(callback func(Message)) error {
	r.mu.Lock()
	if r.listening {
		r.mu.Unlock()
		return ErrAlreadyListening
	}
	r.listening = true
	r.mu.Unlock()

	go func() {
		for {
			data, err := r.codec.Read()
			if err != nil {
				r.finish(err)
				return
			}
			msg, err := DecodeMessage(data)
			if err != nil {
				r.logger.Warn("dropping undecodable message", "error", err, "bytes", len(data))
				continue
			}
			callback(msg)
		}
	}()
	return nil
}

func (r *StreamReader) finish(err error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		close(r.done)
	})
}

// Done is closed when the stream stops delivering.
func (r *StreamReader) Done() <-chan struct{} { return r.done }

// Err reports the read error that ended the stream.
func (r *StreamReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the underlying stream when it is closable.
func (r *StreamReader) Close() error {
	r.finish(ErrClosed)
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Write marshals msg and writes it as one frame.
func (w *StreamWriter) Write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.codec.Write(data)
}
