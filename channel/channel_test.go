package channel

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gossip-lsp/langruby/jsonrpc"
)

// scripted is a fake engine. Every send is recorded, and the test pushes
// callback payloads with emit.
type scripted struct {
	mu      sync.Mutex
	sent    []string
	receive func(string)
	sendErr error
}

func (s *scripted) connect(receive func(string)) func(string) error {
	s.receive = receive
	return func(msg string) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.sendErr != nil {
			return s.sendErr
		}
		s.sent = append(s.sent, msg)
		return nil
	}
}

func (s *scripted) emit(payload string) { s.receive(payload) }

func (s *scripted) sentMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func collect(t *testing.T, r *Reader) <-chan jsonrpc.Message {
	t.Helper()
	out := make(chan jsonrpc.Message, 16)
	require.NoError(t, r.Listen(func(m jsonrpc.Message) { out <- m }))
	return out
}

func next(t *testing.T, ch <-chan jsonrpc.Message) jsonrpc.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestMessageFraming(t *testing.T) {
	eng := &scripted{}
	r, _ := New(eng.connect)
	got := collect(t, r)

	eng.emit(`{"jsonrpc":"2.0","id":1,"result":{"contents":"String"}}`)
	eng.emit(`not json`)
	eng.emit(`{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":3,"message":"hi"}}`)

	resp, ok := next(t, got).(*jsonrpc.Response)
	require.True(t, ok)
	assert.JSONEq(t, `{"contents":"String"}`, string(resp.Result))

	notif, ok := next(t, got).(*jsonrpc.Notification)
	require.True(t, ok)
	assert.Equal(t, "window/logMessage", notif.Method)
}

func TestStreamFramingReassembles(t *testing.T) {
	eng := &scripted{}
	r, _ := New(eng.connect, WithFraming(FramingStream), WithMailbox(4))
	got := collect(t, r)

	one := string(jsonrpc.Frame([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`)))
	two := string(jsonrpc.Frame([]byte(`{"jsonrpc":"2.0","id":2,"result":[]}`)))
	three := string(jsonrpc.Frame([]byte(`{"jsonrpc":"2.0","method":"initialized"}`)))

	// split inside the header, then inside the body, then two coalesced
	eng.emit(one[:7])
	eng.emit(one[7 : len(one)-3])
	eng.emit(one[len(one)-3:] + two + three[:20])
	eng.emit(three[20:])

	for _, want := range []string{"n:1", "n:2"} {
		resp, ok := next(t, got).(*jsonrpc.Response)
		require.True(t, ok)
		assert.Equal(t, want, resp.ID.Key())
	}
	notif, ok := next(t, got).(*jsonrpc.Notification)
	require.True(t, ok)
	assert.Equal(t, "initialized", notif.Method)
}

func TestWriterFraming(t *testing.T) {
	n, err := jsonrpc.NewNotification("initialized", struct{}{})
	require.NoError(t, err)

	eng := &scripted{}
	_, w := New(eng.connect)
	require.NoError(t, w.Write(n))

	streamEng := &scripted{}
	_, sw := New(streamEng.connect, WithFraming(FramingStream))
	require.NoError(t, sw.Write(n))

	plain := eng.sentMessages()
	framed := streamEng.sentMessages()
	require.Len(t, plain, 1)
	require.Len(t, framed, 1)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"initialized","params":{}}`, plain[0])
	assert.Equal(t, string(jsonrpc.Frame([]byte(plain[0]))), framed[0])
}

func TestListenTwice(t *testing.T) {
	eng := &scripted{}
	r, _ := New(eng.connect)
	require.NoError(t, r.Listen(func(jsonrpc.Message) {}))
	assert.ErrorIs(t, r.Listen(func(jsonrpc.Message) {}), ErrAlreadyListening)
}

func TestFaultStopsChannel(t *testing.T) {
	eng := &scripted{}
	done := make(chan struct{})
	boom := errors.New("engine crashed")
	r, w := New(eng.connect, WithFault(done, func() error { return boom }))
	collect(t, r)

	close(done)
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reader not done after fault")
	}
	assert.ErrorIs(t, r.Err(), boom)

	n, _ := jsonrpc.NewNotification("initialized", nil)
	assert.ErrorIs(t, w.Write(n), ErrClosed)
}

func TestSendErrorIsReturned(t *testing.T) {
	eng := &scripted{sendErr: errors.New("trap")}
	_, w := New(eng.connect)
	n, _ := jsonrpc.NewNotification("initialized", nil)
	err := w.Write(n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trap")
}

func TestConnOverChannel(t *testing.T) {
	// The engine answers every request synchronously from inside send, as
	// the embedded engine does.
	var r *Reader
	var w *Writer
	connect := func(receive func(string)) func(string) error {
		return func(msg string) error {
			m, err := jsonrpc.DecodeMessage([]byte(msg))
			if err != nil {
				return err
			}
			if req, ok := m.(*jsonrpc.Request); ok {
				out, _ := json.Marshal(jsonrpc.NewResponse(req.ID, map[string]string{"method": req.Method}, nil))
				receive(string(out))
			}
			return nil
		}
	}
	r, w = New(connect)
	conn := jsonrpc.NewConn(r, w, nil, nil)
	require.NoError(t, conn.Listen(t.Context()))
	defer conn.Close()

	result, err := conn.Request(t.Context(), "textDocument/hover", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"textDocument/hover"}`, string(result))

	conn.Close()
	assert.ErrorIs(t, r.Err(), ErrClosed)
}

func TestParseFraming(t *testing.T) {
	f, err := ParseFraming("")
	require.NoError(t, err)
	assert.Equal(t, FramingMessage, f)

	f, err = ParseFraming("Stream")
	require.NoError(t, err)
	assert.Equal(t, FramingStream, f)
	assert.Equal(t, "stream", f.String())

	_, err = ParseFraming("lines")
	assert.Error(t, err)
}
