package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// loopPeer is an in-memory MessageReader/MessageWriter pair. Messages written
// by the connection appear on sent; messages pushed with deliver reach the
// connection's listener.
type loopPeer struct {
	sent  chan Message
	inbox chan Message
	done  chan struct{}
	once  sync.Once
	err   error
}

func newLoopPeer() *loopPeer {
	return &loopPeer{
		sent:  make(chan Message, 16),
		inbox: make(chan Message, 16),
		done:  make(chan struct{}),
	}
}

func (p *loopPeer) Listen(cb func(Message)) error {
	go func() {
		for {
			select {
			case msg := <-p.inbox:
				cb(msg)
			case <-p.done:
				return
			}
		}
	}()
	return nil
}

func (p *loopPeer) Done() <-chan struct{} { return p.done }
func (p *loopPeer) Err() error            { return p.err }

func (p *loopPeer) Write(msg Message) error {
	p.sent <- msg
	return nil
}

func (p *loopPeer) breakWith(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *loopPeer) nextSent(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-p.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"textDocument/hover","params":{}}`, "*jsonrpc.Request"},
		{"string id request", `{"jsonrpc":"2.0","id":"a","method":"initialize"}`, "*jsonrpc.Request"},
		{"notification", `{"jsonrpc":"2.0","method":"initialized","params":{}}`, "*jsonrpc.Notification"},
		{"result response", `{"jsonrpc":"2.0","id":3,"result":null}`, "*jsonrpc.Response"},
		{"error response", `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"nope"}}`, "*jsonrpc.Response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.in))
			if err != nil {
				t.Fatalf("DecodeMessage: %v", err)
			}
			if got := typeName(msg); got != tt.want {
				t.Errorf("DecodeMessage type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	for _, in := range []string{`not json`, `{"jsonrpc":"2.0"}`} {
		if _, err := DecodeMessage([]byte(in)); err == nil {
			t.Errorf("DecodeMessage(%q) succeeded, want error", in)
		}
	}
}

func TestIDKeyDistinguishesTypes(t *testing.T) {
	if IntID(1).Key() == StringID("1").Key() {
		t.Error("IntID(1) and StringID(\"1\") share a key")
	}
}

func TestCodecReadsCoalescedFrames(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Frame([]byte(`{"a":1}`)))
	buf.Write(Frame([]byte(`{"b":2}`)))

	codec := NewCodec(&buf, nil)
	for _, want := range []string{`{"a":1}`, `{"b":2}`} {
		got, err := codec.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if string(got) != want {
			t.Errorf("Read = %s, want %s", got, want)
		}
	}
}

func TestCodecMissingContentLength(t *testing.T) {
	codec := NewCodec(bytes.NewBufferString("Content-Type: x\r\n\r\n{}"), nil)
	if _, err := codec.Read(); !errors.Is(err, ErrMissingContentLength) {
		t.Errorf("Read error = %v, want ErrMissingContentLength", err)
	}
}

func TestConnCorrelatesInterleavedResponses(t *testing.T) {
	peer := newLoopPeer()
	conn := NewConn(peer, peer, nil, func(context.Context, string, RawMessage) {})
	if err := conn.Listen(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	type outcome struct {
		method string
		result string
	}
	results := make(chan outcome, 2)
	call := func(method string) {
		raw, err := conn.Request(context.Background(), method, nil)
		if err != nil {
			t.Errorf("%s: %v", method, err)
			return
		}
		results <- outcome{method, string(raw)}
	}

	go call("first")
	first := peer.nextSent(t).(*Request)
	go call("second")
	second := peer.nextSent(t).(*Request)

	if first.ID.Key() == second.ID.Key() {
		t.Fatalf("requests share id %s", first.ID)
	}

	peer.inbox <- &Notification{JSONRPC: Version, Method: "window/logMessage"}
	peer.inbox <- NewResponse(second.ID, "two", nil)
	peer.inbox <- NewResponse(first.ID, "one", nil)

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case o := <-results:
			got[o.method] = o.result
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}
	if got["first"] != `"one"` || got["second"] != `"two"` {
		t.Errorf("results = %v, want first=\"one\" second=\"two\"", got)
	}
}

func TestConnFailureFailsPendingCalls(t *testing.T) {
	peer := newLoopPeer()
	conn := NewConn(peer, peer, nil, nil)
	if err := conn.Listen(context.Background()); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := conn.Call(context.Background(), "textDocument/hover", nil)
		errc <- err
	}()
	peer.nextSent(t)

	boom := errors.New("engine crashed")
	peer.breakWith(boom)

	select {
	case err := <-errc:
		if !errors.Is(err, boom) {
			t.Errorf("Call error = %v, want %v", err, boom)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not failed")
	}
	if n := conn.Pending(); n != 0 {
		t.Errorf("Pending = %d, want 0", n)
	}
	if _, err := conn.Call(context.Background(), "later", nil); !errors.Is(err, boom) {
		t.Errorf("Call after failure = %v, want %v", err, boom)
	}
}

func TestConnCallDeadlineForgetsPending(t *testing.T) {
	peer := newLoopPeer()
	conn := NewConn(peer, peer, nil, nil)
	if err := conn.Listen(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := conn.Call(ctx, "textDocument/definition", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Call error = %v, want deadline exceeded", err)
	}
	if n := conn.Pending(); n != 0 {
		t.Errorf("Pending = %d, want 0", n)
	}
}

func TestConnServesPeerRequests(t *testing.T) {
	peer := newLoopPeer()
	handler := func(ctx context.Context, method string, params RawMessage) (interface{}, error) {
		if method != "client/registerCapability" {
			return nil, &Error{Code: CodeMethodNotFound, Message: method}
		}
		return nil, nil
	}
	conn := NewConn(peer, peer, handler, nil)
	if err := conn.Listen(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	peer.inbox <- &Request{JSONRPC: Version, ID: StringID("r1"), Method: "client/registerCapability"}
	resp, ok := peer.nextSent(t).(*Response)
	if !ok {
		t.Fatal("expected a response")
	}
	if resp.ID.Key() != StringID("r1").Key() || resp.Error != nil || string(resp.Result) != "null" {
		t.Errorf("response = %+v, want null result for r1", resp)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	_, w := NewStream(nil, &buf, nil)
	notif, err := NewNotification("initialized", struct{}{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(notif); err != nil {
		t.Fatal(err)
	}

	r, _ := NewStream(&buf, nil, nil)
	got := make(chan Message, 1)
	if err := r.Listen(func(m Message) { got <- m }); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-got:
		n, ok := m.(*Notification)
		if !ok || n.Method != "initialized" {
			t.Errorf("message = %#v, want initialized notification", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message decoded")
	}
	<-r.Done()
	if r.Err() == nil {
		t.Error("Err = nil after end of stream")
	}
}

func typeName(m Message) string {
	switch m.(type) {
	case *Request:
		return "*jsonrpc.Request"
	case *Notification:
		return "*jsonrpc.Notification"
	case *Response:
		return "*jsonrpc.Response"
	}
	b, _ := json.Marshal(m)
	return string(b)
}
