package transport

import (
	"bytes"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"
)

// ListenWebSocket serves WebSocket upgrades on addr and returns the first
// connection. Each WebSocket message carries a chunk of the framed stream.
func ListenWebSocket(addr string, logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	connCh := make(chan *wsTransport, 1)
	var once sync.Once
	srv := &http.Server{}
	srv.Handler = websocket.Handler(func(ws *websocket.Conn) {
		t := &wsTransport{conn: ws, srv: srv, closed: make(chan struct{})}
		accepted := false
		once.Do(func() {
			connCh <- t
			accepted = true
		})
		if !accepted {
			ws.Close()
			return
		}
		// The handler must not return while the transport is in use.
		<-t.closed
	})

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("websocket server failed", "addr", addr, "error", err)
		}
	}()

	return <-connCh, nil
}

type wsTransport struct {
	conn *websocket.Conn
	srv  *http.Server

	mu      sync.Mutex
	pending bytes.Buffer

	closeOnce sync.Once
	closed    chan struct{}
}

// Read returns buffered bytes of the current message before receiving the
// next one, so messages longer than p are not truncated.
func (w *wsTransport) Read(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending.Len() == 0 {
		var msg []byte
		if err := websocket.Message.Receive(w.conn, &msg); err != nil {
			return 0, err
		}
		w.pending.Write(msg)
	}
	return w.pending.Read(p)
}

func (w *wsTransport) Write(p []byte) (int, error) {
	if err := websocket.Message.Send(w.conn, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsTransport) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		err = w.conn.Close()
		if w.srv != nil {
			_ = w.srv.Close()
		}
	})
	return err
}
