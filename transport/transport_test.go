package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

func TestMemoryPipe(t *testing.T) {
	client, server := MemoryPipe()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 3)
	n, err := server.Read(buf)
	if err != nil || string(buf[:n]) != "hel" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	n, err = server.Read(buf)
	if err != nil || string(buf[:n]) != "lo" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}

	if _, err := server.Write([]byte("back")); err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(io.LimitReader(client, 4))
	if err != nil || string(got) != "back" {
		t.Fatalf("ReadAll = %q, %v", got, err)
	}

	server.Close()
	if _, err := client.Read(buf); err != io.EOF {
		t.Errorf("Read after close = %v, want EOF", err)
	}
	if _, err := client.Write([]byte("x")); err != io.ErrClosedPipe {
		t.Errorf("Write after close = %v, want ErrClosedPipe", err)
	}
}

func TestMemoryPipeBlocksUntilWrite(t *testing.T) {
	client, server := MemoryPipe()
	defer client.Close()

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 8)
		n, _ := server.Read(buf)
		got <- string(buf[:n])
	}()
	time.Sleep(10 * time.Millisecond)
	client.Write([]byte("late"))

	select {
	case s := <-got:
		if s != "late" {
			t.Errorf("got %q", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader never woke")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestTCP(t *testing.T) {
	addr := freeAddr(t)
	accepted := make(chan Transport, 1)
	go func() {
		srv, err := ListenTCP(addr)
		if err != nil {
			t.Error(err)
			return
		}
		accepted <- srv
	}()

	var client Transport
	var err error
	deadline := time.Now().Add(5 * time.Second)
	for {
		client, err = DialTCP(context.Background(), addr)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	srv := <-accepted
	defer srv.Close()

	client.Write([]byte("ping"))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(srv, buf); err != nil || string(buf) != "ping" {
		t.Fatalf("got %q, %v", buf, err)
	}
}

func TestWebSocketLongMessage(t *testing.T) {
	addr := freeAddr(t)
	accepted := make(chan Transport, 1)
	go func() {
		srv, err := ListenWebSocket(addr, nil)
		if err != nil {
			t.Error(err)
			return
		}
		accepted <- srv
	}()

	var ws *websocket.Conn
	var err error
	deadline := time.Now().Add(5 * time.Second)
	for {
		ws, err = websocket.Dial("ws://"+addr+"/", "", "http://localhost/")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	srv := <-accepted
	defer srv.Close()

	if err := websocket.Message.Send(ws, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	var got []byte
	for len(got) < 10 {
		n, err := srv.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "0123456789" {
		t.Errorf("got %q", got)
	}

	if _, err := srv.Write([]byte("reply")); err != nil {
		t.Fatal(err)
	}
	var reply []byte
	if err := websocket.Message.Receive(ws, &reply); err != nil || string(reply) != "reply" {
		t.Errorf("reply = %q, %v", reply, err)
	}
}
