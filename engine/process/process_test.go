package process

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gossip-lsp/langruby/engine"
	"github.com/gossip-lsp/langruby/jsonrpc"
)

// TestHelperProcess is not a real test. It is the engine process started by
// the tests below: it answers every request with its own method name.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("LANGRUBY_HELPER_ENGINE") != "1" {
		return
	}
	codec := jsonrpc.NewCodec(os.Stdin, os.Stdout)
	for {
		data, err := codec.Read()
		if err != nil {
			os.Exit(0)
		}
		msg, err := jsonrpc.DecodeMessage(data)
		if err != nil {
			os.Exit(2)
		}
		req, ok := msg.(*jsonrpc.Request)
		if !ok {
			continue
		}
		out, _ := json.Marshal(jsonrpc.NewResponse(req.ID, req.Method, nil))
		_ = codec.Write(out)
	}
}

func helperLoader() *Loader {
	return &Loader{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Env:     []string{"LANGRUBY_HELPER_ENGINE=1"},
	}
}

func TestProcessRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, err := engine.Connect(ctx, helperLoader(), engine.Payload{})
	require.NoError(t, err)
	defer e.Close()

	got := make(chan string, 1)
	send := e.SendReceive(func(msg string) { got <- msg })
	require.NoError(t, send(`{"jsonrpc":"2.0","id":7,"method":"textDocument/hover","params":{}}`))

	select {
	case body := <-got:
		msg, err := jsonrpc.DecodeMessage([]byte(body))
		require.NoError(t, err)
		resp, ok := msg.(*jsonrpc.Response)
		require.True(t, ok)
		assert.Equal(t, "n:7", resp.ID.Key())
		assert.JSONEq(t, `"textDocument/hover"`, string(resp.Result))
	case <-time.After(10 * time.Second):
		t.Fatal("no answer from engine process")
	}
}

func TestProcessExitIsFault(t *testing.T) {
	e, err := engine.Connect(context.Background(), helperLoader(), engine.Payload{})
	require.NoError(t, err)

	require.NoError(t, e.Close())
	select {
	case <-e.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("engine not done after close")
	}
	assert.Error(t, e.Err())
}

func TestMissingCommandIsInstantiationError(t *testing.T) {
	_, err := engine.Connect(context.Background(), &Loader{}, engine.Payload{Source: "langruby-no-such-engine"})
	var ierr *engine.InstantiationError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "langruby-no-such-engine", ierr.Source)
}
