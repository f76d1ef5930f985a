package bridgetest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gossip-lsp/langruby"
	"github.com/gossip-lsp/langruby/config"
	"github.com/gossip-lsp/langruby/engine"
	"github.com/gossip-lsp/langruby/host"
)

// Bridge is a complete activation over the in-process outline engine and
// an in-memory repository.
type Bridge struct {
	Repo      *Repo
	Registry  *host.Registry
	Extension *langruby.Extension
	Server    *langruby.Server
	Settings  *config.Settings
}

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewBridge activates the outline engine against repo and waits for the
// engine handshake. mutate may adjust the settings before activation.
// Everything is closed when the test completes.
func NewBridge(t testing.TB, repo *Repo, mutate ...func(*config.Settings)) *Bridge {
	t.Helper()
	return newBridge(t, repo, nil, mutate)
}

// NewFakeBridge is NewBridge over a scripted engine.
func NewFakeBridge(t testing.TB, repo *Repo, fake *FakeEngine, mutate ...func(*config.Settings)) *Bridge {
	t.Helper()
	return newBridge(t, repo, []langruby.ExtensionOption{
		langruby.WithEngineLoader(fake, engine.Payload{Source: "fake"}),
	}, mutate)
}

func newBridge(t testing.TB, repo *Repo, extra []langruby.ExtensionOption, mutate []func(*config.Settings)) *Bridge {
	t.Helper()
	settings := config.Defaults()
	settings.Engine.Kind = config.EngineOutline
	for _, m := range mutate {
		m(&settings)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger := QuietLogger()
	reg := host.NewRegistry()
	opts := append([]langruby.ExtensionOption{
		langruby.WithExtensionLogger(logger),
		langruby.WithQuerier(repo),
	}, extra...)
	ext, err := langruby.Activate(ctx, reg, &settings, opts...)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	t.Cleanup(func() { ext.Close() })

	if err := ext.Ready(ctx); err != nil {
		t.Fatalf("engine not ready: %v", err)
	}

	s := langruby.NewServer("langruby-test", "0.0.0", reg, langruby.WithLogger(logger))
	ext.Register(s)

	return &Bridge{Repo: repo, Registry: reg, Extension: ext, Server: s, Settings: &settings}
}

// Client connects a new initialized frontend to the bridge's server.
func (b *Bridge) Client(t testing.TB) *Client {
	return NewClient(t, b.Server)
}
