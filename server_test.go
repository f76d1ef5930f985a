package langruby_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gossip-lsp/langruby"
	"github.com/gossip-lsp/langruby/bridgetest"
	"github.com/gossip-lsp/langruby/config"
	"github.com/gossip-lsp/langruby/convert"
	"github.com/gossip-lsp/langruby/host"
	"github.com/gossip-lsp/langruby/jsonrpc"
	mw "github.com/gossip-lsp/langruby/middleware"
	"github.com/gossip-lsp/langruby/protocol"
	"github.com/gossip-lsp/langruby/session"
)

const fooURI = "https://example.com/repo?rev1#lib/foo.rb"

func newServer(reg *host.Registry, opts ...langruby.Option) *langruby.Server {
	opts = append([]langruby.Option{langruby.WithLogger(bridgetest.QuietLogger())}, opts...)
	return langruby.NewServer("test-server", "0.1.0", reg, opts...)
}

func rpcCode(t *testing.T, err error) int {
	t.Helper()
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *jsonrpc.Error, got %T: %v", err, err)
	}
	return rpcErr.Code
}

func TestInitializeReportsRegisteredProviders(t *testing.T) {
	reg := host.NewRegistry()
	reg.RegisterHoverProvider(host.Pattern("*.rb"), host.HoverProviderFunc(
		func(ctx context.Context, doc host.TextDocument, pos host.Position) (*host.Hover, error) {
			return nil, nil
		}))

	c := bridgetest.NewUninitializedClient(t, newServer(reg))
	result := c.Initialize()

	if result.ServerInfo == nil || result.ServerInfo.Name != "test-server" || result.ServerInfo.Version != "0.1.0" {
		t.Errorf("server info = %+v", result.ServerInfo)
	}
	if result.Capabilities.HoverProvider != true {
		t.Errorf("hover provider = %v", result.Capabilities.HoverProvider)
	}
	if result.Capabilities.DefinitionProvider != nil {
		t.Errorf("definition provider = %v, want none", result.Capabilities.DefinitionProvider)
	}
	if result.Capabilities.ReferencesProvider != nil {
		t.Errorf("references provider = %v, want none", result.Capabilities.ReferencesProvider)
	}
}

func TestRequestBeforeInitialize(t *testing.T) {
	c := bridgetest.NewUninitializedClient(t, newServer(nil))
	_, err := c.Hover(fooURI, bridgetest.Pos(0, 0))
	if code := rpcCode(t, err); code != jsonrpc.CodeServerNotInitialized {
		t.Errorf("code = %d, want %d", code, jsonrpc.CodeServerNotInitialized)
	}
}

func TestHoverDispatchesByPattern(t *testing.T) {
	reg := host.NewRegistry()
	var got atomic.Value
	reg.RegisterHoverProvider(host.Pattern("*.rb"), host.HoverProviderFunc(
		func(ctx context.Context, doc host.TextDocument, pos host.Position) (*host.Hover, error) {
			got.Store(fmt.Sprintf("%s@%d:%d", doc.URI, pos.Line, pos.Character))
			return &host.Hover{Contents: host.MarkupContent{Kind: "markdown", Value: "**foo**"}, Priority: host.HoverPriority}, nil
		}))
	c := bridgetest.NewClient(t, newServer(reg))

	hover, err := c.Hover(fooURI, bridgetest.Pos(2, 4))
	if err != nil {
		t.Fatal(err)
	}
	bridgetest.AssertHoverContains(t, hover, "**foo**")
	if hover.Priority != host.HoverPriority {
		t.Errorf("priority = %d", hover.Priority)
	}
	if got.Load() != fooURI+"@2:4" {
		t.Errorf("provider saw %v", got.Load())
	}

	hover, err = c.Hover("https://example.com/repo?rev1#README.md", bridgetest.Pos(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if hover != nil {
		t.Errorf("non-ruby document got hover %+v", hover)
	}
}

func TestReferencesPassesContext(t *testing.T) {
	reg := host.NewRegistry()
	reg.RegisterReferencesProvider(host.Pattern("*"), host.ReferencesProviderFunc(
		func(ctx context.Context, doc host.TextDocument, pos host.Position, includeDeclaration bool) ([]host.Location, error) {
			if !includeDeclaration {
				return nil, nil
			}
			return []host.Location{{URI: doc.URI}}, nil
		}))
	c := bridgetest.NewClient(t, newServer(reg))

	locs, err := c.References(fooURI, bridgetest.Pos(0, 0), true)
	if err != nil {
		t.Fatal(err)
	}
	bridgetest.AssertLocationCount(t, locs, 1)

	locs, err = c.References(fooURI, bridgetest.Pos(0, 0), false)
	if err != nil {
		t.Fatal(err)
	}
	bridgetest.AssertLocationCount(t, locs, 0)
}

func TestProviderErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"timeout", fmt.Errorf("hover: %w", session.ErrTimeout), jsonrpc.CodeRequestCancelled},
		{"faulted", fmt.Errorf("%w: engine trapped", session.ErrFaulted), jsonrpc.CodeServerNotInitialized},
		{"not ready", session.ErrNotReady, jsonrpc.CodeServerNotInitialized},
		{"not a host uri", fmt.Errorf("%w: file:///x.rb", convert.ErrNotHostURI), jsonrpc.CodeInvalidParams},
		{"engine error", &jsonrpc.Error{Code: jsonrpc.CodeContentModified, Message: "stale"}, jsonrpc.CodeContentModified},
		{"other", errors.New("boom"), jsonrpc.CodeRequestFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := host.NewRegistry()
			reg.RegisterDefinitionProvider(host.Pattern("*"), host.DefinitionProviderFunc(
				func(ctx context.Context, doc host.TextDocument, pos host.Position) ([]host.Location, error) {
					return nil, tt.err
				}))
			c := bridgetest.NewClient(t, newServer(reg))

			_, err := c.Definition(fooURI, bridgetest.Pos(0, 0))
			if code := rpcCode(t, err); code != tt.code {
				t.Errorf("code = %d, want %d", code, tt.code)
			}
		})
	}
}

func TestCustomRequestAndMethodNotFound(t *testing.T) {
	s := newServer(nil)
	s.HandleRequest("custom/echo", func(ctx *langruby.Context, params json.RawMessage) (interface{}, error) {
		return ctx.ServerInfo().Name, nil
	})
	c := bridgetest.NewClient(t, s)

	var name string
	if err := c.Call("custom/echo", nil, &name); err != nil {
		t.Fatal(err)
	}
	if name != "test-server" {
		t.Errorf("name = %q", name)
	}

	err := c.Call("custom/missing", nil, nil)
	if code := rpcCode(t, err); code != jsonrpc.CodeMethodNotFound {
		t.Errorf("code = %d, want %d", code, jsonrpc.CodeMethodNotFound)
	}
}

func TestShutdownAndExit(t *testing.T) {
	s := newServer(nil)
	c := bridgetest.NewClient(t, s)

	c.Shutdown()
	_, err := c.Hover(fooURI, bridgetest.Pos(0, 0))
	if code := rpcCode(t, err); code != jsonrpc.CodeInvalidRequest {
		t.Errorf("code after shutdown = %d, want %d", code, jsonrpc.CodeInvalidRequest)
	}

	if err := c.Exit(); err != nil {
		t.Errorf("serve returned %v", err)
	}
	if s.ExitCode() != 0 {
		t.Errorf("exit code = %d, want 0", s.ExitCode())
	}
}

func TestExitWithoutShutdown(t *testing.T) {
	s := newServer(nil)
	c := bridgetest.NewClient(t, s)
	if err := c.Exit(); err != nil {
		t.Errorf("serve returned %v", err)
	}
	if s.ExitCode() != 1 {
		t.Errorf("exit code = %d, want 1", s.ExitCode())
	}
}

func TestMiddlewareWrapsDispatch(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	record := func(next mw.Handler) mw.Handler {
		return func(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
			mu.Lock()
			seen[method]++
			mu.Unlock()
			return next(ctx, method, params)
		}
	}
	c := bridgetest.NewClient(t, newServer(nil, langruby.WithMiddleware(record)))
	c.Shutdown()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}
	deadline := time.Now().Add(time.Second)
	for count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, m := range []string{protocol.MethodInitialize, protocol.MethodInitialized, protocol.MethodShutdown} {
		if seen[m] != 1 {
			t.Errorf("middleware saw %s %d times, want 1", m, seen[m])
		}
	}
}

func TestDidChangeConfigurationReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "langruby.toml")
	if err := os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	defaults := config.Defaults()
	store := config.NewStore(&defaults)
	s := newServer(nil, langruby.WithConfig(path, store, &defaults))

	changed := make(chan string, 4)
	langruby.OnConfigChange(s, func(ctx *langruby.Context, old, new_ *config.Settings) {
		changed <- new_.Log.Level
	})
	s.HandleRequest("custom/level", func(ctx *langruby.Context, _ json.RawMessage) (interface{}, error) {
		return langruby.Config[config.Settings](ctx).Log.Level, nil
	})
	c := bridgetest.NewClient(t, s)

	if err := os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c.Notify(protocol.MethodDidChangeConfiguration, map[string]interface{}{"settings": nil})

	select {
	case level := <-changed:
		if level != "debug" {
			t.Errorf("reloaded level = %q", level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}

	var level string
	if err := c.Call("custom/level", nil, &level); err != nil {
		t.Fatal(err)
	}
	if level != "debug" {
		t.Errorf("Config level = %q", level)
	}
}
