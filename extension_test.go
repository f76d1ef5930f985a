package langruby_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gossip-lsp/langruby"
	"github.com/gossip-lsp/langruby/bridgetest"
	"github.com/gossip-lsp/langruby/config"
	"github.com/gossip-lsp/langruby/engine"
	"github.com/gossip-lsp/langruby/host"
	"github.com/gossip-lsp/langruby/protocol"
)

const repoURL = "https://example.com/acme/greeter"

const mainRB = `require "greeter"

Greeter.new.greet("main")
`

func greeterRepo() *bridgetest.Repo {
	repo := bridgetest.NewRepo(repoURL)
	repo.Put("rev1", "lib/greeter.rb", bridgetest.Greeter)
	repo.Put("rev1", "app/main.rb", mainRB)
	return repo
}

func TestActivateServesHover(t *testing.T) {
	repo := greeterRepo()
	c := bridgetest.NewUninitializedClient(t, bridgetest.NewBridge(t, repo).Server)

	result := c.Initialize()
	if result.Capabilities.HoverProvider != true || result.Capabilities.DefinitionProvider != true || result.Capabilities.ReferencesProvider != true {
		t.Errorf("capabilities = %+v", result.Capabilities)
	}

	hover, err := c.Hover(repo.URI("rev1", "lib/greeter.rb"), bridgetest.Pos(1, 8))
	if err != nil {
		t.Fatal(err)
	}
	bridgetest.AssertHoverContains(t, hover, "class Greeter")
	if hover.Contents.Value != "" {
		t.Errorf("primary contents = %q, want empty", hover.Contents.Value)
	}
	if hover.Priority != host.HoverPriority {
		t.Errorf("priority = %d", hover.Priority)
	}
	if !strings.Contains(string(hover.BackcompatContents), "class Greeter") {
		t.Errorf("backcompat contents = %s", hover.BackcompatContents)
	}
}

func TestActivateDefinitionAcrossFiles(t *testing.T) {
	repo := greeterRepo()
	c := bridgetest.NewBridge(t, repo).Client(t)
	greeter := repo.URI("rev1", "lib/greeter.rb")
	main := repo.URI("rev1", "app/main.rb")

	// The engine only knows documents the bridge has opened.
	if _, err := c.Hover(greeter, bridgetest.Pos(0, 0)); err != nil {
		t.Fatal(err)
	}

	locs, err := c.Definition(main, bridgetest.Pos(2, 2))
	if err != nil {
		t.Fatal(err)
	}
	bridgetest.AssertLocationCount(t, locs, 1)
	bridgetest.AssertLocation(t, locs, greeter, 1)
}

func TestActivateReferencesDisabled(t *testing.T) {
	repo := greeterRepo()
	b := bridgetest.NewBridge(t, repo, func(s *config.Settings) { s.Providers.References = false })
	if b.Registry.HasReferences() {
		t.Fatal("references provider registered")
	}
	result := bridgetest.NewUninitializedClient(t, b.Server).Initialize()
	if result.Capabilities.ReferencesProvider != nil {
		t.Errorf("references provider = %v", result.Capabilities.ReferencesProvider)
	}
}

func TestActivateRevisionSwitch(t *testing.T) {
	repo := greeterRepo()
	repo.Put("rev2", "lib/greeter.rb", strings.Replace(bridgetest.Greeter, "def greet(name)", "def greet(name, punct)", 1))
	b := bridgetest.NewBridge(t, repo)
	c := b.Client(t)

	hover, err := c.Hover(repo.URI("rev1", "lib/greeter.rb"), bridgetest.Pos(8, 13))
	if err != nil {
		t.Fatal(err)
	}
	bridgetest.AssertHoverContains(t, hover, "def greet(name)")

	hover, err = c.Hover(repo.URI("rev2", "lib/greeter.rb"), bridgetest.Pos(8, 13))
	if err != nil {
		t.Fatal(err)
	}
	bridgetest.AssertHoverContains(t, hover, "def greet(name, punct)")

	opened := b.Extension.Session().Opened()
	if len(opened) != 1 || opened[0] != repo.URI("rev2", "lib/greeter.rb") {
		t.Errorf("opened = %v", opened)
	}
	if repo.Queries() != 2 {
		t.Errorf("queries = %d, want 2", repo.Queries())
	}
}

func TestActivateMissingFile(t *testing.T) {
	repo := greeterRepo()
	c := bridgetest.NewBridge(t, repo).Client(t)

	_, err := c.Definition(repo.URI("rev1", "lib/absent.rb"), bridgetest.Pos(0, 0))
	if err == nil || !strings.Contains(err.Error(), "lib/absent.rb") {
		t.Fatalf("err = %v", err)
	}
}

func TestDiagnosticsRequest(t *testing.T) {
	repo := greeterRepo()
	repo.Put("rev1", "lib/broken.rb", "class Broken\n  def oops(\nend\n")
	c := bridgetest.NewBridge(t, repo).Client(t)
	uri := repo.URI("rev1", "lib/broken.rb")

	if _, err := c.Hover(uri, bridgetest.Pos(0, 7)); err != nil {
		t.Fatal(err)
	}

	params := langruby.DocumentParams{TextDocument: host.TextDocument{URI: uri}}
	deadline := time.Now().Add(5 * time.Second)
	for {
		var diags []protocol.Diagnostic
		if err := c.Call("langruby/diagnostics", params, &diags); err != nil {
			t.Fatal(err)
		}
		if len(diags) > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no diagnostics for a file with a syntax error")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStatusAndClose(t *testing.T) {
	repo := greeterRepo()
	b := bridgetest.NewBridge(t, repo)
	c := b.Client(t)

	if _, err := c.Hover(repo.URI("rev1", "app/main.rb"), bridgetest.Pos(0, 0)); err != nil {
		t.Fatal(err)
	}

	var st langruby.Status
	if err := c.Call("langruby/status", nil, &st); err != nil {
		t.Fatal(err)
	}
	if st.State != "ready" || st.Engine != config.EngineOutline || st.Error != "" {
		t.Errorf("status = %+v", st)
	}
	if len(st.OpenDocuments) != 1 || st.OpenDocuments[0] != repo.URI("rev1", "app/main.rb") {
		t.Errorf("open documents = %v", st.OpenDocuments)
	}

	if err := b.Extension.Close(); err != nil {
		t.Fatal(err)
	}
	if b.Registry.HasHover() || b.Registry.HasDefinition() || b.Registry.HasReferences() {
		t.Error("providers still registered after Close")
	}
	if got := b.Extension.Status().State; got != "closed" {
		t.Errorf("state after close = %q", got)
	}
}

func TestActivateInstantiationFailure(t *testing.T) {
	settings := config.Defaults()
	loader := engine.LoaderFunc(func(ctx context.Context, p engine.Payload) (engine.Module, error) {
		return nil, errors.New("bad magic number")
	})

	reg := host.NewRegistry()
	_, err := langruby.Activate(context.Background(), reg, &settings,
		langruby.WithExtensionLogger(bridgetest.QuietLogger()),
		langruby.WithEngineLoader(loader, engine.Payload{Source: "sorbet.wasm"}),
	)
	var ierr *engine.InstantiationError
	if !errors.As(err, &ierr) {
		t.Fatalf("err = %v, want *engine.InstantiationError", err)
	}
	if ierr.Source != "sorbet.wasm" {
		t.Errorf("source = %q", ierr.Source)
	}
	if reg.HasHover() {
		t.Error("provider registered after failed activation")
	}
}

func TestActivateRejectsInvalidSettings(t *testing.T) {
	settings := config.Defaults()
	settings.Engine.Framing = "lines"
	if _, err := langruby.Activate(context.Background(), host.NewRegistry(), &settings); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyUpdatesRequestTimeout(t *testing.T) {
	repo := greeterRepo()
	b := bridgetest.NewBridge(t, repo)
	c := b.Client(t)

	next := *b.Settings
	next.Session.RequestTimeout = config.Duration(time.Nanosecond)
	b.Extension.Apply(&next)

	_, err := c.Hover(repo.URI("rev1", "lib/greeter.rb"), bridgetest.Pos(1, 8))
	if err == nil {
		t.Fatal("expected the request to time out")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v", err)
	}
}
