package outline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gossip-lsp/langruby/engine"
	"github.com/gossip-lsp/langruby/jsonrpc"
	"github.com/gossip-lsp/langruby/protocol"
)

const greeter = `# typed: true
class Greeter
  # Says hello.
  sig {params(name: String).returns(String)}
  def greet(name)
    prefix = "Hello, "
    prefix + name
  end
end

Greeter.new.greet("x")
`

const greeterURI = protocol.DocumentURI("file:///lib/greeter.rb")

type harness struct {
	t      *testing.T
	send   func(string) error
	got    []jsonrpc.Message
	nextID int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	e, err := engine.Connect(context.Background(), &Loader{}, engine.Payload{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	h := &harness{t: t}
	h.send = e.SendReceive(func(s string) {
		msg, err := jsonrpc.DecodeMessage([]byte(s))
		require.NoError(t, err)
		h.got = append(h.got, msg)
	})
	return h
}

func (h *harness) notify(method string, params interface{}) {
	h.t.Helper()
	n, err := jsonrpc.NewNotification(method, params)
	require.NoError(h.t, err)
	data, err := json.Marshal(n)
	require.NoError(h.t, err)
	require.NoError(h.t, h.send(string(data)))
}

// call sends a request and returns its response, which the engine must
// have produced before Invoke returned.
func (h *harness) call(method string, params interface{}) *jsonrpc.Response {
	h.t.Helper()
	h.nextID++
	req, err := jsonrpc.NewRequest(jsonrpc.IntID(h.nextID), method, params)
	require.NoError(h.t, err)
	data, err := json.Marshal(req)
	require.NoError(h.t, err)
	require.NoError(h.t, h.send(string(data)))

	for _, msg := range h.got {
		if resp, ok := msg.(*jsonrpc.Response); ok && resp.ID.Key() == req.ID.Key() {
			return resp
		}
	}
	h.t.Fatalf("no response to %s", method)
	return nil
}

func (h *harness) open(uri protocol.DocumentURI, text string) {
	h.notify(protocol.MethodDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, LanguageID: "ruby", Version: 1, Text: text},
	})
}

func (h *harness) diagnostics(uri protocol.DocumentURI) *protocol.PublishDiagnosticsParams {
	var last *protocol.PublishDiagnosticsParams
	for _, msg := range h.got {
		n, ok := msg.(*jsonrpc.Notification)
		if !ok || n.Method != protocol.MethodPublishDiagnostics {
			continue
		}
		var p protocol.PublishDiagnosticsParams
		require.NoError(h.t, json.Unmarshal(n.Params, &p))
		if p.URI == uri {
			last = &p
		}
	}
	return last
}

func at(uri protocol.DocumentURI, line, char uint32) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
		Position:     protocol.Position{Line: line, Character: char},
	}
}

func rng(l1, c1, l2, c2 uint32) protocol.Range {
	return protocol.Range{Start: protocol.Position{Line: l1, Character: c1}, End: protocol.Position{Line: l2, Character: c2}}
}

func TestInitialize(t *testing.T) {
	h := newHarness(t)
	resp := h.call(protocol.MethodInitialize, protocol.InitializeParams{})
	require.Nil(t, resp.Error)

	var result struct {
		Capabilities map[string]interface{} `json:"capabilities"`
		ServerInfo   protocol.ServerInfo    `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, true, result.Capabilities["hoverProvider"])
	assert.Equal(t, true, result.Capabilities["definitionProvider"])
	assert.Equal(t, Name, result.ServerInfo.Name)
}

func TestHoverShowsSigAndComment(t *testing.T) {
	h := newHarness(t)
	h.open(greeterURI, greeter)

	resp := h.call(protocol.MethodHover, protocol.HoverParams{TextDocumentPositionParams: at(greeterURI, 10, 13)})
	require.Nil(t, resp.Error)

	var hover protocol.Hover
	require.NoError(t, json.Unmarshal(resp.Result, &hover))
	assert.Equal(t, protocol.Markdown, hover.Contents.Kind)
	assert.Equal(t, "```ruby\nsig {params(name: String).returns(String)}\ndef greet(name)\n```\n\nSays hello.", hover.Contents.Value)
	require.NotNil(t, hover.Range)
	assert.Equal(t, rng(10, 12, 10, 17), *hover.Range)
}

func TestHoverOnUnknownWordIsNull(t *testing.T) {
	h := newHarness(t)
	h.open(greeterURI, greeter)

	resp := h.call(protocol.MethodHover, protocol.HoverParams{TextDocumentPositionParams: at(greeterURI, 10, 9)})
	require.Nil(t, resp.Error)
	assert.Equal(t, "null", string(resp.Result))
}

func TestDefinition(t *testing.T) {
	h := newHarness(t)
	h.open(greeterURI, greeter)

	tests := []struct {
		name string
		pos  protocol.TextDocumentPositionParams
		want protocol.Range
	}{
		{"local variable", at(greeterURI, 6, 5), rng(5, 4, 5, 10)},
		{"method parameter", at(greeterURI, 6, 14), rng(4, 12, 4, 16)},
		{"class", at(greeterURI, 10, 1), rng(1, 6, 1, 13)},
		{"method", at(greeterURI, 10, 13), rng(4, 6, 4, 11)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.call(protocol.MethodDefinition, protocol.DefinitionParams{TextDocumentPositionParams: tt.pos})
			require.Nil(t, resp.Error)
			var locs []protocol.Location
			require.NoError(t, json.Unmarshal(resp.Result, &locs))
			require.Len(t, locs, 1)
			assert.Equal(t, greeterURI, locs[0].URI)
			assert.Equal(t, tt.want, locs[0].Range)
		})
	}
}

func TestDefinitionAcrossDocuments(t *testing.T) {
	h := newHarness(t)
	h.open(greeterURI, greeter)
	h.open("file:///app/main.rb", "Greeter.new\n")

	resp := h.call(protocol.MethodDefinition, protocol.DefinitionParams{TextDocumentPositionParams: at("file:///app/main.rb", 0, 2)})
	require.Nil(t, resp.Error)
	var locs []protocol.Location
	require.NoError(t, json.Unmarshal(resp.Result, &locs))
	require.Len(t, locs, 1)
	assert.Equal(t, greeterURI, locs[0].URI)
}

func TestReferences(t *testing.T) {
	h := newHarness(t)
	h.open(greeterURI, greeter)

	resp := h.call(protocol.MethodReferences, protocol.ReferenceParams{
		TextDocumentPositionParams: at(greeterURI, 5, 5),
		Context:                    protocol.ReferenceContext{IncludeDeclaration: true},
	})
	require.Nil(t, resp.Error)
	var locs []protocol.Location
	require.NoError(t, json.Unmarshal(resp.Result, &locs))
	assert.Len(t, locs, 2)

	resp = h.call(protocol.MethodReferences, protocol.ReferenceParams{
		TextDocumentPositionParams: at(greeterURI, 10, 13),
		Context:                    protocol.ReferenceContext{IncludeDeclaration: false},
	})
	require.Nil(t, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, &locs))
	require.Len(t, locs, 1)
	assert.Equal(t, rng(10, 12, 10, 17), locs[0].Range)
}

func TestSyntaxDiagnostics(t *testing.T) {
	h := newHarness(t)
	h.open(greeterURI, greeter)
	diags := h.diagnostics(greeterURI)
	require.NotNil(t, diags)
	assert.Empty(t, diags.Diagnostics)

	h.notify(protocol.MethodDidChange, protocol.DidChangeTextDocumentParams{
		TextDocument:   protocol.VersionedTextDocumentIdentifier{TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: greeterURI}, Version: 2},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: "def broken(\n"}},
	})
	diags = h.diagnostics(greeterURI)
	require.NotNil(t, diags)
	require.NotEmpty(t, diags.Diagnostics)
	assert.Equal(t, "syntax", diags.Diagnostics[0].Source)

	h.notify(protocol.MethodDidClose, protocol.DidCloseTextDocumentParams{TextDocument: protocol.TextDocumentIdentifier{URI: greeterURI}})
	diags = h.diagnostics(greeterURI)
	require.NotNil(t, diags)
	assert.Empty(t, diags.Diagnostics)
}

func TestErrors(t *testing.T) {
	h := newHarness(t)

	resp := h.call("textDocument/formatting", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, resp.Error.Code)

	resp = h.call(protocol.MethodHover, protocol.HoverParams{TextDocumentPositionParams: at("file:///missing.rb", 0, 0)})
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeRequestFailed, resp.Error.Code)
}

func TestInvokeChecksSignature(t *testing.T) {
	m := New(false, nil)
	h := m.RegisterCallback(func(string) {})

	err := m.Invoke("typecheck", engine.LSPArgTypes, int(h), "{}")
	assert.ErrorIs(t, err, engine.ErrUnknownExport)

	err = m.Invoke(engine.ExportLSP, []engine.ArgType{engine.ArgString}, "{}")
	assert.ErrorIs(t, err, engine.ErrBadArguments)

	err = m.Invoke(engine.ExportLSP, engine.LSPArgTypes, 99, "{}")
	assert.ErrorIs(t, err, engine.ErrBadArguments)
}

func TestFramedInputMayBeSplit(t *testing.T) {
	m := New(true, nil)
	var out []string
	h := m.RegisterCallback(func(s string) { out = append(out, s) })

	frame := string(jsonrpc.Frame([]byte(`{"jsonrpc":"2.0","id":1,"method":"shutdown"}`)))
	require.NoError(t, m.Invoke(engine.ExportLSP, engine.LSPArgTypes, int(h), frame[:10]))
	assert.Empty(t, out)
	require.NoError(t, m.Invoke(engine.ExportLSP, engine.LSPArgTypes, int(h), frame[10:]))
	require.Len(t, out, 1)

	body, n, err := jsonrpc.SplitFrame([]byte(out[0]))
	require.NoError(t, err)
	assert.Equal(t, len(out[0]), n)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":null}`, string(body))
}
