package outline

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/gossip-lsp/langruby/document"
	"github.com/gossip-lsp/langruby/jsonrpc"
	"github.com/gossip-lsp/langruby/protocol"
	"github.com/gossip-lsp/langruby/treesitter"
)

// symbol is one definition found in a document.
type symbol struct {
	name string
	kind string
	uri  protocol.DocumentURI
	rng  protocol.Range
	line uint32
}

var definitionPatterns = []string{
	`(method name: (_) @name)`,
	`(singleton_method name: (_) @name)`,
	`(class name: (constant) @name)`,
	`(class name: (scope_resolution name: (constant) @name))`,
	`(module name: (constant) @name)`,
	`(module name: (scope_resolution name: (constant) @name))`,
	`(assignment left: (constant) @name)`,
}

var definitionKinds = map[string]bool{
	"method":           true,
	"singleton_method": true,
	"class":            true,
	"module":           true,
	"assignment":       true,
}

func (m *Module) reindex(uri protocol.DocumentURI, tree *treesitter.Tree) {
	var syms []symbol
	for _, pattern := range definitionPatterns {
		captures, err := tree.QueryCaptures(pattern)
		if err != nil {
			m.logger.Debug("definition query failed", "pattern", pattern, "error", err)
			continue
		}
		for _, c := range captures {
			def := c.Node.Parent()
			for def != nil && !definitionKinds[def.Type()] {
				def = def.Parent()
			}
			if def == nil {
				continue
			}
			syms = append(syms, symbol{
				name: c.Text,
				kind: def.Type(),
				uri:  uri,
				rng:  tree.Range(c.Node),
				line: tree.Range(def).Start.Line,
			})
		}
	}
	m.mu.Lock()
	m.symbols[uri] = syms
	m.mu.Unlock()
}

func (m *Module) forget(uri protocol.DocumentURI) {
	m.mu.Lock()
	delete(m.symbols, uri)
	m.mu.Unlock()
	m.checker.Forget(uri)
	_ = m.publishDiagnostics(context.Background(), &protocol.PublishDiagnosticsParams{URI: uri, Diagnostics: []protocol.Diagnostic{}})
}

// lookup returns the definitions of name, those in uri first.
func (m *Module) lookup(name string, uri protocol.DocumentURI) []symbol {
	m.mu.Lock()
	defer m.mu.Unlock()
	var local, other []symbol
	for _, doc := range m.store.All() {
		for _, s := range m.symbols[doc.URI()] {
			if s.name != name {
				continue
			}
			if s.uri == uri {
				local = append(local, s)
			} else {
				other = append(other, s)
			}
		}
	}
	return append(local, other...)
}

func (m *Module) open(uri protocol.DocumentURI) (*document.Document, error) {
	doc := m.store.Get(uri)
	if doc == nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeRequestFailed, Message: fmt.Sprintf("document not open: %s", uri)}
	}
	return doc, nil
}

// simpleName strips a constant path down to its last segment.
func simpleName(word string) string {
	if i := strings.LastIndex(word, "::"); i >= 0 {
		return word[i+2:]
	}
	return word
}

func (m *Module) hover(p protocol.TextDocumentPositionParams) (*protocol.Hover, error) {
	doc, err := m.open(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	word, start, end := doc.IdentifierAt(p.Position)
	if word == "" {
		return nil, nil
	}
	syms := m.lookup(simpleName(word), doc.URI())
	if len(syms) == 0 {
		return nil, nil
	}
	idx := doc.Index()
	rng := protocol.Range{Start: idx.Position(start), End: idx.Position(end)}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.Markdown, Value: m.describe(syms[0])},
		Range:    &rng,
	}, nil
}

// describe renders a definition line with the sig and comments above it.
func (m *Module) describe(s symbol) string {
	doc := m.store.Get(s.uri)
	if doc == nil {
		return "```ruby\n" + s.name + "\n```"
	}
	idx := doc.Index()
	code := []string{strings.TrimSpace(idx.Line(s.line))}
	var comments []string
	for l := int(s.line) - 1; l >= 0; l-- {
		t := strings.TrimSpace(idx.Line(uint32(l)))
		switch {
		case strings.HasPrefix(t, "sig ") || strings.HasPrefix(t, "sig{"):
			code = append([]string{t}, code...)
		case strings.HasPrefix(t, "#") && !strings.HasPrefix(t, "# typed:"):
			comments = append([]string{strings.TrimSpace(strings.TrimPrefix(t, "#"))}, comments...)
		default:
			l = -1
		}
	}
	out := "```ruby\n" + strings.Join(code, "\n") + "\n```"
	if len(comments) > 0 {
		out += "\n\n" + strings.Join(comments, "\n")
	}
	return out
}

func (m *Module) definition(p protocol.TextDocumentPositionParams) ([]protocol.Location, error) {
	doc, err := m.open(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	word, start, _ := doc.IdentifierAt(p.Position)
	if word == "" {
		return nil, nil
	}
	if isLocal(word) {
		if tree := m.manager.GetTree(doc.URI()); tree != nil {
			if n := localBinding(tree, start, word); n != nil {
				return []protocol.Location{{URI: doc.URI(), Range: tree.Range(n)}}, nil
			}
		}
	}
	syms := m.lookup(simpleName(word), doc.URI())
	if len(syms) == 0 {
		return nil, nil
	}
	locs := make([]protocol.Location, 0, len(syms))
	for _, s := range syms {
		locs = append(locs, protocol.Location{URI: s.uri, Range: s.rng})
	}
	return locs, nil
}

func (m *Module) references(p protocol.TextDocumentPositionParams, includeDeclaration bool) ([]protocol.Location, error) {
	doc, err := m.open(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	locs := []protocol.Location{}
	word, _, _ := doc.IdentifierAt(p.Position)
	if word == "" {
		return locs, nil
	}
	name := simpleName(word)

	declared := map[protocol.Location]bool{}
	for _, s := range m.lookup(name, doc.URI()) {
		declared[protocol.Location{URI: s.uri, Range: s.rng}] = true
	}
	for _, d := range m.store.All() {
		tree := m.manager.GetTree(d.URI())
		if tree == nil || tree.RootNode() == nil {
			continue
		}
		walkNamed(tree.RootNode(), func(n *sitter.Node) {
			if t := n.Type(); t != "identifier" && t != "constant" {
				return
			}
			if tree.NodeText(n) != name {
				return
			}
			loc := protocol.Location{URI: d.URI(), Range: tree.Range(n)}
			if !includeDeclaration && declared[loc] {
				return
			}
			locs = append(locs, loc)
		})
	}
	return locs, nil
}

func isLocal(word string) bool {
	if word == "" || strings.Contains(word, "::") {
		return false
	}
	c := word[0]
	return c == '_' || (c >= 'a' && c <= 'z')
}

var scopeKinds = map[string]bool{
	"method":           true,
	"singleton_method": true,
	"block":            true,
	"do_block":         true,
	"lambda":           true,
	"program":          true,
}

var bindingParents = map[string]bool{
	"method_parameters":    true,
	"block_parameters":     true,
	"lambda_parameters":    true,
	"optional_parameter":   true,
	"keyword_parameter":    true,
	"splat_parameter":      true,
	"hash_splat_parameter": true,
	"block_parameter":      true,
}

// localBinding finds the first assignment or parameter binding name in the
// scope enclosing offset, at or before offset.
func localBinding(tree *treesitter.Tree, offset int, name string) *sitter.Node {
	scope := tree.NodeAtOffset(offset)
	for scope != nil && !scopeKinds[scope.Type()] {
		scope = scope.Parent()
	}
	if scope == nil {
		return nil
	}
	var found *sitter.Node
	walkNamed(scope, func(n *sitter.Node) {
		if found != nil || n.Type() != "identifier" || int(n.StartByte()) > offset {
			return
		}
		if tree.NodeText(n) != name {
			return
		}
		parent := n.Parent()
		if parent == nil {
			return
		}
		switch {
		case parent.Type() == "assignment" || parent.Type() == "operator_assignment":
			if left := parent.ChildByFieldName("left"); left != nil && left.StartByte() == n.StartByte() {
				found = n
			}
		case bindingParents[parent.Type()]:
			found = n
		}
	})
	return found
}

// walkNamed visits n and its named descendants in document order.
func walkNamed(n *sitter.Node, fn func(*sitter.Node)) {
	fn(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child != nil {
			walkNamed(child, fn)
		}
	}
}
