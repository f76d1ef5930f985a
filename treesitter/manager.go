package treesitter

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/gossip-lsp/langruby/document"
	"github.com/gossip-lsp/langruby/protocol"
)

// TreeUpdateFunc is called after a tree is parsed or re-parsed.
type TreeUpdateFunc func(uri protocol.DocumentURI, tree *Tree)

// Manager owns one parser and tree per open document. It hooks into a
// document.Store: documents are parsed on open, reparsed on change and
// released on close.
type Manager struct {
	registry *Registry
	store    *document.Store
	logger   *slog.Logger

	mu      sync.RWMutex
	parsers map[protocol.DocumentURI]*sitter.Parser
	trees   map[protocol.DocumentURI]*Tree

	onTreeUpdate []TreeUpdateFunc
}

// NewManager creates a manager tied to a document store.
func NewManager(registry *Registry, store *document.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		registry: registry,
		store:    store,
		logger:   logger,
		parsers:  make(map[protocol.DocumentURI]*sitter.Parser),
		trees:    make(map[protocol.DocumentURI]*Tree),
	}

	store.OnOpen(m.handleOpen)
	store.OnClose(m.handleClose)

	return m
}

// OnTreeUpdate registers a callback that fires after every parse/reparse.
func (m *Manager) OnTreeUpdate(fn TreeUpdateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTreeUpdate = append(m.onTreeUpdate, fn)
}

// Registry returns the language registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// GetTree returns the current tree for the given document URI.
func (m *Manager) GetTree(uri protocol.DocumentURI) *Tree {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trees[uri]
}

func (m *Manager) handleOpen(doc *document.Document) {
	uri := doc.URI()
	lang, err := m.registry.LanguageFor(string(uri), doc.LanguageID())
	if err != nil {
		m.logger.Debug("no grammar for document", "uri", uri, "error", err)
		return
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	src := []byte(doc.Text())
	raw, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		parser.Close()
		m.logger.Warn("parse failed", "uri", uri, "error", err)
		return
	}
	tree := newTree(raw, lang, src, &TreeDiff{IsFullReparse: true})

	m.mu.Lock()
	if old, ok := m.trees[uri]; ok {
		old.Close()
	}
	if oldParser, ok := m.parsers[uri]; ok {
		oldParser.Close()
	}
	m.parsers[uri] = parser
	m.trees[uri] = tree
	callbacks := append([]TreeUpdateFunc(nil), m.onTreeUpdate...)
	m.mu.Unlock()

	doc.SetOnTreeEdit(func(edits []document.EditRange) {
		m.handleEdits(doc, edits)
	})

	for _, cb := range callbacks {
		cb(uri, tree)
	}
}

func (m *Manager) handleClose(uri protocol.DocumentURI) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if parser, ok := m.parsers[uri]; ok {
		parser.Close()
		delete(m.parsers, uri)
	}
	if tree, ok := m.trees[uri]; ok {
		tree.Close()
		delete(m.trees, uri)
	}
}

// handleEdits reparses after a change. A single ranged edit is applied to the
// old tree so tree-sitter can reuse unchanged subtrees; anything else is a
// full reparse.
func (m *Manager) handleEdits(doc *document.Document, edits []document.EditRange) {
	uri := doc.URI()

	m.mu.Lock()
	parser, ok := m.parsers[uri]
	old := m.trees[uri]
	if !ok || old == nil {
		m.mu.Unlock()
		return
	}

	newText := doc.Text()
	src := []byte(newText)
	oldText := string(old.src)

	var (
		base *sitter.Tree
		diff = &TreeDiff{IsFullReparse: true}
	)
	if len(edits) == 1 && !isWholeDocument(edits[0], len(oldText)) {
		e := edits[0]
		old.raw.Edit(sitter.EditInput{
			StartIndex:  uint32(e.StartByte),
			OldEndIndex: uint32(e.OldEndByte),
			NewEndIndex: uint32(e.NewEndByte),
			StartPoint:  bytePoint(oldText, e.StartByte),
			OldEndPoint: bytePoint(oldText, e.OldEndByte),
			NewEndPoint: bytePoint(newText, e.NewEndByte),
		})
		base = old.raw
		diff = &TreeDiff{ChangedRanges: []protocol.Range{{Start: e.StartPos, End: e.NewEndPos}}}
	}

	raw, err := parser.ParseCtx(context.Background(), base, src)
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("reparse failed", "uri", uri, "error", err)
		return
	}
	tree := newTree(raw, old.lang, src, diff)
	old.Close()
	m.trees[uri] = tree
	callbacks := append([]TreeUpdateFunc(nil), m.onTreeUpdate...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(uri, tree)
	}
}

func isWholeDocument(e document.EditRange, oldLen int) bool {
	return e.StartByte == 0 && e.OldEndByte == oldLen
}

// bytePoint returns the tree-sitter point (row, byte column) of offset.
func bytePoint(text string, offset int) sitter.Point {
	if offset > len(text) {
		offset = len(text)
	}
	before := text[:offset]
	row := strings.Count(before, "\n")
	col := offset - (strings.LastIndexByte(before, '\n') + 1)
	return sitter.Point{Row: uint32(row), Column: uint32(col)}
}

// Close releases all parsers and trees.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uri, parser := range m.parsers {
		parser.Close()
		delete(m.parsers, uri)
	}
	for uri, tree := range m.trees {
		tree.Close()
		delete(m.trees, uri)
	}
}
