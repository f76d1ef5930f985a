// Package document keeps the text documents an engine has been told about
// through didOpen, didChange and didClose, with UTF-16 position mapping and
// Ruby identifier lookup.
package document

import (
	"slices"
	"sort"
	"sync"

	"github.com/gossip-lsp/langruby/protocol"
)

// Store is a thread-safe set of open documents keyed by URI.
type Store struct {
	mu   sync.RWMutex
	docs map[protocol.DocumentURI]*Document

	onOpen  []func(doc *Document)
	onClose []func(uri protocol.DocumentURI)
}

// NewStore creates a new empty document store.
func NewStore() *Store {
	return &Store{
		docs: make(map[protocol.DocumentURI]*Document),
	}
}

// OnOpen registers a callback fired after a document is opened, in
// registration order.
func (s *Store) OnOpen(fn func(doc *Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOpen = append(s.onOpen, fn)
}

// OnClose registers a callback fired after a document is closed.
func (s *Store) OnClose(fn func(uri protocol.DocumentURI)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, fn)
}

// Get returns the document for the given URI, or nil if not found.
func (s *Store) Get(uri protocol.DocumentURI) *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[uri]
}

// Len returns the number of open documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// All returns the open documents sorted by URI, so lookups across documents
// are deterministic.
func (s *Store) All() []*Document {
	s.mu.RLock()
	docs := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	s.mu.RUnlock()
	sort.Slice(docs, func(i, j int) bool { return docs[i].URI() < docs[j].URI() })
	return docs
}

// Open adds a document. Reopening a URI replaces the previous document.
func (s *Store) Open(params *protocol.DidOpenTextDocumentParams) *Document {
	doc := New(params.TextDocument)

	s.mu.Lock()
	s.docs[params.TextDocument.URI] = doc
	callbacks := slices.Clone(s.onOpen)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(doc)
	}
	return doc
}

// Change applies a didChange notification. It reports false when the
// document is not open.
func (s *Store) Change(params *protocol.DidChangeTextDocumentParams) bool {
	doc := s.Get(params.TextDocument.URI)
	if doc == nil {
		return false
	}
	doc.ApplyChanges(params.TextDocument.Version, params.ContentChanges)
	return true
}

// Close removes a document from the store.
func (s *Store) Close(params *protocol.DidCloseTextDocumentParams) {
	s.mu.Lock()
	_, ok := s.docs[params.TextDocument.URI]
	delete(s.docs, params.TextDocument.URI)
	callbacks := slices.Clone(s.onClose)
	s.mu.Unlock()

	if !ok {
		return
	}
	for _, cb := range callbacks {
		cb(params.TextDocument.URI)
	}
}
