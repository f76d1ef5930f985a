package document

import (
	"sync"

	"github.com/gossip-lsp/langruby/protocol"
)

// Document is one text document held by the engine: its text and version.
type Document struct {
	mu         sync.RWMutex
	uri        protocol.DocumentURI
	languageID string
	version    int32
	text       string
	index      *LineIndex

	onTreeEdit func(edits []EditRange)
}

// New creates a Document from a didOpen text document item.
func New(item protocol.TextDocumentItem) *Document {
	return &Document{
		uri:        item.URI,
		languageID: item.LanguageID,
		version:    item.Version,
		text:       item.Text,
		index:      NewLineIndex(item.Text),
	}
}

// URI returns the document's URI.
func (d *Document) URI() protocol.DocumentURI {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.uri
}

// LanguageID returns the language identifier sent with didOpen ("ruby").
func (d *Document) LanguageID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.languageID
}

// Version returns the document's current version number.
func (d *Document) Version() int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Text returns the full text content of the document.
func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.text
}

// Index returns the line index for the current text.
func (d *Document) Index() *LineIndex {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.index
}

// IdentifierAt returns the Ruby identifier under pos and its byte span.
func (d *Document) IdentifierAt(pos protocol.Position) (string, int, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return IdentifierAt(d.text, pos)
}

// SetOnTreeEdit sets the callback that receives edit ranges after a change.
func (d *Document) SetOnTreeEdit(fn func(edits []EditRange)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onTreeEdit = fn
}

// ApplyChanges applies full or incremental changes and moves to version.
// Changes for a version older than the current one are ignored.
func (d *Document) ApplyChanges(version int32, changes []protocol.TextDocumentContentChangeEvent) []EditRange {
	d.mu.Lock()
	if version < d.version {
		d.mu.Unlock()
		return nil
	}
	newText, edits := ApplyChangesWithEdits(d.text, changes)
	d.text = newText
	d.index = NewLineIndex(newText)
	d.version = version
	cb := d.onTreeEdit
	d.mu.Unlock()

	// The callback reparses and reads Text, so it runs unlocked.
	if cb != nil && len(edits) > 0 {
		cb(edits)
	}

	return edits
}
