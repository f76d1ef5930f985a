// Package treesitter keeps a tree-sitter parse tree for every open document,
// reparsing incrementally on edits, and runs declarative query checks that
// turn matches into diagnostics.
package treesitter

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/gossip-lsp/langruby/document"
	"github.com/gossip-lsp/langruby/protocol"
)

// Tree wraps a tree-sitter Tree with the source it was parsed from.
type Tree struct {
	raw   *sitter.Tree
	lang  *sitter.Language
	src   []byte
	index *document.LineIndex
	Diff  *TreeDiff
}

// TreeDiff describes what changed between the previous tree and this one.
type TreeDiff struct {
	// ChangedRanges are the ranges of the new text touched by edits.
	ChangedRanges []protocol.Range

	// IsFullReparse is true on initial open or full-text replacement.
	IsFullReparse bool
}

func newTree(raw *sitter.Tree, lang *sitter.Language, src []byte, diff *TreeDiff) *Tree {
	return &Tree{
		raw:   raw,
		lang:  lang,
		src:   src,
		index: document.NewLineIndex(string(src)),
		Diff:  diff,
	}
}

// Raw returns the underlying tree-sitter Tree.
func (t *Tree) Raw() *sitter.Tree {
	if t == nil {
		return nil
	}
	return t.raw
}

// Language returns the grammar the tree was parsed with.
func (t *Tree) Language() *sitter.Language {
	if t == nil {
		return nil
	}
	return t.lang
}

// Source returns the parsed text.
func (t *Tree) Source() []byte {
	if t == nil {
		return nil
	}
	return t.src
}

// RootNode returns the root node of the parse tree.
func (t *Tree) RootNode() *sitter.Node {
	if t == nil || t.raw == nil {
		return nil
	}
	return t.raw.RootNode()
}

// Close releases the tree-sitter tree resources.
func (t *Tree) Close() {
	if t != nil && t.raw != nil {
		t.raw.Close()
	}
}
