package document

import (
	"testing"

	"github.com/gossip-lsp/langruby/protocol"
)

func TestOffsetAt(t *testing.T) {
	text := "class Foo\n  def bar\nend"
	tests := []struct {
		pos  protocol.Position
		want int
	}{
		{protocol.Position{Line: 0, Character: 0}, 0},
		{protocol.Position{Line: 0, Character: 9}, 9},
		{protocol.Position{Line: 1, Character: 0}, 10},
		{protocol.Position{Line: 1, Character: 6}, 16},
		{protocol.Position{Line: 2, Character: 3}, 23},
		{protocol.Position{Line: 1, Character: 99}, 19},
		{protocol.Position{Line: 9, Character: 0}, 23},
	}
	for _, tt := range tests {
		got := OffsetAt(text, tt.pos)
		if got != tt.want {
			t.Errorf("OffsetAt(%v) = %d, want %d", tt.pos, got, tt.want)
		}
	}
}

func TestPositionAt(t *testing.T) {
	text := "class Foo\n  def bar\nend"
	tests := []struct {
		offset int
		want   protocol.Position
	}{
		{0, protocol.Position{Line: 0, Character: 0}},
		{9, protocol.Position{Line: 0, Character: 9}},
		{10, protocol.Position{Line: 1, Character: 0}},
		{16, protocol.Position{Line: 1, Character: 6}},
		{23, protocol.Position{Line: 2, Character: 3}},
		{-4, protocol.Position{Line: 0, Character: 0}},
	}
	for _, tt := range tests {
		got := PositionAt(text, tt.offset)
		if got != tt.want {
			t.Errorf("PositionAt(%d) = %v, want %v", tt.offset, got, tt.want)
		}
	}
}

func TestUTF16Handling(t *testing.T) {
	// U+1F600 takes two UTF-16 code units and four bytes.
	text := "x = \"\U0001F600\"; y"
	offset := OffsetAt(text, protocol.Position{Line: 0, Character: 10})
	if text[offset] != 'y' {
		t.Errorf("expected 'y' at UTF-16 offset 10, got %q (byte offset %d)", text[offset], offset)
	}
	if got := PositionAt(text, offset); got.Character != 10 {
		t.Errorf("PositionAt(%d).Character = %d, want 10", offset, got.Character)
	}
}

func TestIdentifierAt(t *testing.T) {
	text := "@name = Foo::Bar.new\nvalid? && $stdout.puts(save!)"
	tests := []struct {
		pos  protocol.Position
		want string
	}{
		{protocol.Position{Line: 0, Character: 0}, "@name"},
		{protocol.Position{Line: 0, Character: 3}, "@name"},
		{protocol.Position{Line: 0, Character: 14}, "Foo::Bar"},
		{protocol.Position{Line: 0, Character: 18}, "new"},
		{protocol.Position{Line: 1, Character: 2}, "valid?"},
		{protocol.Position{Line: 1, Character: 12}, "$stdout"},
		{protocol.Position{Line: 1, Character: 25}, "save!"},
		{protocol.Position{Line: 0, Character: 6}, ""},
	}
	for _, tt := range tests {
		got, _, _ := IdentifierAt(text, tt.pos)
		if got != tt.want {
			t.Errorf("IdentifierAt(%v) = %q, want %q", tt.pos, got, tt.want)
		}
	}
}

func TestApplyChanges(t *testing.T) {
	text := "def greet\n  \"hi\"\nend"
	changes := []protocol.TextDocumentContentChangeEvent{
		{
			Range: &protocol.Range{
				Start: protocol.Position{Line: 0, Character: 4},
				End:   protocol.Position{Line: 0, Character: 9},
			},
			Text: "hello",
		},
	}
	got := ApplyChanges(text, changes)
	want := "def hello\n  \"hi\"\nend"
	if got != want {
		t.Errorf("ApplyChanges = %q, want %q", got, want)
	}
}

func TestApplyFullChangeReportsWholeDocumentEdit(t *testing.T) {
	text, edits := ApplyChangesWithEdits("a\nb", []protocol.TextDocumentContentChangeEvent{{Text: "xyz"}})
	if text != "xyz" {
		t.Fatalf("text = %q, want xyz", text)
	}
	if len(edits) != 1 {
		t.Fatalf("len(edits) = %d, want 1", len(edits))
	}
	e := edits[0]
	if e.OldEndByte != 3 || e.NewEndByte != 3 || e.OldEndPos != (protocol.Position{Line: 1, Character: 1}) {
		t.Errorf("edit = %+v", e)
	}
}

func TestStoreIgnoresStaleVersions(t *testing.T) {
	s := NewStore()
	uri := protocol.DocumentURI("file:///lib/foo.rb")
	s.Open(&protocol.DidOpenTextDocumentParams{TextDocument: protocol.TextDocumentItem{URI: uri, Version: 2, Text: "new"}})
	s.Change(&protocol.DidChangeTextDocumentParams{
		TextDocument:   protocol.VersionedTextDocumentIdentifier{TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri}, Version: 1},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: "old"}},
	})
	if got := s.Get(uri).Text(); got != "new" {
		t.Errorf("Text = %q, want new", got)
	}
	if s.Change(&protocol.DidChangeTextDocumentParams{TextDocument: protocol.VersionedTextDocumentIdentifier{TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: "file:///missing.rb"}}}) {
		t.Error("Change on a closed document reported true")
	}
}

func TestStoreOpenCloseCallbacks(t *testing.T) {
	s := NewStore()
	var opened, closed []protocol.DocumentURI
	s.OnOpen(func(doc *Document) { opened = append(opened, doc.URI()) })
	s.OnClose(func(uri protocol.DocumentURI) { closed = append(closed, uri) })

	uri := protocol.DocumentURI("file:///lib/foo.rb")
	s.Open(&protocol.DidOpenTextDocumentParams{TextDocument: protocol.TextDocumentItem{URI: uri, Version: 1, Text: "x = 1"}})
	s.Close(&protocol.DidCloseTextDocumentParams{TextDocument: protocol.TextDocumentIdentifier{URI: uri}})
	s.Close(&protocol.DidCloseTextDocumentParams{TextDocument: protocol.TextDocumentIdentifier{URI: uri}})

	if len(opened) != 1 || opened[0] != uri {
		t.Errorf("opened = %v", opened)
	}
	if len(closed) != 1 || closed[0] != uri {
		t.Errorf("closed = %v, want one callback for %s", closed, uri)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after close", s.Len())
	}
}
