package document

import "github.com/gossip-lsp/langruby/protocol"

// EditRange is one applied change in byte and position terms, the shape an
// incremental tree-sitter reparse needs.
type EditRange struct {
	StartByte  int
	OldEndByte int
	NewEndByte int
	StartPos   protocol.Position
	OldEndPos  protocol.Position
	NewEndPos  protocol.Position
}

// ApplyChanges applies content changes to text and returns the result.
func ApplyChanges(text string, changes []protocol.TextDocumentContentChangeEvent) string {
	text, _ = ApplyChangesWithEdits(text, changes)
	return text
}

// ApplyChangesWithEdits applies changes in order and describes each one. A
// change without a range replaces the whole text, which is how the bridge
// refreshes a document to another revision.
func ApplyChangesWithEdits(text string, changes []protocol.TextDocumentContentChangeEvent) (string, []EditRange) {
	edits := make([]EditRange, 0, len(changes))
	for _, change := range changes {
		ix := NewLineIndex(text)
		if change.Range == nil {
			edits = append(edits, EditRange{
				OldEndByte: len(text),
				NewEndByte: len(change.Text),
				OldEndPos:  ix.Position(len(text)),
				NewEndPos:  PositionAt(change.Text, len(change.Text)),
			})
			text = change.Text
			continue
		}

		start := ix.Offset(change.Range.Start)
		end := ix.Offset(change.Range.End)
		if start > end {
			start = end
		}
		updated := text[:start] + change.Text + text[end:]
		newEnd := start + len(change.Text)
		edits = append(edits, EditRange{
			StartByte:  start,
			OldEndByte: end,
			NewEndByte: newEnd,
			StartPos:   ix.Position(start),
			OldEndPos:  ix.Position(end),
			NewEndPos:  PositionAt(updated, newEnd),
		})
		text = updated
	}
	return text, edits
}
