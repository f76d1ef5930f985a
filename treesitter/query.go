package treesitter

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/gossip-lsp/langruby/protocol"
)

// Capture represents a single tree-sitter query capture.
type Capture struct {
	Name string
	Node *sitter.Node
	Text string
}

// NodeAt returns the deepest named node covering the given position.
func (t *Tree) NodeAt(pos protocol.Position) *sitter.Node {
	if t == nil || t.raw == nil {
		return nil
	}
	return t.NodeAtOffset(t.index.Offset(pos))
}

// NodeAtOffset returns the deepest named node whose byte span contains offset.
func (t *Tree) NodeAtOffset(offset int) *sitter.Node {
	node := t.RootNode()
	if node == nil || offset < 0 {
		return nil
	}
	off := uint32(offset)
	for {
		var next *sitter.Node
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child != nil && child.StartByte() <= off && off < child.EndByte() {
				next = child
				break
			}
		}
		if next == nil {
			return node
		}
		node = next
	}
}

// NodeText returns the source text of a node.
func (t *Tree) NodeText(node *sitter.Node) string {
	if t == nil || node == nil || t.src == nil {
		return ""
	}
	start, end := node.StartByte(), node.EndByte()
	if int(start) > len(t.src) || int(end) > len(t.src) || start > end {
		return ""
	}
	return string(t.src[start:end])
}

// Range converts a node's byte span to an LSP range with UTF-16 columns.
// tree-sitter points count bytes, so the conversion goes through offsets.
func (t *Tree) Range(node *sitter.Node) protocol.Range {
	if t == nil || node == nil {
		return protocol.Range{}
	}
	return protocol.Range{
		Start: t.index.Position(int(node.StartByte())),
		End:   t.index.Position(int(node.EndByte())),
	}
}

// point converts an LSP position to a tree-sitter byte point.
func (t *Tree) point(pos protocol.Position) sitter.Point {
	lineStart := t.index.Offset(protocol.Position{Line: pos.Line})
	return sitter.Point{Row: pos.Line, Column: uint32(t.index.Offset(pos) - lineStart)}
}

// QueryCaptures runs a query pattern against the whole tree.
func (t *Tree) QueryCaptures(pattern string) ([]Capture, error) {
	if t == nil || t.raw == nil {
		return nil, nil
	}
	return t.query(pattern, nil)
}

// QueryCapturesInRanges runs a query pattern restricted to the given ranges,
// concatenating the results. Pass tree.Diff.ChangedRanges to rescan only
// what an edit touched.
func (t *Tree) QueryCapturesInRanges(pattern string, ranges []protocol.Range) ([]Capture, error) {
	if t == nil || t.raw == nil || len(ranges) == 0 {
		return nil, nil
	}
	return t.query(pattern, ranges)
}

func (t *Tree) query(pattern string, ranges []protocol.Range) ([]Capture, error) {
	q, err := sitter.NewQuery([]byte(pattern), t.lang)
	if err != nil {
		return nil, err
	}
	defer q.Close()

	run := func(cursor *sitter.QueryCursor, captures []Capture) []Capture {
		cursor.Exec(q, t.raw.RootNode())
		for {
			match, ok := cursor.NextMatch()
			if !ok {
				break
			}
			match = cursor.FilterPredicates(match, t.src)
			for _, c := range match.Captures {
				captures = append(captures, Capture{
					Name: q.CaptureNameForId(c.Index),
					Node: c.Node,
					Text: t.NodeText(c.Node),
				})
			}
		}
		return captures
	}

	var captures []Capture
	if ranges == nil {
		cursor := sitter.NewQueryCursor()
		defer cursor.Close()
		return run(cursor, captures), nil
	}
	for _, r := range ranges {
		cursor := sitter.NewQueryCursor()
		cursor.SetPointRange(t.point(r.Start), t.point(r.End))
		captures = run(cursor, captures)
		cursor.Close()
	}
	return captures, nil
}

// Errors returns ERROR and MISSING nodes, in document order.
func (t *Tree) Errors() []*sitter.Node {
	root := t.RootNode()
	if root == nil || !root.HasError() {
		return nil
	}
	var out []*sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.IsError() || n.IsMissing() {
			out = append(out, n)
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if child := n.Child(i); child != nil {
				walk(child)
			}
		}
	}
	walk(root)
	return out
}
