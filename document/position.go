package document

import (
	"sort"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/gossip-lsp/langruby/protocol"
)

// LineIndex maps between byte offsets and LSP positions (zero-based line,
// UTF-16 column) for one immutable text.
type LineIndex struct {
	text   string
	starts []int
}

// NewLineIndex records the start offset of every line in text.
func NewLineIndex(text string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{text: text, starts: starts}
}

// Line returns the text of a zero-based line without its newline.
func (ix *LineIndex) Line(line uint32) string {
	l := int(line)
	if l >= len(ix.starts) {
		return ""
	}
	start := ix.starts[l]
	end := len(ix.text)
	if l+1 < len(ix.starts) {
		end = ix.starts[l+1] - 1
	}
	return strings.TrimSuffix(ix.text[start:end], "\r")
}

// Offset converts a position to a byte offset. Lines past the end clamp to
// len(text); columns past the end of a line clamp to the line end.
func (ix *LineIndex) Offset(pos protocol.Position) int {
	l := int(pos.Line)
	if l >= len(ix.starts) {
		return len(ix.text)
	}
	return ix.starts[l] + utf16OffsetToBytes(ix.Line(pos.Line), int(pos.Character))
}

// Position converts a byte offset to a position. Offsets are clamped to the
// text.
func (ix *LineIndex) Position(offset int) protocol.Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(ix.text) {
		offset = len(ix.text)
	}
	l := sort.Search(len(ix.starts), func(i int) bool { return ix.starts[i] > offset }) - 1
	col := bytesToUTF16Offset(ix.text[ix.starts[l]:offset])
	return protocol.Position{Line: uint32(l), Character: uint32(col)}
}

// OffsetAt converts an LSP Position (line, UTF-16 character offset) to a byte
// offset in text.
func OffsetAt(text string, pos protocol.Position) int {
	return NewLineIndex(text).Offset(pos)
}

// PositionAt converts a byte offset in text to an LSP Position.
func PositionAt(text string, offset int) protocol.Position {
	return NewLineIndex(text).Position(offset)
}

// utf16OffsetToBytes converts a UTF-16 character offset within a line to a byte offset.
func utf16OffsetToBytes(line string, utf16Offset int) int {
	u16 := 0
	byteOffset := 0
	for byteOffset < len(line) && u16 < utf16Offset {
		r, size := utf8.DecodeRuneInString(line[byteOffset:])
		u16 += runeUTF16Len(r, size)
		byteOffset += size
	}
	return byteOffset
}

// bytesToUTF16Offset returns the UTF-16 length of s.
func bytesToUTF16Offset(s string) int {
	u16 := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		u16 += runeUTF16Len(r, size)
		i += size
	}
	return u16
}

func runeUTF16Len(r rune, size int) int {
	if r == utf8.RuneError && size == 1 {
		return 1
	}
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

// IdentifierAt returns the Ruby identifier under pos, including sigils
// (@ivar, @@cvar, $global), a trailing ? or ! on method names, and ::
// separated constant paths. start and end are byte offsets into text.
func IdentifierAt(text string, pos protocol.Position) (word string, start, end int) {
	offset := OffsetAt(text, pos)
	for offset < len(text) && isSigil(text[offset]) {
		offset++
	}
	if offset >= len(text) || !isIdentByte(text[offset]) {
		if offset > 0 && offset <= len(text) && isIdentByte(text[offset-1]) {
			offset--
		} else {
			return "", offset, offset
		}
	}

	start = offset
	for {
		for start > 0 && isIdentByte(text[start-1]) {
			start--
		}
		if start >= 3 && text[start-1] == ':' && text[start-2] == ':' && isIdentByte(text[start-3]) {
			start -= 2
			continue
		}
		break
	}
	for start > 0 && isSigil(text[start-1]) {
		start--
	}

	end = offset
	for {
		for end < len(text) && isIdentByte(text[end]) {
			end++
		}
		if end+2 < len(text) && text[end] == ':' && text[end+1] == ':' && isIdentByte(text[end+2]) {
			end += 2
			continue
		}
		break
	}
	if end < len(text) && (text[end] == '?' || text[end] == '!') {
		end++
	}
	return text[start:end], start, end
}

func isIdentByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_' || b >= utf8.RuneSelf
}

func isSigil(b byte) bool {
	return b == '@' || b == '$'
}
