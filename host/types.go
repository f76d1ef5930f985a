// Package host holds the code-browsing host's data model and the registry
// that routes hover, definition and references requests to providers by
// document selector.
package host

import "encoding/json"

// HoverPriority is the display priority attached to every hover the bridge
// produces.
const HoverPriority = 100

// Position is a zero-based line and UTF-16 character offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range spans two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is a host-form URI with an optional range.
type Location struct {
	URI   string `json:"uri"`
	Range *Range `json:"range,omitempty"`
}

// MarkupContent is the primary hover content. Kind is omitted when empty.
type MarkupContent struct {
	Kind  string `json:"kind,omitempty"`
	Value string `json:"value"`
}

// Hover is the host's hover shape. BackcompatContents carries the engine's
// payload verbatim for hosts that render the older format.
type Hover struct {
	Contents           MarkupContent   `json:"contents"`
	BackcompatContents json.RawMessage `json:"__backcompatContents,omitempty"`
	Priority           int             `json:"priority"`
}

// TextDocument identifies the document a request is about. URI is in host
// form (<cloneURL>?<revision>#<path>).
type TextDocument struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId,omitempty"`
}
