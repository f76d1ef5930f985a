package bridgetest

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/gossip-lsp/langruby/host"
)

// HoverText returns the primary hover content followed by the markup
// value of the backward-compatible payload.
func HoverText(hover *host.Hover) string {
	text := hover.Contents.Value
	var backcompat struct {
		Contents struct {
			Value string `json:"value"`
		} `json:"contents"`
	}
	if len(hover.BackcompatContents) > 0 && json.Unmarshal(hover.BackcompatContents, &backcompat) == nil {
		text += backcompat.Contents.Value
	}
	return text
}

// AssertHoverContains asserts that the hover text contains the expected substring.
func AssertHoverContains(t testing.TB, hover *host.Hover, substr string) {
	t.Helper()
	if hover == nil {
		t.Fatal("hover result is nil")
	}
	if text := HoverText(hover); !strings.Contains(text, substr) {
		t.Errorf("hover contents %q does not contain %q", text, substr)
	}
}

// AssertLocationCount asserts the number of locations returned.
func AssertLocationCount(t testing.TB, locations []host.Location, count int) {
	t.Helper()
	if len(locations) != count {
		t.Errorf("expected %d locations, got %d: %+v", count, len(locations), locations)
	}
}

// AssertLocation asserts that some location is in uri and starts on line.
func AssertLocation(t testing.TB, locations []host.Location, uri string, line int) {
	t.Helper()
	for _, loc := range locations {
		if loc.URI == uri && loc.Range != nil && loc.Range.Start.Line == line {
			return
		}
	}
	t.Errorf("no location at %s line %d in %+v", uri, line, locations)
}
