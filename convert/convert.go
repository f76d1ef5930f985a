package convert

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/gossip-lsp/langruby/host"
	"github.com/gossip-lsp/langruby/protocol"
)

// ErrMalformedResult is returned when an engine payload has an unexpected
// shape.
var ErrMalformedResult = errors.New("malformed engine result")

// EngineLocation is an engine location whose range may be absent.
type EngineLocation struct {
	URI   string          `json:"uri"`
	Range *protocol.Range `json:"range,omitempty"`
}

// ToLocation converts an engine location for a request made against the
// document currentHostURI. Range fields are copied verbatim.
func ToLocation(currentHostURI string, loc EngineLocation) (host.Location, error) {
	uri, err := ToHostURI(currentHostURI, loc.URI)
	if err != nil {
		return host.Location{}, err
	}
	out := host.Location{URI: uri}
	if loc.Range != nil {
		out.Range = &host.Range{
			Start: ToPosition(loc.Range.Start),
			End:   ToPosition(loc.Range.End),
		}
	}
	return out, nil
}

// ToPosition converts an engine position.
func ToPosition(p protocol.Position) host.Position {
	return host.Position{Line: int(p.Line), Character: int(p.Character)}
}

// FromPosition converts a host position, clamping negatives to zero.
func FromPosition(p host.Position) protocol.Position {
	return protocol.Position{Line: clamp(p.Line), Character: clamp(p.Character)}
}

func clamp(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// ToDefinitionResult converts a raw definition payload: null or empty gives
// nil, a single location gives one element, an array keeps its order and
// duplicates.
func ToDefinitionResult(currentHostURI string, raw json.RawMessage) ([]host.Location, error) {
	res := gjson.ParseBytes(raw)
	switch {
	case len(raw) == 0 || res.Type == gjson.Null:
		return nil, nil
	case res.IsObject():
		var loc EngineLocation
		if err := json.Unmarshal(raw, &loc); err != nil {
			return nil, fmt.Errorf("%w: definition: %v", ErrMalformedResult, err)
		}
		converted, err := ToLocation(currentHostURI, loc)
		if err != nil {
			return nil, err
		}
		return []host.Location{converted}, nil
	case res.IsArray():
		return toLocations(currentHostURI, raw, "definition")
	default:
		return nil, fmt.Errorf("%w: definition is %s", ErrMalformedResult, res.Type)
	}
}

// ToReferencesResult converts a raw references payload. null gives an empty,
// non-nil slice.
func ToReferencesResult(currentHostURI string, raw json.RawMessage) ([]host.Location, error) {
	res := gjson.ParseBytes(raw)
	switch {
	case len(raw) == 0 || res.Type == gjson.Null:
		return []host.Location{}, nil
	case res.IsArray():
		return toLocations(currentHostURI, raw, "references")
	default:
		return nil, fmt.Errorf("%w: references is %s", ErrMalformedResult, res.Type)
	}
}

func toLocations(currentHostURI string, raw json.RawMessage, what string) ([]host.Location, error) {
	var locs []EngineLocation
	if err := json.Unmarshal(raw, &locs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResult, what, err)
	}
	out := make([]host.Location, 0, len(locs))
	for _, loc := range locs {
		converted, err := ToLocation(currentHostURI, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

// ToHoverResult wraps a raw hover payload in the host hover shape: an empty
// primary content, the payload verbatim for the backward-compatible
// renderer, and the fixed priority. null gives nil.
func ToHoverResult(raw json.RawMessage) (*host.Hover, error) {
	res := gjson.ParseBytes(raw)
	if len(raw) == 0 || res.Type == gjson.Null {
		return nil, nil
	}
	if !res.IsObject() {
		return nil, fmt.Errorf("%w: hover is %s", ErrMalformedResult, res.Type)
	}
	payload := make(json.RawMessage, len(raw))
	copy(payload, raw)
	return &host.Hover{
		Contents:           host.MarkupContent{Value: ""},
		BackcompatContents: payload,
		Priority:           host.HoverPriority,
	}, nil
}
