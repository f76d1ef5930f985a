package langruby

import (
	"encoding/json"

	"github.com/gossip-lsp/langruby/host"
	"github.com/gossip-lsp/langruby/protocol"
)

// RawHandler serves a custom request method. Register with HandleRequest.
type RawHandler func(ctx *Context, params json.RawMessage) (interface{}, error)

// RawNotificationHandler serves a custom notification method. Register
// with HandleNotification.
type RawNotificationHandler func(ctx *Context, params json.RawMessage)

// PositionParams are the params of the host-facing positional requests.
// The document URI is in host form.
type PositionParams struct {
	TextDocument host.TextDocument `json:"textDocument"`
	Position     host.Position     `json:"position"`
}

type HoverParams struct {
	PositionParams
}

type DefinitionParams struct {
	PositionParams
}

type ReferenceParams struct {
	PositionParams
	Context protocol.ReferenceContext `json:"context"`
}

// DocumentParams name a single host document.
type DocumentParams struct {
	TextDocument host.TextDocument `json:"textDocument"`
}
