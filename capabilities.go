package langruby

import "github.com/gossip-lsp/langruby/protocol"

// buildCapabilities reports the positional features some provider is
// registered for. Documents are fetched by the bridge, so no sync is
// requested.
func (s *Server) buildCapabilities() protocol.ServerCapabilities {
	caps := protocol.ServerCapabilities{
		TextDocumentSync: protocol.SyncNone,
	}
	if s.registry.HasHover() {
		caps.HoverProvider = true
	}
	if s.registry.HasDefinition() {
		caps.DefinitionProvider = true
	}
	if s.registry.HasReferences() {
		caps.ReferencesProvider = true
	}
	return caps
}
