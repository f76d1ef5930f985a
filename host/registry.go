package host

import (
	"context"
	"sync"
)

// HoverProvider answers hover requests.
type HoverProvider interface {
	ProvideHover(ctx context.Context, doc TextDocument, pos Position) (*Hover, error)
}

// DefinitionProvider answers go-to-definition requests. A nil slice means
// no definition.
type DefinitionProvider interface {
	ProvideDefinition(ctx context.Context, doc TextDocument, pos Position) ([]Location, error)
}

// ReferencesProvider answers find-references requests.
type ReferencesProvider interface {
	ProvideReferences(ctx context.Context, doc TextDocument, pos Position, includeDeclaration bool) ([]Location, error)
}

// HoverProviderFunc adapts a function to HoverProvider.
type HoverProviderFunc func(ctx context.Context, doc TextDocument, pos Position) (*Hover, error)

func (f HoverProviderFunc) ProvideHover(ctx context.Context, doc TextDocument, pos Position) (*Hover, error) {
	return f(ctx, doc, pos)
}

// DefinitionProviderFunc adapts a function to DefinitionProvider.
type DefinitionProviderFunc func(ctx context.Context, doc TextDocument, pos Position) ([]Location, error)

func (f DefinitionProviderFunc) ProvideDefinition(ctx context.Context, doc TextDocument, pos Position) ([]Location, error) {
	return f(ctx, doc, pos)
}

// ReferencesProviderFunc adapts a function to ReferencesProvider.
type ReferencesProviderFunc func(ctx context.Context, doc TextDocument, pos Position, includeDeclaration bool) ([]Location, error)

func (f ReferencesProviderFunc) ProvideReferences(ctx context.Context, doc TextDocument, pos Position, includeDeclaration bool) ([]Location, error) {
	return f(ctx, doc, pos, includeDeclaration)
}

type registration[P any] struct {
	id       int
	selector DocumentSelector
	provider P
}

// Registry holds providers in registration order.
type Registry struct {
	mu          sync.RWMutex
	nextID      int
	hovers      []registration[HoverProvider]
	definitions []registration[DefinitionProvider]
	references  []registration[ReferencesProvider]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterHoverProvider adds a hover provider for documents matching sel.
// The returned func removes it.
func (r *Registry) RegisterHoverProvider(sel DocumentSelector, p HoverProvider) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.hovers = append(r.hovers, registration[HoverProvider]{id: id, selector: sel, provider: p})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.hovers = without(r.hovers, id)
	}
}

// RegisterDefinitionProvider adds a definition provider for documents
// matching sel. The returned func removes it.
func (r *Registry) RegisterDefinitionProvider(sel DocumentSelector, p DefinitionProvider) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.definitions = append(r.definitions, registration[DefinitionProvider]{id: id, selector: sel, provider: p})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.definitions = without(r.definitions, id)
	}
}

// RegisterReferencesProvider adds a references provider for documents
// matching sel. The returned func removes it.
func (r *Registry) RegisterReferencesProvider(sel DocumentSelector, p ReferencesProvider) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.references = append(r.references, registration[ReferencesProvider]{id: id, selector: sel, provider: p})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.references = without(r.references, id)
	}
}

func without[P any](regs []registration[P], id int) []registration[P] {
	out := regs[:0:0]
	for _, reg := range regs {
		if reg.id != id {
			out = append(out, reg)
		}
	}
	return out
}

func matching[P any](mu *sync.RWMutex, regs *[]registration[P], doc TextDocument) []P {
	mu.RLock()
	defer mu.RUnlock()
	var out []P
	for _, reg := range *regs {
		if reg.selector.Match(doc) {
			out = append(out, reg.provider)
		}
	}
	return out
}

// Hover asks matching providers in order and returns the first hover. Any
// provider error fails the request.
func (r *Registry) Hover(ctx context.Context, doc TextDocument, pos Position) (*Hover, error) {
	for _, p := range matching(&r.mu, &r.hovers, doc) {
		h, err := p.ProvideHover(ctx, doc, pos)
		if err != nil {
			return nil, err
		}
		if h != nil {
			return h, nil
		}
	}
	return nil, nil
}

// Definition concatenates the locations of every matching provider.
func (r *Registry) Definition(ctx context.Context, doc TextDocument, pos Position) ([]Location, error) {
	var out []Location
	for _, p := range matching(&r.mu, &r.definitions, doc) {
		locs, err := p.ProvideDefinition(ctx, doc, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, locs...)
	}
	return out, nil
}

// References concatenates the locations of every matching provider. The
// result is never nil.
func (r *Registry) References(ctx context.Context, doc TextDocument, pos Position, includeDeclaration bool) ([]Location, error) {
	out := []Location{}
	for _, p := range matching(&r.mu, &r.references, doc) {
		locs, err := p.ProvideReferences(ctx, doc, pos, includeDeclaration)
		if err != nil {
			return nil, err
		}
		out = append(out, locs...)
	}
	return out, nil
}

// HasHover reports whether any hover provider is registered.
func (r *Registry) HasHover() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hovers) > 0
}

// HasDefinition reports whether any definition provider is registered.
func (r *Registry) HasDefinition() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.definitions) > 0
}

// HasReferences reports whether any references provider is registered.
func (r *Registry) HasReferences() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.references) > 0
}
