package treesitter

import (
	"fmt"
	"path"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ruby"
)

// LanguageMatcher associates a grammar with the files it parses.
type LanguageMatcher struct {
	Language   *sitter.Language
	Extensions []string // e.g. [".rb", ".rake"]
	Filenames  []string // exact base names, e.g. ["Gemfile"]
	LanguageID string   // LSP languageId, e.g. "ruby"
}

// Registry maps documents to grammars by base name, languageId or extension.
type Registry struct {
	mu       sync.RWMutex
	matchers []LanguageMatcher
}

// NewRegistry creates a registry from matchers, evaluated in order.
func NewRegistry(matchers ...LanguageMatcher) *Registry {
	return &Registry{matchers: matchers}
}

// RubyMatcher covers Ruby sources and the usual Ruby build files.
func RubyMatcher() LanguageMatcher {
	return LanguageMatcher{
		Language:   ruby.GetLanguage(),
		Extensions: []string{".rb", ".rake", ".gemspec", ".ru", ".rbi"},
		Filenames:  []string{"Gemfile", "Rakefile", "Guardfile", "Podfile"},
		LanguageID: "ruby",
	}
}

// DefaultRegistry knows Ruby only.
func DefaultRegistry() *Registry {
	return NewRegistry(RubyMatcher())
}

// Register appends a matcher.
func (r *Registry) Register(m LanguageMatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matchers = append(r.matchers, m)
}

// LanguageFor returns the grammar for a URI and optional languageId. Exact
// file names win over languageId, which wins over extensions.
func (r *Registry) LanguageFor(uri, languageID string) (*sitter.Language, error) {
	filename := path.Base(uri)
	ext := path.Ext(filename)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.matchers {
		for _, fn := range m.Filenames {
			if fn == filename {
				return m.Language, nil
			}
		}
	}
	if languageID != "" {
		for _, m := range r.matchers {
			if m.LanguageID == languageID {
				return m.Language, nil
			}
		}
	}
	if ext != "" {
		for _, m := range r.matchers {
			for _, e := range m.Extensions {
				if strings.EqualFold(e, ext) {
					return m.Language, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("no language registered for: %s", uri)
}
