package host

import (
	"net/url"
	"path"
)

// DocumentFilter matches documents by language, URI scheme and a glob over
// the file path. Empty fields match anything; Language "*" matches any
// language.
type DocumentFilter struct {
	Language string `json:"language,omitempty" toml:"language"`
	Scheme   string `json:"scheme,omitempty" toml:"scheme"`
	Pattern  string `json:"pattern,omitempty" toml:"pattern"`
}

// DocumentSelector matches a document when any of its filters does.
type DocumentSelector []DocumentFilter

// Pattern returns a selector with one glob filter.
func Pattern(glob string) DocumentSelector {
	return DocumentSelector{{Pattern: glob}}
}

// Language returns a selector with one language filter.
func Language(id string) DocumentSelector {
	return DocumentSelector{{Language: id}}
}

// Match reports whether doc is selected.
func (s DocumentSelector) Match(doc TextDocument) bool {
	for _, f := range s {
		if f.Match(doc) {
			return true
		}
	}
	return false
}

// Match reports whether the filter selects doc. The glob is tried against
// the whole file path and its base name, so "*.rb" matches nested files.
func (f DocumentFilter) Match(doc TextDocument) bool {
	if f.Language != "" && f.Language != "*" && f.Language != doc.LanguageID {
		return false
	}
	u, err := url.Parse(doc.URI)
	if err != nil {
		return false
	}
	if f.Scheme != "" && f.Scheme != u.Scheme {
		return false
	}
	if f.Pattern == "" || f.Pattern == "*" {
		return true
	}
	p := u.Fragment
	if p == "" {
		p = u.Path
	}
	if ok, _ := path.Match(f.Pattern, p); ok {
		return true
	}
	ok, _ := path.Match(f.Pattern, path.Base(p))
	return ok
}
