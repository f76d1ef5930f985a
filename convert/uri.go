// Package convert maps between the engine's LSP vocabulary and the host's
// data model. A document has two names: the host form
// <cloneURL>?<revision>#<path> that the code browser uses, and the engine
// form file:///<path> that the engine sees. The engine only ever holds one
// checked-out copy of a path, so the revision lives on the host side.
package convert

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// EngineScheme prefixes every engine-form URI.
const EngineScheme = "file:///"

// ErrNotHostURI is returned for URIs missing the revision or the path.
var ErrNotHostURI = errors.New("not a host document URI")

// DualURI is a (repository, revision, path) triple.
type DualURI struct {
	CloneURL string
	Revision string
	FilePath string
}

// ParseHostURI splits a host-form URI. The query is taken verbatim as the
// revision; the fragment is unescaped into the file path.
func ParseHostURI(s string) (DualURI, error) {
	u, err := url.Parse(s)
	if err != nil {
		return DualURI{}, fmt.Errorf("parsing %q: %w", s, err)
	}
	if u.RawQuery == "" || u.Fragment == "" {
		return DualURI{}, fmt.Errorf("%w: %s", ErrNotHostURI, s)
	}
	rev := u.RawQuery
	filePath := u.Fragment
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return DualURI{CloneURL: u.String(), Revision: rev, FilePath: filePath}, nil
}

// HostURI renders the host form.
func (d DualURI) HostURI() string {
	return d.CloneURL + "?" + d.Revision + "#" + escapeFragment(d.FilePath)
}

// EngineURI renders the engine form. Path separators are kept; other
// reserved characters are percent-encoded.
func (d DualURI) EngineURI() string {
	return EngineScheme + strings.TrimPrefix((&url.URL{Path: d.FilePath}).EscapedPath(), "/")
}

// ToEngineURI converts a host-form URI to engine form.
func ToEngineURI(hostURI string) (string, error) {
	d, err := ParseHostURI(hostURI)
	if err != nil {
		return "", err
	}
	return d.EngineURI(), nil
}

// ToHostURI converts an engine URI relative to the current document. A
// file:/// URI keeps the current clone URL and revision and replaces the
// path; any other URI is already absolute and passes through unchanged.
func ToHostURI(currentHostURI, engineURI string) (string, error) {
	if !strings.HasPrefix(engineURI, EngineScheme) {
		return engineURI, nil
	}
	base := currentHostURI
	if i := strings.IndexByte(base, '#'); i >= 0 {
		base = base[:i]
	}
	if !strings.Contains(base, "?") {
		return "", fmt.Errorf("%w: %s", ErrNotHostURI, currentHostURI)
	}
	return base + "#" + escapeFragment(unescapePath(strings.TrimPrefix(engineURI, EngineScheme))), nil
}

func unescapePath(p string) string {
	if s, err := url.PathUnescape(p); err == nil {
		return s
	}
	return p
}

func escapeFragment(p string) string {
	return (&url.URL{Fragment: p}).EscapedFragment()
}
