package treesitter

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/gossip-lsp/langruby/protocol"
)

// PublishFunc delivers a document's full diagnostic set.
type PublishFunc func(ctx context.Context, params *protocol.PublishDiagnosticsParams) error

// Check is a declarative, pattern-based diagnostic rule. The Pattern runs as
// a tree-sitter query, scoped to changed ranges after incremental edits, and
// every capture becomes a diagnostic.
type Check struct {
	// Pattern is a tree-sitter query pattern, e.g. "(ERROR) @error".
	Pattern string

	// Severity is the LSP diagnostic severity for matches.
	Severity protocol.DiagnosticSeverity

	// Source is the diagnostic source string. If empty, the check name is used.
	Source string

	// Filter, if non-nil, is called for each capture. Return true to keep it.
	Filter func(Capture) bool

	// Message converts a capture into a diagnostic message string.
	Message func(Capture) string
}

type namedCheck struct {
	name  string
	check Check
}

// Checker runs registered checks after every tree update and publishes the
// merged result per document. It always reports syntax errors.
type Checker struct {
	mu      sync.Mutex
	checks  []namedCheck
	cache   map[protocol.DocumentURI]map[string][]protocol.Diagnostic
	publish PublishFunc
	logger  *slog.Logger
}

// NewChecker creates a checker and subscribes it to the manager.
func NewChecker(manager *Manager, publish PublishFunc, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{
		cache:   make(map[protocol.DocumentURI]map[string][]protocol.Diagnostic),
		publish: publish,
		logger:  logger,
	}
	manager.OnTreeUpdate(c.onTreeUpdate)
	return c
}

// Register adds a named check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

// Forget drops cached diagnostics for a closed document.
func (c *Checker) Forget(uri protocol.DocumentURI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, uri)
}

func (c *Checker) onTreeUpdate(uri protocol.DocumentURI, tree *Tree) {
	c.mu.Lock()
	fileCache := c.cache[uri]
	if fileCache == nil {
		fileCache = make(map[string][]protocol.Diagnostic)
		c.cache[uri] = fileCache
	}

	fileCache["syntax"] = syntaxDiagnostics(tree)

	diff := tree.Diff
	if diff == nil {
		diff = &TreeDiff{IsFullReparse: true}
	}
	for _, nc := range c.checks {
		if diff.IsFullReparse {
			fileCache[nc.name] = c.run(tree, nc, nil)
			continue
		}
		if len(diff.ChangedRanges) == 0 {
			continue
		}
		var kept []protocol.Diagnostic
		for _, d := range fileCache[nc.name] {
			if !rangesOverlapAny(d.Range, diff.ChangedRanges) {
				kept = append(kept, d)
			}
		}
		fileCache[nc.name] = append(kept, c.run(tree, nc, diff.ChangedRanges)...)
	}

	all := []protocol.Diagnostic{}
	for _, diags := range fileCache {
		all = append(all, diags...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return positionBefore(all[i].Range.Start, all[j].Range.Start)
	})
	publish := c.publish
	c.mu.Unlock()

	if publish == nil {
		return
	}
	if err := publish(context.Background(), &protocol.PublishDiagnosticsParams{URI: uri, Diagnostics: all}); err != nil {
		c.logger.Warn("publishing diagnostics failed", "uri", uri, "error", err)
	}
}

func (c *Checker) run(tree *Tree, nc namedCheck, ranges []protocol.Range) []protocol.Diagnostic {
	var (
		captures []Capture
		err      error
	)
	if ranges == nil {
		captures, err = tree.QueryCaptures(nc.check.Pattern)
	} else {
		captures, err = tree.QueryCapturesInRanges(nc.check.Pattern, ranges)
	}
	if err != nil {
		c.logger.Warn("check query failed", "check", nc.name, "error", err)
		return nil
	}

	var diags []protocol.Diagnostic
	for _, capture := range captures {
		if nc.check.Filter != nil && !nc.check.Filter(capture) {
			continue
		}
		msg := capture.Text
		if nc.check.Message != nil {
			msg = nc.check.Message(capture)
		}
		source := nc.check.Source
		if source == "" {
			source = nc.name
		}
		diags = append(diags, protocol.Diagnostic{
			Range:    tree.Range(capture.Node),
			Severity: nc.check.Severity,
			Source:   source,
			Message:  msg,
		})
	}
	return diags
}

func syntaxDiagnostics(tree *Tree) []protocol.Diagnostic {
	var diags []protocol.Diagnostic
	for _, n := range tree.Errors() {
		msg := "syntax error"
		if n.IsMissing() {
			msg = "missing " + n.Type()
		}
		diags = append(diags, protocol.Diagnostic{
			Range:    tree.Range(n),
			Severity: protocol.SeverityError,
			Source:   "syntax",
			Message:  msg,
		})
	}
	return diags
}

// rangesOverlapAny reports whether r overlaps with any range in rs.
func rangesOverlapAny(r protocol.Range, rs []protocol.Range) bool {
	for _, cr := range rs {
		if !positionBefore(r.End, cr.Start) && !positionBefore(cr.End, r.Start) {
			return true
		}
	}
	return false
}

// positionBefore reports whether a is strictly before b.
func positionBefore(a, b protocol.Position) bool {
	return a.Line < b.Line || (a.Line == b.Line && a.Character < b.Character)
}
