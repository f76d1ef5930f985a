package bridgetest

import (
	"github.com/gossip-lsp/langruby/convert"
	"github.com/gossip-lsp/langruby/host"
)

// HostURI builds a host-form document URI.
func HostURI(cloneURL, revision, path string) string {
	return convert.DualURI{CloneURL: cloneURL, Revision: revision, FilePath: path}.HostURI()
}

// Pos creates a host.Position from line and character (0-indexed).
func Pos(line, char int) host.Position {
	return host.Position{Line: line, Character: char}
}

// Rng creates a host.Range from start and end positions.
func Rng(startLine, startChar, endLine, endChar int) host.Range {
	return host.Range{
		Start: Pos(startLine, startChar),
		End:   Pos(endLine, endChar),
	}
}

// Greeter is a small Ruby program with a class, a method and a call site.
const Greeter = `# typed: true
class Greeter
  # Says hello.
  def greet(name)
    "hello #{name}"
  end
end

Greeter.new.greet("world")
`
