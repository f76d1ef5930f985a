package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gossip-lsp/langruby"
	"github.com/gossip-lsp/langruby/host"
)

var flagIncludeDeclaration bool

var hoverCmd = &cobra.Command{
	Use:   "hover <hostURI> <line> <character>",
	Short: "Print the hover at a position",
	Long:  "Activates the engine, fetches the document and prints the hover as JSON. Lines and characters are 0-based.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, args, func(ctx context.Context, reg *host.Registry, doc host.TextDocument, pos host.Position) (interface{}, error) {
			return reg.Hover(ctx, doc, pos)
		})
	},
}

var definitionCmd = &cobra.Command{
	Use:   "definition <hostURI> <line> <character>",
	Short: "Print the definition locations of the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, args, func(ctx context.Context, reg *host.Registry, doc host.TextDocument, pos host.Position) (interface{}, error) {
			return reg.Definition(ctx, doc, pos)
		})
	},
}

var referencesCmd = &cobra.Command{
	Use:   "references <hostURI> <line> <character>",
	Short: "Print the references to the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, args, func(ctx context.Context, reg *host.Registry, doc host.TextDocument, pos host.Position) (interface{}, error) {
			return reg.References(ctx, doc, pos, flagIncludeDeclaration)
		})
	},
}

func init() {
	referencesCmd.Flags().BoolVar(&flagIncludeDeclaration, "include-declaration", true, "include the declaration itself")
}

type queryFunc func(ctx context.Context, reg *host.Registry, doc host.TextDocument, pos host.Position) (interface{}, error)

// parsePosition reads the <line> <character> arguments.
func parsePosition(line, char string) (host.Position, error) {
	l, err := strconv.Atoi(line)
	if err != nil || l < 0 {
		return host.Position{}, fmt.Errorf("line %q: want a non-negative integer", line)
	}
	c, err := strconv.Atoi(char)
	if err != nil || c < 0 {
		return host.Position{}, fmt.Errorf("character %q: want a non-negative integer", char)
	}
	return host.Position{Line: l, Character: c}, nil
}

func runQuery(cmd *cobra.Command, args []string, query queryFunc) error {
	pos, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(levelVar(settings.Log.Level))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := settings.Session.HandshakeTimeout.Std() + settings.Session.RequestTimeout.Std()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reg := host.NewRegistry()
	ext, err := langruby.Activate(ctx, reg, settings, langruby.WithExtensionLogger(logger))
	if err != nil {
		return err
	}
	defer ext.Close()

	if err := ext.Ready(ctx); err != nil {
		return fmt.Errorf("engine not ready: %w", err)
	}

	result, err := query(ctx, reg, host.TextDocument{URI: args[0]}, pos)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
