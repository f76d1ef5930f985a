// Command langruby bridges a Ruby analysis engine to a code-browsing host.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gossip-lsp/langruby/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "langruby",
	Short:         "Ruby code intelligence for a code-browsing host",
	Long:          "langruby runs a Ruby analysis engine, fetches documents from the code host on demand and answers hover, definition and references requests.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "langruby.toml", "settings file (missing file means defaults)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log.level: debug|info|warn|error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hoverCmd)
	rootCmd.AddCommand(definitionCmd)
	rootCmd.AddCommand(referencesCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadSettings reads --config and applies --log-level.
func loadSettings() (*config.Settings, error) {
	settings, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		s := *settings
		s.Log.Level = flagLogLevel
		if err := s.Validate(); err != nil {
			return nil, err
		}
		settings = &s
	}
	return settings, nil
}

// newLogger logs to stderr; stdout may carry the protocol.
func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func levelVar(name string) *slog.LevelVar {
	lv := new(slog.LevelVar)
	if l, err := config.ParseLevel(name); err == nil {
		lv.Set(l)
	}
	return lv
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "langruby", version)
	},
}
