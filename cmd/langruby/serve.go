package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gossip-lsp/langruby"
	"github.com/gossip-lsp/langruby/config"
	"github.com/gossip-lsp/langruby/host"
	"github.com/gossip-lsp/langruby/httpapi"
	"github.com/gossip-lsp/langruby/middleware"
	"github.com/gossip-lsp/langruby/protocol"
	"github.com/gossip-lsp/langruby/telemetry"
)

var (
	flagListen string
	flagHTTP   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve hover, definition and references to a frontend",
	Long: `Activates the configured engine and serves JSON-RPC to one frontend over
stdio (the default), or over TCP or WebSocket with --listen tcp:ADDR or
--listen ws:ADDR. With --http the same registry is also served as a REST API.
The settings file is watched and reloaded while serving.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "frontend transport: tcp:ADDR or ws:ADDR (default stdio)")
	serveCmd.Flags().StringVar(&flagHTTP, "http", "", "also serve the REST API and /metrics on ADDR")
}

// parseListen splits a --listen value into a ServeOption.
func parseListen(v string, logger *slog.Logger) (langruby.ServeOption, error) {
	if v == "" || v == "stdio" {
		return langruby.WithStdio(), nil
	}
	kind, addr, ok := strings.Cut(v, ":")
	if !ok || addr == "" {
		return nil, fmt.Errorf("--listen %q: want tcp:ADDR or ws:ADDR", v)
	}
	switch kind {
	case "tcp":
		return langruby.WithTCP(addr), nil
	case "ws":
		return langruby.WithWebSocket(addr, logger), nil
	default:
		return nil, fmt.Errorf("--listen %q: unknown transport %q", v, kind)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	level := levelVar(settings.Log.Level)
	logger := newLogger(level)

	listen, err := parseListen(flagListen, logger)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(sigCtx, settings.Telemetry, version)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	defaults := config.Defaults()
	store := config.NewStore(settings)
	reg := host.NewRegistry()
	s := langruby.NewServer("langruby", version, reg,
		langruby.WithLogger(logger),
		langruby.WithMiddleware(middleware.Default(logger)),
		langruby.WithConfig(flagConfig, store, &defaults),
	)

	ext, err := langruby.Activate(sigCtx, reg, settings,
		langruby.WithExtensionLogger(logger),
		langruby.WithFaultHandler(func(err error) {
			logger.Error("engine faulted", "error", err)
			if c := s.Client(); c != nil {
				_ = c.ShowMessage(context.Background(), protocol.Error, "Ruby engine stopped: "+err.Error())
			}
		}),
	)
	if err != nil {
		return err
	}
	defer ext.Close()
	ext.Register(s)

	langruby.OnConfigChange(s, func(c *langruby.Context, old, new_ *config.Settings) {
		name := new_.Log.Level
		if flagLogLevel != "" {
			name = flagLogLevel
		}
		if l, err := config.ParseLevel(name); err == nil {
			level.Set(l)
		}
		ext.Apply(new_)
	})

	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return langruby.Serve(gctx, s, listen)
	})

	if flagHTTP != "" {
		// gin writes to stdout by default, which may be the protocol stream.
		gin.SetMode(gin.ReleaseMode)
		gin.DefaultWriter = os.Stderr
		handlers := httpapi.NewHandlers(reg, httpapi.WithStatus(ext), httpapi.WithLogger(logger))
		srv := &http.Server{
			Addr:              flagHTTP,
			Handler:           httpapi.NewRouter(settings.Telemetry.ServiceName, handlers),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("http api listening", "addr", flagHTTP)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if sigCtx.Err() == nil && s.ExitCode() != 0 {
		return errors.New("frontend exited without shutdown")
	}
	return nil
}
