package langruby

import (
	"context"
	"log/slog"

	"github.com/gossip-lsp/langruby/config"
)

// configHolder hides the settings type parameter from Server.
type configHolder interface {
	start(logger *slog.Logger) error
	reload() error
	close()
}

type typedConfigHolder[T any] struct {
	store    *config.Store[T]
	reloader *config.Reloader[T]
	watcher  *config.Watcher
}

// WithConfig makes store's value live: the file at path is watched while
// the server runs, and workspace/didChangeConfiguration reloads it too.
// defaults fill keys the file leaves out.
func WithConfig[T any](path string, store *config.Store[T], defaults *T) Option {
	return func(s *Server) {
		s.configHolder = &typedConfigHolder[T]{
			store:    store,
			reloader: config.NewReloader(store, path, defaults),
		}
	}
}

// Config returns the live settings. T must match the type given to
// WithConfig.
func Config[T any](ctx *Context) *T {
	if h, ok := ctx.server.configHolder.(*typedConfigHolder[T]); ok {
		return h.store.Get()
	}
	return nil
}

// OnConfigChange registers fn to run after each successful reload. T must
// match the type given to WithConfig.
func OnConfigChange[T any](s *Server, fn func(ctx *Context, old, new_ *T)) {
	if h, ok := s.configHolder.(*typedConfigHolder[T]); ok {
		h.store.OnChange(func(old, new_ *T) {
			fn(newContext(context.Background(), s), old, new_)
		})
	}
}

func (h *typedConfigHolder[T]) start(logger *slog.Logger) error {
	path := h.reloader.Path()
	w, err := config.NewWatcher(path, func() {
		if err := h.reloader.Reload(); err != nil {
			logger.Warn("failed to reload config", "path", path, "error", err)
			return
		}
		logger.Info("config reloaded", "path", path)
	}, config.WithWatcherLogger(logger))
	if err != nil {
		return err
	}
	h.watcher = w
	return nil
}

func (h *typedConfigHolder[T]) reload() error {
	return h.reloader.Reload()
}

func (h *typedConfigHolder[T]) close() {
	if h.watcher != nil {
		h.watcher.Close()
	}
}
