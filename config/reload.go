package config

// Reloader re-reads a TOML file into a Store. The watcher calls it on file
// changes and the host server calls it on workspace/didChangeConfiguration.
type Reloader[T any] struct {
	store    *Store[T]
	path     string
	defaults *T
}

func NewReloader[T any](store *Store[T], path string, defaults *T) *Reloader[T] {
	return &Reloader[T]{store: store, path: path, defaults: defaults}
}

// Path returns the file being reloaded.
func (r *Reloader[T]) Path() string { return r.path }

// Reload loads the file and swaps it in. On error the live value is kept.
func (r *Reloader[T]) Reload() error {
	cfg, err := LoadTOML(r.path, r.defaults)
	if err != nil {
		return err
	}
	r.store.Swap(cfg)
	return nil
}
