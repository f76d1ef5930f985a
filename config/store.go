// Package config loads bridge settings from TOML, holds the live value and
// reloads it when the file changes.
package config

import (
	"sync"
	"sync/atomic"
)

// Store holds the live settings value. Reads never block; Swap notifies
// listeners in registration order on the swapping goroutine.
type Store[T any] struct {
	value atomic.Pointer[T]

	mu        sync.RWMutex
	listeners []func(old, new_ *T)
}

func NewStore[T any](initial *T) *Store[T] {
	s := &Store[T]{}
	s.value.Store(initial)
	return s
}

// Get returns the current value. Callers must not modify it.
func (s *Store[T]) Get() *T {
	return s.value.Load()
}

// Swap replaces the value and returns the previous one.
func (s *Store[T]) Swap(new_ *T) *T {
	old := s.value.Swap(new_)

	s.mu.RLock()
	listeners := append([]func(old, new_ *T){}, s.listeners...)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(old, new_)
	}
	return old
}

// OnChange registers fn to run after every Swap.
func (s *Store[T]) OnChange(fn func(old, new_ *T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
