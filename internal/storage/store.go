package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("storage closed")

// Store is a durable string key-value capability. Widgets only ever keep their
// session identifier in it.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set overwrites the value for key.
	Set(ctx context.Context, key, value string) error
}

// Scoped namespaces every key of a Store under scope, the equivalent of a
// browser storage origin. Widgets sharing a scope share their keys.
type Scoped struct {
	store Store
	scope string
}

// NewScoped wraps store so keys are prefixed with scope.
func NewScoped(store Store, scope string) *Scoped {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	return &Scoped{store: store, scope: scope}
}

// Scope reports the namespace of the wrapper.
func (s *Scoped) Scope() string { return s.scope }

func (s *Scoped) Get(ctx context.Context, key string) (string, bool, error) {
	return s.store.Get(ctx, s.key(key))
}

func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, s.key(key), value)
}

func (s *Scoped) key(key string) string {
	return s.scope + "/" + key
}
