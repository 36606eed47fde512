package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-widget/backend/internal/storage"
)

// DefaultKey is the storage key session identifiers are persisted under.
const DefaultKey = "chat_widget_session_id"

// Manager issues and persists the conversation identifier of one widget.
// Persistence is best effort: storage failures are logged and never returned.
type Manager struct {
	store storage.Store
	key   string
	newID func() string

	mu      sync.RWMutex
	current string
}

// Option customizes a Manager.
type Option func(*Manager)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(m *Manager) {
		if key != "" {
			m.key = key
		}
	}
}

// WithIDGenerator replaces the UUID generator, mainly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager creates a manager on top of store. A nil store keeps identifiers
// in memory only.
func NewManager(store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		key:   DefaultKey,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load adopts the persisted identifier. When none is persisted, or storage
// cannot be read, a fresh identifier is issued without persisting it; only
// Rotate writes to storage.
func (m *Manager) Load(ctx context.Context) string {
	if m.store != nil {
		id, ok, err := m.store.Get(ctx, m.key)
		if err != nil {
			log.Warn().Err(err).Str("key", m.key).Msg("session: failed to read persisted id, using an unpersisted one")
		} else if ok && id != "" {
			m.mu.Lock()
			m.current = id
			m.mu.Unlock()
			return id
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == "" {
		m.current = m.newID()
	}
	return m.current
}

// Rotate generates a fresh identifier and overwrites the persisted value. It is
// called on every closed-to-open transition of the widget.
func (m *Manager) Rotate(ctx context.Context) string {
	id := m.newID()

	m.mu.Lock()
	m.current = id
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Set(ctx, m.key, id); err != nil {
			log.Warn().Err(err).Str("key", m.key).Msg("session: failed to persist id, continuing unpersisted")
		}
	}
	return id
}

// Current returns the active identifier, or "" before Load or Rotate ran.
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}
