package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-widget/backend/internal/service/session"
	"github.com/zhouzirui/z-widget/backend/internal/storage"
)

// ErrWidgetNotFound is returned for unknown widget identifiers.
var ErrWidgetNotFound = errors.New("widget not found")

// Options configures the widgets created by a Service.
type Options struct {
	Greeting   string
	SessionKey string
	IdleTTL    time.Duration
}

// Service keeps the live widget instances of the process.
type Service struct {
	store     storage.Store
	exchanger Exchanger
	opts      Options
	newID     func() (string, error)

	mu      sync.RWMutex
	widgets map[string]*Widget
}

// NewService wires widgets to a session store and an exchanger. A nil store
// leaves session identifiers unpersisted.
func NewService(store storage.Store, ex Exchanger, opts Options) *Service {
	return &Service{
		store:     store,
		exchanger: ex,
		opts:      opts,
		newID:     func() (string, error) { return gonanoid.New() },
		widgets:   make(map[string]*Widget),
	}
}

// Create provisions a widget whose session key lives in the given storage
// scope. Widgets sharing a scope share the persisted session identifier.
func (s *Service) Create(ctx context.Context, scope string) (*Widget, error) {
	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("generate widget id: %w", err)
	}

	var store storage.Store
	scoped := storage.NewScoped(s.store, scope)
	if s.store != nil {
		store = scoped
	}
	sessions := session.NewManager(store, session.WithKey(s.opts.SessionKey))
	w := newWidget(ctx, id, scoped.Scope(), sessions, s.exchanger, s.opts.Greeting)

	s.mu.Lock()
	s.widgets[id] = w
	s.mu.Unlock()

	log.Info().Str("widget_id", id).Str("scope", scoped.Scope()).Msg("widget created")
	return w, nil
}

// Get looks up a widget.
func (s *Service) Get(id string) (*Widget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.widgets[id]
	if !ok {
		return nil, ErrWidgetNotFound
	}
	return w, nil
}

// Remove drops a widget and closes its subscriptions.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	w, ok := s.widgets[id]
	delete(s.widgets, id)
	s.mu.Unlock()
	if !ok {
		return ErrWidgetNotFound
	}
	w.shutdown()
	return nil
}

// Len reports the number of live widgets.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.widgets)
}

// EvictIdle removes widgets without activity for longer than IdleTTL. Widgets
// with an exchange in flight are kept.
func (s *Service) EvictIdle(now time.Time) int {
	if s.opts.IdleTTL <= 0 {
		return 0
	}

	var evicted []*Widget
	s.mu.Lock()
	for id, w := range s.widgets {
		if w.idle(now, s.opts.IdleTTL) {
			delete(s.widgets, id)
			evicted = append(evicted, w)
		}
	}
	s.mu.Unlock()

	for _, w := range evicted {
		w.shutdown()
		log.Info().Str("widget_id", w.ID()).Msg("idle widget evicted")
	}
	return len(evicted)
}

// RunJanitor evicts idle widgets every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.opts.IdleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			s.EvictIdle(t.UTC())
		}
	}
}
