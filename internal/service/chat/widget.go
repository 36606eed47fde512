package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-widget/backend/internal/model/chat"
	"github.com/zhouzirui/z-widget/backend/internal/service/exchange"
	"github.com/zhouzirui/z-widget/backend/internal/service/session"
)

var (
	// ErrEmptyMessage is returned for submissions that are blank after trimming.
	// Nothing is appended and no exchange is made.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrBusy is returned while an exchange is outstanding.
	ErrBusy = errors.New("an exchange is already in flight")
)

// Exchanger sends one message to the remote agent and returns its reply.
type Exchanger interface {
	Exchange(ctx context.Context, req exchange.Request) (string, error)
}

// Widget is one chat widget instance: its open state, input buffer, loading
// flag and append-only message list.
type Widget struct {
	id        string
	scope     string
	createdAt time.Time
	sessions  *session.Manager
	exchanger Exchanger

	mu         sync.Mutex
	open       bool
	loading    bool
	input      string
	messages   []chat.Message
	lastActive time.Time

	subMu   sync.Mutex
	subs    map[int]chan chat.Event
	nextSub int
	closed  bool
}

func newWidget(ctx context.Context, id, scope string, sessions *session.Manager, ex Exchanger, greeting string) *Widget {
	now := time.Now().UTC()
	w := &Widget{
		id:         id,
		scope:      scope,
		createdAt:  now,
		sessions:   sessions,
		exchanger:  ex,
		messages:   make([]chat.Message, 0, 16),
		lastActive: now,
		subs:       make(map[int]chan chat.Event),
	}
	sessions.Load(ctx)
	if greeting != "" {
		w.appendLocked(chat.OriginAgent, greeting)
	}
	return w
}

// ID returns the widget identifier.
func (w *Widget) ID() string { return w.id }

// Open moves the widget to the open state. Every closed-to-open transition
// issues a fresh session identifier.
func (w *Widget) Open(ctx context.Context) chat.Snapshot {
	w.mu.Lock()
	w.lastActive = time.Now().UTC()
	if w.open {
		w.mu.Unlock()
		return w.Snapshot()
	}
	w.open = true
	w.mu.Unlock()

	sessionID := w.sessions.Rotate(ctx)
	log.Debug().Str("widget_id", w.id).Str("session_id", sessionID).Msg("widget opened")

	open := true
	w.publish(chat.Event{Type: chat.EventOpen, Open: &open})
	w.publish(chat.Event{Type: chat.EventSession, SessionID: sessionID})
	return w.Snapshot()
}

// Close moves the widget to the closed state. The conversation is kept.
func (w *Widget) Close() chat.Snapshot {
	w.mu.Lock()
	w.lastActive = time.Now().UTC()
	wasOpen := w.open
	w.open = false
	w.mu.Unlock()

	if wasOpen {
		open := false
		w.publish(chat.Event{Type: chat.EventOpen, Open: &open})
	}
	return w.Snapshot()
}

// Toggle flips the open state.
func (w *Widget) Toggle(ctx context.Context) chat.Snapshot {
	w.mu.Lock()
	open := w.open
	w.mu.Unlock()
	if open {
		return w.Close()
	}
	return w.Open(ctx)
}

// SetInput replaces the input buffer.
func (w *Widget) SetInput(text string) {
	w.mu.Lock()
	w.input = text
	w.lastActive = time.Now().UTC()
	w.mu.Unlock()
}

// Submit sends the current input buffer.
func (w *Widget) Submit(ctx context.Context) (chat.Message, error) {
	w.mu.Lock()
	text := w.input
	w.mu.Unlock()
	return w.Send(ctx, text)
}

// Send runs one exchange. The user message is appended and the input cleared
// before the call; exactly one agent message, the reply or a failure notice,
// is appended once it settles. The exchange is not tied to ctx cancellation so
// a disconnecting caller still leaves a settled conversation behind.
func (w *Widget) Send(ctx context.Context, text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	w.mu.Lock()
	if w.loading {
		w.mu.Unlock()
		return chat.Message{}, ErrBusy
	}
	userMsg := w.appendLocked(chat.OriginUser, text)
	w.input = ""
	w.loading = true
	w.lastActive = time.Now().UTC()
	w.mu.Unlock()

	w.publishMessage(userMsg)
	w.publishLoading(true)

	req := exchange.Request{Message: text, SessionID: w.sessions.Current()}
	reply, err := w.exchanger.Exchange(context.WithoutCancel(ctx), req)
	if err != nil {
		log.Warn().Err(err).Str("widget_id", w.id).Msg("exchange failed, replying with notice")
		reply = exchange.UserMessage(err)
	}

	w.mu.Lock()
	agentMsg := w.appendLocked(chat.OriginAgent, reply)
	w.loading = false
	w.lastActive = time.Now().UTC()
	w.mu.Unlock()

	w.publishMessage(agentMsg)
	w.publishLoading(false)
	return agentMsg, nil
}

// Messages returns a copy of the conversation in display order.
func (w *Widget) Messages() []chat.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	copied := make([]chat.Message, len(w.messages))
	copy(copied, w.messages)
	return copied
}

// Loading reports whether an exchange is outstanding.
func (w *Widget) Loading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loading
}

// Snapshot returns the full view state.
func (w *Widget) Snapshot() chat.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	messages := make([]chat.Message, len(w.messages))
	copy(messages, w.messages)
	return chat.Snapshot{
		WidgetID:  w.id,
		Scope:     w.scope,
		SessionID: w.sessions.Current(),
		Open:      w.open,
		Loading:   w.loading,
		Input:     w.input,
		Messages:  messages,
		CreatedAt: w.createdAt,
	}
}

// Subscribe registers for state-change events. Events are dropped for a
// subscriber whose buffer is full. The returned function unsubscribes.
func (w *Widget) Subscribe(buffer int) (<-chan chat.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan chat.Event, buffer)

	w.subMu.Lock()
	defer w.subMu.Unlock()
	if w.closed {
		close(ch)
		return ch, func() {}
	}
	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.subMu.Lock()
			defer w.subMu.Unlock()
			if sub, ok := w.subs[id]; ok {
				delete(w.subs, id)
				close(sub)
			}
		})
	}
}

func (w *Widget) idle(now time.Time, ttl time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.loading && now.Sub(w.lastActive) > ttl
}

// shutdown closes every subscriber channel.
func (w *Widget) shutdown() {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	w.closed = true
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
}

// appendLocked must be called with w.mu held, or before the widget is shared.
func (w *Widget) appendLocked(origin chat.Origin, text string) chat.Message {
	msg := chat.Message{
		Seq:       len(w.messages) + 1,
		Origin:    origin,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	w.messages = append(w.messages, msg)
	return msg
}

func (w *Widget) publishMessage(msg chat.Message) {
	w.publish(chat.Event{Type: chat.EventMessage, Message: &msg})
}

func (w *Widget) publishLoading(loading bool) {
	w.publish(chat.Event{Type: chat.EventLoading, Loading: &loading})
}

func (w *Widget) publish(ev chat.Event) {
	ev.WidgetID = w.id
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().Str("widget_id", w.id).Str("event", string(ev.Type)).Msg("subscriber full, dropping event")
		}
	}
}
