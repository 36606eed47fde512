package widget

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-widget/backend/internal/model/chat"
	chatService "github.com/zhouzirui/z-widget/backend/internal/service/chat"
)

const (
	wsReadWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsWriteWait  = 10 * time.Second
)

type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msgType string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(outgoingMessage{Type: msgType, Data: data, Timestamp: time.Now().Unix()})
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (c *wsConn) sendError(message string) {
	if err := c.send("error", map[string]string{"message": message}); err != nil {
		log.Debug().Err(err).Msg("websocket error frame not delivered")
	}
}

// handleWebSocket drives a widget over a single socket. Widget events are
// forwarded as they happen; inbound frames map onto widget operations.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("widget_id", widget.ID()).Msg("websocket upgrade failed")
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}

	log.Info().Str("widget_id", widget.ID()).Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = raw.SetReadDeadline(time.Now().Add(wsReadWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(wsReadWait))
	})

	events, unsubscribe := widget.Subscribe(32)
	defer unsubscribe()

	if err := conn.send("snapshot", toSnapshotView(widget.Snapshot())); err != nil {
		return
	}

	go h.pingLoop(ctx, conn)
	go h.forwardEvents(ctx, cancel, conn, events)

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("widget_id", widget.ID()).Msg("websocket read error")
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(wsReadWait))

		h.handleInbound(ctx, conn, widget, msg)
	}
}

func (h *Handler) handleInbound(ctx context.Context, conn *wsConn, widget *chatService.Widget, msg inboundMessage) {
	switch msg.Type {
	case "send":
		go func() {
			_, err := widget.Send(ctx, msg.Text)
			switch {
			case errors.Is(err, chatService.ErrEmptyMessage):
			case err != nil:
				conn.sendError(err.Error())
			}
		}()
	case "open":
		widget.Open(ctx)
	case "close":
		widget.Close()
	case "toggle":
		widget.Toggle(ctx)
	case "input":
		widget.SetInput(msg.Text)
	default:
		conn.sendError("unsupported message type: " + msg.Type)
	}
}

// forwardEvents closes the socket when the subscription ends so the read loop
// unblocks.
func (h *Handler) forwardEvents(ctx context.Context, cancel context.CancelFunc, conn *wsConn, events <-chan chat.Event) {
	defer func() {
		cancel()
		_ = conn.conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := conn.send(string(ev.Type), toEventView(ev)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
