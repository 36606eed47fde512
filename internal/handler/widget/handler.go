package widget

import (
	"encoding/json"
	"errors"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-widget/backend/internal/model/chat"
	chatService "github.com/zhouzirui/z-widget/backend/internal/service/chat"
	"github.com/zhouzirui/z-widget/backend/pkg/markup"
	"github.com/zhouzirui/z-widget/backend/pkg/utils"
)

const sseHeartbeat = 15 * time.Second

// Handler exposes widget instances over REST, SSE and WebSocket.
type Handler struct {
	widgets  *chatService.Service
	upgrader websocket.Upgrader
}

// New creates a widget handler.
func New(widgets *chatService.Service) *Handler {
	return &Handler{
		widgets: widgets,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the widget routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/widgets", h.handleCreate)
	r.Route("/widgets/{widgetID}", func(r chi.Router) {
		r.Get("/", h.handleSnapshot)
		r.Delete("/", h.handleDelete)
		r.Post("/open", h.handleOpen)
		r.Post("/close", h.handleClose)
		r.Post("/toggle", h.handleToggle)
		r.Put("/input", h.handleInput)
		r.Get("/messages", h.handleListMessages)
		r.Post("/messages", h.handleSend)
		r.Get("/events", h.handleEvents)
		r.Get("/ws", h.handleWebSocket)
	})
}

// messageView adds the display markup the view inserts as raw HTML.
type messageView struct {
	chat.Message
	HTML string `json:"html"`
}

type snapshotView struct {
	chat.Snapshot
	Messages []messageView `json:"messages"`
}

type eventView struct {
	chat.Event
	Message *messageView `json:"message,omitempty"`
}

func toMessageView(m chat.Message) messageView {
	view := messageView{Message: m}
	if m.Origin == chat.OriginAgent {
		view.HTML = markup.ToDisplayMarkup(m.Text)
	} else {
		view.HTML = html.EscapeString(m.Text)
	}
	return view
}

func toMessageViews(msgs []chat.Message) []messageView {
	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = toMessageView(m)
	}
	return views
}

func toSnapshotView(s chat.Snapshot) snapshotView {
	return snapshotView{Snapshot: s, Messages: toMessageViews(s.Messages)}
}

func toEventView(ev chat.Event) eventView {
	view := eventView{Event: ev}
	if ev.Message != nil {
		mv := toMessageView(*ev.Message)
		view.Message = &mv
	}
	return view
}

func (h *Handler) widget(w http.ResponseWriter, r *http.Request) (*chatService.Widget, bool) {
	widget, err := h.widgets.Get(chi.URLParam(r, "widgetID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return widget, true
}

// handleCreate provisions a widget; an empty body uses the default scope.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Scope string `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	widget, err := h.widgets.Create(r.Context(), payload.Scope)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, toSnapshotView(widget.Snapshot()))
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, toSnapshotView(widget.Snapshot()))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.widgets.Remove(chi.URLParam(r, "widgetID")); err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, toSnapshotView(widget.Open(r.Context())))
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, toSnapshotView(widget.Close()))
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, toSnapshotView(widget.Toggle(r.Context())))
}

func (h *Handler) handleInput(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	widget.SetInput(payload.Text)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, toMessageViews(widget.Messages()))
}

// handleSend runs one exchange. Without a text field the input buffer is sent.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	var payload struct {
		Text *string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		reply chat.Message
		err   error
	)
	if payload.Text != nil {
		reply, err = widget.Send(r.Context(), *payload.Text)
	} else {
		reply, err = widget.Submit(r.Context())
	}

	switch {
	case errors.Is(err, chatService.ErrEmptyMessage):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, chatService.ErrBusy):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	default:
		utils.RespondJSON(w, http.StatusCreated, toMessageView(reply))
	}
}

// handleEvents streams widget events as Server-Sent Events, starting with a
// snapshot so late subscribers can render immediately.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := widget.Subscribe(32)
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEEvent(w, flusher, "snapshot", toSnapshotView(widget.Snapshot())); err != nil {
		return
	}

	ctx := r.Context()
	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("widget_id", widget.ID()).Msg("sse stream closed by client")
			return
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		case ev, open := <-events:
			if !open {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), toEventView(ev)); err != nil {
				return
			}
		}
	}
}
