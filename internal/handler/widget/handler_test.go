package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-widget/backend/internal/model/chat"
	chatService "github.com/zhouzirui/z-widget/backend/internal/service/chat"
	"github.com/zhouzirui/z-widget/backend/internal/service/exchange"
	"github.com/zhouzirui/z-widget/backend/internal/storage"
)

type stubExchanger struct {
	reply   string
	err     error
	release chan struct{}
}

func (s *stubExchanger) Exchange(_ context.Context, _ exchange.Request) (string, error) {
	if s.release != nil {
		<-s.release
	}
	return s.reply, s.err
}

func newTestRouter(t *testing.T, ex chatService.Exchanger) (http.Handler, *chatService.Service) {
	t.Helper()
	svc := chatService.NewService(storage.NewMemoryStore(), ex, chatService.Options{Greeting: "Hello"})
	r := chi.NewRouter()
	r.Route("/api", New(svc).RegisterRoutes)
	return r, svc
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createWidget(t *testing.T, h http.Handler) snapshotView {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/widgets", `{"scope":"site-a"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var snap snapshotView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func TestCreateWidgetReturnsGreeting(t *testing.T) {
	h, _ := newTestRouter(t, &stubExchanger{reply: "ok"})

	snap := createWidget(t, h)
	require.NotEmpty(t, snap.WidgetID)
	require.Equal(t, "site-a", snap.Scope)
	require.NotEmpty(t, snap.SessionID)
	require.False(t, snap.Open)
	require.Len(t, snap.Messages, 1)
	require.Equal(t, chat.OriginAgent, snap.Messages[0].Origin)
	require.Equal(t, "Hello", snap.Messages[0].HTML)
}

func TestCreateWidgetWithoutBody(t *testing.T) {
	h, _ := newTestRouter(t, &stubExchanger{reply: "ok"})

	rec := doJSON(t, h, http.MethodPost, "/api/widgets", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var snap snapshotView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, "default", snap.Scope)
}

func TestSendReturnsSanitizedAgentMessage(t *testing.T) {
	h, _ := newTestRouter(t, &stubExchanger{reply: "**bold** <b>\nnext"})
	snap := createWidget(t, h)
	base := "/api/widgets/" + snap.WidgetID

	rec := doJSON(t, h, http.MethodPost, base+"/messages", `{"text":"<i>hi</i>"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var reply messageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	require.Equal(t, chat.OriginAgent, reply.Origin)
	require.Equal(t, "**bold** <b>\nnext", reply.Text)
	require.Equal(t, "bold &lt;b&gt;<br />next", reply.HTML)

	rec = doJSON(t, h, http.MethodGet, base+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []messageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 3)
	require.Equal(t, chat.OriginUser, msgs[1].Origin)
	require.Equal(t, "&lt;i&gt;hi&lt;/i&gt;", msgs[1].HTML)
	require.Equal(t, []int{1, 2, 3}, []int{msgs[0].Seq, msgs[1].Seq, msgs[2].Seq})
}

func TestSendBlankIsNoContent(t *testing.T) {
	h, svc := newTestRouter(t, &stubExchanger{reply: "ok"})
	snap := createWidget(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/widgets/"+snap.WidgetID+"/messages", `{"text":"   "}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	w, err := svc.Get(snap.WidgetID)
	require.NoError(t, err)
	require.Len(t, w.Messages(), 1)
}

func TestSendSubmitsInputBuffer(t *testing.T) {
	h, svc := newTestRouter(t, &stubExchanger{reply: "pong"})
	snap := createWidget(t, h)
	base := "/api/widgets/" + snap.WidgetID

	rec := doJSON(t, h, http.MethodPut, base+"/input", `{"text":"ping"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodPost, base+"/messages", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	w, err := svc.Get(snap.WidgetID)
	require.NoError(t, err)
	msgs := w.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "ping", msgs[1].Text)
	require.Equal(t, "pong", msgs[2].Text)
	require.Empty(t, w.Snapshot().Input)
}

func TestSendWhileBusyConflicts(t *testing.T) {
	ex := &stubExchanger{reply: "done", release: make(chan struct{})}
	h, svc := newTestRouter(t, ex)
	snap := createWidget(t, h)
	path := "/api/widgets/" + snap.WidgetID + "/messages"

	first := make(chan int, 1)
	go func() {
		first <- doJSON(t, h, http.MethodPost, path, `{"text":"one"}`).Code
	}()

	w, err := svc.Get(snap.WidgetID)
	require.NoError(t, err)
	require.Eventually(t, w.Loading, time.Second, 5*time.Millisecond)

	rec := doJSON(t, h, http.MethodPost, path, `{"text":"two"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	close(ex.release)
	require.Equal(t, http.StatusCreated, <-first)
	require.Len(t, w.Messages(), 3)
}

func TestOpenCloseToggle(t *testing.T) {
	h, _ := newTestRouter(t, &stubExchanger{reply: "ok"})
	snap := createWidget(t, h)
	base := "/api/widgets/" + snap.WidgetID

	var opened snapshotView
	rec := doJSON(t, h, http.MethodPost, base+"/open", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opened))
	require.True(t, opened.Open)
	require.NotEqual(t, snap.SessionID, opened.SessionID)

	var closed snapshotView
	rec = doJSON(t, h, http.MethodPost, base+"/close", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &closed))
	require.False(t, closed.Open)
	require.Equal(t, opened.SessionID, closed.SessionID)

	var toggled snapshotView
	rec = doJSON(t, h, http.MethodPost, base+"/toggle", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &toggled))
	require.True(t, toggled.Open)
	require.NotEqual(t, opened.SessionID, toggled.SessionID)
}

func TestUnknownWidgetIsNotFound(t *testing.T) {
	h, _ := newTestRouter(t, &stubExchanger{reply: "ok"})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/widgets/missing"},
		{http.MethodPost, "/api/widgets/missing/open"},
		{http.MethodGet, "/api/widgets/missing/messages"},
		{http.MethodPost, "/api/widgets/missing/messages"},
		{http.MethodDelete, "/api/widgets/missing"},
	} {
		rec := doJSON(t, h, tc.method, tc.path, `{"text":"x"}`)
		require.Equal(t, http.StatusNotFound, rec.Code, tc.method+" "+tc.path)
	}
}

func TestDeleteWidget(t *testing.T) {
	h, svc := newTestRouter(t, &stubExchanger{reply: "ok"})
	snap := createWidget(t, h)

	rec := doJSON(t, h, http.MethodDelete, "/api/widgets/"+snap.WidgetID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, err := svc.Get(snap.WidgetID)
	require.ErrorIs(t, err, chatService.ErrWidgetNotFound)
}

func TestEventsStreamSnapshotThenMessages(t *testing.T) {
	h, svc := newTestRouter(t, &stubExchanger{reply: "pong"})
	srv := httptest.NewServer(h)
	defer srv.Close()
	snap := createWidget(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/widgets/"+snap.WidgetID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "event: snapshot")

	w, err := svc.Get(snap.WidgetID)
	require.NoError(t, err)
	_, err = w.Send(context.Background(), "ping")
	require.NoError(t, err)

	var stream strings.Builder
	for !strings.Contains(stream.String(), `"text":"pong"`) {
		n, err := resp.Body.Read(buf)
		require.NoError(t, err)
		stream.Write(buf[:n])
	}
	require.Contains(t, stream.String(), "event: message")
	require.Contains(t, stream.String(), "event: loading")
}

func TestWebSocketSendAndEvents(t *testing.T) {
	h, _ := newTestRouter(t, &stubExchanger{reply: "# Title\nbody"})
	srv := httptest.NewServer(h)
	defer srv.Close()
	snap := createWidget(t, h)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/widgets/" + snap.WidgetID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	type frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	var first frame
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "snapshot", first.Type)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "send", Text: "hi"}))

	var agent *messageView
	for agent == nil {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type != string(chat.EventMessage) {
			continue
		}
		var ev eventView
		require.NoError(t, json.Unmarshal(f.Data, &ev))
		if ev.Message != nil && ev.Message.Origin == chat.OriginAgent {
			agent = ev.Message
		}
	}
	require.Equal(t, "Title<br />body", agent.HTML)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "bogus"}))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == "error" {
			require.Contains(t, string(f.Data), "unsupported message type")
			break
		}
	}
}
