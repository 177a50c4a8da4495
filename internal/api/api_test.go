package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"task-notification-service/internal/config"
	"task-notification-service/internal/db"
	"task-notification-service/internal/logging"
	"task-notification-service/internal/models"
	"task-notification-service/internal/notification"
)

type fakeNotifier struct {
	mu         sync.Mutex
	scheduled  []models.Task
	cancelled  []string
	connectErr error

	connected    chan notification.Channel
	disconnected chan notification.Channel
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		connected:    make(chan notification.Channel, 4),
		disconnected: make(chan notification.Channel, 4),
	}
}

func (f *fakeNotifier) ScheduleTask(task models.Task) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, task)
	return len(task.EnabledReminders())
}

func (f *fakeNotifier) CancelTask(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
	return 2
}

func (f *fakeNotifier) ArmedTimers(taskID string) []notification.ArmedTimer {
	return []notification.ArmedTimer{{TaskID: taskID, Minutes: 60, FireAt: time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)}}
}

func (f *fakeNotifier) Connect(_ string, ch notification.Channel) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected <- ch
	return nil
}

func (f *fakeNotifier) Disconnect(_ string, ch notification.Channel) {
	f.disconnected <- ch
}

type fakeStore struct {
	tasks         map[string]models.Task
	notifications []models.ArchivedNotification
	err           error
	contacts      map[string]int64
	gotLimit      int
}

func (s *fakeStore) GetTask(_ context.Context, id string) (models.Task, error) {
	if s.err != nil {
		return models.Task{}, s.err
	}
	t, ok := s.tasks[id]
	if !ok {
		return models.Task{}, fmt.Errorf("task %s: %w", id, db.ErrTaskNotFound)
	}
	return t, nil
}

func (s *fakeStore) GetNotificationsByUserID(_ context.Context, _ string, limit, _ int) ([]models.ArchivedNotification, error) {
	s.gotLimit = limit
	return s.notifications, s.err
}

func (s *fakeStore) UpsertTelegramContact(_ context.Context, c models.TelegramContact) (models.TelegramContact, error) {
	if s.err != nil {
		return models.TelegramContact{}, s.err
	}
	if s.contacts == nil {
		s.contacts = map[string]int64{}
	}
	s.contacts[c.UserID] = c.ChatID
	return c, nil
}

func (s *fakeStore) DeleteTelegramContact(_ context.Context, userID string) error {
	delete(s.contacts, userID)
	return s.err
}

type fakeVerifier struct{ err error }

func (v fakeVerifier) Welcome(context.Context, int64) error { return v.err }

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func setupRouter(n Notifier, s Store, v ChatVerifier) *gin.Engine {
	cfg := config.Config{}
	cfg.API.BasePath = "/api/v0"
	logger := logging.Discard()
	return NewRouter(NewHandler(n, s, v, logger), logger, cfg)
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	t.Parallel()
	r := setupRouter(newFakeNotifier(), &fakeStore{}, nil)
	w := do(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("GET /health = %d %s", w.Code, w.Body.String())
	}
}

func TestPutTask(t *testing.T) {
	t.Parallel()
	const valid = `{"id":"t1","userId":"u1","title":"a","dueDate":"2026-03-10T12:00:00Z","status":"pending",
		"notificationSettings":{"enabled":true,"reminderTimes":[{"minutes":60,"enabled":true},{"minutes":15,"enabled":true}]}}`

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "valid snapshot", path: "/api/v0/tasks/t1", body: valid, status: http.StatusOK},
		{name: "id mismatch", path: "/api/v0/tasks/t2", body: valid, status: http.StatusBadRequest},
		{name: "missing due date", path: "/api/v0/tasks/t1", body: `{"id":"t1","userId":"u1","status":"pending"}`, status: http.StatusBadRequest},
		{name: "garbage", path: "/api/v0/tasks/t1", body: `nope`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n := newFakeNotifier()
			r := setupRouter(n, &fakeStore{}, nil)
			w := do(r, http.MethodPut, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("PUT %s = %d, want %d (%s)", tt.path, w.Code, tt.status, w.Body.String())
			}
			if tt.status != http.StatusOK {
				if len(n.scheduled) != 0 {
					t.Fatal("rejected snapshot was scheduled")
				}
				return
			}
			var resp struct {
				TaskID string                    `json:"taskId"`
				Armed  int                       `json:"armed"`
				Timers []notification.ArmedTimer `json:"timers"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.TaskID != "t1" || resp.Armed != 2 || len(resp.Timers) != 1 {
				t.Fatalf("response = %+v", resp)
			}
		})
	}
}

func TestReloadTask(t *testing.T) {
	t.Parallel()
	stored := models.Task{
		ID:                   "t1",
		OwnerID:              "u1",
		DueDate:              time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Status:               models.StatusPending,
		NotificationSettings: models.DefaultNotificationSettings(),
	}
	tests := []struct {
		name          string
		store         *fakeStore
		status        int
		wantScheduled int
		wantCancelled int
	}{
		{name: "found", store: &fakeStore{tasks: map[string]models.Task{"t1": stored}}, status: http.StatusOK, wantScheduled: 1},
		{name: "gone from store", store: &fakeStore{}, status: http.StatusNotFound, wantCancelled: 1},
		{name: "store failure", store: &fakeStore{err: errors.New("down")}, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n := newFakeNotifier()
			r := setupRouter(n, tt.store, nil)
			w := do(r, http.MethodPost, "/api/v0/tasks/t1/reload", "")
			if w.Code != tt.status {
				t.Fatalf("POST reload = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if len(n.scheduled) != tt.wantScheduled || len(n.cancelled) != tt.wantCancelled {
				t.Fatalf("scheduled=%d cancelled=%d", len(n.scheduled), len(n.cancelled))
			}
		})
	}
}

func TestDeleteTaskAndTimers(t *testing.T) {
	t.Parallel()
	n := newFakeNotifier()
	r := setupRouter(n, &fakeStore{}, nil)

	w := do(r, http.MethodDelete, "/api/v0/tasks/t1", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"cancelled":2`) {
		t.Fatalf("DELETE = %d %s", w.Code, w.Body.String())
	}
	if len(n.cancelled) != 1 || n.cancelled[0] != "t1" {
		t.Fatalf("cancelled = %v", n.cancelled)
	}

	w = do(r, http.MethodGet, "/api/v0/tasks/t1/timers", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"fireAt":"2026-03-10T11:00:00Z"`) {
		t.Fatalf("GET timers = %d %s", w.Code, w.Body.String())
	}
}

func TestGetNotificationsByUserID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		query     string
		store     *fakeStore
		status    int
		wantLimit int
	}{
		{name: "default page", store: &fakeStore{notifications: []models.ArchivedNotification{{ID: "n1", UserID: "u1"}}}, status: http.StatusOK, wantLimit: 50},
		{name: "custom limit", query: "?limit=5&offset=10", store: &fakeStore{}, status: http.StatusOK, wantLimit: 5},
		{name: "limit too large", query: "?limit=1000", store: &fakeStore{}, status: http.StatusBadRequest},
		{name: "bad offset", query: "?offset=-1", store: &fakeStore{}, status: http.StatusBadRequest},
		{name: "store failure", store: &fakeStore{err: errors.New("down")}, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := setupRouter(newFakeNotifier(), tt.store, nil)
			w := do(r, http.MethodGet, "/api/v0/notifications/user/u1"+tt.query, "")
			if w.Code != tt.status {
				t.Fatalf("GET = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if tt.wantLimit != 0 && tt.store.gotLimit != tt.wantLimit {
				t.Fatalf("limit = %d, want %d", tt.store.gotLimit, tt.wantLimit)
			}
			if tt.status == http.StatusOK && !strings.HasPrefix(w.Body.String(), "[") {
				t.Fatalf("body = %s, want a JSON array", w.Body.String())
			}
		})
	}
}

func TestRegisterTelegram(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		verifier ChatVerifier
		body     string
		status   int
	}{
		{name: "linked", verifier: fakeVerifier{}, body: `{"user_id":"u1","chat_id":42}`, status: http.StatusOK},
		{name: "missing chat", verifier: fakeVerifier{}, body: `{"user_id":"u1"}`, status: http.StatusBadRequest},
		{name: "bot not started", verifier: fakeVerifier{err: errors.New("chat not found")}, body: `{"user_id":"u1","chat_id":42}`, status: http.StatusForbidden},
		{name: "no bot configured", verifier: nil, body: `{"user_id":"u1","chat_id":42}`, status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := &fakeStore{}
			r := setupRouter(newFakeNotifier(), store, tt.verifier)
			w := do(r, http.MethodPost, "/api/v0/telegram/register", tt.body)
			if w.Code != tt.status {
				t.Fatalf("POST = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			linked := store.contacts["u1"] == 42
			if linked != (tt.status == http.StatusOK) {
				t.Fatalf("linked = %v for status %d", linked, w.Code)
			}
		})
	}
}

func TestUnregisterTelegram(t *testing.T) {
	t.Parallel()
	store := &fakeStore{contacts: map[string]int64{"u1": 42}}
	r := setupRouter(newFakeNotifier(), store, nil)
	w := do(r, http.MethodDelete, "/api/v0/telegram/u1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d, want 204", w.Code)
	}
	if _, ok := store.contacts["u1"]; ok {
		t.Fatal("contact still linked")
	}
}

func dialWS(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestWebsocketSession(t *testing.T) {
	t.Parallel()
	n := newFakeNotifier()
	srv := httptest.NewServer(setupRouter(n, &fakeStore{}, nil))
	defer srv.Close()

	conn, _, err := dialWS(t, srv, "?user_id=u1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var ch notification.Channel
	select {
	case ch = <-n.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("session never registered")
	}

	ev, err := models.NewInfo("Hello", "welcome back", time.Now())
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}
	if err := ch.Send(ev); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["type"] != "info" || got["title"] != "Hello" || got["id"] != ev.ID() {
		t.Fatalf("payload = %v", got)
	}

	conn.Close()
	select {
	case gone := <-n.disconnected:
		if gone != ch {
			t.Fatal("a different channel was disconnected")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session never unregistered")
	}
	if err := ch.Send(ev); err == nil {
		t.Fatal("Send after disconnect succeeded")
	}
}

func TestWebsocketRequiresUserID(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(setupRouter(newFakeNotifier(), &fakeStore{}, nil))
	defer srv.Close()

	_, resp, err := dialWS(t, srv, "")
	if err == nil {
		t.Fatal("dial succeeded without user_id")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("response = %v, want 400", resp)
	}
}

func TestWebsocketRejectedAtChannelCap(t *testing.T) {
	t.Parallel()
	n := newFakeNotifier()
	n.connectErr = notification.ErrTooManyChannels
	srv := httptest.NewServer(setupRouter(n, &fakeStore{}, nil))
	defer srv.Close()

	conn, _, err := dialWS(t, srv, "?user_id=u1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("read error = %v, want policy violation close", err)
	}
}

func TestWebsocketWritesAcceptedEventsBeforeClose(t *testing.T) {
	t.Parallel()
	serverSide := make(chan *wsChannel, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- newWSChannel(conn)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var ch *wsChannel
	select {
	case ch = <-serverSide:
	case <-time.After(2 * time.Second):
		t.Fatal("server never upgraded")
	}

	var ids []string
	for i := 0; i < 3; i++ {
		ev, err := models.NewInfo(fmt.Sprintf("n%d", i), "body", time.Now())
		if err != nil {
			t.Fatalf("NewInfo: %v", err)
		}
		if err := ch.Send(ev); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		ids = append(ids, ev.ID())
	}
	ch.close(websocket.CloseNormalClosure, "bye")
	late, _ := models.NewInfo("late", "body", time.Now())
	if err := ch.Send(late); !errors.Is(err, errChannelClosed) {
		t.Fatalf("Send after close = %v, want errChannelClosed", err)
	}
	go ch.writePump(logging.Discard())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i, want := range ids {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		var got map[string]interface{}
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if got["id"] != want {
			t.Fatalf("message %d id = %v, want %s", i, got["id"], want)
		}
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("read error = %v, want normal close", err)
	}
}

func TestWebsocketSlowConsumerIsClosed(t *testing.T) {
	t.Parallel()
	ch := newWSChannel(nil)
	ev, err := models.NewInfo("n", "body", time.Now())
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}
	for i := 0; i < sendBuffer; i++ {
		if err := ch.Send(ev); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if err := ch.Send(ev); !errors.Is(err, errSlowConsumer) {
		t.Fatalf("Send on full buffer = %v, want errSlowConsumer", err)
	}
	if err := ch.Send(ev); !errors.Is(err, errChannelClosed) {
		t.Fatalf("Send after overflow = %v, want errChannelClosed", err)
	}
	if ch.code != websocket.CloseTryAgainLater {
		t.Fatalf("close code = %d, want %d", ch.code, websocket.CloseTryAgainLater)
	}
}
