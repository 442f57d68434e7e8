package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/educapro/notifier/internal/domain/notification"
	"github.com/educapro/notifier/internal/render"
	"github.com/educapro/notifier/internal/services/notifier"
)

type memStore struct {
	mu    sync.Mutex
	items map[string]*notification.Notification
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]*notification.Notification)}
}

func (m *memStore) Create(_ context.Context, n *notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.items[n.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *memStore) Update(_ context.Context, n *notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[n.ID]; !ok {
		return notification.ErrNotFound
	}
	cp := *n
	m.items[n.ID] = &cp
	return nil
}

func (m *memStore) ListByState(_ context.Context, st notification.State) ([]*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notification.Notification
	for _, n := range m.items {
		if n.State == st {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ListScheduledDue(_ context.Context, now time.Time) ([]*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notification.Notification
	for _, n := range m.items {
		if n.State == notification.StateScheduled && n.ScheduledFor != nil && !n.ScheduledFor.After(now) {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) List(_ context.Context, f notification.Filter) ([]*notification.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*notification.Notification
	for _, n := range m.items {
		if f.RecipientEmail != "" && n.RecipientEmail != f.RecipientEmail {
			continue
		}
		if f.Type != "" && n.Type != f.Type {
			continue
		}
		if f.State != "" && n.State != f.State {
			continue
		}
		cp := *n
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return notification.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

type fakeSender struct {
	mu     sync.Mutex
	count  int
	failTo string
}

func (s *fakeSender) Send(_ context.Context, to, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTo != "" && to == s.failTo {
		return "", errors.New("delivery refused")
	}
	s.count++
	return "msg-1", nil
}

func newTestAPI(t *testing.T, sender *fakeSender) (*httptest.Server, *memStore) {
	t.Helper()
	store := newMemStore()
	d := notifier.NewDispatcher().Register(notification.ChannelEmail, sender)
	engine := notifier.NewEngine(zap.NewNop(), store, render.New(), d)
	rec := notifier.NewReconciler(zap.NewNop(), store, engine)
	s := NewServer(zap.NewNop(), "127.0.0.1:0", engine, rec)
	ts := httptest.NewServer(s.http.Handler)
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url, body string, out any) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

const newTaskBody = `{
  "recipient_email": "ana@school.edu",
  "task_info": {"task_id": "t1", "title": "Algebra homework"}
}`

func TestCreateNewTask_SingleRecipient(t *testing.T) {
	ts, _ := newTestAPI(t, &fakeSender{})

	var out createResponse
	resp := postJSON(t, ts.URL+"/api/notifications/new-task", newTaskBody, &out)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, out.Notifications, 1)
	require.Equal(t, notification.StateSent, out.Notifications[0].State)
	require.Equal(t, "external", out.Notifications[0].SourceSystem)
}

func TestCreateNewTask_Batch(t *testing.T) {
	ts, _ := newTestAPI(t, &fakeSender{})

	body := `{
	  "recipients": [{"email": "a@x.edu"}, {"email": "b@x.edu"}],
	  "task_info": {"task_id": "t1", "title": "Group project"}
	}`
	var out createResponse
	resp := postJSON(t, ts.URL+"/api/notifications/graded", body, &out)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, out.Notifications, 2)
}

func TestCreate_ValidationError(t *testing.T) {
	ts, _ := newTestAPI(t, &fakeSender{})

	var out errorResponse
	resp := postJSON(t, ts.URL+"/api/notifications/new-task", `{"task_info":{"title":"x"}}`, &out)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, out.Error, "recipient_email")
}

func TestGet_NotFound(t *testing.T) {
	ts, _ := newTestAPI(t, &fakeSender{})
	resp := getJSON(t, ts.URL+"/api/notifications/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResend_DeliveryFailureReturnsRecord(t *testing.T) {
	sender := &fakeSender{failTo: "ana@school.edu"}
	ts, _ := newTestAPI(t, sender)

	var created createResponse
	resp := postJSON(t, ts.URL+"/api/notifications/new-task", newTaskBody, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := created.Notifications[0].ID
	require.Equal(t, notification.StateFailed, created.Notifications[0].State)

	var n notification.Notification
	resp = postJSON(t, ts.URL+"/api/notifications/"+id+"/resend", "", &n)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, notification.StateFailed, n.State)
	require.Equal(t, 2, n.AttemptCount)
}

func TestHistoryAndStats(t *testing.T) {
	ts, _ := newTestAPI(t, &fakeSender{})

	for i := 0; i < 3; i++ {
		postJSON(t, ts.URL+"/api/notifications/new-task", newTaskBody, nil)
	}

	var hist listResponse
	resp := getJSON(t, ts.URL+"/api/notifications/history?limit=2", &hist)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, hist.Total)
	require.Len(t, hist.Notifications, 2)

	var st notifier.Stats
	resp = getJSON(t, ts.URL+"/api/notifications/stats", &st)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, st.Total)
	require.Equal(t, 3, st.Sent)
}

func TestHistory_BadQuery(t *testing.T) {
	ts, _ := newTestAPI(t, &fakeSender{})
	resp := getJSON(t, ts.URL+"/api/notifications/history?limit=oops", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProcessPending(t *testing.T) {
	ts, store := newTestAPI(t, &fakeSender{})

	now := time.Now().UTC()
	require.NoError(t, store.Create(context.Background(), &notification.Notification{
		ID:             "pend-1",
		RecipientEmail: "ana@school.edu",
		Type:           notification.TypeNewTask,
		Channel:        notification.ChannelEmail,
		TaskInfo:       notification.TaskInfo{Title: "Stuck"},
		State:          notification.StatePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))

	var sum notifier.Summary
	resp := postJSON(t, ts.URL+"/api/notifications/process-pending", "", &sum)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, notifier.Summary{Processed: 1, Succeeded: 1}, sum)
}

func TestDelete(t *testing.T) {
	ts, _ := newTestAPI(t, &fakeSender{})

	var created createResponse
	postJSON(t, ts.URL+"/api/notifications/new-task", newTaskBody, &created)
	id := created.Notifications[0].ID

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/notifications/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = getJSON(t, ts.URL+"/api/notifications/"+id, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
