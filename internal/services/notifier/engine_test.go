package notifier

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/educapro/notifier/internal/domain/notification"
	"github.com/educapro/notifier/internal/render"
)

type fakeStore struct {
	mu    sync.Mutex
	items map[string]*notification.Notification
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]*notification.Notification)}
}

func cloneNotif(n *notification.Notification) *notification.Notification {
	cp := *n
	if n.ScheduledFor != nil {
		t := *n.ScheduledFor
		cp.ScheduledFor = &t
	}
	if n.SentAt != nil {
		t := *n.SentAt
		cp.SentAt = &t
	}
	if n.SenderInfo != nil {
		s := *n.SenderInfo
		cp.SenderInfo = &s
	}
	return &cp
}

func (f *fakeStore) Create(_ context.Context, n *notification.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[n.ID] = cloneNotif(n)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*notification.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.items[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return cloneNotif(n), nil
}

func (f *fakeStore) Update(_ context.Context, n *notification.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[n.ID]; !ok {
		return notification.ErrNotFound
	}
	f.items[n.ID] = cloneNotif(n)
	return nil
}

func (f *fakeStore) ListByState(_ context.Context, st notification.State) ([]*notification.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*notification.Notification
	for _, n := range f.items {
		if n.State == st {
			out = append(out, cloneNotif(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) ListScheduledDue(_ context.Context, now time.Time) ([]*notification.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*notification.Notification
	for _, n := range f.items {
		if n.State == notification.StateScheduled && n.ScheduledFor != nil && !n.ScheduledFor.After(now) {
			out = append(out, cloneNotif(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) List(_ context.Context, fl notification.Filter) ([]*notification.Notification, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*notification.Notification
	for _, n := range f.items {
		if fl.RecipientEmail != "" && n.RecipientEmail != fl.RecipientEmail {
			continue
		}
		if fl.Type != "" && n.Type != fl.Type {
			continue
		}
		if fl.State != "" && n.State != fl.State {
			continue
		}
		if !fl.From.IsZero() && n.CreatedAt.Before(fl.From) {
			continue
		}
		if !fl.To.IsZero() && n.CreatedAt.After(fl.To) {
			continue
		}
		all = append(all, cloneNotif(n))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if fl.Offset > 0 {
		if fl.Offset >= len(all) {
			all = nil
		} else {
			all = all[fl.Offset:]
		}
	}
	if fl.Limit > 0 && len(all) > fl.Limit {
		all = all[:fl.Limit]
	}
	return all, total, nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return notification.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

// recordingSender records every delivery and can fail selectively.
type recordingSender struct {
	mu     sync.Mutex
	sent   []string
	failTo map[string]error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{failTo: make(map[string]error)}
}

func (s *recordingSender) failFor(to string, err error) *recordingSender {
	s.failTo[to] = err
	return s
}

func (s *recordingSender) Send(_ context.Context, to, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failTo[to]; ok {
		return "", err
	}
	s.sent = append(s.sent, to)
	return "msg-" + to, nil
}

func (s *recordingSender) deliveries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func testEngine(store notification.Store, sender ChannelSender, clk func() time.Time) *Engine {
	d := NewDispatcher().Register(notification.ChannelEmail, sender)
	e := NewEngine(zap.NewNop(), store, render.New(), d)
	if clk != nil {
		e = e.WithClock(clk)
	}
	return e
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func baseInput() CreateInput {
	return CreateInput{
		RecipientEmail: "ana@school.edu",
		TaskInfo: notification.TaskInfo{
			TaskID: "task-1",
			Title:  "Algebra homework",
			DueAt:  time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestCreateForNewTask_DispatchesImmediately(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore()
	sender := newRecordingSender()
	e := testEngine(store, sender, fixedClock(now))

	n, err := e.CreateForNewTask(context.Background(), baseInput())
	require.NoError(t, err)
	require.Equal(t, notification.StateSent, n.State)
	require.NotNil(t, n.SentAt)
	require.Equal(t, now, *n.SentAt)
	require.Zero(t, n.AttemptCount)
	require.Empty(t, n.LastError)
	require.Equal(t, []string{"ana@school.edu"}, sender.deliveries())

	stored, err := store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StateSent, stored.State)
}

func TestCreateForNewTask_FutureScheduleParks(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	later := now.Add(2 * time.Hour)
	store := newFakeStore()
	sender := newRecordingSender()
	e := testEngine(store, sender, fixedClock(now))

	in := baseInput()
	in.ScheduledFor = &later
	n, err := e.CreateForNewTask(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, notification.StateScheduled, n.State)
	require.Nil(t, n.SentAt)
	require.NotNil(t, n.ScheduledFor)
	require.Equal(t, later, *n.ScheduledFor)
	require.Empty(t, sender.deliveries())
}

func TestCreateForNewTask_PastScheduleDispatches(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)
	store := newFakeStore()
	sender := newRecordingSender()
	e := testEngine(store, sender, fixedClock(now))

	in := baseInput()
	in.ScheduledFor = &earlier
	n, err := e.CreateForNewTask(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, notification.StateSent, n.State)
	require.Nil(t, n.ScheduledFor)
}

func TestCreateReminder_IgnoresSchedule(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	later := now.Add(2 * time.Hour)
	store := newFakeStore()
	sender := newRecordingSender()
	e := testEngine(store, sender, fixedClock(now))

	in := baseInput()
	in.ScheduledFor = &later
	n, err := e.CreateReminder(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, notification.StateSent, n.State)
	require.Nil(t, n.ScheduledFor)
	require.Len(t, sender.deliveries(), 1)
}

func TestCreate_DeliveryFailureRecordedNotSurfaced(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore()
	sender := newRecordingSender().failFor("ana@school.edu", errors.New("smtp: connection refused"))
	e := testEngine(store, sender, fixedClock(now))

	n, err := e.CreateForNewTask(context.Background(), baseInput())
	require.NoError(t, err)
	require.Equal(t, notification.StateFailed, n.State)
	require.Nil(t, n.SentAt)
	require.Equal(t, 1, n.AttemptCount)
	require.Contains(t, n.LastError, "connection refused")
}

func TestCreate_Validation(t *testing.T) {
	e := testEngine(newFakeStore(), newRecordingSender(), nil)

	in := baseInput()
	in.RecipientEmail = ""
	_, err := e.CreateForNewTask(context.Background(), in)
	var ve *notification.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "recipient_email", ve.Field)

	in = baseInput()
	in.TaskInfo.Title = ""
	_, err = e.CreateForNewTask(context.Background(), in)
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "task_info.title", ve.Field)
}

func TestCreate_Defaults(t *testing.T) {
	store := newFakeStore()
	e := testEngine(store, newRecordingSender(), nil)

	n, err := e.CreateForGrade(context.Background(), baseInput())
	require.NoError(t, err)
	require.Equal(t, "ana", n.RecipientName)
	require.Equal(t, "student", n.RecipientRole)
	require.Equal(t, notification.ChannelEmail, n.Channel)
	require.Equal(t, "task-service", n.SourceSystem)
}

func TestDispatch_AttemptCountOnlyGrows(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore()
	sender := newRecordingSender().failFor("ana@school.edu", errors.New("boom"))
	e := testEngine(store, sender, fixedClock(now))

	n, err := e.CreateForNewTask(context.Background(), baseInput())
	require.NoError(t, err)
	require.Equal(t, 1, n.AttemptCount)

	_, err = e.Dispatch(context.Background(), n.ID)
	var de *notification.DeliveryError
	require.ErrorAs(t, err, &de)

	got, err := store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.AttemptCount)

	delete(sender.failTo, "ana@school.edu")
	got2, err := e.Dispatch(context.Background(), n.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StateSent, got2.State)
	require.Equal(t, 2, got2.AttemptCount)
	require.NotNil(t, got2.SentAt)
}

func TestResend_NoSentGuard(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore()
	sender := newRecordingSender()
	e := testEngine(store, sender, fixedClock(now))

	n, err := e.CreateForNewTask(context.Background(), baseInput())
	require.NoError(t, err)
	require.Equal(t, notification.StateSent, n.State)

	again, err := e.Resend(context.Background(), n.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StateSent, again.State)
	require.Len(t, sender.deliveries(), 2)

	// creation-time fields stay put across re-dispatch
	require.Equal(t, n.ID, again.ID)
	require.Equal(t, n.RecipientEmail, again.RecipientEmail)
	require.Equal(t, n.Type, again.Type)
	require.Equal(t, n.CreatedAt, again.CreatedAt)
}

func TestResend_UnknownID(t *testing.T) {
	e := testEngine(newFakeStore(), newRecordingSender(), nil)
	_, err := e.Resend(context.Background(), "nope")
	require.ErrorIs(t, err, notification.ErrNotFound)
}

func TestDispatch_UnregisteredChannel(t *testing.T) {
	store := newFakeStore()
	e := testEngine(store, newRecordingSender(), nil)

	in := baseInput()
	in.Channel = notification.ChannelPush
	n, err := e.CreateForNewTask(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, notification.StateFailed, n.State)
	require.Contains(t, n.LastError, "no sender registered")
}

func TestEngine_ConcurrentCreateAndDispatch(t *testing.T) {
	// the reminder and reconcile timers may overlap in wall-clock time,
	// so create and dispatch run concurrently for different IDs
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore()
	sender := newRecordingSender()
	e := testEngine(store, sender, fixedClock(now))

	const n = 16
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		seedID := "seed-" + string(rune('a'+i))
		seedNotif(t, store, seedID, seedID+"@school.edu", notification.StatePending, now, nil)
		ids[i] = seedID
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := baseInput()
			in.RecipientEmail = "new-" + string(rune('a'+i)) + "@school.edu"
			_, err := e.CreateForNewTask(context.Background(), in)
			require.NoError(t, err)
		}(i)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.Dispatch(context.Background(), id)
			require.NoError(t, err)
		}(ids[i])
	}
	wg.Wait()

	st, err := e.ComputeStats(context.Background(), notification.Filter{})
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 2 * n, Sent: 2 * n}, st)
	require.Len(t, sender.deliveries(), 2*n)
}

func TestComputeStats(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore()
	sender := newRecordingSender().failFor("bad@school.edu", errors.New("boom"))
	e := testEngine(store, sender, fixedClock(now))

	_, err := e.CreateForNewTask(context.Background(), baseInput())
	require.NoError(t, err)

	in := baseInput()
	in.RecipientEmail = "bad@school.edu"
	_, err = e.CreateForNewTask(context.Background(), in)
	require.NoError(t, err)

	later := now.Add(time.Hour)
	in = baseInput()
	in.ScheduledFor = &later
	_, err = e.CreateForNewTask(context.Background(), in)
	require.NoError(t, err)

	st, err := e.ComputeStats(context.Background(), notification.Filter{})
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 3, Sent: 1, Failed: 1, Scheduled: 1}, st)
}

func TestHistory_FilterAndPagination(t *testing.T) {
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore()
	sender := newRecordingSender()

	for i := 0; i < 5; i++ {
		e := testEngine(store, sender, fixedClock(base.Add(time.Duration(i)*time.Minute)))
		_, err := e.CreateForNewTask(context.Background(), baseInput())
		require.NoError(t, err)
	}
	e := testEngine(store, sender, fixedClock(base.Add(time.Hour)))

	list, total, err := e.History(context.Background(), notification.Filter{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, list, 2)
	// newest first
	require.True(t, list[0].CreatedAt.After(list[1].CreatedAt))

	list, total, err = e.History(context.Background(), notification.Filter{State: notification.StateFailed})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, list)
}
