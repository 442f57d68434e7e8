package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/educapro/notifier/internal/domain/notification"
	"github.com/educapro/notifier/internal/obs"
	"github.com/educapro/notifier/internal/render"
)

const (
	defaultRole   = "student"
	defaultSource = "task-service"
)

var (
	mCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_notifications_created_total",
		Help: "Notifications created, by type.",
	}, []string{"type"})
	mDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_deliveries_total",
		Help: "Dispatch attempts, by channel and outcome.",
	}, []string{"channel", "outcome"})
)

// EventPublisher receives delivery-status events after terminal
// transitions. Publishing is best-effort.
type EventPublisher interface {
	PublishStatus(ctx context.Context, n *notification.Notification) error
}

// CreateInput carries everything a caller knows about one notification
// to create. Type is chosen by the CreateFor* entry point.
type CreateInput struct {
	RecipientEmail string
	RecipientName  string
	RecipientRole  string
	Channel        notification.Channel
	TaskInfo       notification.TaskInfo
	SenderInfo     *notification.Sender
	SourceSystem   string
	ScheduledFor   *time.Time
}

// Engine owns the notification state machine: creation, dispatch,
// retry bookkeeping. Create and Dispatch are safe to call concurrently
// for different notification IDs.
type Engine struct {
	log      *zap.Logger
	store    notification.Store
	renderer *render.Engine
	channels *Dispatcher
	events   EventPublisher
	clock    func() time.Time
}

func NewEngine(log *zap.Logger, store notification.Store, renderer *render.Engine, channels *Dispatcher) *Engine {
	return &Engine{
		log:      log.With(zap.String("component", "notifier.engine")),
		store:    store,
		renderer: renderer,
		channels: channels,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) WithClock(clk func() time.Time) *Engine {
	if clk == nil {
		return e
	}
	cp := *e
	cp.clock = clk
	return &cp
}

func (e *Engine) WithEvents(p EventPublisher) *Engine {
	cp := *e
	cp.events = p
	return &cp
}

// CreateForNewTask is the only entry point that honors ScheduledFor: a
// future timestamp parks the notification as scheduled instead of
// dispatching right away.
func (e *Engine) CreateForNewTask(ctx context.Context, in CreateInput) (*notification.Notification, error) {
	return e.create(ctx, notification.TypeNewTask, in, true)
}

// CreateReminder always dispatches immediately; reminders are never
// scheduled for later.
func (e *Engine) CreateReminder(ctx context.Context, in CreateInput) (*notification.Notification, error) {
	return e.create(ctx, notification.TypeReminder, in, false)
}

func (e *Engine) CreateForGrade(ctx context.Context, in CreateInput) (*notification.Notification, error) {
	return e.create(ctx, notification.TypeGraded, in, false)
}

func (e *Engine) CreateForUpdate(ctx context.Context, in CreateInput) (*notification.Notification, error) {
	return e.create(ctx, notification.TypeUpdated, in, false)
}

func (e *Engine) CreateForOverdue(ctx context.Context, in CreateInput) (*notification.Notification, error) {
	return e.create(ctx, notification.TypeOverdue, in, false)
}

// create persists the record and, when it starts out pending,
// synchronously drives one dispatch attempt so the caller gets the
// post-attempt record. A delivery failure is recorded on the record,
// not surfaced as an error.
func (e *Engine) create(ctx context.Context, typ notification.Type, in CreateInput, allowSchedule bool) (*notification.Notification, error) {
	if in.RecipientEmail == "" {
		return nil, &notification.ValidationError{Field: "recipient_email"}
	}
	if in.TaskInfo.Title == "" {
		return nil, &notification.ValidationError{Field: "task_info.title"}
	}

	now := e.clock()
	n := &notification.Notification{
		ID:             uuid.NewString(),
		RecipientEmail: in.RecipientEmail,
		RecipientName:  in.RecipientName,
		RecipientRole:  in.RecipientRole,
		Type:           typ,
		Channel:        in.Channel,
		TaskInfo:       in.TaskInfo,
		SenderInfo:     in.SenderInfo,
		State:          notification.StatePending,
		SourceSystem:   in.SourceSystem,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if n.RecipientName == "" {
		n.RecipientName = localPart(in.RecipientEmail)
	}
	if n.RecipientRole == "" {
		n.RecipientRole = defaultRole
	}
	if n.Channel == "" {
		n.Channel = notification.ChannelEmail
	}
	if n.SourceSystem == "" {
		n.SourceSystem = defaultSource
	}
	if allowSchedule && in.ScheduledFor != nil && in.ScheduledFor.After(now) {
		at := *in.ScheduledFor
		n.State = notification.StateScheduled
		n.ScheduledFor = &at
	}

	if err := e.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}
	mCreated.WithLabelValues(string(typ)).Inc()

	if n.State != notification.StatePending {
		return n, nil
	}

	out, err := e.Dispatch(ctx, n.ID)
	if err != nil {
		var de *notification.DeliveryError
		if errors.As(err, &de) && out != nil {
			return out, nil
		}
		return nil, err
	}
	return out, nil
}

// Dispatch renders the notification, pushes it through its channel and
// records the outcome. On dispatcher failure the record moves to
// failed with the attempt counted, and the updated record is returned
// alongside a DeliveryError.
func (e *Engine) Dispatch(ctx context.Context, id string) (*notification.Notification, error) {
	n, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	msg := e.renderer.Render(n.Type, renderData(n))
	msgID, sendErr := e.channels.Send(ctx, n.Channel, n.RecipientEmail, msg.Subject, msg.Body)

	now := e.clock()
	n.UpdatedAt = now
	if sendErr != nil {
		n.State = notification.StateFailed
		n.AttemptCount++
		n.LastError = sendErr.Error()
		if err := e.store.Update(ctx, n); err != nil {
			return nil, fmt.Errorf("record delivery failure: %w", err)
		}
		mDeliveries.WithLabelValues(string(n.Channel), "failed").Inc()
		e.publish(ctx, n)
		obs.WithTrace(ctx, e.log).Warn("dispatch failed",
			zap.String("id", n.ID),
			zap.String("channel", string(n.Channel)),
			zap.Int("attempts", n.AttemptCount),
			zap.Error(sendErr),
		)
		return n, &notification.DeliveryError{Channel: n.Channel, Err: sendErr}
	}

	n.State = notification.StateSent
	sentAt := now
	n.SentAt = &sentAt
	if err := e.store.Update(ctx, n); err != nil {
		return nil, fmt.Errorf("record delivery success: %w", err)
	}
	mDeliveries.WithLabelValues(string(n.Channel), "sent").Inc()
	e.publish(ctx, n)
	obs.WithTrace(ctx, e.log).Debug("dispatched",
		zap.String("id", n.ID),
		zap.String("channel", string(n.Channel)),
		zap.String("message_id", msgID),
	)
	return n, nil
}

// Resend re-drives an existing notification regardless of its current
// state. There is deliberately no sent-guard: re-sending an already
// sent notification produces a duplicate delivery, which callers rely
// on for manual re-delivery.
func (e *Engine) Resend(ctx context.Context, id string) (*notification.Notification, error) {
	return e.Dispatch(ctx, id)
}

func (e *Engine) Get(ctx context.Context, id string) (*notification.Notification, error) {
	return e.store.GetByID(ctx, id)
}

// Delete is an administrative action; the lifecycle state machine never
// reaches it on its own.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.store.Delete(ctx, id)
}

// History lists notifications matching the filter, newest first, with
// the total match count before pagination.
func (e *Engine) History(ctx context.Context, f notification.Filter) ([]*notification.Notification, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	return e.store.List(ctx, f)
}

type Stats struct {
	Total     int `json:"total"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Scheduled int `json:"scheduled"`
}

func (e *Engine) ComputeStats(ctx context.Context, f notification.Filter) (Stats, error) {
	f.Limit = 0
	f.Offset = 0
	list, total, err := e.store.List(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Total: total}
	for _, n := range list {
		switch n.State {
		case notification.StateSent:
			s.Sent++
		case notification.StateFailed:
			s.Failed++
		case notification.StatePending:
			s.Pending++
		case notification.StateScheduled:
			s.Scheduled++
		}
	}
	return s, nil
}

func (e *Engine) publish(ctx context.Context, n *notification.Notification) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishStatus(ctx, n); err != nil {
		e.log.Warn("status event publish failed", zap.String("id", n.ID), zap.Error(err))
	}
}

func renderData(n *notification.Notification) render.Data {
	d := render.Data{
		Student:     n.RecipientName,
		Title:       n.TaskInfo.Title,
		Description: n.TaskInfo.Description,
		Subject:     n.TaskInfo.Subject,
		DueAt:       n.TaskInfo.DueAt,
		Grade:       n.TaskInfo.Grade,
		Comments:    n.TaskInfo.Comments,
		Changes:     n.TaskInfo.Changes,
	}
	if n.SenderInfo != nil {
		d.Teacher = n.SenderInfo.Name
	}
	return d
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
