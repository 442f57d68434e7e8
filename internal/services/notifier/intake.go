package notifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/educapro/notifier/internal/domain/notification"
	kafkax "github.com/educapro/notifier/internal/repository/kafka"
)

// Task lifecycle events published by the task service.
const (
	EventTaskCreated = "task.created"
	EventTaskGraded  = "task.graded"
	EventTaskUpdated = "task.updated"
	EventTaskOverdue = "task.overdue"
)

type EventRecipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// TaskEvent is the wire shape of a task lifecycle event.
type TaskEvent struct {
	Event        string                `json:"event"`
	Source       string                `json:"source,omitempty"`
	Task         notification.TaskInfo `json:"task"`
	Recipients   []EventRecipient      `json:"recipients"`
	Teacher      *notification.Sender  `json:"teacher,omitempty"`
	ScheduledFor *time.Time            `json:"scheduled_for,omitempty"`
}

// Intake turns task lifecycle events into notifications, one per
// recipient. Per-recipient failures are logged and skipped so one bad
// address never blocks the rest of the fan-out; the message is still
// committed.
type Intake struct {
	log    *zap.Logger
	sub    *kafkax.Consumer
	engine *Engine
}

func NewIntake(log *zap.Logger, sub *kafkax.Consumer, engine *Engine) *Intake {
	return &Intake{
		log:    log.With(zap.String("component", "notifier.intake")),
		sub:    sub,
		engine: engine,
	}
}

// Run consumes until ctx is canceled.
func (in *Intake) Run(ctx context.Context) error {
	return in.sub.Consume(ctx, kafkax.JSONHandler(func(ctx context.Context, _ []byte, ev *TaskEvent) error {
		return in.handle(ctx, ev)
	}))
}

func (in *Intake) handle(ctx context.Context, ev *TaskEvent) error {
	create := in.createFn(ev.Event)
	if create == nil {
		in.log.Warn("unknown task event; skipping",
			zap.String("event", ev.Event),
			zap.String("task_id", ev.Task.TaskID),
		)
		return nil
	}

	for _, rcpt := range ev.Recipients {
		input := CreateInput{
			RecipientEmail: rcpt.Email,
			RecipientName:  rcpt.Name,
			RecipientRole:  rcpt.Role,
			TaskInfo:       ev.Task,
			SenderInfo:     ev.Teacher,
			SourceSystem:   ev.Source,
			ScheduledFor:   ev.ScheduledFor,
		}
		if _, err := create(ctx, input); err != nil {
			in.log.Warn("notification create failed for recipient",
				zap.String("event", ev.Event),
				zap.String("task_id", ev.Task.TaskID),
				zap.String("recipient", rcpt.Email),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (in *Intake) createFn(event string) func(context.Context, CreateInput) (*notification.Notification, error) {
	switch event {
	case EventTaskCreated:
		return in.engine.CreateForNewTask
	case EventTaskGraded:
		return in.engine.CreateForGrade
	case EventTaskUpdated:
		return in.engine.CreateForUpdate
	case EventTaskOverdue:
		return in.engine.CreateForOverdue
	default:
		return nil
	}
}
