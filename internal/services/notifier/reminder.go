package notifier

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/educapro/notifier/internal/domain/notification"
	"github.com/educapro/notifier/internal/domain/task"
)

// ReminderKey derives the dedup identity for a task's automatic
// reminder.
func ReminderKey(taskID string) string { return taskID + "-reminder" }

// ReminderScanner fires at most one reminder per task per due-window:
// once the task has crossed the midpoint between creation and due time,
// and only while the due time has not passed.
type ReminderScanner struct {
	log    *zap.Logger
	source task.Source
	engine *Engine
	seen   SeenSet
	clock  func() time.Time
}

func NewReminderScanner(log *zap.Logger, source task.Source, engine *Engine, seen SeenSet) *ReminderScanner {
	return &ReminderScanner{
		log:    log.With(zap.String("component", "notifier.reminder")),
		source: source,
		engine: engine,
		seen:   seen,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *ReminderScanner) WithClock(clk func() time.Time) *ReminderScanner {
	if clk == nil {
		return s
	}
	cp := *s
	cp.clock = clk
	return &cp
}

type ScanResult struct {
	Tasks     int
	Reminders int
	Errors    int
}

// Scan runs one reminder cycle. A failure to reach the task source
// aborts the whole cycle (the next one retries from scratch); a bad
// recipient list or a failed create is scoped to its task or recipient.
func (s *ReminderScanner) Scan(ctx context.Context) (ScanResult, error) {
	tr := otel.Tracer("notifier.reminder")
	ctx, span := tr.Start(ctx, "reminder.scan")
	defer span.End()

	tasks, err := s.source.ListActive(ctx)
	if err != nil {
		span.RecordError(err)
		return ScanResult{}, fmt.Errorf("list active tasks: %w", err)
	}

	now := s.clock()
	res := ScanResult{Tasks: len(tasks)}

	for _, t := range tasks {
		key := ReminderKey(t.ID)
		if now.Before(t.Midpoint()) || !now.Before(t.DueAt) || s.seen.Seen(key) {
			continue
		}

		emails, err := t.Recipients()
		if err != nil {
			// not marked: the assignee list may be fixed before the next cycle
			res.Errors++
			s.log.Warn("skip task: bad assignee list", zap.String("task_id", t.ID), zap.Error(err))
			continue
		}

		fired := 0
		for _, email := range emails {
			in := CreateInput{
				RecipientEmail: email,
				RecipientName:  localPart(email),
				TaskInfo: notification.TaskInfo{
					TaskID:      t.ID,
					Title:       t.Title,
					Description: t.Description,
					Subject:     t.Subject,
					DueAt:       t.DueAt,
				},
				SenderInfo: teacherOf(t),
			}
			if _, err := s.engine.CreateReminder(ctx, in); err != nil {
				res.Errors++
				s.log.Warn("reminder create failed",
					zap.String("task_id", t.ID), zap.String("to", email), zap.Error(err))
				continue
			}
			fired++
		}

		// Marked once attempted, even if some recipients failed:
		// dedup wins over hammering a failing recipient every hour.
		s.seen.Mark(key)
		res.Reminders += fired
		s.log.Info("reminder fired", zap.String("task_id", t.ID), zap.Int("recipients", fired))
	}

	span.SetAttributes(
		attribute.Int("scan.tasks", res.Tasks),
		attribute.Int("scan.reminders", res.Reminders),
		attribute.Int("scan.errors", res.Errors),
	)
	return res, nil
}

func teacherOf(t *task.Task) *notification.Sender {
	if t.TeacherName == "" && t.TeacherEmail == "" {
		return nil
	}
	return &notification.Sender{Name: t.TeacherName, Email: t.TeacherEmail}
}
