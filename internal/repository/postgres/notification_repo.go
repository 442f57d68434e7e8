package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/educapro/notifier/internal/domain/notification"
)

var _ notification.Store = (*NotificationRepo)(nil)

type NotificationRepo struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepo { return &NotificationRepo{db: db} }

const notifCols = `id, recipient_email, recipient_name, recipient_role, type, channel,
       task_info, sender_info, state, scheduled_for, sent_at, attempt_count,
       last_error, source_system, created_at, updated_at`

const (
	qNotifInsert = `
INSERT INTO notifications (
  id, recipient_email, recipient_name, recipient_role, type, channel,
  task_info, sender_info, state, scheduled_for, sent_at, attempt_count,
  last_error, source_system, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16);
`

	qNotifByID = `
SELECT ` + notifCols + `
FROM notifications
WHERE id = $1;
`

	qNotifUpdate = `
UPDATE notifications
SET state = $2, sent_at = $3, attempt_count = $4, last_error = $5, updated_at = $6
WHERE id = $1;
`

	qNotifByState = `
SELECT ` + notifCols + `
FROM notifications
WHERE state = $1
ORDER BY created_at ASC;
`

	qNotifScheduledDue = `
SELECT ` + notifCols + `
FROM notifications
WHERE state = 'scheduled' AND scheduled_for <= $1
ORDER BY scheduled_for ASC;
`

	qNotifDelete = `DELETE FROM notifications WHERE id = $1;`
)

func scanNotif(row pgx.Row, n *notification.Notification) error {
	var (
		taskRaw   []byte
		senderRaw []byte
		lastErr   *string
	)
	if err := row.Scan(
		&n.ID,
		&n.RecipientEmail,
		&n.RecipientName,
		&n.RecipientRole,
		&n.Type,
		&n.Channel,
		&taskRaw,
		&senderRaw,
		&n.State,
		&n.ScheduledFor,
		&n.SentAt,
		&n.AttemptCount,
		&lastErr,
		&n.SourceSystem,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notification.ErrNotFound
		}
		return fmt.Errorf("scan notification: %w", err)
	}
	if err := json.Unmarshal(taskRaw, &n.TaskInfo); err != nil {
		return fmt.Errorf("decode task_info: %w", err)
	}
	if len(senderRaw) > 0 {
		n.SenderInfo = &notification.Sender{}
		if err := json.Unmarshal(senderRaw, n.SenderInfo); err != nil {
			return fmt.Errorf("decode sender_info: %w", err)
		}
	}
	if lastErr != nil {
		n.LastError = *lastErr
	}
	return nil
}

func (r *NotificationRepo) Create(ctx context.Context, n *notification.Notification) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	taskRaw, err := json.Marshal(n.TaskInfo)
	if err != nil {
		return fmt.Errorf("encode task_info: %w", err)
	}
	var senderRaw []byte
	if n.SenderInfo != nil {
		if senderRaw, err = json.Marshal(n.SenderInfo); err != nil {
			return fmt.Errorf("encode sender_info: %w", err)
		}
	}

	if _, err := r.db.Pool.Exec(ctx, qNotifInsert,
		n.ID,
		n.RecipientEmail,
		n.RecipientName,
		n.RecipientRole,
		n.Type,
		n.Channel,
		taskRaw,
		senderRaw,
		n.State,
		n.ScheduledFor,
		n.SentAt,
		n.AttemptCount,
		nullStr(n.LastError),
		n.SourceSystem,
		n.CreatedAt,
		n.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepo) GetByID(ctx context.Context, id string) (*notification.Notification, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var n notification.Notification
	if err := scanNotif(r.db.Pool.QueryRow(ctx, qNotifByID, id), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Update persists the mutable lifecycle fields only; identity, type and
// task payload are immutable after creation.
func (r *NotificationRepo) Update(ctx context.Context, n *notification.Notification) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qNotifUpdate,
		n.ID, n.State, n.SentAt, n.AttemptCount, nullStr(n.LastError), n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (r *NotificationRepo) ListByState(ctx context.Context, st notification.State) ([]*notification.Notification, error) {
	return r.listQuery(ctx, qNotifByState, st)
}

func (r *NotificationRepo) ListScheduledDue(ctx context.Context, now time.Time) ([]*notification.Notification, error) {
	return r.listQuery(ctx, qNotifScheduledDue, now)
}

func (r *NotificationRepo) listQuery(ctx context.Context, q string, args ...any) ([]*notification.Notification, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []*notification.Notification
	for rows.Next() {
		var n notification.Notification
		if err := scanNotif(rows, &n); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *NotificationRepo) List(ctx context.Context, f notification.Filter) ([]*notification.Notification, int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	where, args := filterClause(f)

	var total int
	if err := r.db.Pool.QueryRow(ctx, "SELECT count(*) FROM notifications"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	q := "SELECT " + notifCols + " FROM notifications" + where + " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []*notification.Notification
	for rows.Next() {
		var n notification.Notification
		if err := scanNotif(rows, &n); err != nil {
			return nil, 0, err
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows: %w", err)
	}
	return out, total, nil
}

func (r *NotificationRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qNotifDelete, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func filterClause(f notification.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.RecipientEmail != "" {
		add("recipient_email = $%d", f.RecipientEmail)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.State != "" {
		add("state = $%d", f.State)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
