package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/educapro/notifier/internal/domain/notification"
	"github.com/educapro/notifier/internal/obs/retry"
)

// StatusEvent is published after every terminal dispatch transition so
// downstream systems can follow delivery outcomes.
type StatusEvent struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	State          string    `json:"state"`
	Channel        string    `json:"channel"`
	RecipientEmail string    `json:"recipient_email"`
	AttemptCount   int       `json:"attempt_count"`
	LastError      string    `json:"last_error,omitempty"`
	At             time.Time `json:"at"`
}

type NotificationEvents struct {
	p   *Producer
	pol retry.Policy
}

func NewNotificationEvents(p *Producer, log *zap.Logger) *NotificationEvents {
	return &NotificationEvents{p: p, pol: retry.DefaultPublishPolicy(log)}
}

func (e *NotificationEvents) PublishStatus(ctx context.Context, n *notification.Notification) error {
	ev := StatusEvent{
		ID:             n.ID,
		Type:           string(n.Type),
		State:          string(n.State),
		Channel:        string(n.Channel),
		RecipientEmail: n.RecipientEmail,
		AttemptCount:   n.AttemptCount,
		LastError:      n.LastError,
		At:             n.UpdatedAt,
	}
	return retry.Do(ctx, func() error {
		return e.p.PublishJSON(ctx, []byte(n.ID), ev)
	}, e.pol)
}
