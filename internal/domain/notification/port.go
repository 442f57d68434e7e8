package notification

import (
	"context"
	"time"
)

// Filter narrows history and statistics queries. Zero values mean
// "don't filter"; Limit <= 0 means no limit.
type Filter struct {
	RecipientEmail string
	Type           Type
	State          State
	From           time.Time
	To             time.Time
	Limit          int
	Offset         int
}

// Store is the durable notification mapping. Updates are atomic per
// record; no cross-record transaction discipline is assumed.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id string) (*Notification, error)
	Update(ctx context.Context, n *Notification) error
	ListByState(ctx context.Context, st State) ([]*Notification, error)
	ListScheduledDue(ctx context.Context, now time.Time) ([]*Notification, error)
	List(ctx context.Context, f Filter) ([]*Notification, int, error)
	Delete(ctx context.Context, id string) error
}
