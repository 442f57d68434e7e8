package notification

import "time"

type State string

const (
	StatePending   State = "pending"
	StateScheduled State = "scheduled"
	StateSent      State = "sent"
	StateFailed    State = "failed"
)

type Type string

const (
	TypeNewTask  Type = "new_task"
	TypeReminder Type = "reminder"
	TypeGraded   Type = "graded"
	TypeUpdated  Type = "updated"
	TypeOverdue  Type = "overdue"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
)

// TaskInfo is the academic-task context a notification is about. It is
// written once at creation and never mutated afterwards; corrections go
// out as new TypeUpdated notifications instead.
type TaskInfo struct {
	TaskID      string    `json:"task_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	DueAt       time.Time `json:"due_at"`
	Grade       *float64  `json:"grade,omitempty"`
	Comments    string    `json:"comments,omitempty"`
	Changes     string    `json:"changes,omitempty"`
}

// Sender identifies the actor (teacher) a notification originates from.
type Sender struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Notification is one delivery-attempt record for one recipient and one
// triggering event. SentAt is set exactly when State == StateSent;
// AttemptCount only ever grows.
type Notification struct {
	ID             string     `json:"id"`
	RecipientEmail string     `json:"recipient_email"`
	RecipientName  string     `json:"recipient_name"`
	RecipientRole  string     `json:"recipient_role"`
	Type           Type       `json:"type"`
	Channel        Channel    `json:"channel"`
	TaskInfo       TaskInfo   `json:"task_info"`
	SenderInfo     *Sender    `json:"sender_info,omitempty"`
	State          State      `json:"state"`
	ScheduledFor   *time.Time `json:"scheduled_for,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	AttemptCount   int        `json:"attempt_count"`
	LastError      string     `json:"last_error,omitempty"`
	SourceSystem   string     `json:"source_system"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
