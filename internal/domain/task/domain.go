package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task is an active academic task as exposed by the external task
// service.
type Task struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Subject      string          `json:"subject"`
	CreatedAt    time.Time       `json:"created_at"`
	DueAt        time.Time       `json:"due_at"`
	AssignedTo   json.RawMessage `json:"assigned_to"`
	TeacherName  string          `json:"teacher_name"`
	TeacherEmail string          `json:"teacher_email"`
}

// Recipients decodes the assignee list. The task service serializes it
// either as a JSON array of emails or as a string holding that array;
// both forms are accepted. A failure here is scoped to this one task.
func (t *Task) Recipients() ([]string, error) {
	if len(t.AssignedTo) == 0 {
		return nil, nil
	}
	var emails []string
	if err := json.Unmarshal(t.AssignedTo, &emails); err == nil {
		return emails, nil
	}
	var embedded string
	if err := json.Unmarshal(t.AssignedTo, &embedded); err != nil {
		return nil, fmt.Errorf("task %s: undecodable assignee list", t.ID)
	}
	if err := json.Unmarshal([]byte(embedded), &emails); err != nil {
		return nil, fmt.Errorf("task %s: parse assignee list: %w", t.ID, err)
	}
	return emails, nil
}

// Midpoint is the halfway mark between task creation and due time; the
// automatic reminder fires once this point is crossed.
func (t *Task) Midpoint() time.Time {
	return t.CreatedAt.Add(t.DueAt.Sub(t.CreatedAt) / 2)
}
