package notification

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("notification not found")

// ValidationError reports a missing required creation field. It is
// surfaced to the caller and never retried.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// DeliveryError reports a failed channel send. The failure is already
// recorded on the notification record when this is returned; the record
// stays eligible for reconciliation or a manual resend.
type DeliveryError struct {
	Channel Channel
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
