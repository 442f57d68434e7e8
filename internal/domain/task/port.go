package task

import (
	"context"
	"errors"
)

// ErrSourceUnavailable wraps task-service transport failures; a scan
// cycle that hits it aborts and the next cycle retries from scratch.
var ErrSourceUnavailable = errors.New("task source unavailable")

type Source interface {
	ListActive(ctx context.Context) ([]*Task, error)
}
