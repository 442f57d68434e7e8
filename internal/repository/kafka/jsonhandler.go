package kafka

import (
	"context"
	"encoding/json"
)

// JSONHandler adapts a typed event handler to the raw consumer Handler.
func JSONHandler[M any](handle func(context.Context, []byte, *M) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		var msg M
		if err := json.Unmarshal(value, &msg); err != nil {
			return err
		}
		return handle(ctx, key, &msg)
	}
}
