package cvforgeauth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// LogoutChannel is the Redis channel the auth service publishes revocations on.
const LogoutChannel = "cvforge:auth:logout"

// WatchLogouts subscribes to logout events and drops cached tokens of the
// affected users. It blocks until ctx is cancelled. onEvent may be nil.
func (c *Client) WatchLogouts(ctx context.Context, rdb redis.UniversalClient, onEvent func(LogoutEvent)) error {
	pubsub := rdb.Subscribe(ctx, LogoutChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("cvforgeauth: failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event LogoutEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil || event.UserID == "" {
				continue
			}
			c.InvalidateUser(event.UserID)
			if onEvent != nil {
				onEvent(event)
			}
		}
	}
}
