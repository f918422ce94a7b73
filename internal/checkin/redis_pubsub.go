package checkin

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	feedChannel    = "checkin:feed"
	publishTimeout = 5 * time.Second
)

// RedisPubSub bridges the check-in feed across instances.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis bridge for the check-in feed.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// PublishEvent publishes a feed event to the shared channel.
func (r *RedisPubSub) PublishEvent(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, feedChannel, payload).Err()
}

// Subscribe listens on the shared channel and calls handler for each
// message. Returns a cancel function to stop the subscription.
func (r *RedisPubSub) Subscribe(handler func(payload []byte)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, feedChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, err
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
