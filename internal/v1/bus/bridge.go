package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duyanhpham/chat-service/internal/v1/metrics"
)

// resubscribeDelay is how long the bridge waits after losing its
// subscription before trying again.
const resubscribeDelay = 5 * time.Second

// Sink receives the messages the bridge absorbs from the bus. Implemented by
// the hub: room traffic goes to the local fan-out, user traffic to that
// user's local sessions.
type Sink interface {
	BroadcastToRoomLocal(roomID string, payload []byte, excludeUser *int64)
	BroadcastToUsers(userIDs []int64, payload []byte)
}

// Bridge is the subscribe half of the bus. It holds its own redis client so
// the blocking pattern subscription never competes with publish traffic, and
// it is the only path by which bus messages reach local sessions.
type Bridge struct {
	client *redis.Client
	sink   Sink
}

// NewBridge connects a dedicated subscriber client.
func NewBridge(url string, sink Sink) (*Bridge, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect subscriber to redis: %w", err)
	}

	return &Bridge{client: rdb, sink: sink}, nil
}

// Run subscribes to the room and user patterns and pumps messages into the
// sink until ctx is cancelled. Subscription failures are retried forever
// with a fixed delay; a chat instance without its bridge is silently
// partitioned, so giving up is never correct.
func (b *Bridge) Run(ctx context.Context) {
	for {
		if err := b.listen(ctx); err != nil {
			slog.Error("Bus subscription lost, resubscribing", "error", err, "delay", resubscribeDelay.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

// Close releases the subscriber client.
func (b *Bridge) Close() error {
	return b.client.Close()
}

func (b *Bridge) listen(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, roomChannelPrefix+"*", userChannelPrefix+"*")
	defer pubsub.Close()

	// Force the subscription onto the wire before consuming.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to establish pattern subscription: %w", err)
	}
	slog.Info("Bridge subscribed to bus",
		"patterns", []string{roomChannelPrefix + "*", userChannelPrefix + "*"})

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			b.dispatch(msg.Channel, []byte(msg.Payload))
		}
	}
}

// dispatch routes one bus message by channel prefix. Malformed messages are
// dropped with a log line; one bad publisher must not wedge the bridge.
func (b *Bridge) dispatch(channel string, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Error("Dropping malformed bus message", "channel", channel, "error", err)
		return
	}
	if len(env.Payload) == 0 {
		slog.Error("Dropping bus message without payload", "channel", channel)
		return
	}

	switch {
	case strings.HasPrefix(channel, roomChannelPrefix):
		metrics.BusReceived.WithLabelValues("room").Inc()
		b.sink.BroadcastToRoomLocal(strings.TrimPrefix(channel, roomChannelPrefix), env.Payload, env.ExcludeUser)

	case strings.HasPrefix(channel, userChannelPrefix):
		userID, err := strconv.ParseInt(strings.TrimPrefix(channel, userChannelPrefix), 10, 64)
		if err != nil {
			slog.Error("Dropping bus message with bad user channel", "channel", channel, "error", err)
			return
		}
		metrics.BusReceived.WithLabelValues("user").Inc()
		b.sink.BroadcastToUsers([]int64{userID}, env.Payload)

	default:
		slog.Warn("Ignoring bus message on unexpected channel", "channel", channel)
	}
}
