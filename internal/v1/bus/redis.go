// Package bus moves chat frames between service instances over redis
// pub/sub. Each instance publishes every broadcast to the bus and receives
// its own copy back through the bridge, so local delivery happens exactly
// once regardless of which instance originated the frame.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/duyanhpham/chat-service/internal/v1/metrics"
)

// Channel prefixes. Room channels fan out to every member connected
// anywhere; user channels reach one user's sessions across instances.
const (
	roomChannelPrefix = "chat:room:"
	userChannelPrefix = "chat:user:"
)

// publishTimeout bounds a single publish round trip so a stalled bus cannot
// pin hub goroutines.
const publishTimeout = 5 * time.Second

// RoomChannel names the bus channel for a room.
func RoomChannel(roomID string) string {
	return roomChannelPrefix + roomID
}

// UserChannel names the bus channel for a user.
func UserChannel(userID int64) string {
	return fmt.Sprintf("%s%d", userChannelPrefix, userID)
}

// Envelope is the wire format on the bus. Payload is the serialized server
// frame delivered to clients verbatim; ExcludeUser suppresses delivery to
// one user on the receiving side, which is how a typing user avoids seeing
// their own indicator echoed back.
type Envelope struct {
	Payload     json.RawMessage `json:"payload"`
	ExcludeUser *int64          `json:"exclude_user,omitempty"`
}

// Service is the publish half of the bus. A circuit breaker sheds publishes
// during a redis outage so the hub keeps serving local traffic.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewService connects to redis and verifies the connection.
func NewService(url string) (*Service, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 30 * time.Second
	opt.WriteTimeout = 30 * time.Second
	opt.PoolSize = 10
	opt.MinIdleConns = 2

	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
			slog.Warn("Bus circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	}

	slog.Info("Connected to redis pub/sub bus")
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Client returns the underlying redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// PublishRoom broadcasts a frame to every instance subscribed to the room's
// channel, including this one. excludeUser, when set, is carried in the
// envelope and honored at delivery time on every instance.
func (s *Service) PublishRoom(ctx context.Context, roomID string, payload any, excludeUser *int64) error {
	if err := s.publish(ctx, RoomChannel(roomID), payload, excludeUser); err != nil {
		return err
	}
	metrics.BusPublished.WithLabelValues("room").Inc()
	return nil
}

// PublishUser sends a frame to all of one user's sessions across instances.
func (s *Service) PublishUser(ctx context.Context, userID int64, payload any) error {
	if err := s.publish(ctx, UserChannel(userID), payload, nil); err != nil {
		return err
	}
	metrics.BusPublished.WithLabelValues("user").Inc()
	return nil
}

func (s *Service) publish(ctx context.Context, channel string, payload any, excludeUser *int64) error {
	if s == nil || s.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	_, err := s.cb.Execute(func() (interface{}, error) {
		inner, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}

		data, err := json.Marshal(Envelope{Payload: inner, ExcludeUser: excludeUser})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal bus envelope: %w", err)
		}

		return nil, s.client.Publish(ctx, channel, data).Err()
	})

	if err != nil {
		metrics.BusPublishFailures.Inc()
		if err == gobreaker.ErrOpenState {
			slog.Warn("Bus circuit breaker open, dropping publish", "channel", channel)
			return nil
		}
		slog.Error("Bus publish failed", "channel", channel, "error", err)
		return err
	}
	return nil
}

// Ping checks bus connectivity, used by health checks.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close releases the publish connection pool.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
