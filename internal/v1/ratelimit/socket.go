package ratelimit

import (
	"time"

	"k8s.io/utils/set"
)

// Socket event axes enforced by the hub.
const (
	EventMessage    = "message"
	EventTyping     = "typing"
	EventRoomAction = "room_action"
)

type axis struct {
	capacity float64
	rate     float64 // tokens per second
}

// socketAxes fixes the burst capacity and refill rate per event type:
// messages sustain 1/s with a 10 burst, typing 0.5/s with a 5 burst, and
// room actions 0.33/s with a 20 burst.
var socketAxes = map[string]axis{
	EventMessage:    {capacity: 10, rate: 1.0},
	EventTyping:     {capacity: 5, rate: 0.5},
	EventRoomAction: {capacity: 20, rate: 0.33},
}

type socketKey struct {
	userID int64
	event  string
}

// SocketLimiter enforces per-user, per-event token buckets for inbound
// socket frames. It is owned by the hub and touched only from the hub loop,
// so it carries no locking.
type SocketLimiter struct {
	buckets map[socketKey]*bucket
	now     func() time.Time
}

// NewSocketLimiter creates an empty limiter. Buckets are created full on
// first use per (user, event) pair.
func NewSocketLimiter() *SocketLimiter {
	return &SocketLimiter{
		buckets: make(map[socketKey]*bucket),
		now:     time.Now,
	}
}

// Check consumes one token from the bucket for (userID, event). Unknown
// event types are always allowed. On refusal it reports how many whole
// seconds the caller should wait before retrying.
func (l *SocketLimiter) Check(userID int64, event string) (allowed bool, retryAfter int64) {
	ax, ok := socketAxes[event]
	if !ok {
		return true, 0
	}

	key := socketKey{userID: userID, event: event}
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(ax.capacity, now)
		l.buckets[key] = b
	}
	return b.take(now, ax.capacity, ax.rate)
}

// Cleanup drops buckets belonging to users outside the active set. The hub
// calls this on its periodic sweep with the set of users that still hold at
// least one connection.
func (l *SocketLimiter) Cleanup(active set.Set[int64]) {
	for key := range l.buckets {
		if !active.Has(key.userID) {
			delete(l.buckets, key)
		}
	}
}

// Size reports the number of live buckets, for the hub's sweep logging.
func (l *SocketLimiter) Size() int {
	return len(l.buckets)
}
