// Package hub owns all realtime presence state for one service instance.
//
// A single goroutine (Run) receives commands from a channel and is the only
// code that touches the session, room, and typing maps. Sessions post
// commands instead of locking shared state, so handlers stay free of data
// races without a single mutex. Handlers never block on I/O: slow work such
// as bus publishes and last-seen writes is handed to helper goroutines.
package hub

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/duyanhpham/chat-service/internal/v1/logging"
	"github.com/duyanhpham/chat-service/internal/v1/metrics"
	"github.com/duyanhpham/chat-service/internal/v1/ratelimit"
	"github.com/duyanhpham/chat-service/internal/v1/types"
)

const (
	// maxSessionsPerUser caps concurrent sockets per user; the oldest one
	// is replaced when the cap is exceeded.
	maxSessionsPerUser = 5

	commandBuffer = 256
	publishBuffer = 256

	presenceWriteTimeout = 5 * time.Second
)

// Conn is the write side of a websocket as the hub sees it. Send must not
// block; it reports false when the frame was dropped.
type Conn interface {
	Send(payload []byte) bool
	Close()
}

// Publisher pushes frames onto the shared bus for cross-instance fan-out.
type Publisher interface {
	PublishRoom(ctx context.Context, roomID string, payload any, excludeUser *int64) error
}

// PresenceStore persists the last-seen marker when a user's final session
// disconnects.
type PresenceStore interface {
	SetUserLastSeen(ctx context.Context, userID int64, at time.Time) error
}

type session struct {
	id          uuid.UUID
	userID      int64
	displayName string
	conn        Conn
	connectedAt time.Time
}

type publishJob struct {
	roomID      string
	payload     any
	excludeUser *int64
}

// Hub routes frames between locally connected sessions and the bus.
type Hub struct {
	commands  chan command
	publishes chan publishJob
	done      chan struct{}

	// Actor state, owned by the Run goroutine.
	sessions  map[int64][]*session
	rooms     map[string]set.Set[int64]
	userRooms map[int64]set.Set[string]
	typing    map[string]map[int64]time.Time
	limiter   *ratelimit.SocketLimiter

	bus      Publisher
	presence PresenceStore

	now func() time.Time

	typingSweepInterval  time.Duration
	typingExpiry         time.Duration
	limiterSweepInterval time.Duration
}

func New(bus Publisher, presence PresenceStore) *Hub {
	return &Hub{
		commands:             make(chan command, commandBuffer),
		publishes:            make(chan publishJob, publishBuffer),
		done:                 make(chan struct{}),
		sessions:             make(map[int64][]*session),
		rooms:                make(map[string]set.Set[int64]),
		userRooms:            make(map[int64]set.Set[string]),
		typing:               make(map[string]map[int64]time.Time),
		limiter:              ratelimit.NewSocketLimiter(),
		bus:                  bus,
		presence:             presence,
		now:                  time.Now,
		typingSweepInterval:  3 * time.Second,
		typingExpiry:         3 * time.Second,
		limiterSweepInterval: time.Minute,
	}
}

// Run drives the hub until ctx is cancelled. On shutdown it closes every
// session socket itself: the HTTP server's graceful shutdown does not touch
// hijacked websocket connections.
func (h *Hub) Run(ctx context.Context) {
	var ioWG sync.WaitGroup

	ioWG.Add(1)
	go func() {
		defer ioWG.Done()
		h.publishLoop(ctx)
	}()

	typingTicker := time.NewTicker(h.typingSweepInterval)
	limiterTicker := time.NewTicker(h.limiterSweepInterval)
	defer func() {
		typingTicker.Stop()
		limiterTicker.Stop()
		h.closeAll()
		ioWG.Wait()
		close(h.done)
	}()

	logging.Info(ctx, "Hub started")
	for {
		select {
		case <-ctx.Done():
			logging.Info(context.Background(), "Hub stopping",
				zap.Int("sessions", h.countSessions()))
			return
		case cmd := <-h.commands:
			h.handle(ctx, cmd, &ioWG)
		case <-typingTicker.C:
			h.sweepTyping()
		case <-limiterTicker.C:
			h.limiter.Cleanup(set.KeySet(h.sessions))
		}
	}
}

func (h *Hub) handle(ctx context.Context, cmd command, ioWG *sync.WaitGroup) {
	switch c := cmd.(type) {
	case connectCmd:
		h.handleConnect(c)
	case disconnectCmd:
		h.handleDisconnect(c, ioWG)
	case joinRoomCmd:
		h.handleJoinRoom(c)
	case leaveRoomCmd:
		h.handleLeaveRoom(c)
	case broadcastRoomCmd:
		h.enqueuePublish(publishJob{roomID: c.roomID, payload: c.payload, excludeUser: c.excludeUser})
	case broadcastRoomLocalCmd:
		h.deliverToRoom(c.roomID, c.payload, c.excludeUser)
	case broadcastUsersCmd:
		for _, userID := range c.userIDs {
			h.deliverToUser(userID, c.payload)
		}
	case typingCmd:
		h.handleTyping(c)
	case checkRateLimitCmd:
		allowed, retryAfter := h.limiter.Check(c.userID, c.event)
		if !allowed {
			metrics.RateLimited.WithLabelValues(c.event).Inc()
		}
		c.reply <- rateLimitResult{allowed: allowed, retryAfter: retryAfter}
	case connCountCmd:
		c.reply <- h.countSessions()
	default:
		logging.Error(ctx, "Unknown hub command")
	}
}

func (h *Hub) handleConnect(c connectCmd) {
	s := c.session
	list := append(h.sessions[s.userID], s)
	if len(list) > maxSessionsPerUser {
		oldest := list[0]
		list = list[1:]
		h.evict(oldest)
	}
	h.sessions[s.userID] = list
	if _, ok := h.userRooms[s.userID]; !ok {
		h.userRooms[s.userID] = set.New[string]()
	}

	metrics.IncConnection()
	logging.Info(context.Background(), "Session connected",
		zap.Int64("user_id", s.userID),
		zap.String("session_id", s.id.String()),
		zap.Int("user_sessions", len(list)))
}

// evict tells the oldest session it was replaced, then closes it. The
// notice is queued before Close so the write pump still flushes it.
func (h *Hub) evict(s *session) {
	if payload, err := json.Marshal(types.NewConnectionReplacedFrame()); err == nil {
		s.conn.Send(payload)
	}
	s.conn.Close()
	// The session is gone from the list now, so its eventual disconnect
	// command is a no-op; account for it here.
	metrics.DecConnection()
	metrics.SessionEvictions.Inc()
	logging.Info(context.Background(), "Evicted oldest session over per-user cap",
		zap.Int64("user_id", s.userID),
		zap.String("session_id", s.id.String()))
}

func (h *Hub) handleDisconnect(c disconnectCmd, ioWG *sync.WaitGroup) {
	list := h.sessions[c.userID]
	idx := -1
	for i, s := range list {
		if s.id == c.sessionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Already removed, e.g. the session was evicted and its read pump
		// reported the close afterwards.
		return
	}

	h.sessions[c.userID] = append(list[:idx:idx], list[idx+1:]...)
	metrics.DecConnection()
	logging.Info(context.Background(), "Session disconnected",
		zap.Int64("user_id", c.userID),
		zap.String("session_id", c.sessionID.String()))

	if len(h.sessions[c.userID]) > 0 {
		return
	}

	// Final session: the user is offline on this instance.
	delete(h.sessions, c.userID)

	if h.presence != nil {
		at := h.now()
		ioWG.Add(1)
		go func() {
			defer ioWG.Done()
			ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
			defer cancel()
			if err := h.presence.SetUserLastSeen(ctx, c.userID, at); err != nil {
				logging.Error(ctx, "Failed to write last-seen marker",
					zap.Int64("user_id", c.userID), zap.Error(err))
			}
		}()
	}

	offline, err := json.Marshal(types.NewUserOfflineFrame(c.userID))
	if err != nil {
		return
	}
	for roomID := range h.userRooms[c.userID] {
		if members, ok := h.rooms[roomID]; ok {
			members.Delete(c.userID)
			if members.Len() == 0 {
				delete(h.rooms, roomID)
			}
		}
		h.deliverToRoom(roomID, offline, &c.userID)
		if users, ok := h.typing[roomID]; ok {
			delete(users, c.userID)
			if len(users) == 0 {
				delete(h.typing, roomID)
			}
		}
	}
	delete(h.userRooms, c.userID)
	metrics.LocalRooms.Set(float64(len(h.rooms)))
}

func (h *Hub) handleJoinRoom(c joinRoomCmd) {
	members, ok := h.rooms[c.roomID]
	if !ok {
		members = set.New[int64]()
		h.rooms[c.roomID] = members
	}
	members.Insert(c.userID)

	userRooms, ok := h.userRooms[c.userID]
	if !ok {
		userRooms = set.New[string]()
		h.userRooms[c.userID] = userRooms
	}
	userRooms.Insert(c.roomID)
	metrics.LocalRooms.Set(float64(len(h.rooms)))

	online := members.UnsortedList()
	slices.Sort(online)
	if payload, err := json.Marshal(types.NewRoomPresenceFrame(c.roomID, online)); err == nil {
		h.deliverToUser(c.userID, payload)
	}
	if payload, err := json.Marshal(types.NewUserOnlineFrame(c.userID, h.displayName(c.userID))); err == nil {
		h.deliverToRoom(c.roomID, payload, &c.userID)
	}
	if payload, err := json.Marshal(types.NewJoinedFrame(c.roomID)); err == nil {
		h.deliverToUser(c.userID, payload)
	}
}

func (h *Hub) handleLeaveRoom(c leaveRoomCmd) {
	if members, ok := h.rooms[c.roomID]; ok {
		members.Delete(c.userID)
		if members.Len() == 0 {
			delete(h.rooms, c.roomID)
		}
	}
	if userRooms, ok := h.userRooms[c.userID]; ok {
		userRooms.Delete(c.roomID)
	}
	if users, ok := h.typing[c.roomID]; ok {
		delete(users, c.userID)
		if len(users) == 0 {
			delete(h.typing, c.roomID)
		}
	}
	metrics.LocalRooms.Set(float64(len(h.rooms)))

	if payload, err := json.Marshal(types.NewLeftFrame(c.roomID)); err == nil {
		h.deliverToUser(c.userID, payload)
	}
}

func (h *Hub) handleTyping(c typingCmd) {
	users, ok := h.typing[c.roomID]
	if !ok {
		users = make(map[int64]time.Time)
		h.typing[c.roomID] = users
	}
	users[c.userID] = h.now()
}

// sweepTyping emits the trailing is_typing=false for users who went quiet.
// Each instance sweeps only its own sessions; the start frames travelled
// over the bus, the stop frames are synthesized locally everywhere.
func (h *Hub) sweepTyping() {
	now := h.now()
	for roomID, users := range h.typing {
		for userID, lastTyped := range users {
			if now.Sub(lastTyped) < h.typingExpiry {
				continue
			}
			delete(users, userID)
			frame := types.NewTypingFrame(roomID, userID, h.displayName(userID), false)
			if payload, err := json.Marshal(frame); err == nil {
				h.deliverToRoom(roomID, payload, &userID)
			}
		}
		if len(users) == 0 {
			delete(h.typing, roomID)
		}
	}
}

// enqueuePublish hands a job to the publish loop. A single worker keeps
// publishes in posting order, so two messages sent back to back by one
// session reach the bus in sequence.
func (h *Hub) enqueuePublish(job publishJob) {
	select {
	case h.publishes <- job:
	default:
		metrics.BusPublishFailures.Inc()
		logging.Warn(context.Background(), "Publish queue full, dropping frame",
			zap.String("room_id", job.roomID))
	}
}

func (h *Hub) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-h.publishes:
			if h.bus == nil {
				continue
			}
			// The bus logs its own failures; a full breaker drop is not an
			// error here either.
			_ = h.bus.PublishRoom(ctx, job.roomID, job.payload, job.excludeUser)
		}
	}
}

func (h *Hub) deliverToRoom(roomID string, payload []byte, excludeUser *int64) {
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	for userID := range members {
		if excludeUser != nil && userID == *excludeUser {
			continue
		}
		h.deliverToUser(userID, payload)
	}
}

func (h *Hub) deliverToUser(userID int64, payload []byte) {
	for _, s := range h.sessions[userID] {
		if !s.conn.Send(payload) {
			logging.Warn(context.Background(), "Dropping frame, session send buffer full",
				zap.Int64("user_id", userID),
				zap.String("session_id", s.id.String()))
		}
	}
}

func (h *Hub) displayName(userID int64) string {
	if list := h.sessions[userID]; len(list) > 0 {
		return list[0].displayName
	}
	return ""
}

func (h *Hub) countSessions() int {
	n := 0
	for _, list := range h.sessions {
		n += len(list)
	}
	return n
}

func (h *Hub) closeAll() {
	for _, list := range h.sessions {
		for _, s := range list {
			s.conn.Close()
		}
	}
}
