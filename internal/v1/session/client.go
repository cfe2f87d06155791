// Package session owns one live websocket per connected client: the split
// read/write pumps, the heartbeat, and the dispatch of inbound frames into
// hub commands and persistence calls. Frame handling runs inline on the read
// loop, so everything a client sends is processed strictly in order and a
// message is published only after its insert completed.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/duyanhpham/chat-service/internal/v1/hub"
	"github.com/duyanhpham/chat-service/internal/v1/logging"
	"github.com/duyanhpham/chat-service/internal/v1/metrics"
	"github.com/duyanhpham/chat-service/internal/v1/ratelimit"
	"github.com/duyanhpham/chat-service/internal/v1/types"
)

const (
	// writeWait bounds a single socket write.
	writeWait = 10 * time.Second

	// clientTimeout closes the session when no inbound frame (text, ping or
	// pong) arrived for this long.
	clientTimeout = 10 * time.Second

	// heartbeatInterval is the server ping cadence.
	heartbeatInterval = 5 * time.Second

	maxFrameSize   = 64 * 1024
	sendBufferSize = 256
)

// wsConnection is the slice of *websocket.Conn the client uses; tests swap
// in a scripted fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// Presence is the hub surface a session drives.
type Presence interface {
	Connect(conn hub.Conn, userID int64, sessionID uuid.UUID, displayName string)
	Disconnect(userID int64, sessionID uuid.UUID)
	JoinRoom(userID int64, roomID string)
	LeaveRoom(userID int64, roomID string)
	UserTyping(userID int64, roomID string)
	BroadcastToRoom(roomID string, payload any, excludeUser *int64)
	CheckRateLimit(userID int64, event string) (allowed bool, retryAfter int64)
}

// Repository is the slice of persistence the message flow needs.
type Repository interface {
	IsActiveMember(ctx context.Context, roomID string, userID int64) (bool, error)
	InsertMessage(ctx context.Context, roomID string, senderID int64, content string, messageType types.MessageType, metadata json.RawMessage) (*types.Message, error)
	AdvanceLastMessageAt(ctx context.Context, roomID string, at time.Time) error
	UnhideRoomForMembers(ctx context.Context, roomID string) error
	GetDisplayName(ctx context.Context, userID int64) (string, error)
	GetActiveMemberIDs(ctx context.Context, roomID string) ([]int64, error)
	GetUnreadCount(ctx context.Context, roomID string, userID int64) (int, error)
}

// UserBus publishes frames to per-user bus channels. Room traffic goes
// through the hub instead so it shares one ordered publish path.
type UserBus interface {
	PublishUser(ctx context.Context, userID int64, payload any) error
}

// Client is one websocket session. The hub pushes frames through Send; the
// read pump turns inbound frames into hub commands and repository calls.
type Client struct {
	sessionID   uuid.UUID
	userID      int64
	displayName string

	conn wsConnection
	hub  Presence
	repo Repository
	bus  UserBus

	send      chan []byte
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func newClient(conn wsConnection, hub Presence, repo Repository, bus UserBus, userID int64, displayName string) *Client {
	return &Client{
		sessionID:   uuid.New(),
		userID:      userID,
		displayName: displayName,
		conn:        conn,
		hub:         hub,
		repo:        repo,
		bus:         bus,
		send:        make(chan []byte, sendBufferSize),
	}
}

// Send queues a frame for the write pump. It reports false when the client
// is closed or the buffer is full; slow consumers lose frames rather than
// stalling the hub.
func (c *Client) Send(payload []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close shuts the send channel; the write pump drains what is already
// queued, emits a close frame, and releases the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Disconnect(c.userID, c.sessionID)
		c.Close()
		_ = c.conn.Close()
		logging.Info(ctx, "Session closed", zap.String("session_id", c.sessionID.String()))
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(clientTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(clientTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Warn(ctx, "Session read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(clientTimeout))

		if messageType != websocket.TextMessage {
			logging.Warn(ctx, "Binary frames not supported",
				zap.String("session_id", c.sessionID.String()))
			continue
		}
		c.dispatch(ctx, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(ctx context.Context, data []byte) {
	var frame types.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		metrics.SocketEvents.WithLabelValues("invalid", "error").Inc()
		c.sendFrame(ctx, types.NewErrorFrame("Invalid message format"))
		return
	}

	switch frame.Type {
	case types.ClientFrameMessage:
		c.handleMessage(ctx, frame)
	case types.ClientFrameJoinRoom:
		c.handleJoinRoom(ctx, frame)
	case types.ClientFrameLeaveRoom:
		// Presence only; the member row stays until the HTTP leave endpoint.
		c.hub.LeaveRoom(c.userID, frame.RoomID)
		metrics.SocketEvents.WithLabelValues(types.ClientFrameLeaveRoom, "ok").Inc()
	case types.ClientFrameTyping:
		c.handleTyping(ctx, frame)
	case types.ClientFramePing:
		c.sendFrame(ctx, types.NewPongFrame())
	default:
		metrics.SocketEvents.WithLabelValues("unknown", "error").Inc()
		c.sendFrame(ctx, types.NewErrorFrame("Invalid message format"))
	}
}

// handleMessage runs the full publish pipeline for one chat message. Side
// effects after the insert are best effort: a failure is logged and the
// already persisted message is still broadcast.
func (c *Client) handleMessage(ctx context.Context, frame types.ClientFrame) {
	if allowed, retryAfter := c.hub.CheckRateLimit(c.userID, ratelimit.EventMessage); !allowed {
		metrics.SocketEvents.WithLabelValues(types.ClientFrameMessage, "rate_limited").Inc()
		c.sendFrame(ctx, types.NewRateLimitExceededFrame(ratelimit.EventMessage, retryAfter))
		return
	}

	ctx = logging.WithRoomID(ctx, frame.RoomID)

	member, err := c.repo.IsActiveMember(ctx, frame.RoomID, c.userID)
	if err != nil {
		metrics.SocketEvents.WithLabelValues(types.ClientFrameMessage, "error").Inc()
		logging.Error(ctx, "Membership check failed", zap.Error(err))
		c.sendFrame(ctx, types.NewErrorFrame("Database error: "+err.Error()))
		return
	}
	if !member {
		metrics.SocketEvents.WithLabelValues(types.ClientFrameMessage, "forbidden").Inc()
		c.sendFrame(ctx, types.NewErrorFrame("Not a member of this room"))
		return
	}

	messageType := types.MessageType(frame.MessageType)
	if messageType == "" {
		messageType = types.MessageTypeText
	}

	msg, err := c.repo.InsertMessage(ctx, frame.RoomID, c.userID, frame.Content, messageType, frame.Metadata)
	if err != nil {
		metrics.SocketEvents.WithLabelValues(types.ClientFrameMessage, "error").Inc()
		logging.Error(ctx, "Failed to save message", zap.Error(err))
		c.sendFrame(ctx, types.NewErrorFrame("Failed to save message: "+err.Error()))
		return
	}

	if err := c.repo.AdvanceLastMessageAt(ctx, frame.RoomID, msg.CreatedAt); err != nil {
		logging.Error(ctx, "Failed to advance last_message_at", zap.Error(err))
	}
	// New activity reveals the conversation for members who hid it.
	if err := c.repo.UnhideRoomForMembers(ctx, frame.RoomID); err != nil {
		logging.Error(ctx, "Failed to unhide room", zap.Error(err))
	}

	senderName, err := c.repo.GetDisplayName(ctx, c.userID)
	if err != nil {
		logging.Warn(ctx, "Failed to resolve sender name", zap.Error(err))
		senderName = c.displayName
	}

	c.hub.BroadcastToRoom(frame.RoomID, types.NewMessageFrame(*msg, senderName), nil)
	c.hub.BroadcastToRoom(frame.RoomID, types.NewRoomUpdatedFrame(frame.RoomID, msg.CreatedAt), nil)

	c.publishUnreadCounts(ctx, frame.RoomID)
	metrics.SocketEvents.WithLabelValues(types.ClientFrameMessage, "ok").Inc()
}

// publishUnreadCounts recomputes each member's unread counter and pushes it
// to their user channel, skipping the sender.
func (c *Client) publishUnreadCounts(ctx context.Context, roomID string) {
	memberIDs, err := c.repo.GetActiveMemberIDs(ctx, roomID)
	if err != nil {
		logging.Error(ctx, "Failed to list room members for unread fan-out", zap.Error(err))
		return
	}
	for _, memberID := range memberIDs {
		if memberID == c.userID {
			continue
		}
		count, err := c.repo.GetUnreadCount(ctx, roomID, memberID)
		if err != nil {
			logging.Warn(ctx, "Failed to compute unread count",
				zap.Int64("member_id", memberID), zap.Error(err))
			continue
		}
		_ = c.bus.PublishUser(ctx, memberID, types.NewUnreadUpdatedFrame(roomID, count))
	}
}

func (c *Client) handleJoinRoom(ctx context.Context, frame types.ClientFrame) {
	if allowed, retryAfter := c.hub.CheckRateLimit(c.userID, ratelimit.EventRoomAction); !allowed {
		metrics.SocketEvents.WithLabelValues(types.ClientFrameJoinRoom, "rate_limited").Inc()
		c.sendFrame(ctx, types.NewRateLimitExceededFrame(ratelimit.EventRoomAction, retryAfter))
		return
	}

	member, err := c.repo.IsActiveMember(ctx, frame.RoomID, c.userID)
	if err != nil {
		metrics.SocketEvents.WithLabelValues(types.ClientFrameJoinRoom, "error").Inc()
		logging.Error(ctx, "Membership check failed", zap.Error(err))
		c.sendFrame(ctx, types.NewErrorFrame("Database error: "+err.Error()))
		return
	}
	if !member {
		metrics.SocketEvents.WithLabelValues(types.ClientFrameJoinRoom, "forbidden").Inc()
		c.sendFrame(ctx, types.NewErrorFrame("Not a member of this room"))
		return
	}

	c.hub.JoinRoom(c.userID, frame.RoomID)
	metrics.SocketEvents.WithLabelValues(types.ClientFrameJoinRoom, "ok").Inc()
}

// handleTyping drops refused frames silently: a lost typing indicator is
// invisible to users, an error frame is not.
func (c *Client) handleTyping(ctx context.Context, frame types.ClientFrame) {
	if allowed, _ := c.hub.CheckRateLimit(c.userID, ratelimit.EventTyping); !allowed {
		metrics.SocketEvents.WithLabelValues(types.ClientFrameTyping, "rate_limited").Inc()
		return
	}

	if frame.IsTyping {
		c.hub.UserTyping(c.userID, frame.RoomID)
	}
	exclude := c.userID
	c.hub.BroadcastToRoom(frame.RoomID,
		types.NewTypingFrame(frame.RoomID, c.userID, c.displayName, frame.IsTyping), &exclude)
	metrics.SocketEvents.WithLabelValues(types.ClientFrameTyping, "ok").Inc()
}

func (c *Client) sendFrame(ctx context.Context, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		logging.Error(ctx, "Failed to marshal frame", zap.Error(err))
		return
	}
	if !c.Send(payload) {
		logging.Warn(ctx, "Send buffer full or session closed, dropping frame",
			zap.String("session_id", c.sessionID.String()))
	}
}
