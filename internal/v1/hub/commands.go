package hub

import (
	"github.com/google/uuid"
)

// Commands are the hub's mailbox protocol. Every mutation of presence state
// arrives as one of these on a single channel, so handlers never need locks.

type command interface {
	isCommand()
}

type connectCmd struct {
	session *session
}

type disconnectCmd struct {
	userID    int64
	sessionID uuid.UUID
}

type joinRoomCmd struct {
	userID int64
	roomID string
}

type leaveRoomCmd struct {
	userID int64
	roomID string
}

type broadcastRoomCmd struct {
	roomID      string
	payload     any
	excludeUser *int64
}

type broadcastRoomLocalCmd struct {
	roomID      string
	payload     []byte
	excludeUser *int64
}

type broadcastUsersCmd struct {
	userIDs []int64
	payload []byte
}

type typingCmd struct {
	userID int64
	roomID string
}

type rateLimitResult struct {
	allowed    bool
	retryAfter int64
}

type checkRateLimitCmd struct {
	userID int64
	event  string
	reply  chan rateLimitResult
}

type connCountCmd struct {
	reply chan int
}

func (connectCmd) isCommand()            {}
func (disconnectCmd) isCommand()         {}
func (joinRoomCmd) isCommand()           {}
func (leaveRoomCmd) isCommand()          {}
func (broadcastRoomCmd) isCommand()      {}
func (broadcastRoomLocalCmd) isCommand() {}
func (broadcastUsersCmd) isCommand()     {}
func (typingCmd) isCommand()             {}
func (checkRateLimitCmd) isCommand()     {}
func (connCountCmd) isCommand()          {}

// post delivers a command to the hub loop, giving up if the hub has already
// stopped so callers never block on a dead mailbox.
func (h *Hub) post(cmd command) {
	select {
	case h.commands <- cmd:
	case <-h.done:
	}
}

// Connect registers a session. When the user exceeds the per-user cap the
// oldest session is told it was replaced and closed.
func (h *Hub) Connect(conn Conn, userID int64, sessionID uuid.UUID, displayName string) {
	h.post(connectCmd{session: &session{
		id:          sessionID,
		userID:      userID,
		displayName: displayName,
		conn:        conn,
		connectedAt: h.now(),
	}})
}

// Disconnect removes a session. The final session of a user also records the
// last-seen marker and announces the user offline to their rooms.
func (h *Hub) Disconnect(userID int64, sessionID uuid.UUID) {
	h.post(disconnectCmd{userID: userID, sessionID: sessionID})
}

// JoinRoom subscribes the user's local sessions to a room's fan-out.
// Membership authorization happens in the session before this is posted.
func (h *Hub) JoinRoom(userID int64, roomID string) {
	h.post(joinRoomCmd{userID: userID, roomID: roomID})
}

// LeaveRoom unsubscribes the user's local sessions from a room's fan-out.
func (h *Hub) LeaveRoom(userID int64, roomID string) {
	h.post(leaveRoomCmd{userID: userID, roomID: roomID})
}

// BroadcastToRoom publishes a frame to the room's bus channel and nothing
// else. Local delivery happens when the bridge loops the message back into
// BroadcastToRoomLocal, which keeps one code path for local and remote
// traffic and rules out double delivery on the publishing instance.
func (h *Hub) BroadcastToRoom(roomID string, payload any, excludeUser *int64) {
	h.post(broadcastRoomCmd{roomID: roomID, payload: payload, excludeUser: excludeUser})
}

// BroadcastToRoomLocal fans a frame out to the room's locally connected
// users. Only the bridge calls this.
func (h *Hub) BroadcastToRoomLocal(roomID string, payload []byte, excludeUser *int64) {
	h.post(broadcastRoomLocalCmd{roomID: roomID, payload: payload, excludeUser: excludeUser})
}

// BroadcastToUsers delivers a frame to the subset of users with local
// sessions; users connected elsewhere are silently skipped because the
// publisher also pushes to their user channel on the bus.
func (h *Hub) BroadcastToUsers(userIDs []int64, payload []byte) {
	h.post(broadcastUsersCmd{userIDs: userIDs, payload: payload})
}

// UserTyping records typing activity; the sweep emits the stop frame when
// the user goes quiet.
func (h *Hub) UserTyping(userID int64, roomID string) {
	h.post(typingCmd{userID: userID, roomID: roomID})
}

// CheckRateLimit consumes one token from the user's bucket for the event
// type. On refusal it reports the seconds until a token becomes available.
func (h *Hub) CheckRateLimit(userID int64, event string) (allowed bool, retryAfter int64) {
	reply := make(chan rateLimitResult, 1)
	h.post(checkRateLimitCmd{userID: userID, event: event, reply: reply})
	select {
	case res := <-reply:
		return res.allowed, res.retryAfter
	case <-h.done:
		return true, 0
	}
}

// ConnectionCount reports the number of live sessions across all users.
func (h *Hub) ConnectionCount() int {
	reply := make(chan int, 1)
	h.post(connCountCmd{reply: reply})
	select {
	case n := <-reply:
		return n
	case <-h.done:
		return 0
	}
}
