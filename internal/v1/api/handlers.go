// Package api is the HTTP control plane: room creation and listing, message
// history, invitations, and the conversation management endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/duyanhpham/chat-service/internal/v1/logging"
	"github.com/duyanhpham/chat-service/internal/v1/middleware"
	"github.com/duyanhpham/chat-service/internal/v1/store"
	"github.com/duyanhpham/chat-service/internal/v1/types"
)

// Repository is the persistence surface behind the control plane. *store.Store
// satisfies it.
type Repository interface {
	CreateRoom(ctx context.Context, name *string, roomType types.RoomType, createdBy int64) (*types.Room, error)
	GetRoom(ctx context.Context, roomID string) (*types.Room, error)
	FindDirectRoom(ctx context.Context, userA, userB int64) (*types.Room, error)
	AddMember(ctx context.Context, roomID string, userID int64, role types.MemberRole) error
	GetRoomMembers(ctx context.Context, roomID string) ([]types.MemberInfo, error)
	GetActiveMemberIDs(ctx context.Context, roomID string) ([]int64, error)
	GetUserRooms(ctx context.Context, userID int64) ([]types.Room, error)
	IsActiveMember(ctx context.Context, roomID string, userID int64) (bool, error)
	MemberRole(ctx context.Context, roomID string, userID int64) (types.MemberRole, error)
	CountActiveAdmins(ctx context.Context, roomID string) (int, error)
	CountActiveMembers(ctx context.Context, roomID string) (int, error)
	LeaveRoom(ctx context.Context, roomID string, userID int64) error
	HideRoom(ctx context.Context, roomID string, userID int64) error
	MarkRoomRead(ctx context.Context, roomID string, userID int64) (time.Time, error)
	GetRoomMessages(ctx context.Context, roomID string, limit int, beforeID string) ([]types.MessageWithSender, error)
	GetUnreadCount(ctx context.Context, roomID string, userID int64) (int, error)
	InsertMessage(ctx context.Context, roomID string, senderID int64, content string, messageType types.MessageType, metadata json.RawMessage) (*types.Message, error)
	GetDisplayName(ctx context.Context, userID int64) (string, error)
	CreateInvitation(ctx context.Context, roomID string, userID, invitedBy int64) (*types.RoomInvitation, error)
	GetInvitation(ctx context.Context, id int64) (*types.RoomInvitation, error)
	GetPendingInvitations(ctx context.Context, userID int64) ([]types.PendingInvitation, error)
	UpdateInvitationStatus(ctx context.Context, id int64, status types.InvitationStatus) error
}

// Publisher is the bus surface notifications travel through. Handlers only
// ever publish; the bridge loops frames back to sessions on this instance,
// so direct local delivery here would hand them out twice.
type Publisher interface {
	PublishRoom(ctx context.Context, roomID string, payload any, excludeUser *int64) error
	PublishUser(ctx context.Context, userID int64, payload any) error
}

// Handlers is the set of control-plane endpoints.
type Handlers struct {
	repo Repository
	bus  Publisher
}

// NewHandlers wires the control plane to its persistence and bus.
func NewHandlers(repo Repository, bus Publisher) *Handlers {
	return &Handlers{repo: repo, bus: bus}
}

type createRoomRequest struct {
	Name      *string `json:"name"`
	RoomType  string  `json:"room_type"`
	MemberIDs []int64 `json:"member_ids"`
}

type createDirectRoomRequest struct {
	OtherUserID int64 `json:"other_user_id" binding:"required"`
}

// callerID pulls the authenticated user out of the request. The JWT gate has
// already run on every routed path, so a miss means a wiring bug, not a
// client error.
func callerID(c *gin.Context) (int64, bool) {
	claims, ok := middleware.UserClaims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return 0, false
	}
	return claims.UserID, true
}

// CreateRoom handles POST /api/rooms. Direct rooms are deduplicated against
// an existing conversation between the pair; group rooms add only the creator
// and invite everyone else.
func (h *Handlers) CreateRoom(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	roomType := types.RoomType(req.RoomType)
	if roomType != types.RoomTypeDirect && roomType != types.RoomTypeGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room type. Must be 'direct' or 'group'"})
		return
	}

	if roomType == types.RoomTypeDirect {
		if len(req.MemberIDs) != 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Direct rooms must have exactly one other member"})
			return
		}
		existing, err := h.repo.FindDirectRoom(ctx, userID, req.MemberIDs[0])
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			logging.Error(ctx, "Failed to check existing direct room", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check existing room"})
			return
		}
		if existing != nil {
			h.respondRoom(c, http.StatusOK, existing)
			return
		}
	}

	room, err := h.repo.CreateRoom(ctx, req.Name, roomType, userID)
	if err != nil {
		logging.Error(ctx, "Failed to create room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	if err := h.repo.AddMember(ctx, room.ID, userID, types.MemberRoleAdmin); err != nil {
		logging.Error(ctx, "Failed to add creator to room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add creator to room"})
		return
	}

	if roomType == types.RoomTypeGroup {
		h.inviteMembers(ctx, room, userID, req.MemberIDs)
	} else {
		for _, memberID := range req.MemberIDs {
			if memberID == userID {
				continue
			}
			if err := h.repo.AddMember(ctx, room.ID, memberID, types.MemberRoleMember); err != nil {
				logging.Error(ctx, "Failed to add member to room", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member to room"})
				return
			}
		}
	}

	members, err := h.repo.GetRoomMembers(ctx, room.ID)
	if err != nil {
		logging.Error(ctx, "Failed to get room members", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get room members"})
		return
	}

	// Members added on the spot learn about the room immediately; group
	// invitees got invitation_received above and only see the room once
	// they accept.
	frame := types.NewRoomCreatedFrame(*room)
	for _, m := range members {
		if m.UserID == userID {
			continue
		}
		if err := h.bus.PublishUser(ctx, m.UserID, frame); err != nil {
			logging.Warn(ctx, "Failed to publish room_created", zap.Int64("user_id", m.UserID), zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, types.RoomSummary{Room: *room, Members: members})
}

// inviteMembers records a pending invitation per prospective member and
// notifies each invitee. Individual failures are logged and skipped so one
// bad user id does not abort room creation.
func (h *Handlers) inviteMembers(ctx context.Context, room *types.Room, inviterID int64, memberIDs []int64) {
	inviterName := h.displayName(ctx, inviterID)
	for _, memberID := range memberIDs {
		if memberID == inviterID {
			continue
		}
		inv, err := h.repo.CreateInvitation(ctx, room.ID, memberID, inviterID)
		if err != nil {
			logging.Error(ctx, "Failed to create invitation", zap.Int64("user_id", memberID), zap.Error(err))
			continue
		}
		frame := types.NewInvitationReceivedFrame(*inv, room.Name, inviterName)
		if err := h.bus.PublishUser(ctx, memberID, frame); err != nil {
			logging.Warn(ctx, "Failed to publish invitation_received", zap.Int64("user_id", memberID), zap.Error(err))
		}
	}
}

// CreateDirectRoom handles POST /api/rooms/direct: find-or-create the
// conversation between the caller and other_user_id. Calling it twice
// returns the same room.
func (h *Handlers) CreateDirectRoom(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var req createDirectRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	existing, err := h.repo.FindDirectRoom(ctx, userID, req.OtherUserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.Error(ctx, "Failed to check existing direct room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check existing room"})
		return
	}
	if existing != nil {
		h.respondRoom(c, http.StatusOK, existing)
		return
	}

	room, err := h.repo.CreateRoom(ctx, nil, types.RoomTypeDirect, userID)
	if err != nil {
		logging.Error(ctx, "Failed to create room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}
	if err := h.repo.AddMember(ctx, room.ID, userID, types.MemberRoleAdmin); err != nil {
		logging.Error(ctx, "Failed to add creator to room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add creator to room"})
		return
	}
	if err := h.repo.AddMember(ctx, room.ID, req.OtherUserID, types.MemberRoleMember); err != nil {
		logging.Error(ctx, "Failed to add member to room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member to room"})
		return
	}

	h.respondRoom(c, http.StatusCreated, room)
}

// ListRooms handles GET /api/rooms: every room the caller can see, with
// active members and the caller's unread count.
func (h *Handlers) ListRooms(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	rooms, err := h.repo.GetUserRooms(ctx, userID)
	if err != nil {
		logging.Error(ctx, "Failed to get user rooms", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get user rooms"})
		return
	}

	summaries := make([]types.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		members, err := h.repo.GetRoomMembers(ctx, room.ID)
		if err != nil {
			logging.Error(ctx, "Failed to get room members", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get room members"})
			return
		}
		unread, err := h.repo.GetUnreadCount(ctx, room.ID, userID)
		if err != nil {
			logging.Warn(ctx, "Failed to count unread messages",
				zap.String("room_id", room.ID), zap.Error(err))
			unread = 0
		}
		summaries = append(summaries, types.RoomSummary{Room: room, Members: members, UnreadCount: &unread})
	}

	c.JSON(http.StatusOK, summaries)
}

// GetRoom handles GET /api/rooms/:id, member-only.
func (h *Handlers) GetRoom(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	roomID := c.Param("id")

	if !h.requireMembership(c, roomID, userID, "Failed to check room membership") {
		return
	}

	room, err := h.repo.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		logging.Error(ctx, "Failed to get room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get room"})
		return
	}

	h.respondRoom(c, http.StatusOK, room)
}

// GetRoomMessages handles GET /api/rooms/:id/messages?limit=&before_id=.
// History pages newest-first; before_id moves the cursor further back.
func (h *Handlers) GetRoomMessages(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	roomID := c.Param("id")

	if !h.requireMembership(c, roomID, userID, "Failed to check room membership") {
		return
	}

	limit := store.DefaultMessagePageSize
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	messages, err := h.repo.GetRoomMessages(ctx, roomID, limit, c.Query("before_id"))
	if err != nil {
		logging.Error(ctx, "Failed to get messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get messages"})
		return
	}
	if messages == nil {
		messages = make([]types.MessageWithSender, 0)
	}

	c.JSON(http.StatusOK, messages)
}

// LeaveRoom handles POST /api/rooms/:id/leave. Group rooms only; the last
// admin cannot abandon a room that still has other members.
func (h *Handlers) LeaveRoom(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	roomID := c.Param("id")

	room, err := h.repo.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		logging.Error(ctx, "Failed to get room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get room"})
		return
	}
	if room.RoomType != types.RoomTypeGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot leave direct chat"})
		return
	}

	role, err := h.repo.MemberRole(ctx, roomID, userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this room"})
		return
	}
	if err != nil {
		logging.Error(ctx, "Failed to check membership", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check membership"})
		return
	}

	if role == types.MemberRoleAdmin {
		admins, err := h.repo.CountActiveAdmins(ctx, roomID)
		if err != nil {
			logging.Error(ctx, "Failed to count admins", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get members"})
			return
		}
		members, err := h.repo.CountActiveMembers(ctx, roomID)
		if err != nil {
			logging.Error(ctx, "Failed to count members", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get members"})
			return
		}
		if admins == 1 && members > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot leave: you are the last admin. Transfer admin role first."})
			return
		}
	}

	// Snapshot the recipients before the membership row is flagged.
	remaining, err := h.repo.GetActiveMemberIDs(ctx, roomID)
	if err != nil {
		logging.Error(ctx, "Failed to get members", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get members"})
		return
	}

	if err := h.repo.LeaveRoom(ctx, roomID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this room"})
			return
		}
		logging.Error(ctx, "Failed to leave room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to leave room"})
		return
	}

	frame := types.NewMemberLeftFrame(roomID, userID, h.displayName(ctx, userID))
	for _, id := range remaining {
		if id == userID {
			continue
		}
		if err := h.bus.PublishUser(ctx, id, frame); err != nil {
			logging.Warn(ctx, "Failed to publish member_left", zap.Int64("user_id", id), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Left group successfully"})
}

// HideRoom handles POST /api/rooms/:id/hide. The room stays hidden for the
// caller until new activity unhides it.
func (h *Handlers) HideRoom(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	roomID := c.Param("id")

	if !h.requireMembership(c, roomID, userID, "Failed to check membership") {
		return
	}

	if err := h.repo.HideRoom(ctx, roomID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this room"})
			return
		}
		logging.Error(ctx, "Failed to hide room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hide room"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conversation hidden"})
}

// MarkRoomRead handles POST /api/rooms/:id/mark-read and returns the new
// read cursor.
func (h *Handlers) MarkRoomRead(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	roomID := c.Param("id")

	if !h.requireMembership(c, roomID, userID, "Failed to check membership") {
		return
	}

	lastReadAt, err := h.repo.MarkRoomRead(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this room"})
			return
		}
		logging.Error(ctx, "Failed to mark room as read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark as read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Marked as read",
		"last_read_at": lastReadAt,
	})
}

// ListInvitations handles GET /api/invitations: the caller's pending
// invitations, newest first.
func (h *Handlers) ListInvitations(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	invitations, err := h.repo.GetPendingInvitations(ctx, userID)
	if err != nil {
		logging.Error(ctx, "Failed to get invitations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get invitations"})
		return
	}
	if invitations == nil {
		invitations = make([]types.PendingInvitation, 0)
	}

	c.JSON(http.StatusOK, invitations)
}

// AcceptInvitation handles POST /api/invitations/:id/accept: flips the
// invitation, adds the membership, announces the join to the room with a
// system message, and returns the room body.
func (h *Handlers) AcceptInvitation(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	inv, ok := h.resolveInvitation(c, userID)
	if !ok {
		return
	}
	if !h.transitionInvitation(c, inv, types.InvitationAccepted) {
		return
	}

	// The upsert makes a replayed accept converge on one membership row.
	if err := h.repo.AddMember(ctx, inv.RoomID, userID, types.MemberRoleMember); err != nil {
		logging.Error(ctx, "Failed to add member to room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member to room"})
		return
	}

	room, err := h.repo.GetRoom(ctx, inv.RoomID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		logging.Error(ctx, "Failed to get room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get room"})
		return
	}

	members, err := h.repo.GetRoomMembers(ctx, room.ID)
	if err != nil {
		logging.Error(ctx, "Failed to get room members", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get room members"})
		return
	}

	name := h.displayName(ctx, userID)

	sysMsg, err := h.repo.InsertMessage(ctx, room.ID, userID,
		fmt.Sprintf("%s đã tham gia nhóm", name), types.MessageTypeSystem, nil)
	if err != nil {
		logging.Error(ctx, "Failed to create system message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create system message"})
		return
	}

	if err := h.bus.PublishRoom(ctx, room.ID, types.NewMessageFrame(*sysMsg, "System"), nil); err != nil {
		logging.Warn(ctx, "Failed to publish system message", zap.Error(err))
	}

	joined := types.NewMemberJoinedFrame(room.ID, userID, name)
	for _, m := range members {
		if m.UserID == userID {
			continue
		}
		if err := h.bus.PublishUser(ctx, m.UserID, joined); err != nil {
			logging.Warn(ctx, "Failed to publish member_joined", zap.Int64("user_id", m.UserID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"room": types.RoomSummary{Room: *room, Members: members}})
}

// DeclineInvitation handles POST /api/invitations/:id/decline.
func (h *Handlers) DeclineInvitation(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	inv, ok := h.resolveInvitation(c, userID)
	if !ok {
		return
	}
	if !h.transitionInvitation(c, inv, types.InvitationDeclined) {
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Invitation declined"})
}

// requireMembership rejects callers who are not active members of the room.
// Returns false after writing the response; failureMsg is the body for a
// lookup error.
func (h *Handlers) requireMembership(c *gin.Context, roomID string, userID int64, failureMsg string) bool {
	ctx := c.Request.Context()
	isMember, err := h.repo.IsActiveMember(ctx, roomID, userID)
	if err != nil {
		logging.Error(ctx, "Failed to check room membership", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": failureMsg})
		return false
	}
	if !isMember {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this room"})
		return false
	}
	return true
}

// respondRoom writes a room body with its active member list.
func (h *Handlers) respondRoom(c *gin.Context, status int, room *types.Room) {
	ctx := c.Request.Context()
	members, err := h.repo.GetRoomMembers(ctx, room.ID)
	if err != nil {
		logging.Error(ctx, "Failed to get room members", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get room members"})
		return
	}
	c.JSON(status, types.RoomSummary{Room: *room, Members: members})
}

// resolveInvitation enforces the guards shared by accept and decline: the
// invitation must exist, belong to the caller, and still be pending.
func (h *Handlers) resolveInvitation(c *gin.Context, userID int64) (*types.RoomInvitation, bool) {
	ctx := c.Request.Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invitation ID"})
		return nil, false
	}

	inv, err := h.repo.GetInvitation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invitation not found"})
		return nil, false
	}
	if err != nil {
		logging.Error(ctx, "Failed to get invitation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get invitation"})
		return nil, false
	}

	if inv.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not your invitation"})
		return nil, false
	}
	if inv.Status != types.InvitationPending {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invitation already %s", inv.Status)})
		return nil, false
	}

	return inv, true
}

// transitionInvitation moves the invitation out of pending. When a
// concurrent request won the race, the caller gets the winning state back
// instead of a success it did not cause.
func (h *Handlers) transitionInvitation(c *gin.Context, inv *types.RoomInvitation, status types.InvitationStatus) bool {
	ctx := c.Request.Context()

	err := h.repo.UpdateInvitationStatus(ctx, inv.ID, status)
	if errors.Is(err, store.ErrConflict) {
		current, readErr := h.repo.GetInvitation(ctx, inv.ID)
		if readErr != nil {
			logging.Error(ctx, "Failed to re-read contested invitation", zap.Error(readErr))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update invitation"})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invitation already %s", current.Status)})
		return false
	}
	if err != nil {
		logging.Error(ctx, "Failed to update invitation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update invitation"})
		return false
	}
	return true
}

// displayName resolves the name stamped on notification frames. A missing
// profile falls back to a placeholder rather than failing the request.
func (h *Handlers) displayName(ctx context.Context, userID int64) string {
	name, err := h.repo.GetDisplayName(ctx, userID)
	if err != nil {
		logging.Warn(ctx, "Failed to resolve display name", zap.Int64("user_id", userID), zap.Error(err))
		return "Unknown"
	}
	return name
}
