package types

import (
	"encoding/json"
	"errors"
	"time"
)

// --- Core Domain Types ---

// RoomType distinguishes two-party conversations from N-party groups.
type RoomType string

// MessageType classifies message content.
type MessageType string

// MemberRole defines a member's permissions inside a room.
type MemberRole string

// InvitationStatus tracks the invitation state machine.
type InvitationStatus string

const (
	RoomTypeDirect RoomType = "direct"
	RoomTypeGroup  RoomType = "group"
)

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

const (
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

// MaxMessageContentLength bounds message bodies before they reach the database.
const MaxMessageContentLength = 4000

// --- Persistent Models ---

// Room is a conversation container.
type Room struct {
	ID            string     `json:"id"`
	Name          *string    `json:"name"`
	RoomType      RoomType   `json:"room_type"`
	CreatedBy     int64      `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastMessageAt *time.Time `json:"last_message_at"`
}

// MemberInfo is a membership row joined with the user profile, as returned
// by the room listing endpoints.
type MemberInfo struct {
	UserID   int64      `json:"user_id"`
	Name     string     `json:"user_name"`
	Email    string     `json:"user_email"`
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// RoomSummary is a room plus the caller-specific view returned by the room
// endpoints. UnreadCount is only populated by the listing; detail and create
// responses omit it.
type RoomSummary struct {
	Room
	Members     []MemberInfo `json:"members"`
	UnreadCount *int         `json:"unread_count,omitempty"`
}

// Message is immutable once written.
type Message struct {
	ID          string          `json:"id"`
	RoomID      string          `json:"room_id"`
	SenderID    int64           `json:"sender_id"`
	Content     string          `json:"content"`
	MessageType MessageType     `json:"message_type"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate ensures a message is safe to persist.
func (m Message) Validate() error {
	if m.RoomID == "" {
		return errors.New("room id cannot be empty")
	}
	if m.Content == "" {
		return errors.New("message content cannot be empty")
	}
	if len(m.Content) > MaxMessageContentLength {
		return errors.New("message content too long")
	}
	switch m.MessageType {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return nil
	default:
		return errors.New("unknown message type")
	}
}

// MessageWithSender is a history row: the message joined with the sender's
// display name. The name is nil when the sender's account no longer exists.
type MessageWithSender struct {
	Message
	SenderName *string `json:"sender_name"`
}

// RoomInvitation invites a user into a group room.
// State machine: pending -> accepted | declined; terminal states are final.
type RoomInvitation struct {
	ID        int64            `json:"id"`
	RoomID    string           `json:"room_id"`
	UserID    int64            `json:"user_id"`
	InvitedBy int64            `json:"invited_by"`
	Status    InvitationStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// PendingInvitation is an invitation joined with room and inviter names for
// the GET /api/invitations listing.
type PendingInvitation struct {
	RoomInvitation
	RoomName      *string `json:"room_name"`
	InvitedByName string  `json:"invited_by_name"`
}
