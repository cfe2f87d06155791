package types

import (
	"encoding/json"
	"time"
)

// Wire protocol. Every frame is a JSON object tagged by "type"; clients
// ignore tags they do not know. Timestamps are RFC3339.

// Client -> server tags.
const (
	ClientFrameMessage   = "message"
	ClientFrameJoinRoom  = "join_room"
	ClientFrameLeaveRoom = "leave_room"
	ClientFrameTyping    = "typing"
	ClientFramePing      = "ping"
)

// Server -> client tags.
const (
	FrameMessage            = "message"
	FrameTyping             = "typing"
	FrameJoined             = "joined"
	FrameLeft               = "left"
	FrameRoomCreated        = "room_created"
	FrameInvitationReceived = "invitation_received"
	FrameMemberJoined       = "member_joined"
	FrameMemberLeft         = "member_left"
	FrameRoomUpdated        = "room_updated"
	FrameUnreadUpdated      = "unread_updated"
	FrameUserOnline         = "user_online"
	FrameUserOffline        = "user_offline"
	FrameRoomPresence       = "room_presence"
	FrameConnectionReplaced = "connection_replaced"
	FrameRateLimitExceeded  = "rate_limit_exceeded"
	FrameError              = "error"
	FramePong               = "pong"
)

// ClientFrame is the single inbound envelope; Type selects which fields are
// meaningful. Unknown tags are answered with an error frame.
type ClientFrame struct {
	Type        string          `json:"type"`
	RoomID      string          `json:"room_id,omitempty"`
	Content     string          `json:"content,omitempty"`
	MessageType string          `json:"message_type,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	IsTyping    bool            `json:"is_typing,omitempty"`
}

// Outbound frames are one struct per tag so field sets stay exact
// (omitempty must not swallow is_typing:false or unread_count:0).

type MessageFrame struct {
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	RoomID      string          `json:"room_id"`
	SenderID    int64           `json:"sender_id"`
	SenderName  string          `json:"sender_name,omitempty"`
	Content     string          `json:"content"`
	MessageType MessageType     `json:"message_type"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

func NewMessageFrame(m Message, senderName string) MessageFrame {
	return MessageFrame{
		Type:        FrameMessage,
		ID:          m.ID,
		RoomID:      m.RoomID,
		SenderID:    m.SenderID,
		SenderName:  senderName,
		Content:     m.Content,
		MessageType: m.MessageType,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type TypingFrame struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

func NewTypingFrame(roomID string, userID int64, userName string, isTyping bool) TypingFrame {
	return TypingFrame{Type: FrameTyping, RoomID: roomID, UserID: userID, UserName: userName, IsTyping: isTyping}
}

type JoinedFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

func NewJoinedFrame(roomID string) JoinedFrame {
	return JoinedFrame{Type: FrameJoined, RoomID: roomID}
}

type LeftFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

func NewLeftFrame(roomID string) LeftFrame {
	return LeftFrame{Type: FrameLeft, RoomID: roomID}
}

type RoomCreatedFrame struct {
	Type     string   `json:"type"`
	RoomID   string   `json:"room_id"`
	RoomName *string  `json:"room_name,omitempty"`
	RoomType RoomType `json:"room_type"`
}

func NewRoomCreatedFrame(r Room) RoomCreatedFrame {
	return RoomCreatedFrame{Type: FrameRoomCreated, RoomID: r.ID, RoomName: r.Name, RoomType: r.RoomType}
}

type InvitationReceivedFrame struct {
	Type          string  `json:"type"`
	InvitationID  int64   `json:"invitation_id"`
	RoomID        string  `json:"room_id"`
	RoomName      *string `json:"room_name,omitempty"`
	InvitedBy     int64   `json:"invited_by"`
	InvitedByName string  `json:"invited_by_name"`
}

func NewInvitationReceivedFrame(inv RoomInvitation, roomName *string, invitedByName string) InvitationReceivedFrame {
	return InvitationReceivedFrame{
		Type:          FrameInvitationReceived,
		InvitationID:  inv.ID,
		RoomID:        inv.RoomID,
		RoomName:      roomName,
		InvitedBy:     inv.InvitedBy,
		InvitedByName: invitedByName,
	}
}

type MemberFrame struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
}

func NewMemberJoinedFrame(roomID string, userID int64, userName string) MemberFrame {
	return MemberFrame{Type: FrameMemberJoined, RoomID: roomID, UserID: userID, UserName: userName}
}

func NewMemberLeftFrame(roomID string, userID int64, userName string) MemberFrame {
	return MemberFrame{Type: FrameMemberLeft, RoomID: roomID, UserID: userID, UserName: userName}
}

type RoomUpdatedFrame struct {
	Type          string `json:"type"`
	RoomID        string `json:"room_id"`
	LastMessageAt string `json:"last_message_at"`
}

func NewRoomUpdatedFrame(roomID string, lastMessageAt time.Time) RoomUpdatedFrame {
	return RoomUpdatedFrame{Type: FrameRoomUpdated, RoomID: roomID, LastMessageAt: lastMessageAt.UTC().Format(time.RFC3339)}
}

type UnreadUpdatedFrame struct {
	Type        string `json:"type"`
	RoomID      string `json:"room_id"`
	UnreadCount int    `json:"unread_count"`
}

func NewUnreadUpdatedFrame(roomID string, count int) UnreadUpdatedFrame {
	return UnreadUpdatedFrame{Type: FrameUnreadUpdated, RoomID: roomID, UnreadCount: count}
}

type UserOnlineFrame struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
}

func NewUserOnlineFrame(userID int64, userName string) UserOnlineFrame {
	return UserOnlineFrame{Type: FrameUserOnline, UserID: userID, UserName: userName}
}

type UserOfflineFrame struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

func NewUserOfflineFrame(userID int64) UserOfflineFrame {
	return UserOfflineFrame{Type: FrameUserOffline, UserID: userID}
}

type RoomPresenceFrame struct {
	Type        string  `json:"type"`
	RoomID      string  `json:"room_id"`
	OnlineUsers []int64 `json:"online_users"`
}

func NewRoomPresenceFrame(roomID string, onlineUsers []int64) RoomPresenceFrame {
	return RoomPresenceFrame{Type: FrameRoomPresence, RoomID: roomID, OnlineUsers: onlineUsers}
}

type ConnectionReplacedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ConnectionReplacedNotice is shown to the session that loses its slot when
// a user exceeds the concurrent connection cap.
const ConnectionReplacedNotice = "Phiên của bạn đã bị thay thế bởi một đăng nhập mới. Vui lòng tải lại trang."

func NewConnectionReplacedFrame() ConnectionReplacedFrame {
	return ConnectionReplacedFrame{Type: FrameConnectionReplaced, Message: ConnectionReplacedNotice}
}

type RateLimitExceededFrame struct {
	Type       string `json:"type"`
	EventType  string `json:"event_type"`
	RetryAfter int64  `json:"retry_after"`
	Message    string `json:"message"`
}

func NewRateLimitExceededFrame(eventType string, retryAfter int64) RateLimitExceededFrame {
	return RateLimitExceededFrame{
		Type:       FrameRateLimitExceeded,
		EventType:  eventType,
		RetryAfter: retryAfter,
		Message:    "Rate limit exceeded. Please slow down.",
	}
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Message: message}
}

type PongFrame struct {
	Type string `json:"type"`
}

func NewPongFrame() PongFrame {
	return PongFrame{Type: FramePong}
}
