package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/duyanhpham/chat-service/internal/v1/types"
)

const (
	// DefaultMessagePageSize applies when the client omits limit.
	DefaultMessagePageSize = 50
	// MaxMessagePageSize caps a single history page.
	MaxMessagePageSize = 100
)

// InsertMessage persists a message and returns it stamped with the database
// clock. Messages are immutable after this point.
func (s *Store) InsertMessage(ctx context.Context, roomID string, senderID int64, content string, messageType types.MessageType, metadata json.RawMessage) (*types.Message, error) {
	msg := &types.Message{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		SenderID:    senderID,
		Content:     content,
		MessageType: messageType,
		Metadata:    metadata,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_messages (id, room_id, sender_id, content, message_type, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		msg.ID, msg.RoomID, msg.SenderID, msg.Content, msg.MessageType, msg.Metadata,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

// GetRoomMessages pages history newest-first, each row joined with the
// sender's display name. Ordering is (created_at, id) descending; paging with
// beforeID uses the same tuple so messages sharing a timestamp are never
// skipped or repeated.
func (s *Store) GetRoomMessages(ctx context.Context, roomID string, limit int, beforeID string) ([]types.MessageWithSender, error) {
	if limit <= 0 {
		limit = DefaultMessagePageSize
	}
	if limit > MaxMessagePageSize {
		limit = MaxMessagePageSize
	}

	var before *string
	if beforeID != "" {
		before = &beforeID
	}

	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.room_id, m.sender_id, m.content, m.message_type, m.metadata, m.created_at,
		        COALESCE(NULLIF(u.name, ''), u.email)
		 FROM chat_messages m
		 LEFT JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = $1
		   AND ($2::uuid IS NULL OR (m.created_at, m.id) < (
		     SELECT created_at, id FROM chat_messages WHERE id = $2::uuid
		   ))
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $3`,
		roomID, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for room %s: %w", roomID, err)
	}
	defer rows.Close()

	var messages []types.MessageWithSender
	for rows.Next() {
		var m types.MessageWithSender
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.MessageType, &m.Metadata, &m.CreatedAt, &m.SenderName); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetUnreadCount counts messages the user has not read: everything after
// their read cursor (or join time before the first mark-read), excluding
// their own messages.
func (s *Store) GetUnreadCount(ctx context.Context, roomID string, userID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM chat_messages msg
		 JOIN chat_room_members m ON m.room_id = msg.room_id AND m.user_id = $2
		 WHERE msg.room_id = $1
		   AND msg.sender_id <> $2
		   AND msg.created_at > COALESCE(m.last_read_at, m.joined_at)`,
		roomID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}
