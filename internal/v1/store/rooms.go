package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/duyanhpham/chat-service/internal/v1/types"
)

// CreateRoom inserts a room and returns it with database timestamps.
func (s *Store) CreateRoom(ctx context.Context, name *string, roomType types.RoomType, createdBy int64) (*types.Room, error) {
	room := &types.Room{
		ID:        uuid.NewString(),
		Name:      name,
		RoomType:  roomType,
		CreatedBy: createdBy,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_rooms (id, name, room_type, created_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		room.ID, room.Name, room.RoomType, room.CreatedBy,
	).Scan(&room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

// GetRoom loads one room by id.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	var room types.Room
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, room_type, created_by, created_at, updated_at, last_message_at
		 FROM chat_rooms WHERE id = $1`,
		roomID,
	).Scan(&room.ID, &room.Name, &room.RoomType, &room.CreatedBy, &room.CreatedAt, &room.UpdatedAt, &room.LastMessageAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", roomID, err)
	}
	return &room, nil
}

// FindDirectRoom returns the direct room containing both users, regardless
// of which order the pair is passed in. The double join makes the lookup
// symmetric so find-or-create stays idempotent.
func (s *Store) FindDirectRoom(ctx context.Context, userA, userB int64) (*types.Room, error) {
	var room types.Room
	err := s.pool.QueryRow(ctx,
		`SELECT r.id, r.name, r.room_type, r.created_by, r.created_at, r.updated_at, r.last_message_at
		 FROM chat_rooms r
		 JOIN chat_room_members ma ON ma.room_id = r.id AND ma.user_id = $1 AND ma.left_at IS NULL
		 JOIN chat_room_members mb ON mb.room_id = r.id AND mb.user_id = $2 AND mb.left_at IS NULL
		 WHERE r.room_type = 'direct'
		 LIMIT 1`,
		userA, userB,
	).Scan(&room.ID, &room.Name, &room.RoomType, &room.CreatedBy, &room.CreatedAt, &room.UpdatedAt, &room.LastMessageAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find direct room: %w", err)
	}
	return &room, nil
}

// AddMember inserts a membership row. The unique (room_id, user_id) index
// makes concurrent invitation accepts idempotent: on conflict the row is
// revived instead of duplicated, and joined_at is reset only for members who
// had actually left so the unread baseline stays correct.
func (s *Store) AddMember(ctx context.Context, roomID string, userID int64, role types.MemberRole) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_room_members (room_id, user_id, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (room_id, user_id) DO UPDATE SET
		   left_at = NULL,
		   hidden_at = NULL,
		   joined_at = CASE
		     WHEN chat_room_members.left_at IS NOT NULL THEN now()
		     ELSE chat_room_members.joined_at
		   END`,
		roomID, userID, role,
	)
	if err != nil {
		return fmt.Errorf("failed to add member %d to room %s: %w", userID, roomID, err)
	}
	return nil
}

// GetRoomMembers lists active members joined with their user profiles.
func (s *Store) GetRoomMembers(ctx context.Context, roomID string) ([]types.MemberInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.user_id, u.name, u.email, m.role, m.joined_at
		 FROM chat_room_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.room_id = $1 AND m.left_at IS NULL
		 ORDER BY m.joined_at ASC`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get members of room %s: %w", roomID, err)
	}
	defer rows.Close()

	var members []types.MemberInfo
	for rows.Next() {
		var m types.MemberInfo
		if err := rows.Scan(&m.UserID, &m.Name, &m.Email, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetActiveMemberIDs lists the user ids of active members, for fan-out.
func (s *Store) GetActiveMemberIDs(ctx context.Context, roomID string) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM chat_room_members WHERE room_id = $1 AND left_at IS NULL`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get member ids of room %s: %w", roomID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsActiveMember reports whether the user currently belongs to the room.
func (s *Store) IsActiveMember(ctx context.Context, roomID string, userID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM chat_room_members
		   WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL
		 )`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// MemberRole returns the caller's role in the room; ErrNotFound when the
// user is not an active member.
func (s *Store) MemberRole(ctx context.Context, roomID string, userID int64) (types.MemberRole, error) {
	var role types.MemberRole
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM chat_room_members
		 WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL`,
		roomID, userID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get member role: %w", err)
	}
	return role, nil
}

// GetUserRooms lists the rooms the user can see: active membership, not
// hidden, most recently active first.
func (s *Store) GetUserRooms(ctx context.Context, userID int64) ([]types.Room, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.name, r.room_type, r.created_by, r.created_at, r.updated_at, r.last_message_at
		 FROM chat_rooms r
		 JOIN chat_room_members m ON m.room_id = r.id
		 WHERE m.user_id = $1 AND m.left_at IS NULL AND m.hidden_at IS NULL
		 ORDER BY COALESCE(r.last_message_at, r.created_at) DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get rooms for user %d: %w", userID, err)
	}
	defer rows.Close()

	var rooms []types.Room
	for rows.Next() {
		var room types.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.RoomType, &room.CreatedBy, &room.CreatedAt, &room.UpdatedAt, &room.LastMessageAt); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// CountActiveAdmins counts active members with the admin role.
func (s *Store) CountActiveAdmins(ctx context.Context, roomID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_room_members
		 WHERE room_id = $1 AND role = 'admin' AND left_at IS NULL`,
		roomID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return count, nil
}

// CountActiveMembers counts all active members of the room.
func (s *Store) CountActiveMembers(ctx context.Context, roomID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_room_members
		 WHERE room_id = $1 AND left_at IS NULL`,
		roomID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

// LeaveRoom soft-leaves: the row is flagged, never deleted. ErrNotFound when
// the user was not an active member.
func (s *Store) LeaveRoom(ctx context.Context, roomID string, userID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_room_members SET left_at = now()
		 WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HideRoom soft-hides the room for the caller until new activity unhides it.
func (s *Store) HideRoom(ctx context.Context, roomID string, userID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_room_members SET hidden_at = now()
		 WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to hide room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRoomRead advances the caller's read cursor and returns it.
func (s *Store) MarkRoomRead(ctx context.Context, roomID string, userID int64) (time.Time, error) {
	var lastReadAt time.Time
	err := s.pool.QueryRow(ctx,
		`UPDATE chat_room_members SET last_read_at = now()
		 WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL
		 RETURNING last_read_at`,
		roomID, userID,
	).Scan(&lastReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to mark room as read: %w", err)
	}
	return lastReadAt, nil
}

// UnhideRoomForMembers clears hidden_at for every active member. Invoked on
// every new message so fresh activity reveals the conversation.
func (s *Store) UnhideRoomForMembers(ctx context.Context, roomID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE chat_room_members SET hidden_at = NULL
		 WHERE room_id = $1 AND left_at IS NULL AND hidden_at IS NOT NULL`,
		roomID,
	)
	if err != nil {
		return fmt.Errorf("failed to unhide room %s: %w", roomID, err)
	}
	return nil
}

// AdvanceLastMessageAt moves the room's activity watermark forward. The
// guard keeps it monotonic under concurrent inserts.
func (s *Store) AdvanceLastMessageAt(ctx context.Context, roomID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE chat_rooms SET last_message_at = $2, updated_at = now()
		 WHERE id = $1 AND (last_message_at IS NULL OR last_message_at < $2)`,
		roomID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to advance last_message_at for room %s: %w", roomID, err)
	}
	return nil
}
