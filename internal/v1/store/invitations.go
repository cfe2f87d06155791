package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/duyanhpham/chat-service/internal/v1/types"
)

// CreateInvitation records a pending invitation for a group room.
func (s *Store) CreateInvitation(ctx context.Context, roomID string, userID, invitedBy int64) (*types.RoomInvitation, error) {
	inv := &types.RoomInvitation{
		RoomID:    roomID,
		UserID:    userID,
		InvitedBy: invitedBy,
		Status:    types.InvitationPending,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO room_invitations (room_id, user_id, invited_by, status)
		 VALUES ($1, $2, $3, 'pending')
		 RETURNING id, created_at, updated_at`,
		inv.RoomID, inv.UserID, inv.InvitedBy,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	return inv, nil
}

// GetInvitation loads one invitation by id.
func (s *Store) GetInvitation(ctx context.Context, id int64) (*types.RoomInvitation, error) {
	var inv types.RoomInvitation
	err := s.pool.QueryRow(ctx,
		`SELECT id, room_id, user_id, invited_by, status, created_at, updated_at
		 FROM room_invitations WHERE id = $1`,
		id,
	).Scan(&inv.ID, &inv.RoomID, &inv.UserID, &inv.InvitedBy, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation %d: %w", id, err)
	}
	return &inv, nil
}

// GetPendingInvitations lists the caller's open invitations with the room
// name and inviter display name for rendering.
func (s *Store) GetPendingInvitations(ctx context.Context, userID int64) ([]types.PendingInvitation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT i.id, i.room_id, i.user_id, i.invited_by, i.status, i.created_at, i.updated_at,
		        r.name, COALESCE(NULLIF(u.name, ''), u.email)
		 FROM room_invitations i
		 JOIN chat_rooms r ON r.id = i.room_id
		 JOIN users u ON u.id = i.invited_by
		 WHERE i.user_id = $1 AND i.status = 'pending'
		 ORDER BY i.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending invitations for user %d: %w", userID, err)
	}
	defer rows.Close()

	var invitations []types.PendingInvitation
	for rows.Next() {
		var inv types.PendingInvitation
		if err := rows.Scan(
			&inv.ID, &inv.RoomID, &inv.UserID, &inv.InvitedBy, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt,
			&inv.RoomName, &inv.InvitedByName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invitation row: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// UpdateInvitationStatus moves a pending invitation to a terminal state.
// ErrConflict means another request already resolved it; callers re-read to
// report the current state.
func (s *Store) UpdateInvitationStatus(ctx context.Context, id int64, status types.InvitationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE room_invitations SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update invitation %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}
