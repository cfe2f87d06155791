package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetDisplayName resolves the name shown next to messages and presence
// events, falling back to the email address. The users table belongs to the
// identity service; chat only reads it.
func (s *Store) GetDisplayName(ctx context.Context, userID int64) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(NULLIF(name, ''), email) FROM users WHERE id = $1`,
		userID,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get display name for user %d: %w", userID, err)
	}
	return name, nil
}
