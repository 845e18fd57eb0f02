package store

import (
	"context"
	"fmt"

	"github.com/openvault/staked/internal/models"
)

// Users pages all accounts for the admin console, newest first, with an
// optional case-insensitive email substring filter.
func (s *Store) Users(ctx context.Context, emailLike string, limit, offset int) ([]models.User, int64, error) {
	where, args := "TRUE", []interface{}{}
	if emailLike != "" {
		args = append(args, "%"+emailLike+"%")
		where = "email ILIKE $1"
	}

	var total int64
	if err := s.Querier(ctx).GetContext(ctx, &total,
		`SELECT count(*) FROM users WHERE `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("store: count users: %w", err)
	}

	args = append(args, limit, offset)
	users := []models.User{}
	err := s.Querier(ctx).SelectContext(ctx, &users, fmt.Sprintf(
		`SELECT * FROM users WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list users: %w", err)
	}
	return users, total, nil
}
