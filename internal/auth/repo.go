package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
)

// repo holds the auth-owned queries. Everything joins an ambient
// transaction when one is present.
type repo struct {
	store *store.Store
}

func (r *repo) userByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.store.Querier(ctx).GetContext(ctx, &u,
		`SELECT * FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get user by email: %w", err)
	}
	return &u, nil
}

func (r *repo) userByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.store.Querier(ctx).GetContext(ctx, &u,
		`SELECT * FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get user: %w", err)
	}
	return &u, nil
}

func (r *repo) insertUser(ctx context.Context, u *models.User) error {
	// daily_withdrawal_limit_usd stays on its column default; admins
	// raise it per user.
	_, err := r.store.Querier(ctx).ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		u.ID, u.Email, u.PasswordHash, u.Role, u.CreatedAt)
	if store.IsUniqueViolation(err, "uq_users_email") {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("auth: insert user: %w", err)
	}
	return nil
}

func (r *repo) touchLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.store.Querier(ctx).ExecContext(ctx,
		`UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("auth: touch last login: %w", err)
	}
	return nil
}

func (r *repo) setTwoFactorEnabled(ctx context.Context, userID uuid.UUID, enabled bool, at time.Time) error {
	_, err := r.store.Querier(ctx).ExecContext(ctx,
		`UPDATE users SET two_factor_enabled = $2, updated_at = $3 WHERE id = $1`, userID, enabled, at)
	if err != nil {
		return fmt.Errorf("auth: set 2fa flag: %w", err)
	}
	return nil
}

func (r *repo) insertSession(ctx context.Context, s *models.Session) error {
	_, err := r.store.Querier(ctx).ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token_hash, device_name, ip_address, user_agent, last_active_at, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.UserID, s.RefreshTokenHash, s.DeviceName, s.IPAddress, s.UserAgent,
		s.LastActiveAt, s.ExpiresAt, s.CreatedAt)
	if store.IsUniqueViolation(err, "uq_sessions_refresh_token_hash") {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("auth: insert session: %w", err)
	}
	return nil
}

func (r *repo) sessionByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var s models.Session
	err := r.store.Querier(ctx).GetContext(ctx, &s,
		`SELECT * FROM sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get session: %w", err)
	}
	return &s, nil
}

func (r *repo) sessionByRefreshHash(ctx context.Context, hash string) (*models.Session, error) {
	var s models.Session
	err := r.store.Querier(ctx).GetContext(ctx, &s,
		`SELECT * FROM sessions WHERE refresh_token_hash = $1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get session by token: %w", err)
	}
	return &s, nil
}

// revokeSession flips is_revoked with a CAS so concurrent rotations of
// the same refresh token race to a single winner.
func (r *repo) revokeSession(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.store.Querier(ctx).ExecContext(ctx,
		`UPDATE sessions SET is_revoked = true WHERE id = $1 AND is_revoked = false`, id)
	if err != nil {
		return false, fmt.Errorf("auth: revoke session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("auth: revoke session: %w", err)
	}
	return n == 1, nil
}

func (r *repo) activeSessions(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.Session, error) {
	sessions := []models.Session{}
	err := r.store.Querier(ctx).SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE user_id = $1 AND is_revoked = false AND expires_at > $2
		ORDER BY last_active_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("auth: list sessions: %w", err)
	}
	return sessions, nil
}

func (r *repo) touchSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.store.Querier(ctx).ExecContext(ctx,
		`UPDATE sessions SET last_active_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("auth: touch session: %w", err)
	}
	return nil
}

func (r *repo) upsertTwoFactorSecret(ctx context.Context, userID uuid.UUID, sealed []byte, at time.Time) error {
	// Re-running setup before verification replaces the provisional
	// secret; a verified secret is never silently overwritten.
	res, err := r.store.Querier(ctx).ExecContext(ctx, `
		INSERT INTO two_factor_secrets (user_id, encrypted_secret, is_verified, created_at)
		VALUES ($1, $2, false, $3)
		ON CONFLICT (user_id) DO UPDATE SET encrypted_secret = EXCLUDED.encrypted_secret, created_at = EXCLUDED.created_at
		WHERE two_factor_secrets.is_verified = false`,
		userID, sealed, at)
	if err != nil {
		return fmt.Errorf("auth: upsert 2fa secret: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func (r *repo) twoFactorSecret(ctx context.Context, userID uuid.UUID) (*models.TwoFactorSecret, error) {
	var s models.TwoFactorSecret
	err := r.store.Querier(ctx).GetContext(ctx, &s,
		`SELECT * FROM two_factor_secrets WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get 2fa secret: %w", err)
	}
	return &s, nil
}

func (r *repo) markSecretVerified(ctx context.Context, userID uuid.UUID) error {
	_, err := r.store.Querier(ctx).ExecContext(ctx,
		`UPDATE two_factor_secrets SET is_verified = true WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("auth: mark secret verified: %w", err)
	}
	return nil
}

func (r *repo) deleteTwoFactor(ctx context.Context, userID uuid.UUID) error {
	q := r.store.Querier(ctx)
	if _, err := q.ExecContext(ctx, `DELETE FROM two_factor_secrets WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("auth: delete 2fa secret: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("auth: delete recovery codes: %w", err)
	}
	return nil
}

func (r *repo) insertRecoveryCodes(ctx context.Context, userID uuid.UUID, hashes []string, at time.Time) error {
	q := r.store.Querier(ctx)
	if _, err := q.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("auth: clear recovery codes: %w", err)
	}
	for _, h := range hashes {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO recovery_codes (id, user_id, code_hash, created_at)
			VALUES ($1, $2, $3, $4)`,
			uuid.New(), userID, h, at); err != nil {
			return fmt.Errorf("auth: insert recovery code: %w", err)
		}
	}
	return nil
}

// consumeRecoveryCode burns an unused code matching hash. Returns false
// when no such code exists; the CAS on used makes a replayed code lose.
func (r *repo) consumeRecoveryCode(ctx context.Context, userID uuid.UUID, hash string) (bool, error) {
	res, err := r.store.Querier(ctx).ExecContext(ctx, `
		UPDATE recovery_codes SET used = true
		WHERE user_id = $1 AND code_hash = $2 AND used = false`, userID, hash)
	if err != nil {
		return false, fmt.Errorf("auth: consume recovery code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("auth: consume recovery code: %w", err)
	}
	return n == 1, nil
}
