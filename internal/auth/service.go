// Package auth implements credential verification, session issuance
// with refresh rotation, TOTP two-factor and role-gated authorization.
// Invalid-credential paths collapse to a single UNAUTHORIZED outcome so
// account existence is never enumerable.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
	"github.com/openvault/staked/internal/vault"
)

var errBadCredentials = apperr.Unauthorized("invalid email or password")

// RequestMeta carries the client fingerprint recorded on sessions.
type RequestMeta struct {
	DeviceName string
	IPAddress  string
	UserAgent  string
}

// Service is the auth subsystem. It owns users, sessions, 2FA secrets
// and recovery codes.
type Service struct {
	store  *store.Store
	repo   repo
	tokens *Tokens
	vault  *vault.Vault
	clock  clock.Clock
	log    logrus.FieldLogger

	issuer string
}

func NewService(st *store.Store, tokens *Tokens, v *vault.Vault, clk clock.Clock, issuer string, log logrus.FieldLogger) *Service {
	return &Service{
		store:  st,
		repo:   repo{store: st},
		tokens: tokens,
		vault:  v,
		clock:  clk,
		issuer: issuer,
		log:    log.WithField("component", "auth"),
	}
}

// Register creates a user from a pre-validated email and password and
// issues the first session. The email arrives already lowercased by
// the validation layer; lowering again here is harmless and keeps the
// invariant local.
func (s *Service) Register(ctx context.Context, email, password string, meta RequestMeta) (*models.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		KYCStatus:    models.KYCNone,
		IsActive:     true,
		CreatedAt:    now,
	}

	var pair *TokenPair
	err = s.store.RunInTx(ctx, func(ctx context.Context, _ *sqlx.Tx) error {
		if err := s.repo.insertUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Conflictf("an account with this email already exists")
			}
			return err
		}
		pair, _, err = s.issueSession(ctx, user, meta)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.log.WithField("user_id", user.ID).Info("user registered")
	return user, pair, nil
}

// Login verifies the password and, when 2FA is enabled, a TOTP code or
// a one-shot recovery code. Admin roles are refused outright without
// 2FA enabled.
func (s *Service) Login(ctx context.Context, email, password, totpCode string, meta RequestMeta) (*models.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.repo.userByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		// Burn comparable CPU so a missing account is not
		// distinguishable from a wrong password by timing.
		_ = VerifyPassword("$argon2id$v=19$m=65536,t=3,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", password)
		return nil, nil, errBadCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, nil, errBadCredentials
	}
	if !user.IsActive {
		return nil, nil, apperr.New(apperr.Forbidden, apperr.CodeAccountDisabled, "account is disabled")
	}
	if user.Role.IsAdmin() && !user.TwoFactorEnabled {
		return nil, nil, apperr.New(apperr.Forbidden, apperr.CodeTwoFactorRequired,
			"administrator accounts require two-factor authentication")
	}

	if user.TwoFactorEnabled {
		if totpCode == "" {
			return nil, nil, apperr.New(apperr.Validation, apperr.CodeTwoFactorRequired, "2FA required")
		}
		ok, err := s.checkSecondFactor(ctx, user.ID, totpCode)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, apperr.New(apperr.Unauthenticated, apperr.CodeTwoFactorInvalid, "invalid 2FA code")
		}
	}

	var pair *TokenPair
	err = s.store.RunInTx(ctx, func(ctx context.Context, _ *sqlx.Tx) error {
		if err := s.repo.touchLastLogin(ctx, user.ID, s.clock.Now()); err != nil {
			return err
		}
		pair, _, err = s.issueSession(ctx, user, meta)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// checkSecondFactor accepts either a valid TOTP code or an unused
// recovery code. Recovery codes are burned on use.
func (s *Service) checkSecondFactor(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	if len(code) == 6 {
		secret, err := s.openSecret(ctx, userID)
		if err != nil {
			return false, err
		}
		return validateTOTP(code, secret, s.clock.Now()), nil
	}
	if len(code) == recoveryCodeLen {
		return s.repo.consumeRecoveryCode(ctx, userID, hashRecoveryCode(code))
	}
	return false, nil
}

func (s *Service) openSecret(ctx context.Context, userID uuid.UUID) (string, error) {
	row, err := s.repo.twoFactorSecret(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", apperr.New(apperr.Unauthenticated, apperr.CodeTwoFactorInvalid, "invalid 2FA code")
	}
	if err != nil {
		return "", err
	}
	plain, err := s.vault.Open(row.EncryptedSecret, totpAAD(userID))
	if err != nil {
		return "", apperr.Wrap(err, apperr.Fatal, "", "auth: unseal 2fa secret")
	}
	return string(plain), nil
}

// issueSession mints a session row plus its token pair. Runs inside
// the caller's transaction.
func (s *Service) issueSession(ctx context.Context, user *models.User, meta RequestMeta) (*TokenPair, *models.Session, error) {
	refresh, refreshHash, err := s.tokens.NewRefreshToken()
	if err != nil {
		return nil, nil, err
	}
	now := s.clock.Now()
	session := &models.Session{
		ID:               uuid.New(),
		UserID:           user.ID,
		RefreshTokenHash: refreshHash,
		LastActiveAt:     now,
		ExpiresAt:        now.Add(s.tokens.RefreshTTL()),
		CreatedAt:        now,
	}
	if meta.DeviceName != "" {
		session.DeviceName = &meta.DeviceName
	}
	if meta.IPAddress != "" {
		session.IPAddress = &meta.IPAddress
	}
	if meta.UserAgent != "" {
		session.UserAgent = &meta.UserAgent
	}
	if err := s.repo.insertSession(ctx, session); err != nil {
		return nil, nil, err
	}

	access, err := s.tokens.MintAccess(user, session.ID)
	if err != nil {
		return nil, nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.accessTTL.Seconds()),
	}, session, nil
}

// Refresh rotates a refresh token: the presented session is revoked and
// a fresh (access, refresh) pair is bound to a new session row. A
// concurrent rotation of the same token loses the CAS and is rejected,
// which is the defense against replayed refresh tokens.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*TokenPair, error) {
	hash := s.tokens.HashRefreshToken(refreshToken)

	var pair *TokenPair
	err := s.store.RunInTx(ctx, func(ctx context.Context, _ *sqlx.Tx) error {
		session, err := s.repo.sessionByRefreshHash(ctx, hash)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Unauthorized("invalid refresh token")
		}
		if err != nil {
			return err
		}
		if session.IsRevoked || !session.ExpiresAt.After(s.clock.Now()) {
			return apperr.Unauthorized("invalid refresh token")
		}

		won, err := s.repo.revokeSession(ctx, session.ID)
		if err != nil {
			return err
		}
		if !won {
			return apperr.Unauthorized("invalid refresh token")
		}

		user, err := s.repo.userByID(ctx, session.UserID)
		if err != nil {
			return err
		}
		if !user.IsActive {
			return apperr.New(apperr.Forbidden, apperr.CodeAccountDisabled, "account is disabled")
		}
		pair, _, err = s.issueSession(ctx, user, meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Authenticate validates an access token for a protected request:
// signature and expiry first, then the session must still exist and be
// unrevoked. Returns the fresh user row for ownership checks.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*models.User, *Claims, error) {
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, nil, apperr.Unauthorized("invalid access token")
	}
	session, err := s.repo.sessionByID(ctx, claims.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, apperr.Unauthorized("session no longer valid")
	}
	if err != nil {
		return nil, nil, err
	}
	if session.IsRevoked || !session.ExpiresAt.After(s.clock.Now()) {
		return nil, nil, apperr.Unauthorized("session no longer valid")
	}

	user, err := s.repo.userByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, apperr.Unauthorized("session no longer valid")
	}
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, apperr.New(apperr.Forbidden, apperr.CodeAccountDisabled, "account is disabled")
	}

	// Advancing last_active_at is bookkeeping; a failure must not fail
	// the request.
	if err := s.repo.touchSession(ctx, session.ID, s.clock.Now()); err != nil {
		s.log.WithError(err).Debug("touch session failed")
	}
	return user, claims, nil
}

// Logout revokes the session behind the presented access token.
func (s *Service) Logout(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.repo.revokeSession(ctx, sessionID)
	return err
}

// Sessions lists the caller's live sessions.
func (s *Service) Sessions(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	return s.repo.activeSessions(ctx, userID, s.clock.Now())
}

// RevokeSession revokes one of the caller's sessions by id.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	session, err := s.repo.sessionByID(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFoundf("session not found")
	}
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return apperr.Forbiddenf("session belongs to another user")
	}
	_, err = s.repo.revokeSession(ctx, sessionID)
	return err
}

// User returns the caller's profile row.
func (s *Service) User(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	u, err := s.repo.userByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFoundf("user not found")
	}
	return u, err
}

// TwoFactorSetup provisions an unverified TOTP secret and returns the
// secret plus its otpauth:// URL. Re-running setup before verification
// rotates the provisional secret; setup after 2FA is enabled is
// refused.
func (s *Service) TwoFactorSetup(ctx context.Context, userID uuid.UUID) (secret, url string, err error) {
	user, err := s.User(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if user.TwoFactorEnabled {
		return "", "", apperr.Conflictf("two-factor authentication is already enabled")
	}

	secret, url, err = generateTOTPSecret(s.issuer, user.Email)
	if err != nil {
		return "", "", err
	}
	sealed, err := s.vault.Seal([]byte(secret), totpAAD(userID))
	if err != nil {
		return "", "", apperr.Wrap(err, apperr.Fatal, "", "auth: seal 2fa secret")
	}
	if err := s.repo.upsertTwoFactorSecret(ctx, userID, sealed, s.clock.Now()); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", "", apperr.Conflictf("two-factor authentication is already enabled")
		}
		return "", "", err
	}
	return secret, url, nil
}

// TwoFactorVerify confirms the first correct code for a provisional
// secret: it marks the secret verified, enables 2FA on the user and
// mints the recovery-code batch, returned in plaintext exactly once.
func (s *Service) TwoFactorVerify(ctx context.Context, userID uuid.UUID, code string) ([]string, error) {
	secret, err := s.openSecret(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !validateTOTP(code, secret, s.clock.Now()) {
		return nil, apperr.New(apperr.Unauthenticated, apperr.CodeTwoFactorInvalid, "invalid 2FA code")
	}

	codes, hashes, err := generateRecoveryCodes()
	if err != nil {
		return nil, err
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context, _ *sqlx.Tx) error {
		if err := s.repo.markSecretVerified(ctx, userID); err != nil {
			return err
		}
		if err := s.repo.setTwoFactorEnabled(ctx, userID, true, s.clock.Now()); err != nil {
			return err
		}
		return s.repo.insertRecoveryCodes(ctx, userID, hashes, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("user_id", userID).Info("two-factor enabled")
	return codes, nil
}

// TwoFactorDisable turns 2FA off after a final valid code. Admin roles
// cannot disable it, since their logins require it.
func (s *Service) TwoFactorDisable(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := s.User(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return apperr.Conflictf("two-factor authentication is not enabled")
	}
	if user.Role.IsAdmin() {
		return apperr.Forbiddenf("administrator accounts cannot disable two-factor authentication")
	}
	ok, err := s.checkSecondFactor(ctx, userID, code)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.Unauthenticated, apperr.CodeTwoFactorInvalid, "invalid 2FA code")
	}

	return s.store.RunInTx(ctx, func(ctx context.Context, _ *sqlx.Tx) error {
		if err := s.repo.setTwoFactorEnabled(ctx, userID, false, s.clock.Now()); err != nil {
			return err
		}
		return s.repo.deleteTwoFactor(ctx, userID)
	})
}
