// Package withdrawals implements the withdrawal request intake and the
// admin review state machine. Every submitted request reserves its full
// amount from the available balance; the reserve is released on reject
// and cleared on payout, never both.
package withdrawals

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/audit"
	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/config"
	"github.com/openvault/staked/internal/fraud"
	"github.com/openvault/staked/internal/ledger"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/notify"
	"github.com/openvault/staked/internal/queue"
	"github.com/openvault/staked/internal/store"
)

// Service is the withdrawal workflow.
type Service struct {
	store    *store.Store
	poster   *ledger.Poster
	queue    queue.Queue
	notifier *notify.Notifier
	auditor  *audit.Recorder
	scorer   *fraud.Scorer
	sec      config.Security
	clock    clock.Clock
	log      logrus.FieldLogger
}

func NewService(st *store.Store, poster *ledger.Poster, q queue.Queue, notifier *notify.Notifier, auditor *audit.Recorder, sec config.Security, clk clock.Clock, log logrus.FieldLogger) *Service {
	return &Service{
		store:    st,
		poster:   poster,
		queue:    q,
		notifier: notifier,
		auditor:  auditor,
		scorer: fraud.NewScorer(storeHistory{st}, fraud.Thresholds{
			LargeWithdrawalUSD: sec.LargeWithdrawalThresholdUSD.Decimal,
			MaxDailyRequests:   sec.MaxDailyWithdrawalRequests,
			NewAccountAge:      sec.NewAccountAge,
		}, clk),
		sec:   sec,
		clock: clk,
		log:   log.WithField("component", "withdrawals"),
	}
}

// SubmitInput is the user withdrawal payload. The API layer has already
// validated the address format and lowercased it.
type SubmitInput struct {
	AssetID            uuid.UUID
	Amount             decimal.Decimal
	DestinationAddress string
	IdempotencyKey     string
	UserNotes          *string
}

// Submit creates a withdrawal request. Idempotent on the key: a repeat
// submission returns the original request untouched. The reserve debit
// runs in the same transaction as the insert, so an overdrawn request
// never leaves a row behind. Submission never pays out; every accepted
// request lands in PENDING_REVIEW.
func (s *Service) Submit(ctx context.Context, user *models.User, in SubmitInput) (*models.WithdrawalRequest, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.Invalid("withdrawal amount must be positive")
	}
	if in.IdempotencyKey == "" {
		return nil, apperr.Invalid("idempotencyKey is required")
	}
	dest := strings.ToLower(in.DestinationAddress)

	if existing, err := s.byIdempotencyKey(ctx, user.ID, in.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	asset, err := s.store.AssetByID(ctx, in.AssetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFoundf("asset not found")
	}
	if err != nil {
		return nil, err
	}
	if !asset.IsActive {
		return nil, apperr.Reject(apperr.CodeAssetInactive, "asset is not active")
	}
	ch, err := s.store.ChainByID(ctx, asset.ChainID)
	if err != nil {
		return nil, err
	}
	if !ch.IsActive {
		return nil, apperr.Reject(apperr.CodeChainInactive, "chain is not active")
	}

	fee := in.Amount.Mul(s.sec.WithdrawalFeeRate.Decimal)
	if fee.LessThan(s.sec.MinWithdrawalFee.Decimal) {
		fee = s.sec.MinWithdrawalFee.Decimal
	}
	net := in.Amount.Sub(fee)
	if !net.IsPositive() {
		return nil, apperr.Rejectf(apperr.CodeAmountTooSmall,
			"amount does not cover the %s fee", fee)
	}

	// Scoring is read-only and advisory; it runs before the reserve
	// transaction and never blocks the submission.
	score, err := s.scorer.Score(ctx, fraud.Request{
		User:               user,
		ChainID:            ch.ID,
		DestinationAddress: dest,
		Amount:             in.Amount,
		PriceUSD:           asset.PriceUSD,
	})
	if err != nil {
		return nil, err
	}
	indicators, err := json.Marshal(score.Indicators)
	if err != nil {
		return nil, fmt.Errorf("withdrawals: encode indicators: %w", err)
	}

	now := s.clock.Now()
	req := &models.WithdrawalRequest{
		ID:                 uuid.New(),
		UserID:             user.ID,
		AssetID:            asset.ID,
		ChainID:            ch.ID,
		Amount:             in.Amount,
		Fee:                fee,
		NetAmount:          net,
		DestinationAddress: dest,
		Status:             models.WithdrawalPendingReview,
		UserNotes:          in.UserNotes,
		IdempotencyKey:     in.IdempotencyKey,
		FraudScore:         int32(score.TotalScore),
		FraudIndicators:    indicators,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO withdrawal_requests (id, user_id, asset_id, chain_id, destination_address, amount, fee, net_amount, status, idempotency_key, fraud_score, fraud_indicators, user_notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
			req.ID, req.UserID, req.AssetID, req.ChainID, req.DestinationAddress,
			req.Amount, req.Fee, req.NetAmount, req.Status, req.IdempotencyKey,
			req.FraudScore, req.FraudIndicators, req.UserNotes, now)
		if store.IsUniqueViolation(err, "uq_withdrawals_idempotency_key") {
			return store.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("withdrawals: insert request: %w", err)
		}

		// The reserve: fails with INSUFFICIENT_BALANCE when available
		// cannot cover the full amount, rolling back the insert.
		if _, err := s.poster.Post(ctx, models.LedgerEntry{
			UserID:        &req.UserID,
			AssetID:       req.AssetID,
			ChainID:       req.ChainID,
			EntryType:     models.EntryWithdrawalRequested,
			Direction:     models.Debit,
			Amount:        req.Amount,
			ReferenceType: models.RefWithdrawal,
			ReferenceID:   req.ID,
		}); err != nil {
			return err
		}

		// First-time destinations get a cooldown that is never
		// refreshed on later submissions.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO address_whitelist (id, user_id, chain_id, address, cooldown_ends_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT ON CONSTRAINT uq_whitelist_user_chain_address DO NOTHING`,
			uuid.New(), req.UserID, req.ChainID, dest, now.Add(s.sec.AddressCooldown), now,
		); err != nil {
			return fmt.Errorf("withdrawals: whitelist destination: %w", err)
		}
		return nil
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost the race on the key; the winner's row is the outcome.
		existing, rerr := s.byIdempotencyKey(ctx, user.ID, in.IdempotencyKey)
		if rerr != nil {
			return nil, rerr
		}
		if existing == nil {
			return nil, apperr.Conflictf("idempotency key is already in use")
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"request": req.ID, "user_id": user.ID, "amount": req.Amount.String(),
		"fraud_score": req.FraudScore,
	}).Info("withdrawal submitted")
	return req, nil
}

// byIdempotencyKey returns the request for (user, key), nil when none.
// A key claimed by another user surfaces as a conflict: keys are
// globally unique.
func (s *Service) byIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := s.store.Querier(ctx).GetContext(ctx, &req,
		`SELECT * FROM withdrawal_requests WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("withdrawals: get by key: %w", err)
	}
	if req.UserID != userID {
		return nil, apperr.Conflictf("idempotency key is already in use")
	}
	return &req, nil
}

// Get fetches one request, enforcing ownership for non-admin callers.
func (s *Service) Get(ctx context.Context, caller *models.User, id uuid.UUID) (*models.WithdrawalRequest, error) {
	req, err := s.byID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.UserID != caller.ID && !caller.Role.IsAdmin() {
		return nil, apperr.Forbiddenf("withdrawal belongs to another user")
	}
	return req, nil
}

func (s *Service) byID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := s.store.Querier(ctx).GetContext(ctx, &req,
		`SELECT * FROM withdrawal_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("withdrawal request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("withdrawals: get request: %w", err)
	}
	return &req, nil
}

// List pages the user's own requests, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, status models.WithdrawalStatus, limit, offset int) ([]models.WithdrawalRequest, error) {
	query := `SELECT * FROM withdrawal_requests WHERE user_id = $1`
	args := []interface{}{userID}
	if status != "" {
		args = append(args, status)
		query += ` AND status = $2`
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	reqs := []models.WithdrawalRequest{}
	if err := s.store.Querier(ctx).SelectContext(ctx, &reqs, query, args...); err != nil {
		return nil, fmt.Errorf("withdrawals: list: %w", err)
	}
	return reqs, nil
}

// ListAll is the admin review queue, oldest first so reviewers work in
// arrival order.
func (s *Service) ListAll(ctx context.Context, status models.WithdrawalStatus, limit, offset int) ([]models.WithdrawalRequest, int64, error) {
	where, args := "TRUE", []interface{}{}
	if status != "" {
		args = append(args, status)
		where = "status = $1"
	}

	var total int64
	if err := s.store.Querier(ctx).GetContext(ctx, &total,
		`SELECT count(*) FROM withdrawal_requests WHERE `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("withdrawals: count: %w", err)
	}

	args = append(args, limit, offset)
	reqs := []models.WithdrawalRequest{}
	err := s.store.Querier(ctx).SelectContext(ctx, &reqs, fmt.Sprintf(
		`SELECT * FROM withdrawal_requests WHERE %s ORDER BY created_at LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("withdrawals: list all: %w", err)
	}
	return reqs, total, nil
}
