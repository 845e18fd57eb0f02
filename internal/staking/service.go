// Package staking implements the pool catalog, the stake position
// lifecycle and continuous reward accrual. Staking is purely internal
// accounting: principal moves between the available and staked buckets
// of the ledger projection, never on chain.
package staking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/ledger"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
)

// Service is the staking engine.
type Service struct {
	store  *store.Store
	poster *ledger.Poster
	clock  clock.Clock
	log    logrus.FieldLogger
}

func NewService(st *store.Store, poster *ledger.Poster, clk clock.Clock, log logrus.FieldLogger) *Service {
	return &Service{store: st, poster: poster, clock: clk, log: log.WithField("component", "staking")}
}

// Create opens a stake position. Pool guards (active, min/max,
// capacity) and the balance debit all run in one transaction; the
// capacity check is a conditional SQL increment so two concurrent
// stakes cannot jointly overshoot totalCapacity.
func (s *Service) Create(ctx context.Context, userID, poolID uuid.UUID, amount decimal.Decimal) (*models.StakePosition, error) {
	if !amount.IsPositive() {
		return nil, apperr.Invalid("stake amount must be positive")
	}

	var position *models.StakePosition
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		pool, err := s.Pool(ctx, poolID)
		if err != nil {
			return err
		}
		if !pool.IsActive {
			return apperr.Reject(apperr.CodePoolInactive, "pool is not active")
		}
		if amount.LessThan(pool.MinStake) {
			return apperr.Rejectf(apperr.CodeStakeBelowMinimum,
				"minimum stake for this pool is %s", pool.MinStake)
		}
		if pool.MaxStake != nil && amount.GreaterThan(*pool.MaxStake) {
			return apperr.Rejectf(apperr.CodeStakeAboveMaximum,
				"maximum stake for this pool is %s", pool.MaxStake)
		}

		asset, err := s.store.AssetByID(ctx, pool.AssetID)
		if err != nil {
			return err
		}
		if !asset.IsActive {
			return apperr.Reject(apperr.CodeAssetInactive, "asset is not active")
		}

		// Capacity check and increment are one atomic statement.
		res, err := tx.ExecContext(ctx, `
			UPDATE pools SET total_staked = total_staked + $2, updated_at = $3
			WHERE id = $1 AND (total_capacity IS NULL OR total_staked + $2 <= total_capacity)`,
			pool.ID, amount, s.clock.Now())
		if err != nil {
			return fmt.Errorf("staking: bump total staked: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.Reject(apperr.CodePoolFull, "pool capacity would be exceeded")
		}

		now := s.clock.Now()
		position = &models.StakePosition{
			ID:                    uuid.New(),
			UserID:                userID,
			PoolID:                pool.ID,
			Amount:                amount,
			RewardsAccrued:        decimal.Zero,
			RewardsClaimed:        decimal.Zero,
			LastRewardCalculation: now,
			Status:                models.StakeActive,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if pool.LockDays > 0 {
			lockedUntil := now.Add(time.Duration(pool.LockDays) * 24 * time.Hour)
			position.LockedUntil = &lockedUntil
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stake_positions (id, user_id, pool_id, amount, status, last_reward_calculation, locked_until, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
			position.ID, position.UserID, position.PoolID, position.Amount,
			position.Status, position.LastRewardCalculation, position.LockedUntil, now,
		); err != nil {
			return fmt.Errorf("staking: insert position: %w", err)
		}

		_, err = s.poster.Post(ctx, models.LedgerEntry{
			UserID:        &userID,
			AssetID:       pool.AssetID,
			ChainID:       asset.ChainID,
			EntryType:     models.EntryStakeCreated,
			Direction:     models.Debit,
			Amount:        amount,
			ReferenceType: models.RefStake,
			ReferenceID:   position.ID,
			Metadata:      types.JSONText(fmt.Sprintf(`{"poolId":%q}`, pool.ID)),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"position": position.ID, "user_id": userID, "pool": poolID, "amount": amount.String(),
	}).Info("stake created")
	return position, nil
}

// Position fetches one position, enforcing ownership.
func (s *Service) Position(ctx context.Context, userID, positionID uuid.UUID) (*models.StakePosition, error) {
	pos, err := s.position(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos.UserID != userID {
		return nil, apperr.Forbiddenf("position belongs to another user")
	}
	return pos, nil
}

func (s *Service) position(ctx context.Context, id uuid.UUID) (*models.StakePosition, error) {
	var p models.StakePosition
	err := s.store.Querier(ctx).GetContext(ctx, &p,
		`SELECT * FROM stake_positions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("stake position not found")
	}
	if err != nil {
		return nil, fmt.Errorf("staking: get position: %w", err)
	}
	return &p, nil
}

// Positions lists the user's positions, newest first.
func (s *Service) Positions(ctx context.Context, userID uuid.UUID, status models.StakeStatus) ([]models.StakePosition, error) {
	query := `SELECT * FROM stake_positions WHERE user_id = $1`
	args := []interface{}{userID}
	if status != "" {
		args = append(args, status)
		query += ` AND status = $2`
	}
	query += ` ORDER BY created_at DESC`

	positions := []models.StakePosition{}
	if err := s.store.Querier(ctx).SelectContext(ctx, &positions, query, args...); err != nil {
		return nil, fmt.Errorf("staking: list positions: %w", err)
	}
	return positions, nil
}

// Claim settles a position's accrued rewards into the available
// balance. The position is accrued up to now first so the claim never
// leaves a sliver behind.
func (s *Service) Claim(ctx context.Context, userID, positionID uuid.UUID) (decimal.Decimal, error) {
	var claimed decimal.Decimal
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		pos, err := s.Position(ctx, userID, positionID)
		if err != nil {
			return err
		}
		if pos.Status != models.StakeActive {
			return apperr.Reject(apperr.CodeStakeNotActive, "rewards can only be claimed on active positions")
		}

		pool, err := s.Pool(ctx, pos.PoolID)
		if err != nil {
			return err
		}
		if _, err := s.accrueLocked(ctx, tx, pos, pool); err != nil {
			return err
		}
		// Re-read: accrual advanced the counters.
		pos, err = s.position(ctx, positionID)
		if err != nil {
			return err
		}
		if !pos.RewardsAccrued.IsPositive() {
			return apperr.Reject(apperr.CodeNothingToClaim, "no rewards to claim")
		}
		claimed = pos.RewardsAccrued

		asset, err := s.store.AssetByID(ctx, pool.AssetID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE stake_positions
			SET rewards_accrued = 0, rewards_claimed = rewards_claimed + $2, updated_at = $3
			WHERE id = $1`,
			pos.ID, claimed, now); err != nil {
			return fmt.Errorf("staking: settle claim: %w", err)
		}

		// The claim reference is a fresh id: a position can claim many
		// times, and each claim is its own one-shot entry.
		_, err = s.poster.Post(ctx, models.LedgerEntry{
			UserID:        &userID,
			AssetID:       pool.AssetID,
			ChainID:       asset.ChainID,
			EntryType:     models.EntryRewardClaimed,
			Direction:     models.Credit,
			Amount:        claimed,
			ReferenceType: models.RefRewardClaim,
			ReferenceID:   uuid.New(),
			Metadata:      types.JSONText(fmt.Sprintf(`{"positionId":%q}`, pos.ID)),
		})
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	s.log.WithFields(logrus.Fields{
		"position": positionID, "claimed": claimed.String(),
	}).Info("rewards claimed")
	return claimed, nil
}

// UnstakeOutcome describes what Unstake did: either the position
// entered cooldown, or it completed and paid out.
type UnstakeOutcome struct {
	Status         models.StakeStatus `json:"status"`
	CooldownEndsAt *time.Time         `json:"cooldownEndsAt,omitempty"`
	Principal      decimal.Decimal    `json:"principal"`
	Rewards        decimal.Decimal    `json:"rewards"`
	TotalReturned  decimal.Decimal    `json:"totalReturned"`
}

// Unstake begins or completes withdrawal of a position. Locked
// positions are refused with the remaining lock; cooldown pools move to
// UNSTAKING (rewards keep accruing); otherwise the position finalizes
// immediately.
func (s *Service) Unstake(ctx context.Context, userID, positionID uuid.UUID) (*UnstakeOutcome, error) {
	var outcome *UnstakeOutcome
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		pos, err := s.Position(ctx, userID, positionID)
		if err != nil {
			return err
		}
		if pos.Status == models.StakeUnstaking {
			return apperr.Reject(apperr.CodeUnstakeInProgress, "position is already in cooldown")
		}
		if pos.Status != models.StakeActive {
			return apperr.Reject(apperr.CodeStakeNotActive, "position is not active")
		}

		now := s.clock.Now()
		if pos.Locked(now) {
			remaining := pos.LockedUntil.Sub(now).Round(time.Second)
			return apperr.Rejectf(apperr.CodeStakeLocked,
				"position is locked for another %s", remaining)
		}

		pool, err := s.Pool(ctx, pos.PoolID)
		if err != nil {
			return err
		}

		if pool.CooldownHours > 0 && pos.CooldownEndsAt == nil {
			endsAt := now.Add(time.Duration(pool.CooldownHours) * time.Hour)
			res, err := tx.ExecContext(ctx, `
				UPDATE stake_positions SET status = $2, cooldown_ends_at = $3, updated_at = $4
				WHERE id = $1 AND status = $5`,
				pos.ID, models.StakeUnstaking, endsAt, now, models.StakeActive)
			if err != nil {
				return fmt.Errorf("staking: enter cooldown: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return apperr.Conflictf("position changed state, retry")
			}
			outcome = &UnstakeOutcome{Status: models.StakeUnstaking, CooldownEndsAt: &endsAt}
			return nil
		}

		out, err := s.finalizeLocked(ctx, tx, pos, pool, models.StakeActive)
		if err != nil {
			return err
		}
		outcome = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// finalizeLocked completes an unstake: final accrual, principal plus
// rewards credited back, pool total decremented. fromStatus is the CAS
// guard (ACTIVE for immediate unstakes, UNSTAKING for cooldown sweeps).
func (s *Service) finalizeLocked(ctx context.Context, tx *sqlx.Tx, pos *models.StakePosition, pool *models.Pool, fromStatus models.StakeStatus) (*UnstakeOutcome, error) {
	now := s.clock.Now()

	delta, err := s.pendingReward(ctx, pos, pool, now)
	if err != nil {
		return nil, err
	}
	totalRewards := pos.RewardsAccrued.Add(delta)
	totalAmount := pos.Amount.Add(totalRewards)

	res, err := tx.ExecContext(ctx, `
		UPDATE stake_positions
		SET status = $2, unstaked_at = $3, updated_at = $3,
		    rewards_accrued = 0, rewards_claimed = rewards_claimed + $4,
		    last_reward_calculation = $3
		WHERE id = $1 AND status = $5`,
		pos.ID, models.StakeCompleted, now, totalRewards, fromStatus)
	if err != nil {
		return nil, fmt.Errorf("staking: complete position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.Conflictf("position changed state, retry")
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE pools SET total_staked = total_staked - $2, updated_at = $3 WHERE id = $1`,
		pool.ID, pos.Amount, now); err != nil {
		return nil, fmt.Errorf("staking: release pool capacity: %w", err)
	}

	asset, err := s.store.AssetByID(ctx, pool.AssetID)
	if err != nil {
		return nil, err
	}

	// The delta accrued since the last sweep is recorded first so the
	// rewards bucket holds the full total the unstake entry drains.
	if delta.IsPositive() {
		if _, err := s.poster.Post(ctx, models.LedgerEntry{
			UserID:        &pos.UserID,
			AssetID:       pool.AssetID,
			ChainID:       asset.ChainID,
			EntryType:     models.EntryRewardAccrued,
			Direction:     models.Credit,
			Amount:        delta,
			ReferenceType: models.RefStake,
			ReferenceID:   pos.ID,
			Metadata:      types.JSONText(`{"final":true}`),
		}); err != nil {
			return nil, err
		}
	}

	meta, _ := json.Marshal(map[string]string{
		"principal": pos.Amount.String(),
		"rewards":   totalRewards.String(),
	})
	if _, err := s.poster.Post(ctx, models.LedgerEntry{
		UserID:        &pos.UserID,
		AssetID:       pool.AssetID,
		ChainID:       asset.ChainID,
		EntryType:     models.EntryUnstakeCompleted,
		Direction:     models.Credit,
		Amount:        totalAmount,
		ReferenceType: models.RefStake,
		ReferenceID:   pos.ID,
		Metadata:      types.JSONText(meta),
	}); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"position": pos.ID, "principal": pos.Amount.String(), "rewards": totalRewards.String(),
	}).Info("position completed")
	return &UnstakeOutcome{
		Status:        models.StakeCompleted,
		Principal:     pos.Amount,
		Rewards:       totalRewards,
		TotalReturned: totalAmount,
	}, nil
}
