package staking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/models"
)

// secondsPerYear and the percent divisor turn an APR like 10 (percent)
// into a per-second simple-interest rate.
var (
	percentDivisor = decimal.NewFromInt(100)
	secondsPerYear = decimal.NewFromInt(365 * 86400)
)

// rewardFor is the accrual formula: amount · (apr/100/365/86400) · Δt.
func rewardFor(amount, apr decimal.Decimal, elapsed time.Duration) decimal.Decimal {
	seconds := decimal.NewFromInt(int64(elapsed / time.Second))
	if !seconds.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(apr).Div(percentDivisor).Div(secondsPerYear).Mul(seconds)
}

// pendingReward computes the un-recorded reward for a position up to
// instant at the pool's effective APR.
func (s *Service) pendingReward(ctx context.Context, pos *models.StakePosition, pool *models.Pool, instant time.Time) (decimal.Decimal, error) {
	elapsed := instant.Sub(pos.LastRewardCalculation)
	if elapsed < time.Second {
		return decimal.Zero, nil
	}
	apr, err := s.effectiveAPR(ctx, pool, instant)
	if err != nil {
		return decimal.Zero, err
	}
	return rewardFor(pos.Amount, apr, elapsed), nil
}

// accrueLocked records the reward earned since the position's last
// calculation. The counter advance and the REWARD_ACCRUED entry commit
// together, which is what makes a rerun over the same wall-clock span
// accrue nothing extra. Sub-second reruns are skipped outright.
func (s *Service) accrueLocked(ctx context.Context, tx *sqlx.Tx, pos *models.StakePosition, pool *models.Pool) (decimal.Decimal, error) {
	now := s.clock.Now()
	delta, err := s.pendingReward(ctx, pos, pool, now)
	if err != nil {
		return decimal.Zero, err
	}
	if !delta.IsPositive() {
		return decimal.Zero, nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE stake_positions
		SET rewards_accrued = rewards_accrued + $2, last_reward_calculation = $3, updated_at = $3
		WHERE id = $1 AND last_reward_calculation = $4`,
		pos.ID, delta, now, pos.LastRewardCalculation)
	if err != nil {
		return decimal.Zero, fmt.Errorf("staking: advance accrual: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// A concurrent sweep already covered this span.
		return decimal.Zero, nil
	}

	asset, err := s.store.AssetByID(ctx, pool.AssetID)
	if err != nil {
		return decimal.Zero, err
	}
	_, err = s.poster.Post(ctx, models.LedgerEntry{
		UserID:        &pos.UserID,
		AssetID:       pool.AssetID,
		ChainID:       asset.ChainID,
		EntryType:     models.EntryRewardAccrued,
		Direction:     models.Credit,
		Amount:        delta,
		ReferenceType: models.RefStake,
		ReferenceID:   pos.ID,
		CreatedAt:     now,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return delta, nil
}

// AccrueAll is the background sweep: accrue every ACTIVE and UNSTAKING
// position (rewards keep accruing during cooldown), then finalize
// UNSTAKING positions whose cooldown has lapsed. It runs at global
// concurrency 1; the per-position CAS on last_reward_calculation
// protects against an overlapping stray run anyway.
func (s *Service) AccrueAll(ctx context.Context) {
	positions := []models.StakePosition{}
	err := s.store.DB().SelectContext(ctx, &positions, `
		SELECT * FROM stake_positions
		WHERE status IN ($1, $2)
		ORDER BY last_reward_calculation
		LIMIT 1000`,
		models.StakeActive, models.StakeUnstaking)
	if err != nil {
		s.log.WithError(err).Error("accrual: list positions")
		return
	}

	var accrued, finalized int
	for _, pos := range positions {
		pos := pos
		err := s.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
			// Re-read inside the tx; the listing snapshot may be stale.
			fresh, err := s.position(ctx, pos.ID)
			if err != nil {
				return err
			}
			if fresh.Status != models.StakeActive && fresh.Status != models.StakeUnstaking {
				return nil
			}
			pool, err := s.Pool(ctx, fresh.PoolID)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			if fresh.Status == models.StakeUnstaking && fresh.CooldownEndsAt != nil && !fresh.CooldownEndsAt.After(now) {
				if _, err := s.finalizeLocked(ctx, tx, fresh, pool, models.StakeUnstaking); err != nil {
					return err
				}
				finalized++
				return nil
			}
			delta, err := s.accrueLocked(ctx, tx, fresh, pool)
			if err != nil {
				return err
			}
			if delta.IsPositive() {
				accrued++
			}
			return nil
		})
		if err != nil {
			s.log.WithError(err).WithField("position", pos.ID).Warn("accrual sweep: position skipped")
		}
		if ctx.Err() != nil {
			return
		}
	}
	if accrued > 0 || finalized > 0 {
		s.log.WithFields(logrus.Fields{
			"accrued": accrued, "finalized": finalized,
		}).Debug("accrual sweep done")
	}
}

// Cancel is the admin escape hatch: it voids an ACTIVE or UNSTAKING
// position, returning its principal to the available bucket and
// forfeiting unclaimed rewards. Audited by the caller.
func (s *Service) Cancel(ctx context.Context, positionID uuid.UUID) (*models.StakePosition, error) {
	var cancelled *models.StakePosition
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		pos, err := s.position(ctx, positionID)
		if err != nil {
			return err
		}
		if pos.Status != models.StakeActive && pos.Status != models.StakeUnstaking {
			return apperr.Reject(apperr.CodeStakeNotActive, "position is not cancellable")
		}
		pool, err := s.Pool(ctx, pos.PoolID)
		if err != nil {
			return err
		}
		asset, err := s.store.AssetByID(ctx, pool.AssetID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		res, err := tx.ExecContext(ctx, `
			UPDATE stake_positions SET status = $2, unstaked_at = $3, updated_at = $3, rewards_accrued = 0
			WHERE id = $1 AND status = $4`,
			pos.ID, models.StakeCancelled, now, pos.Status)
		if err != nil {
			return fmt.Errorf("staking: cancel position: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.Conflictf("position changed state, retry")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE pools SET total_staked = total_staked - $2, updated_at = $3 WHERE id = $1`,
			pool.ID, pos.Amount, now); err != nil {
			return fmt.Errorf("staking: release pool capacity: %w", err)
		}

		_, err = s.poster.Post(ctx, models.LedgerEntry{
			UserID:        &pos.UserID,
			AssetID:       pool.AssetID,
			ChainID:       asset.ChainID,
			EntryType:     models.EntryStakeCancelled,
			Direction:     models.Credit,
			Amount:        pos.Amount,
			ReferenceType: models.RefStake,
			ReferenceID:   pos.ID,
			Metadata:      types.JSONText(fmt.Sprintf(`{"forfeitedRewards":%q}`, pos.RewardsAccrued)),
		})
		if err != nil {
			return err
		}
		pos.Status = models.StakeCancelled
		cancelled = pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}
