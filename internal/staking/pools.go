package staking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
)

// PoolFilter narrows a pool listing.
type PoolFilter struct {
	AssetID uuid.UUID
	Type    models.PoolType
}

// Pools lists active pools for the public catalog.
func (s *Service) Pools(ctx context.Context, f PoolFilter) ([]models.Pool, error) {
	where := "is_active = true"
	args := []interface{}{}
	if f.AssetID != uuid.Nil {
		args = append(args, f.AssetID)
		where += fmt.Sprintf(" AND asset_id = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		where += fmt.Sprintf(" AND type = $%d", len(args))
	}
	pools := []models.Pool{}
	err := s.store.Querier(ctx).SelectContext(ctx, &pools,
		`SELECT * FROM pools WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("staking: list pools: %w", err)
	}
	return pools, nil
}

// Pool fetches one pool by id.
func (s *Service) Pool(ctx context.Context, id uuid.UUID) (*models.Pool, error) {
	var p models.Pool
	err := s.store.Querier(ctx).GetContext(ctx, &p, `SELECT * FROM pools WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("pool not found")
	}
	if err != nil {
		return nil, fmt.Errorf("staking: get pool: %w", err)
	}
	return &p, nil
}

// CreatePoolInput is the admin pool-creation payload, pre-validated by
// the API layer.
type CreatePoolInput struct {
	Name          string
	Slug          string
	AssetID       uuid.UUID
	Type          models.PoolType
	LockDays      int32
	APR           decimal.Decimal
	MinStake      decimal.Decimal
	MaxStake      *decimal.Decimal
	TotalCapacity *decimal.Decimal
	CooldownHours int32
}

// CreatePool creates a pool and its opening APR schedule row together.
func (s *Service) CreatePool(ctx context.Context, in CreatePoolInput, createdBy uuid.UUID) (*models.Pool, error) {
	if in.Type == models.PoolFlexible && in.LockDays != 0 {
		return nil, apperr.Invalid("flexible pools cannot have a lock period")
	}
	if in.Type == models.PoolFixed && in.LockDays <= 0 {
		return nil, apperr.Invalid("fixed pools require a positive lock period")
	}

	now := s.clock.Now()
	pool := &models.Pool{
		ID:            uuid.New(),
		Name:          in.Name,
		Slug:          in.Slug,
		AssetID:       in.AssetID,
		Type:          in.Type,
		LockDays:      in.LockDays,
		CurrentAPR:    in.APR,
		MinStake:      in.MinStake,
		MaxStake:      in.MaxStake,
		TotalCapacity: in.TotalCapacity,
		TotalStaked:   decimal.Zero,
		CooldownHours: in.CooldownHours,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pools (id, slug, name, asset_id, type, lock_days, cooldown_hours, current_apr, min_stake, max_stake, total_capacity, total_staked, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, true, $12, $12)`,
			pool.ID, pool.Slug, pool.Name, pool.AssetID, pool.Type, pool.LockDays,
			pool.CooldownHours, pool.CurrentAPR, pool.MinStake, pool.MaxStake,
			pool.TotalCapacity, now)
		if store.IsUniqueViolation(err, "uq_pools_slug") {
			return apperr.Conflictf("a pool with slug %q already exists", pool.Slug)
		}
		if err != nil {
			return fmt.Errorf("staking: insert pool: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO apr_schedules (id, pool_id, apr, effective_from, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $4)`,
			uuid.New(), pool.ID, pool.CurrentAPR, now, createdBy)
		if err != nil {
			return fmt.Errorf("staking: insert opening schedule: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// ScheduleAPR closes the currently open schedule row at effectiveFrom
// and opens a new one, keeping the at-most-one-active invariant. The
// pool's current_apr display cache follows within one accrual cycle,
// or immediately when the schedule is already effective.
func (s *Service) ScheduleAPR(ctx context.Context, poolID uuid.UUID, newAPR decimal.Decimal, effectiveFrom time.Time, createdBy uuid.UUID) (*models.AprSchedule, error) {
	if newAPR.IsNegative() {
		return nil, apperr.Invalid("apr cannot be negative")
	}
	now := s.clock.Now()
	if effectiveFrom.IsZero() {
		effectiveFrom = now
	}
	if effectiveFrom.Before(now.Add(-time.Minute)) {
		return nil, apperr.Invalid("effectiveFrom cannot be in the past")
	}

	row := &models.AprSchedule{
		ID:            uuid.New(),
		PoolID:        poolID,
		APR:           newAPR,
		EffectiveFrom: effectiveFrom,
		CreatedBy:     &createdBy,
		CreatedAt:     now,
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := s.Pool(ctx, poolID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE apr_schedules SET effective_to = $2
			WHERE pool_id = $1 AND effective_to IS NULL AND effective_from < $2`,
			poolID, effectiveFrom); err != nil {
			return fmt.Errorf("staking: close open schedule: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO apr_schedules (id, pool_id, apr, effective_from, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			row.ID, row.PoolID, row.APR, row.EffectiveFrom, createdBy, now); err != nil {
			return fmt.Errorf("staking: insert schedule: %w", err)
		}
		if !effectiveFrom.After(now) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE pools SET current_apr = $2, updated_at = $3 WHERE id = $1`,
				poolID, newAPR, now); err != nil {
				return fmt.Errorf("staking: refresh display apr: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// effectiveAPR reads the schedule row active at instant, falling back
// to the pool's display cache when the pool predates schedules.
func (s *Service) effectiveAPR(ctx context.Context, pool *models.Pool, instant time.Time) (decimal.Decimal, error) {
	var apr decimal.Decimal
	err := s.store.Querier(ctx).GetContext(ctx, &apr, `
		SELECT apr FROM apr_schedules
		WHERE pool_id = $1 AND effective_from <= $2
		  AND (effective_to IS NULL OR effective_to > $2)
		ORDER BY effective_from DESC LIMIT 1`,
		pool.ID, instant)
	if errors.Is(err, sql.ErrNoRows) {
		return pool.CurrentAPR, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("staking: effective apr: %w", err)
	}
	return apr, nil
}

// EstimateRewards backs the public pool calculator: simple interest on
// amount at the pool's display APR over days.
func EstimateRewards(amount, apr decimal.Decimal, days int) decimal.Decimal {
	if days < 0 {
		return decimal.Zero
	}
	return amount.Mul(apr).
		Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(int64(days))).
		Div(decimal.NewFromInt(365))
}
