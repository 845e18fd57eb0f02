package staking

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/ledger"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
)

var sweepStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *clock.Simulated) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	st := store.New(sqlx.NewDb(db, "sqlmock"), log)
	clk := clock.NewSimulated(sweepStart)
	return NewService(st, ledger.NewPoster(st, clk, log), clk, log), mock, clk
}

func positionRows(pos *models.StakePosition) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "pool_id", "amount", "rewards_accrued", "rewards_claimed",
		"last_reward_calculation", "status", "locked_until", "cooldown_ends_at",
		"created_at", "updated_at",
	}).AddRow(pos.ID, pos.UserID, pos.PoolID, pos.Amount, pos.RewardsAccrued,
		pos.RewardsClaimed, pos.LastRewardCalculation, pos.Status,
		pos.LockedUntil, pos.CooldownEndsAt, pos.CreatedAt, pos.UpdatedAt)
}

func poolRows(id, assetID uuid.UUID, cooldownHours int32) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "slug", "asset_id", "type", "lock_days", "current_apr",
		"min_stake", "total_staked", "cooldown_hours", "is_active",
	}).AddRow(id, "Flexible USDC", "flexible-usdc", assetID, models.PoolFlexible,
		0, "10", "1", "50000", cooldownHours, true)
}

func TestUnstakeRefusedWhileLocked(t *testing.T) {
	svc, mock, _ := newTestService(t)
	userID, posID := uuid.New(), uuid.New()
	lockedUntil := sweepStart.Add(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM stake_positions WHERE id`).
		WillReturnRows(positionRows(&models.StakePosition{
			ID: posID, UserID: userID, PoolID: uuid.New(),
			Amount: dec("1000"), RewardsAccrued: dec("2"),
			LastRewardCalculation: sweepStart.Add(-time.Hour),
			Status:                models.StakeActive, LockedUntil: &lockedUntil,
			CreatedAt: sweepStart.Add(-time.Hour), UpdatedAt: sweepStart.Add(-time.Hour),
		}))
	mock.ExpectRollback()

	_, err := svc.Unstake(context.Background(), userID, posID)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeStakeLocked, apperr.CodeOf(err))
	assert.True(t, apperr.IsKind(err, apperr.DomainRejection))
	// Nothing was written: the refused unstake leaves the position and
	// the ledger untouched.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnstakeEntersCooldown(t *testing.T) {
	svc, mock, _ := newTestService(t)
	userID, posID, poolID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM stake_positions WHERE id`).
		WillReturnRows(positionRows(&models.StakePosition{
			ID: posID, UserID: userID, PoolID: poolID,
			Amount: dec("1000"), RewardsAccrued: dec("2"),
			LastRewardCalculation: sweepStart,
			Status:                models.StakeActive,
			CreatedAt:             sweepStart.Add(-time.Hour), UpdatedAt: sweepStart.Add(-time.Hour),
		}))
	mock.ExpectQuery(`SELECT \* FROM pools WHERE id`).
		WillReturnRows(poolRows(poolID, uuid.New(), 48))
	mock.ExpectExec(`UPDATE stake_positions`).
		WithArgs(posID, models.StakeUnstaking, sqlmock.AnyArg(), sqlmock.AnyArg(), models.StakeActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := svc.Unstake(context.Background(), userID, posID)
	require.NoError(t, err)
	assert.Equal(t, models.StakeUnstaking, out.Status)
	require.NotNil(t, out.CooldownEndsAt)
	assert.Equal(t, sweepStart.Add(48*time.Hour), *out.CooldownEndsAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccrueAllFinalizesLapsedCooldown(t *testing.T) {
	svc, mock, _ := newTestService(t)
	userID, posID, poolID, assetID, chainID := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	cooldownEnd := sweepStart.Add(-time.Hour)

	// Accrued up to the sweep instant already, so the finalize credits
	// exactly the recorded 5 on top of the 1000 principal.
	pos := &models.StakePosition{
		ID: posID, UserID: userID, PoolID: poolID,
		Amount: dec("1000"), RewardsAccrued: dec("5"),
		LastRewardCalculation: sweepStart,
		Status:                models.StakeUnstaking, CooldownEndsAt: &cooldownEnd,
		CreatedAt: sweepStart.Add(-72 * time.Hour), UpdatedAt: sweepStart.Add(-time.Hour),
	}

	mock.ExpectQuery(`SELECT \* FROM stake_positions`).
		WillReturnRows(positionRows(pos))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM stake_positions WHERE id`).
		WillReturnRows(positionRows(pos))
	mock.ExpectQuery(`SELECT \* FROM pools WHERE id`).
		WillReturnRows(poolRows(poolID, assetID, 48))
	mock.ExpectExec(`UPDATE stake_positions`).
		WithArgs(posID, models.StakeCompleted, sqlmock.AnyArg(), "5", models.StakeUnstaking).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE pools`).
		WithArgs(poolID, "1000", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM assets WHERE id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "chain_id", "symbol", "decimals", "is_active", "price_usd"}).
			AddRow(assetID, chainID, "USDC", 6, true, "1"))
	// Principal plus rewards return to available; the staked and rewards
	// buckets drain by their exact parts.
	mock.ExpectQuery(`INSERT INTO balance_cache`).
		WithArgs(userID, assetID, chainID, "1005", "-1000", "-5", "0", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"available"}).AddRow("1005"))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WithArgs(sqlmock.AnyArg(), userID, assetID, chainID,
			models.EntryUnstakeCompleted, models.Credit, "1005", sqlmock.AnyArg(),
			models.RefStake, posID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc.AccrueAll(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}
