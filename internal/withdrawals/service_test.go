package withdrawals

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/audit"
	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/config"
	"github.com/openvault/staked/internal/ledger"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/notify"
	"github.com/openvault/staked/internal/queue"
	"github.com/openvault/staked/internal/store"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *clock.Simulated) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	st := store.New(sqlx.NewDb(db, "sqlmock"), log)
	clk := clock.NewSimulated(testStart)

	sec := config.Security{
		LargeWithdrawalThresholdUSD: config.Decimal{Decimal: dec("10000")},
		DefaultDailyLimitUSD:        config.Decimal{Decimal: dec("50000")},
		MaxDailyWithdrawalRequests:  10,
		WithdrawalFeeRate:           config.Decimal{Decimal: dec("0.001")},
		MinWithdrawalFee:            config.Decimal{Decimal: dec("0.0001")},
		AddressCooldown:             24 * time.Hour,
		NewAccountAge:               7 * 24 * time.Hour,
	}
	svc := NewService(st, ledger.NewPoster(st, clk, log), queue.NewMemory(clk),
		notify.New(st, clk, log), audit.NewRecorder(st, clk, log), sec, clk, log)
	return svc, mock, clk
}

func trustedUser() *models.User {
	return &models.User{
		ID:                      uuid.New(),
		Email:                   "user@example.com",
		Role:                    models.RoleUser,
		EmailVerified:           true,
		DailyWithdrawalLimitUSD: dec("50000"),
		IsActive:                true,
		CreatedAt:               testStart.Add(-30 * 24 * time.Hour),
	}
}

func assetRows(id, chainID uuid.UUID, priceUSD string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "chain_id", "symbol", "decimals", "is_active", "price_usd"}).
		AddRow(id, chainID, "USDC", 6, true, priceUSD)
}

func chainRows(id uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "slug", "name", "chain_id", "confirmations_required", "is_active"}).
		AddRow(id, "testnet", "Testnet", 1337, 6, true)
}

func TestSubmitComputesFeeAndReservesAmount(t *testing.T) {
	svc, mock, _ := newTestService(t)
	user := trustedUser()
	assetID, chainID := uuid.New(), uuid.New()
	dest := "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01"

	mock.ExpectQuery(`SELECT \* FROM withdrawal_requests WHERE idempotency_key`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT \* FROM assets WHERE id`).
		WillReturnRows(assetRows(assetID, chainID, "1"))
	mock.ExpectQuery(`SELECT \* FROM chains WHERE id`).
		WillReturnRows(chainRows(chainID))

	// Known destination past its cooldown, no other history: score 0.
	mock.ExpectQuery(`SELECT \* FROM address_whitelist`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "chain_id", "address", "cooldown_ends_at", "created_at"}).
			AddRow(uuid.New(), user.ID, chainID, "0xabcdef0123456789abcdef0123456789abcdef01",
				testStart.Add(-time.Hour), testStart.Add(-48*time.Hour)))
	mock.ExpectQuery(`SELECT count`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "total_usd"}).AddRow(0, "0"))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO withdrawal_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The reserve moves the full amount from available to pending.
	mock.ExpectQuery(`INSERT INTO balance_cache`).
		WithArgs(user.ID, assetID, chainID, "-1", "0", "0", "1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"available"}).AddRow("99"))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WithArgs(sqlmock.AnyArg(), user.ID, assetID, chainID,
			models.EntryWithdrawalRequested, models.Debit, "1", sqlmock.AnyArg(),
			models.RefWithdrawal, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO address_whitelist`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	req, err := svc.Submit(context.Background(), user, SubmitInput{
		AssetID:            assetID,
		Amount:             dec("1"),
		DestinationAddress: dest,
		IdempotencyKey:     "key-1",
	})
	require.NoError(t, err)

	// fee = max(minFee, amount * feeRate) = max(0.0001, 0.001) = 0.001.
	assert.True(t, req.Fee.Equal(dec("0.001")), "fee = %s", req.Fee)
	assert.True(t, req.NetAmount.Equal(dec("0.999")), "net = %s", req.NetAmount)
	assert.True(t, req.Amount.Equal(req.Fee.Add(req.NetAmount)))
	assert.Equal(t, models.WithdrawalPendingReview, req.Status)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", req.DestinationAddress)
	assert.Equal(t, int32(0), req.FraudScore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitRejectsAmountBelowFee(t *testing.T) {
	svc, mock, _ := newTestService(t)
	user := trustedUser()
	assetID, chainID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT \* FROM withdrawal_requests WHERE idempotency_key`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT \* FROM assets WHERE id`).
		WillReturnRows(assetRows(assetID, chainID, "1"))
	mock.ExpectQuery(`SELECT \* FROM chains WHERE id`).
		WillReturnRows(chainRows(chainID))

	// 0.0001 * 0.001 is below the fee floor, so the floor applies and
	// eats the whole amount.
	_, err := svc.Submit(context.Background(), user, SubmitInput{
		AssetID:            assetID,
		Amount:             dec("0.0001"),
		DestinationAddress: "0xabcdef0123456789abcdef0123456789abcdef01",
		IdempotencyKey:     "key-2",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeAmountTooSmall, apperr.CodeOf(err))
	assert.True(t, apperr.IsKind(err, apperr.DomainRejection))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitIdempotentOnKey(t *testing.T) {
	svc, mock, _ := newTestService(t)
	user := trustedUser()
	existingID := uuid.New()

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "asset_id", "chain_id", "amount", "fee", "net_amount",
		"destination_address", "status", "idempotency_key", "fraud_score",
		"created_at", "updated_at",
	}).AddRow(existingID, user.ID, uuid.New(), uuid.New(), "1", "0.001", "0.999",
		"0xabcdef0123456789abcdef0123456789abcdef01", models.WithdrawalPendingReview,
		"key-1", 0, testStart, testStart)
	mock.ExpectQuery(`SELECT \* FROM withdrawal_requests WHERE idempotency_key`).
		WillReturnRows(rows)

	// A repeat submission returns the original row; nothing is inserted
	// and nothing is reserved again.
	req, err := svc.Submit(context.Background(), user, SubmitInput{
		AssetID:            uuid.New(),
		Amount:             dec("1"),
		DestinationAddress: "0xabcdef0123456789abcdef0123456789abcdef01",
		IdempotencyKey:     "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, existingID, req.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitRefusesForeignIdempotencyKey(t *testing.T) {
	svc, mock, _ := newTestService(t)
	user := trustedUser()

	rows := sqlmock.NewRows([]string{"id", "user_id", "idempotency_key", "status"}).
		AddRow(uuid.New(), uuid.New(), "key-1", models.WithdrawalPendingReview)
	mock.ExpectQuery(`SELECT \* FROM withdrawal_requests WHERE idempotency_key`).
		WillReturnRows(rows)

	_, err := svc.Submit(context.Background(), user, SubmitInput{
		AssetID:            uuid.New(),
		Amount:             dec("1"),
		DestinationAddress: "0xabcdef0123456789abcdef0123456789abcdef01",
		IdempotencyKey:     "key-1",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Conflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectCreditsReserveBack(t *testing.T) {
	svc, mock, _ := newTestService(t)
	admin := &models.User{ID: uuid.New(), Email: "admin@example.com", Role: models.RoleAdmin}
	reqID, userID, assetID, chainID := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM withdrawal_requests WHERE id`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "asset_id", "chain_id", "amount", "fee", "net_amount", "status",
		}).AddRow(reqID, userID, assetID, chainID, "25", "0.025", "24.975", models.WithdrawalPendingReview))
	mock.ExpectExec(`UPDATE withdrawal_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The release credit undoes the reserve in the same transaction.
	mock.ExpectQuery(`INSERT INTO balance_cache`).
		WithArgs(userID, assetID, chainID, "25", "0", "0", "-25", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"available"}).AddRow("125"))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WithArgs(sqlmock.AnyArg(), userID, assetID, chainID,
			models.EntryWithdrawalRejected, models.Credit, "25", sqlmock.AnyArg(),
			models.RefWithdrawal, reqID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, err := svc.Reject(context.Background(), Actor{User: admin}, reqID, "mismatched KYC name")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalRejected, req.Status)
	require.NotNil(t, req.AdminNotes)
	assert.Equal(t, "mismatched KYC name", *req.AdminNotes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectRequiresNotes(t *testing.T) {
	svc, mock, _ := newTestService(t)
	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin}

	_, err := svc.Reject(context.Background(), Actor{User: admin}, uuid.New(), "  ")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Validation))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectRefusesSettledRequest(t *testing.T) {
	svc, mock, _ := newTestService(t)
	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin}
	reqID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM withdrawal_requests WHERE id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "status"}).
			AddRow(reqID, uuid.New(), "25", models.WithdrawalCompleted))
	mock.ExpectRollback()

	_, err := svc.Reject(context.Background(), Actor{User: admin}, reqID, "too late")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidStatus, apperr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
