package store

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(sqlx.NewDb(db, "sqlmock"), log), mock
}

func TestRunInTxCommits(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE pools").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE pools SET total_staked = total_staked + 1")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxNestedJoinsOuter(t *testing.T) {
	s, mock := newMockStore(t)
	// One begin and one commit for the whole nest.
	mock.ExpectBegin()
	mock.ExpectCommit()

	var outerTx *sqlx.Tx
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
		outerTx = tx
		return s.RunInTx(ctx, func(ctx context.Context, inner *sqlx.Tx) error {
			assert.Same(t, outerTx, inner)
			return nil
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRetriesSerializationFailure(t *testing.T) {
	s, mock := newMockStore(t)
	s.txTimeout = defaultTxTimeout

	// Initial attempt plus maxTxRetries replays, all failing.
	for i := 0; i <= maxTxRetries; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	calls := 0
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
		calls++
		return &pq.Error{Code: pqSerializationFailure}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.Equal(t, maxTxRetries+1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxDoesNotRetryDomainErrors(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
		calls++
		return errors.New("insufficient balance")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.True(t, IsRetryable(&pq.Error{Code: "40P01"}))
	assert.False(t, IsRetryable(&pq.Error{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pq.Error{Code: "23505", Constraint: "uq_withdrawals_user_idem"}
	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "uq_withdrawals_user_idem"))
	assert.False(t, IsUniqueViolation(err, "uq_other"))
	assert.False(t, IsUniqueViolation(errors.New("x"), ""))
}

func TestJitteredBackoffGrows(t *testing.T) {
	for attempt := 1; attempt <= 3; attempt++ {
		base := retryBaseBackoff * (1 << (attempt - 1))
		for i := 0; i < 32; i++ {
			d := jitteredBackoff(attempt)
			assert.GreaterOrEqual(t, d, base)
			assert.Less(t, d, 2*base)
		}
	}
}
