// Package store wraps the Postgres connection and owns the transaction
// discipline: every multi-row mutation runs under SERIALIZABLE
// isolation with bounded retries, and nested calls join the outermost
// transaction through the context.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Queryer is the query surface shared by *sqlx.DB and *sqlx.Tx, letting
// repository code run the same statements inside or outside a
// transaction.
type Queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

var (
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate surfaces a unique-constraint violation to callers
	// that treat the existing row as the authoritative outcome.
	ErrDuplicate = errors.New("store: duplicate")
)

// Postgres error codes.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
	pqCheckViolation       = "23514"
)

const (
	defaultTxTimeout      = 30 * time.Second
	defaultAcquireTimeout = 10 * time.Second
	maxTxRetries          = 3
	retryBaseBackoff      = 100 * time.Millisecond
)

// Store owns the database handle.
type Store struct {
	db             *sqlx.DB
	log            logrus.FieldLogger
	txTimeout      time.Duration
	acquireTimeout time.Duration
}

// Open connects to Postgres and configures the pool.
func Open(databaseURL string, log logrus.FieldLogger) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db, log), nil
}

// New wraps an existing handle. Tests use this with sqlmock.
func New(db *sqlx.DB, log logrus.FieldLogger) *Store {
	return &Store{
		db:             db,
		log:            log,
		txTimeout:      defaultTxTimeout,
		acquireTimeout: defaultAcquireTimeout,
	}
}

// DB exposes the raw handle for read paths that do not need a
// transaction.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type txKey struct{}

// TxFromContext returns the transaction ctx is running under, if any.
func TxFromContext(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx, ok
}

// Querier returns the context's transaction when present, the plain
// handle otherwise.
func (s *Store) Querier(ctx context.Context) Queryer {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx runs fn inside a SERIALIZABLE transaction, retrying up to
// three times on serialization failures and deadlocks with jittered
// exponential backoff. A nested call joins the outer transaction
// instead of opening a new one, so retries only ever replay the
// outermost fn.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	var lastErr error
	for attempt := 0; attempt <= maxTxRetries; attempt++ {
		if attempt > 0 {
			backoff := jitteredBackoff(attempt)
			s.log.WithError(lastErr).WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff.String(),
			}).Debug("retrying serializable transaction")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = s.runOnce(ctx, fn)
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("store: transaction retries exhausted: %w", lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	// Connection acquisition has its own shorter deadline so a
	// saturated pool fails fast instead of eating the whole wall
	// budget.
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, s.acquireTimeout)
	conn, err := s.db.Connx(acquireCtx)
	cancelAcquire()
	if err != nil {
		return fmt.Errorf("store: acquire connection: %w", err)
	}
	defer conn.Close()

	txCtx, cancelTx := context.WithTimeout(ctx, s.txTimeout)
	defer cancelTx()

	tx, err := conn.BeginTxx(txCtx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(txCtx, txKey{}, tx), tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.WithError(rbErr).Warn("transaction rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a serialization failure or
// deadlock that may succeed when the transaction is replayed.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqSerializationFailure ||
			string(pqErr.Code) == pqDeadlockDetected
	}
	return false
}

// IsUniqueViolation reports whether err is a unique-constraint
// violation, optionally restricted to the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsCheckViolation reports whether err violated a CHECK constraint,
// optionally restricted to the named constraint.
func IsCheckViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != pqCheckViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func jitteredBackoff(attempt int) time.Duration {
	base := retryBaseBackoff * (1 << (attempt - 1))
	return base + time.Duration(rand.Int63n(int64(base)))
}
