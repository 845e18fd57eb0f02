package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/metrics"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
)

// ErrAlreadyPosted reports that a one-shot entry with the same
// (entryType, referenceType, referenceId) already exists: the
// transition this entry records has already happened. The surrounding
// transaction is aborted when this is returned; callers must let it
// roll back and treat the prior posting as the outcome.
var ErrAlreadyPosted = errors.New("ledger: entry already posted")

// Poster writes journal entries and their projection updates. Both
// statements run on the caller's transaction so they commit together
// with whatever state change caused them.
type Poster struct {
	store *store.Store
	clock clock.Clock
	log   logrus.FieldLogger
}

func NewPoster(st *store.Store, clk clock.Clock, log logrus.FieldLogger) *Poster {
	return &Poster{store: st, clock: clk, log: log.WithField("component", "ledger")}
}

// The projection row is written before the journal row so the
// non-negativity guards reject an overdraft before it is recorded.
// The WHERE clause silences the update (zero rows) instead of erroring,
// which keeps the transaction alive for the domain-rejection path; a
// first-touch INSERT with a negative bucket trips the CHECK constraint
// instead, and both map to the same outcome.
const upsertBalanceSQL = `
INSERT INTO balance_cache (user_id, asset_id, chain_id, available, staked, rewards_accrued, withdrawals_pending, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id, asset_id, chain_id) DO UPDATE SET
    available           = balance_cache.available + EXCLUDED.available,
    staked              = balance_cache.staked + EXCLUDED.staked,
    rewards_accrued     = balance_cache.rewards_accrued + EXCLUDED.rewards_accrued,
    withdrawals_pending = balance_cache.withdrawals_pending + EXCLUDED.withdrawals_pending,
    updated_at          = EXCLUDED.updated_at
WHERE balance_cache.available + EXCLUDED.available >= 0
  AND balance_cache.staked + EXCLUDED.staked >= 0
  AND balance_cache.rewards_accrued + EXCLUDED.rewards_accrued >= 0
  AND balance_cache.withdrawals_pending + EXCLUDED.withdrawals_pending >= 0
RETURNING available`

const insertEntrySQL = `
INSERT INTO ledger_entries (id, user_id, asset_id, chain_id, entry_type, direction, amount, balance_after, reference_type, reference_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// Post applies one entry: projection first, then the journal row. It
// must run inside a transaction started by the caller; refusing to post
// outside one keeps the journal and the cache from ever diverging.
func (p *Poster) Post(ctx context.Context, e models.LedgerEntry) (models.LedgerEntry, error) {
	if _, ok := store.TxFromContext(ctx); !ok {
		return models.LedgerEntry{}, errors.New("ledger: Post called outside a transaction")
	}
	if e.UserID == nil || *e.UserID == uuid.Nil {
		return models.LedgerEntry{}, apperr.Invalid("ledger: entry requires a user")
	}
	if e.ReferenceType == "" || e.ReferenceID == uuid.Nil {
		return models.LedgerEntry{}, apperr.Invalid("ledger: entry requires a reference")
	}
	if e.Direction == "" {
		if d, ok := DirectionOf(e.EntryType); ok {
			e.Direction = d
		}
	}

	effect, err := EffectOf(e)
	if err != nil {
		return models.LedgerEntry{}, err
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = p.clock.Now()
	}
	if len(e.Metadata) == 0 {
		e.Metadata = types.JSONText(`{}`)
	}

	q := p.store.Querier(ctx)

	var available decimal.Decimal
	err = q.GetContext(ctx, &available, upsertBalanceSQL,
		e.UserID, e.AssetID, e.ChainID,
		effect.Available, effect.Staked, effect.Rewards, effect.Pending,
		e.CreatedAt)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return models.LedgerEntry{}, p.guardRejected(e, effect, err)
	case store.IsCheckViolation(err, ""):
		return models.LedgerEntry{}, p.guardRejected(e, effect, err)
	default:
		return models.LedgerEntry{}, apperr.Wrap(err, apperr.Fatal, "", "ledger: update balance projection")
	}
	e.BalanceAfter = &available

	if _, err := q.ExecContext(ctx, insertEntrySQL,
		e.ID, e.UserID, e.AssetID, e.ChainID,
		e.EntryType, e.Direction, e.Amount, e.BalanceAfter,
		e.ReferenceType, e.ReferenceID, e.Metadata, e.CreatedAt,
	); err != nil {
		if store.IsUniqueViolation(err, "uq_ledger_one_shot") {
			return models.LedgerEntry{}, ErrAlreadyPosted
		}
		return models.LedgerEntry{}, apperr.Wrap(err, apperr.Fatal, "", "ledger: insert entry")
	}
	metrics.LedgerEntries.WithLabelValues(string(e.EntryType)).Inc()
	return e, nil
}

// guardRejected classifies a refused projection update. Overdrawing
// the available bucket is a client-visible rejection; any other bucket
// going negative means the books are inconsistent and nothing should
// paper over that.
func (p *Poster) guardRejected(e models.LedgerEntry, effect Delta, cause error) error {
	if effect.Available.IsNegative() {
		return apperr.Rejectf(apperr.CodeInsufficientBalance,
			"insufficient balance for %s of %s", e.EntryType, e.Amount)
	}
	p.log.WithFields(logrus.Fields{
		"entry_type": e.EntryType,
		"user_id":    e.UserID,
		"asset_id":   e.AssetID,
		"reference":  e.ReferenceID,
	}).Error("balance bucket would go negative")
	return apperr.Wrap(cause, apperr.Fatal, "",
		"ledger: projection bucket would go negative for "+string(e.EntryType))
}
