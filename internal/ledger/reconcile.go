package ledger

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
)

// Drift is one projection whose cached buckets disagree with the fold
// of its journal entries.
type Drift struct {
	Key
	Cached   Delta
	Computed Delta
}

// Report summarizes one reconciliation run.
type Report struct {
	Entries     int
	Projections int
	Drifts      []Drift
	Fixed       int
}

// Reconciler refolds the journal and compares it against balance_cache.
// It backs the operator `reconcile` command and is the recovery path
// when the cache is suspected of drifting (which, absent bugs, it
// cannot, since both always co-commit).
type Reconciler struct {
	store *store.Store
	log   logrus.FieldLogger
}

func NewReconciler(st *store.Store, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{store: st, log: log.WithField("component", "reconcile")}
}

// Run folds every journal entry, diffs the result against the cache in
// both directions, and, when fix is set, rewrites drifted rows to the
// folded values.
func (r *Reconciler) Run(ctx context.Context, fix bool) (Report, error) {
	var report Report

	computed, entryCount, err := r.foldJournal(ctx)
	if err != nil {
		return report, err
	}
	report.Entries = entryCount

	cached, err := r.loadCache(ctx)
	if err != nil {
		return report, err
	}
	report.Projections = len(cached)

	seen := make(map[Key]bool, len(computed))
	for k, want := range computed {
		seen[k] = true
		got := cached[k]
		if diff := want.Add(negate(got)); !diff.IsZero() {
			report.Drifts = append(report.Drifts, Drift{Key: k, Cached: got, Computed: want})
		}
	}
	// Cache rows with no journal entries behind them are drift too.
	for k, got := range cached {
		if !seen[k] && !got.IsZero() {
			report.Drifts = append(report.Drifts, Drift{Key: k, Cached: got})
		}
	}

	for _, d := range report.Drifts {
		r.log.WithFields(logrus.Fields{
			"user_id":  d.UserID,
			"asset_id": d.AssetID,
			"chain_id": d.ChainID,
			"cached":   fmt.Sprintf("%s/%s/%s/%s", d.Cached.Available, d.Cached.Staked, d.Cached.Rewards, d.Cached.Pending),
			"computed": fmt.Sprintf("%s/%s/%s/%s", d.Computed.Available, d.Computed.Staked, d.Computed.Rewards, d.Computed.Pending),
		}).Warn("balance projection drift")
	}

	if fix && len(report.Drifts) > 0 {
		fixed, err := r.applyFixes(ctx, report.Drifts)
		if err != nil {
			return report, err
		}
		report.Fixed = fixed
	}
	return report, nil
}

func (r *Reconciler) foldJournal(ctx context.Context) (map[Key]Delta, int, error) {
	rows, err := r.store.DB().QueryxContext(ctx, `
		SELECT id, user_id, asset_id, chain_id, entry_type, direction, amount, balance_after, reference_type, reference_id, metadata, created_at
		FROM ledger_entries
		WHERE user_id IS NOT NULL`)
	if err != nil {
		return nil, 0, fmt.Errorf("reconcile: scan journal: %w", err)
	}
	defer rows.Close()

	totals := make(map[Key]Delta)
	count := 0
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.StructScan(&e); err != nil {
			return nil, 0, fmt.Errorf("reconcile: scan entry: %w", err)
		}
		effect, err := EffectOf(e)
		if err != nil {
			return nil, 0, fmt.Errorf("reconcile: entry %s: %w", e.ID, err)
		}
		k := Key{UserID: *e.UserID, AssetID: e.AssetID, ChainID: e.ChainID}
		totals[k] = totals[k].Add(effect)
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("reconcile: scan journal: %w", err)
	}
	return totals, count, nil
}

func (r *Reconciler) loadCache(ctx context.Context) (map[Key]Delta, error) {
	var rows []models.BalanceCache
	err := r.store.DB().SelectContext(ctx, &rows, `
		SELECT user_id, asset_id, chain_id, available, staked, rewards_accrued, withdrawals_pending, updated_at
		FROM balance_cache`)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load cache: %w", err)
	}
	cached := make(map[Key]Delta, len(rows))
	for _, b := range rows {
		cached[Key{UserID: b.UserID, AssetID: b.AssetID, ChainID: b.ChainID}] = Delta{
			Available: b.Available,
			Staked:    b.Staked,
			Rewards:   b.RewardsAccrued,
			Pending:   b.WithdrawalsPending,
		}
	}
	return cached, nil
}

func (r *Reconciler) applyFixes(ctx context.Context, drifts []Drift) (int, error) {
	fixed := 0
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		for _, d := range drifts {
			c := d.Computed
			if c.Available.IsNegative() || c.Staked.IsNegative() || c.Rewards.IsNegative() || c.Pending.IsNegative() {
				// A negative fold means the journal itself is bad; that
				// needs a human, not an overwrite.
				r.log.WithFields(logrus.Fields{
					"user_id": d.UserID, "asset_id": d.AssetID, "chain_id": d.ChainID,
				}).Error("folded projection is negative, skipping fix")
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO balance_cache (user_id, asset_id, chain_id, available, staked, rewards_accrued, withdrawals_pending, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now())
				ON CONFLICT (user_id, asset_id, chain_id) DO UPDATE SET
				    available           = EXCLUDED.available,
				    staked              = EXCLUDED.staked,
				    rewards_accrued     = EXCLUDED.rewards_accrued,
				    withdrawals_pending = EXCLUDED.withdrawals_pending,
				    updated_at          = EXCLUDED.updated_at`,
				d.UserID, d.AssetID, d.ChainID,
				c.Available, c.Staked, c.Rewards, c.Pending)
			if err != nil {
				return fmt.Errorf("reconcile: rewrite projection: %w", err)
			}
			fixed++
		}
		return nil
	})
	return fixed, err
}

func negate(d Delta) Delta {
	return Delta{
		Available: d.Available.Neg(),
		Staked:    d.Staked.Neg(),
		Rewards:   d.Rewards.Neg(),
		Pending:   d.Pending.Neg(),
	}
}
