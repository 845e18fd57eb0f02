package deposits

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/chain"
	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/ledger"
	"github.com/openvault/staked/internal/metrics"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/notify"
	"github.com/openvault/staked/internal/store"
)

// Tracker advances CONFIRMING deposits. The CONFIRMED transition emits
// the DEPOSIT_CONFIRMED credit exactly once: the ledger's one-shot
// uniqueness makes a double-fire impossible even if two trackers race.
type Tracker struct {
	store    *store.Store
	chains   *chain.Set
	poster   *ledger.Poster
	notifier *notify.Notifier
	clock    clock.Clock
	log      logrus.FieldLogger
}

func NewTracker(st *store.Store, chains *chain.Set, poster *ledger.Poster, notifier *notify.Notifier, clk clock.Clock, log logrus.FieldLogger) *Tracker {
	return &Tracker{
		store:    st,
		chains:   chains,
		poster:   poster,
		notifier: notifier,
		clock:    clk,
		log:      log.WithField("component", "deposit-tracker"),
	}
}

// TrackAll runs one confirmation pass over every chain with pending
// deposits.
func (t *Tracker) TrackAll(ctx context.Context) {
	chains, err := t.store.ActiveChains(ctx)
	if err != nil {
		t.log.WithError(err).Error("list chains")
		return
	}
	for _, ch := range chains {
		if err := t.TrackChain(ctx, ch); err != nil {
			t.log.WithError(err).WithField("chain", ch.Slug).Warn("confirmation pass failed")
		}
	}
}

// TrackChain refreshes confirmations for one chain's CONFIRMING
// deposits and finalizes those past the chain's depth requirement.
func (t *Tracker) TrackChain(ctx context.Context, ch models.Chain) error {
	pending := []models.Deposit{}
	err := t.store.DB().SelectContext(ctx, &pending,
		`SELECT * FROM deposits WHERE chain_id = $1 AND status = $2 ORDER BY created_at LIMIT 200`,
		ch.ID, models.DepositConfirming)
	if err != nil {
		return fmt.Errorf("deposits: list confirming: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	client, err := t.chains.ForChain(ch.ID)
	if err != nil {
		return err
	}
	head, err := client.CurrentBlock(ctx)
	if err != nil {
		return err
	}

	for _, d := range pending {
		if err := t.trackOne(ctx, client, ch, d, head); err != nil {
			if chain.IsTransient(err) {
				// Endpoint hiccup; the next pass retries.
				t.log.WithError(err).WithField("deposit", d.ID).Debug("confirmation check deferred")
				continue
			}
			t.log.WithError(err).WithField("deposit", d.ID).Error("confirmation check failed")
		}
	}
	return nil
}

func (t *Tracker) trackOne(ctx context.Context, client *chain.Client, ch models.Chain, d models.Deposit, head int64) error {
	receipt, err := client.Receipt(ctx, common.HexToHash(d.TxHash))
	if errors.Is(err, chain.ErrReceiptNotFound) {
		// Not mined yet (or reorged away); leave it CONFIRMING.
		return nil
	}
	if err != nil {
		return err
	}
	if receipt.Status == 0 {
		return t.markFailed(ctx, d)
	}

	confirmations := head - receipt.BlockNumber.Int64() + 1
	if confirmations < ch.ConfirmationsRequired {
		_, err := t.store.DB().ExecContext(ctx,
			`UPDATE deposits SET confirmations = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
			d.ID, confirmations, t.clock.Now(), models.DepositConfirming)
		if err != nil {
			return fmt.Errorf("deposits: update confirmations: %w", err)
		}
		return nil
	}
	return t.confirm(ctx, ch, d, confirmations)
}

// confirm finalizes one deposit: status flip, ledger credit and
// projection update in a single transaction, notification after commit.
func (t *Tracker) confirm(ctx context.Context, ch models.Chain, d models.Deposit, confirmations int64) error {
	now := t.clock.Now()
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE deposits SET status = $2, confirmations = $3, confirmed_at = $4, updated_at = $4
			WHERE id = $1 AND status = $5`,
			d.ID, models.DepositConfirmed, confirmations, now, models.DepositConfirming)
		if err != nil {
			return fmt.Errorf("deposits: confirm: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Another tracker won the CAS.
			return nil
		}

		_, err = t.poster.Post(ctx, models.LedgerEntry{
			UserID:        &d.UserID,
			AssetID:       d.AssetID,
			ChainID:       d.ChainID,
			EntryType:     models.EntryDepositConfirmed,
			Direction:     models.Credit,
			Amount:        d.Amount,
			ReferenceType: models.RefDeposit,
			ReferenceID:   d.ID,
			Metadata:      types.JSONText(fmt.Sprintf(`{"txHash":%q}`, d.TxHash)),
		})
		if errors.Is(err, ledger.ErrAlreadyPosted) {
			// The credit exists from an earlier partially-failed pass;
			// the status CAS above re-applied cleanly.
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	metrics.DepositsConfirmed.WithLabelValues(ch.Slug).Inc()
	t.notifier.Push(ctx, d.UserID, notify.KindDepositConfirmed,
		"Deposit confirmed",
		fmt.Sprintf("Your deposit of %s has been confirmed and credited.", d.Amount),
		map[string]interface{}{"depositId": d.ID, "txHash": d.TxHash, "amount": d.Amount})

	t.log.WithFields(logrus.Fields{
		"deposit": d.ID, "user_id": d.UserID, "amount": d.Amount.String(),
	}).Info("deposit confirmed")
	return nil
}

func (t *Tracker) markFailed(ctx context.Context, d models.Deposit) error {
	_, err := t.store.DB().ExecContext(ctx,
		`UPDATE deposits SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
		d.ID, models.DepositFailed, t.clock.Now(), models.DepositConfirming)
	if err != nil {
		return fmt.Errorf("deposits: mark failed: %w", err)
	}
	t.log.WithField("deposit", d.ID).Warn("deposit transaction reverted on chain")
	return nil
}
