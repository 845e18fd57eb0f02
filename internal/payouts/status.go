package payouts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/chain"
	"github.com/openvault/staked/internal/ledger"
	"github.com/openvault/staked/internal/metrics"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/notify"
	"github.com/openvault/staked/internal/queue"
)

// handleStatus polls one sent payout to confirmation depth. A returned
// error re-schedules the poll with backoff until the attempt cap; a
// payout still unconfirmed after that dead-letters for an operator.
func (e *Executor) handleStatus(ctx context.Context, job queue.Job) error {
	var p statusPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("payouts: decode status job: %w", err)
	}

	payout, err := e.payout(ctx, p.PayoutID)
	if err != nil {
		return err
	}
	if payout.Status == models.PayoutConfirmed || payout.Status == models.PayoutFailed {
		return nil
	}
	if payout.TxHash == nil {
		return fmt.Errorf("payouts: payout %s has no tx hash", payout.ID)
	}
	req, err := e.request(ctx, p.WithdrawalID)
	if err != nil {
		return err
	}
	ch, err := e.store.ChainByID(ctx, req.ChainID)
	if err != nil {
		return err
	}
	client, err := e.chains.ForChain(req.ChainID)
	if err != nil {
		return err
	}

	receipt, err := client.Receipt(ctx, common.HexToHash(*payout.TxHash))
	if errors.Is(err, chain.ErrReceiptNotFound) {
		return fmt.Errorf("payouts: tx %s not yet mined", *payout.TxHash)
	}
	if err != nil {
		return err
	}
	if receipt.Status == 0 {
		return e.fail(ctx, req, payout, fmt.Errorf("payouts: tx %s reverted on chain", *payout.TxHash))
	}

	head, err := client.CurrentBlock(ctx)
	if err != nil {
		return err
	}
	confirmations := head - receipt.BlockNumber.Int64() + 1
	if confirmations < ch.ConfirmationsRequired {
		now := e.clock.Now()
		if _, err := e.store.DB().ExecContext(ctx, `
			UPDATE payout_txs SET status = $2, confirmations = $3, updated_at = $4 WHERE id = $1`,
			payout.ID, models.PayoutConfirming, confirmations, now); err != nil {
			return fmt.Errorf("payouts: update confirmations: %w", err)
		}
		if _, err := e.store.DB().ExecContext(ctx, `
			UPDATE withdrawal_requests SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
			req.ID, models.WithdrawalConfirming, now, models.WithdrawalSent); err != nil {
			return fmt.Errorf("payouts: mark confirming: %w", err)
		}
		return fmt.Errorf("payouts: %d/%d confirmations", confirmations, ch.ConfirmationsRequired)
	}

	return e.complete(ctx, client.Slug, req, payout, receipt.GasUsed, confirmations)
}

// complete finalizes one payout: payout row CONFIRMED, request
// COMPLETED and the pending reserve cleared, all in one transaction.
// The WITHDRAWAL_PAID one-shot absorbs a replay after a partial commit.
func (e *Executor) complete(ctx context.Context, chainSlug string, req *models.WithdrawalRequest, payout *models.PayoutTx, gasUsed uint64, confirmations int64) error {
	now := e.clock.Now()
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE payout_txs SET status = $2, confirmations = $3, gas_used = $4, confirmed_at = $5, updated_at = $5
			WHERE id = $1`,
			payout.ID, models.PayoutConfirmed, confirmations, int64(gasUsed), now); err != nil {
			return fmt.Errorf("payouts: confirm payout: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE withdrawal_requests SET status = $2, updated_at = $3
			WHERE id = $1 AND status IN ($4, $5, $6)`,
			req.ID, models.WithdrawalCompleted, now,
			models.WithdrawalSent, models.WithdrawalConfirming, models.WithdrawalConfirmed)
		if err != nil {
			return fmt.Errorf("payouts: complete request: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		_, err = e.poster.Post(ctx, models.LedgerEntry{
			UserID:        &req.UserID,
			AssetID:       req.AssetID,
			ChainID:       req.ChainID,
			EntryType:     models.EntryWithdrawalPaid,
			Direction:     models.Debit,
			Amount:        req.Amount,
			ReferenceType: models.RefWithdrawal,
			ReferenceID:   req.ID,
			Metadata:      types.JSONText(fmt.Sprintf(`{"txHash":%q}`, *payout.TxHash)),
		})
		if errors.Is(err, ledger.ErrAlreadyPosted) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	e.notifier.Push(ctx, req.UserID, notify.KindWithdrawalPaid,
		"Withdrawal completed",
		fmt.Sprintf("Your withdrawal of %s is confirmed on chain.", req.Amount),
		map[string]interface{}{"withdrawalId": req.ID, "txHash": *payout.TxHash})

	metrics.PayoutsBroadcast.WithLabelValues(chainSlug, "confirmed").Inc()
	e.log.WithFields(logrus.Fields{
		"request": req.ID, "tx_hash": *payout.TxHash, "confirmations": confirmations,
	}).Info("payout confirmed")
	return nil
}

func (e *Executor) payout(ctx context.Context, id uuid.UUID) (*models.PayoutTx, error) {
	var p models.PayoutTx
	err := e.store.DB().GetContext(ctx, &p,
		`SELECT * FROM payout_txs WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("payouts: get payout %s: %w", id, err)
	}
	return &p, nil
}
