package payouts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/chain"
	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/ledger"
	"github.com/openvault/staked/internal/metrics"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/notify"
	"github.com/openvault/staked/internal/queue"
	"github.com/openvault/staked/internal/store"
	"github.com/openvault/staked/internal/wallet"
)

// transferSelector is the 4-byte selector of ERC-20 transfer.
var transferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

const (
	nativeGasLimit   = 21_000
	fallbackGasLimit = 100_000

	statusPollDelay   = 30 * time.Second
	statusMaxAttempts = 20
)

// Executor broadcasts approved withdrawals and tracks them to depth.
type Executor struct {
	store    *store.Store
	chains   *chain.Set
	poster   *ledger.Poster
	keyring  *wallet.Keyring
	queue    queue.Queue
	notifier *notify.Notifier
	clock    clock.Clock
	log      logrus.FieldLogger
}

func NewExecutor(st *store.Store, chains *chain.Set, poster *ledger.Poster, keyring *wallet.Keyring, q queue.Queue, notifier *notify.Notifier, clk clock.Clock, log logrus.FieldLogger) *Executor {
	return &Executor{
		store:    st,
		chains:   chains,
		poster:   poster,
		keyring:  keyring,
		queue:    q,
		notifier: notifier,
		clock:    clk,
		log:      log.WithField("component", "payouts"),
	}
}

// Register subscribes the executor's handlers. One process queue per
// chain at concurrency 1; the status poller is chain-agnostic and can
// fan out.
func (e *Executor) Register(chainSlugs []string) {
	for _, slug := range chainSlugs {
		e.queue.Subscribe(ProcessQueue(slug), e.handleProcess, queue.SubscribeOptions{Concurrency: 1})
	}
	e.queue.Subscribe(StatusQueue, e.handleStatus, queue.SubscribeOptions{
		Concurrency: 4,
		Backoff:     statusPollDelay,
	})
}

// handleProcess broadcasts one withdrawal. Redelivery of an already
// handled request acks cleanly: the PROCESSING CAS admits one winner.
// Once the request is PROCESSING, any failure marks it FAILED for an
// explicit operator decision instead of a blind retry that could
// double-spend from the treasury.
func (e *Executor) handleProcess(ctx context.Context, job queue.Job) error {
	var p processPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("payouts: decode job: %w", err)
	}
	log := e.log.WithField("request", p.WithdrawalID)

	req, err := e.request(ctx, p.WithdrawalID)
	if err != nil {
		return err
	}
	switch req.Status {
	case models.WithdrawalApproved, models.WithdrawalFailed:
		// The two states with an edge into PROCESSING.
	default:
		log.WithField("status", req.Status).Debug("payout job skipped")
		return nil
	}

	res, err := e.store.DB().ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
		req.ID, models.WithdrawalProcessing, e.clock.Now(), req.Status)
	if err != nil {
		return fmt.Errorf("payouts: claim request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	payout, err := e.claimPayoutRow(ctx, req.ID)
	if err != nil {
		return e.fail(ctx, req, payout, err)
	}

	asset, err := e.store.AssetByID(ctx, req.AssetID)
	if err != nil {
		return e.fail(ctx, req, payout, err)
	}
	client, err := e.chains.ForChain(req.ChainID)
	if err != nil {
		return e.fail(ctx, req, payout, err)
	}
	ch, err := e.store.ChainByID(ctx, req.ChainID)
	if err != nil {
		return e.fail(ctx, req, payout, err)
	}

	treasury, err := e.activeTreasury(ctx, req.ChainID)
	if err != nil {
		return e.fail(ctx, req, payout, err)
	}
	key, err := e.keyring.OpenKey(treasury.EncryptedPrivateKey, treasury.Address)
	if err != nil {
		return e.fail(ctx, req, payout, err)
	}
	from := common.HexToAddress(treasury.Address)

	tx, err := e.buildTransfer(ctx, client, from, asset, req)
	if err != nil {
		return e.fail(ctx, req, payout, err)
	}
	signed, err := wallet.SignTx(tx, ch.ChainID, key)
	if err != nil {
		return e.fail(ctx, req, payout, err)
	}
	txHash, err := client.Send(ctx, signed)
	if err != nil {
		return e.fail(ctx, req, payout, err)
	}

	now := e.clock.Now()
	hashHex := txHash.Hex()
	nonce := int64(signed.Nonce())
	err = e.store.RunInTx(ctx, func(ctx context.Context, sqltx *sqlx.Tx) error {
		if _, err := sqltx.ExecContext(ctx, `
			UPDATE payout_txs SET tx_hash = $2, nonce = $3, status = $4, sent_at = $5, updated_at = $5
			WHERE id = $1`,
			payout.ID, hashHex, nonce, models.PayoutSent, now); err != nil {
			return fmt.Errorf("payouts: record broadcast: %w", err)
		}
		if _, err := sqltx.ExecContext(ctx, `
			UPDATE withdrawal_requests SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
			req.ID, models.WithdrawalSent, now, models.WithdrawalProcessing); err != nil {
			return fmt.Errorf("payouts: mark sent: %w", err)
		}
		return nil
	})
	if err != nil {
		// The transaction is on the wire; the status poller recovers
		// the row state from the receipt.
		log.WithError(err).Error("broadcast recorded partially")
	}

	if err := e.queue.Enqueue(ctx, StatusQueue,
		statusPayload{WithdrawalID: req.ID, PayoutID: payout.ID},
		queue.EnqueueOptions{Delay: statusPollDelay, MaxAttempts: statusMaxAttempts, Backoff: statusPollDelay},
	); err != nil {
		log.WithError(err).Error("status poll enqueue failed")
	}

	metrics.PayoutsBroadcast.WithLabelValues(client.Slug, "sent").Inc()
	log.WithFields(logrus.Fields{
		"tx_hash": hashHex, "nonce": nonce, "chain": client.Slug,
	}).Info("payout broadcast")
	return nil
}

// buildTransfer assembles the unsigned payout transaction: a plain
// value transfer for native assets, an ERC-20 transfer call otherwise.
// The user receives netAmount; the fee stays with the platform.
func (e *Executor) buildTransfer(ctx context.Context, client *chain.Client, from common.Address, asset *models.Asset, req *models.WithdrawalRequest) (*types.Transaction, error) {
	nonce, err := client.PendingNonce(ctx, from)
	if err != nil {
		return nil, err
	}
	gasPrice, err := client.GasPrice(ctx)
	if err != nil {
		return nil, err
	}

	units := req.NetAmount.Shift(asset.Decimals).BigInt()
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("payouts: net amount %s rounds to zero base units", req.NetAmount)
	}
	dest := common.HexToAddress(req.DestinationAddress)

	var (
		to       common.Address
		value    *big.Int
		data     []byte
		fallback uint64
	)
	if asset.IsNative || asset.ContractAddress == nil {
		to, value, fallback = dest, units, nativeGasLimit
	} else {
		to, value, fallback = common.HexToAddress(*asset.ContractAddress), new(big.Int), fallbackGasLimit
		data = append(data, transferSelector...)
		data = append(data, common.LeftPadBytes(dest.Bytes(), 32)...)
		data = append(data, common.LeftPadBytes(units.Bytes(), 32)...)
	}

	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		gas = fallback
	}
	return types.NewTransaction(nonce, to, value, gas, gasPrice, data), nil
}

// claimPayoutRow gets or creates the single payout row for a request
// and bumps its attempt counter.
func (e *Executor) claimPayoutRow(ctx context.Context, requestID uuid.UUID) (*models.PayoutTx, error) {
	now := e.clock.Now()
	if _, err := e.store.DB().ExecContext(ctx, `
		INSERT INTO payout_txs (id, withdrawal_request_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT ON CONSTRAINT uq_payout_txs_request DO NOTHING`,
		uuid.New(), requestID, models.PayoutPending, now); err != nil {
		return nil, fmt.Errorf("payouts: ensure payout row: %w", err)
	}
	var payout models.PayoutTx
	err := e.store.DB().GetContext(ctx, &payout, `
		UPDATE payout_txs SET attempts = attempts + 1, updated_at = $2
		WHERE withdrawal_request_id = $1
		RETURNING *`, requestID, now)
	if err != nil {
		return nil, fmt.Errorf("payouts: claim payout row: %w", err)
	}
	return &payout, nil
}

// activeTreasury picks the oldest active hot wallet on a chain.
func (e *Executor) activeTreasury(ctx context.Context, chainID uuid.UUID) (*models.TreasuryWallet, error) {
	var w models.TreasuryWallet
	err := e.store.DB().GetContext(ctx, &w, `
		SELECT * FROM treasury_wallets
		WHERE chain_id = $1 AND is_active = true
		ORDER BY created_at LIMIT 1`, chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payouts: no active treasury wallet for chain %s", chainID)
	}
	if err != nil {
		return nil, fmt.Errorf("payouts: get treasury wallet: %w", err)
	}
	return &w, nil
}

func (e *Executor) request(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := e.store.DB().GetContext(ctx, &req,
		`SELECT * FROM withdrawal_requests WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("payouts: get request %s: %w", id, err)
	}
	return &req, nil
}

// fail records a broadcast failure: payout row FAILED with the error,
// request FAILED for explicit operator retry or manual payment. The
// job itself acks; blind redelivery of a half-broadcast payout is the
// one thing this pipeline must never do.
func (e *Executor) fail(ctx context.Context, req *models.WithdrawalRequest, payout *models.PayoutTx, cause error) error {
	now := e.clock.Now()
	msg := cause.Error()
	if payout != nil {
		if _, err := e.store.DB().ExecContext(ctx, `
			UPDATE payout_txs SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1`,
			payout.ID, models.PayoutFailed, msg, now); err != nil {
			e.log.WithError(err).WithField("payout", payout.ID).Error("record payout failure")
		}
	}
	if _, err := e.store.DB().ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN ($4, $5, $6)`,
		req.ID, models.WithdrawalFailed, now,
		models.WithdrawalProcessing, models.WithdrawalSent, models.WithdrawalConfirming,
	); err != nil {
		e.log.WithError(err).WithField("request", req.ID).Error("record request failure")
	}

	e.notifier.Push(ctx, req.UserID, notify.KindWithdrawalFailed,
		"Withdrawal failed",
		fmt.Sprintf("Your withdrawal of %s could not be processed. Support has been notified.", req.Amount),
		map[string]interface{}{"withdrawalId": req.ID})

	e.log.WithError(cause).WithField("request", req.ID).Error("payout failed")
	return nil
}
