package deposits

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/chain"
	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/metrics"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
)

// transferTopic is the keccak of the canonical ERC-20 Transfer event.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Scanner walks each chain's recent blocks for ERC-20 transfers into
// platform deposit addresses. Observed transfers are upserted keyed by
// (txHash, logIndex, chainId), so overlapping windows and restarts are
// no-ops. Native-coin deposits are not observed; the schema reserves
// room for them.
type Scanner struct {
	store  *store.Store
	chains *chain.Set
	clock  clock.Clock
	log    logrus.FieldLogger

	lookback int64
	chunk    int64
}

func NewScanner(st *store.Store, chains *chain.Set, clk clock.Clock, lookback, chunk int64, log logrus.FieldLogger) *Scanner {
	if lookback <= 0 {
		lookback = 10_000
	}
	if chunk <= 0 || chunk > 2_000 {
		chunk = 2_000
	}
	return &Scanner{
		store:    st,
		chains:   chains,
		clock:    clk,
		log:      log.WithField("component", "deposit-scanner"),
		lookback: lookback,
		chunk:    chunk,
	}
}

// ScanAll runs one pass over every active chain. Chain-level failures
// are logged and skipped so one offline endpoint does not starve the
// others.
func (s *Scanner) ScanAll(ctx context.Context) {
	chains, err := s.store.ActiveChains(ctx)
	if err != nil {
		s.log.WithError(err).Error("list chains")
		return
	}
	for _, ch := range chains {
		if err := s.ScanChain(ctx, ch); err != nil {
			s.log.WithError(err).WithField("chain", ch.Slug).Warn("scan pass failed")
		}
	}
}

// ScanChain scans one chain's window [max(cursor+1, head-lookback),
// head]. The RPC reads happen outside any transaction; the found
// deposits and the advanced cursor commit together.
func (s *Scanner) ScanChain(ctx context.Context, ch models.Chain) error {
	client, err := s.chains.ForChain(ch.ID)
	if err != nil {
		return err
	}
	head, err := client.CurrentBlock(ctx)
	if err != nil {
		return err
	}

	last, err := readCursor(ctx, s.store, ch.Slug)
	if err != nil {
		return err
	}
	from := last + 1
	if floor := head - s.lookback; from < floor {
		from = floor
	}
	if from < 0 {
		from = 0
	}
	if from > head {
		return nil
	}

	assets, err := s.store.ActiveContractAssets(ctx, ch.ID)
	if err != nil {
		return err
	}
	watch, err := s.watchedAddresses(ctx, ch.ID)
	if err != nil {
		return err
	}
	if len(assets) == 0 || len(watch) == 0 {
		// Still advance the cursor so the window does not grow
		// unboundedly before the first asset or address exists.
		return writeCursor(ctx, s.store, ch.Slug, head)
	}

	toTopics := make([]common.Hash, 0, len(watch))
	for addr := range watch {
		toTopics = append(toTopics, common.HexToHash("0x"+strings.Repeat("0", 24)+strings.TrimPrefix(addr, "0x")))
	}

	var found []models.Deposit
	for start := from; start <= head; start += s.chunk {
		end := start + s.chunk - 1
		if end > head {
			end = head
		}
		for _, asset := range assets {
			logs, err := client.Logs(ctx, common.HexToAddress(*asset.ContractAddress),
				[][]common.Hash{{transferTopic}, nil, toTopics}, start, end)
			if err != nil {
				return err
			}
			for _, lg := range logs {
				d, ok := s.depositFromLog(ch, asset, watch, lg)
				if !ok {
					continue
				}
				found = append(found, d)
			}
		}
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		for _, d := range found {
			if err := insertObserved(ctx, tx, d); err != nil {
				return err
			}
		}
		return writeCursor(ctx, s.store, ch.Slug, head)
	})
	if err != nil {
		return err
	}
	if len(found) > 0 {
		metrics.DepositsObserved.WithLabelValues(ch.Slug).Add(float64(len(found)))
		s.log.WithFields(logrus.Fields{
			"chain": ch.Slug, "from": from, "to": head, "observed": len(found),
		}).Info("deposits observed")
	}
	return nil
}

// watchedAddresses maps lowercase deposit address -> row on one chain.
func (s *Scanner) watchedAddresses(ctx context.Context, chainID uuid.UUID) (map[string]models.DepositAddress, error) {
	rows := []models.DepositAddress{}
	err := s.store.Querier(ctx).SelectContext(ctx, &rows,
		`SELECT * FROM deposit_addresses WHERE chain_id = $1`, chainID)
	if err != nil {
		return nil, fmt.Errorf("deposits: list addresses: %w", err)
	}
	watch := make(map[string]models.DepositAddress, len(rows))
	for _, r := range rows {
		watch[strings.ToLower(r.Address)] = r
	}
	return watch, nil
}

func (s *Scanner) depositFromLog(ch models.Chain, asset models.Asset, watch map[string]models.DepositAddress, lg types.Log) (models.Deposit, bool) {
	if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic || lg.Removed {
		return models.Deposit{}, false
	}
	to := strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex())
	addrRow, ok := watch[to]
	if !ok {
		return models.Deposit{}, false
	}
	amount := decimal.NewFromBigInt(new(big.Int).SetBytes(lg.Data), -asset.Decimals)
	if !amount.IsPositive() {
		return models.Deposit{}, false
	}

	now := s.clock.Now()
	logIndex := int64(lg.Index)
	blockNumber := int64(lg.BlockNumber)
	return models.Deposit{
		ID:               uuid.New(),
		UserID:           addrRow.UserID,
		AssetID:          asset.ID,
		ChainID:          ch.ID,
		DepositAddressID: addrRow.ID,
		TxHash:           strings.ToLower(lg.TxHash.Hex()),
		LogIndex:         &logIndex,
		BlockNumber:      &blockNumber,
		FromAddress:      strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()).Hex()),
		Amount:           amount,
		Status:           models.DepositConfirming,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, true
}

func insertObserved(ctx context.Context, tx *sqlx.Tx, d models.Deposit) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deposits (id, user_id, asset_id, chain_id, deposit_address_id, tx_hash, log_index, block_number, from_address, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (tx_hash, (COALESCE(log_index, -1)), chain_id) DO NOTHING`,
		d.ID, d.UserID, d.AssetID, d.ChainID, d.DepositAddressID,
		d.TxHash, d.LogIndex, d.BlockNumber, d.FromAddress, d.Amount, d.Status, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("deposits: insert observed: %w", err)
	}
	return nil
}
