// Package deposits implements the deposit pipeline: per-user address
// allocation, the on-chain transfer scanner and the confirmation
// tracker that turns confirmed transfers into ledger credits.
package deposits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
	"github.com/openvault/staked/internal/wallet"
)

// Service owns deposit addresses and deposit reads.
type Service struct {
	store  *store.Store
	signer wallet.Signer
	clock  clock.Clock
	log    logrus.FieldLogger
}

func NewService(st *store.Store, signer wallet.Signer, clk clock.Clock, log logrus.FieldLogger) *Service {
	return &Service{store: st, signer: signer, clock: clk, log: log.WithField("component", "deposits")}
}

// GetOrCreateAddress returns the user's deposit address on chainID,
// allocating one on first use. The derivation index is chosen as
// max+1 inside the inserting transaction under a chain-scoped advisory
// lock, so concurrent allocations on one chain serialize and indexes
// stay dense and unique.
func (s *Service) GetOrCreateAddress(ctx context.Context, userID, chainID uuid.UUID) (*models.DepositAddress, error) {
	if existing, err := s.addressFor(ctx, userID, chainID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if s.signer == nil {
		return nil, apperr.Wrap(wallet.ErrNoSigner, apperr.Fatal, "", "deposit address allocation unavailable")
	}

	chain, err := s.store.ChainByID(ctx, chainID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFoundf("chain not found")
	}
	if err != nil {
		return nil, err
	}
	if !chain.IsActive {
		return nil, apperr.Reject(apperr.CodeChainInactive, "chain is not active")
	}

	var addr *models.DepositAddress
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		// The lock scopes to this transaction and keys on the chain
		// row so allocations on different chains do not contend.
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtext('deposit_address_alloc'), hashtext($1))`,
			chainID.String()); err != nil {
			return fmt.Errorf("deposits: advisory lock: %w", err)
		}

		// Re-check under the lock; a concurrent request may have
		// allocated while this one waited.
		if existing, err := s.addressFor(ctx, userID, chainID); err == nil {
			addr = existing
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		var next int64
		if err := tx.GetContext(ctx, &next,
			`SELECT COALESCE(MAX(derivation_index), -1) + 1 FROM deposit_addresses WHERE chain_id = $1`,
			chainID); err != nil {
			return fmt.Errorf("deposits: next index: %w", err)
		}

		address, path, err := s.signer.DeriveAddress(chain.ChainID, next)
		if err != nil {
			return err
		}

		row := &models.DepositAddress{
			ID:              uuid.New(),
			UserID:          userID,
			ChainID:         chainID,
			Address:         strings.ToLower(address.Hex()),
			DerivationPath:  &path,
			DerivationIndex: &next,
			CreatedAt:       s.clock.Now(),
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deposit_addresses (id, user_id, chain_id, address, derivation_path, derivation_index, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			row.ID, row.UserID, row.ChainID, row.Address, row.DerivationPath, row.DerivationIndex, row.CreatedAt,
		); err != nil {
			if store.IsUniqueViolation(err, "uq_deposit_addresses_user_chain") {
				return store.ErrDuplicate
			}
			return fmt.Errorf("deposits: insert address: %w", err)
		}
		addr = row
		s.log.WithFields(logrus.Fields{
			"user_id": userID, "chain": chain.Slug, "index": next,
		}).Info("deposit address allocated")
		return nil
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with another node; the row exists now.
		return s.addressFor(ctx, userID, chainID)
	}
	if err != nil {
		return nil, err
	}
	return addr, nil
}

func (s *Service) addressFor(ctx context.Context, userID, chainID uuid.UUID) (*models.DepositAddress, error) {
	var row models.DepositAddress
	err := s.store.Querier(ctx).GetContext(ctx, &row,
		`SELECT * FROM deposit_addresses WHERE user_id = $1 AND chain_id = $2`, userID, chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deposits: get address: %w", err)
	}
	return &row, nil
}

// ListFilter narrows a deposit listing.
type ListFilter struct {
	ChainID uuid.UUID
	Status  models.DepositStatus
	Limit   int
	Offset  int
}

// List returns the user's deposits, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, f ListFilter) ([]models.Deposit, error) {
	where := []string{"user_id = $1"}
	args := []interface{}{userID}
	if f.ChainID != uuid.Nil {
		args = append(args, f.ChainID)
		where = append(where, fmt.Sprintf("chain_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows := []models.Deposit{}
	err := s.store.Querier(ctx).SelectContext(ctx, &rows, fmt.Sprintf(`
		SELECT * FROM deposits WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("deposits: list: %w", err)
	}
	return rows, nil
}

// ListAll pages deposits across users for the admin surface.
func (s *Service) ListAll(ctx context.Context, status models.DepositStatus, limit, offset int) ([]models.Deposit, int64, error) {
	where, args := "TRUE", []interface{}{}
	if status != "" {
		args = append(args, status)
		where = "status = $1"
	}
	var total int64
	if err := s.store.Querier(ctx).GetContext(ctx, &total,
		`SELECT count(*) FROM deposits WHERE `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("deposits: count: %w", err)
	}
	args = append(args, limit, offset)
	rows := []models.Deposit{}
	err := s.store.Querier(ctx).SelectContext(ctx, &rows, fmt.Sprintf(`
		SELECT * FROM deposits WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("deposits: list all: %w", err)
	}
	return rows, total, nil
}
