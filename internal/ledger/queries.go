package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
)

// Service answers balance and history reads from the projection and the
// journal. Reads join an ambient transaction when one is present, so a
// service can check a balance and post against it atomically.
type Service struct {
	store *store.Store
}

func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// Balance returns the projection row for one (user, asset, chain). A
// user who never touched the asset gets a zero row, not an error.
func (s *Service) Balance(ctx context.Context, userID, assetID, chainID uuid.UUID) (models.BalanceCache, error) {
	var b models.BalanceCache
	err := s.store.Querier(ctx).GetContext(ctx, &b, `
		SELECT user_id, asset_id, chain_id, available, staked, rewards_accrued, withdrawals_pending, updated_at
		FROM balance_cache
		WHERE user_id = $1 AND asset_id = $2 AND chain_id = $3`,
		userID, assetID, chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BalanceCache{UserID: userID, AssetID: assetID, ChainID: chainID}, nil
	}
	if err != nil {
		return models.BalanceCache{}, fmt.Errorf("ledger: get balance: %w", err)
	}
	return b, nil
}

// Balances lists every projection row the user has.
func (s *Service) Balances(ctx context.Context, userID uuid.UUID) ([]models.BalanceCache, error) {
	balances := []models.BalanceCache{}
	err := s.store.Querier(ctx).SelectContext(ctx, &balances, `
		SELECT user_id, asset_id, chain_id, available, staked, rewards_accrued, withdrawals_pending, updated_at
		FROM balance_cache
		WHERE user_id = $1
		ORDER BY asset_id, chain_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list balances: %w", err)
	}
	return balances, nil
}

// EntriesFilter narrows a journal listing. Zero values mean no filter.
type EntriesFilter struct {
	EntryType models.EntryType
	AssetID   uuid.UUID
	ChainID   uuid.UUID
	Limit     int
	Offset    int
}

const maxEntriesPage = 200

// Entries lists a user's journal rows, newest first.
func (s *Service) Entries(ctx context.Context, userID uuid.UUID, f EntriesFilter) ([]models.LedgerEntry, error) {
	where := []string{"user_id = $1"}
	args := []interface{}{userID}

	if f.EntryType != "" {
		args = append(args, f.EntryType)
		where = append(where, fmt.Sprintf("entry_type = $%d", len(args)))
	}
	if f.AssetID != uuid.Nil {
		args = append(args, f.AssetID)
		where = append(where, fmt.Sprintf("asset_id = $%d", len(args)))
	}
	if f.ChainID != uuid.Nil {
		args = append(args, f.ChainID)
		where = append(where, fmt.Sprintf("chain_id = $%d", len(args)))
	}

	limit := f.Limit
	if limit <= 0 || limit > maxEntriesPage {
		limit = maxEntriesPage
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT id, user_id, asset_id, chain_id, entry_type, direction, amount, balance_after, reference_type, reference_id, metadata, created_at
		FROM ledger_entries
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), len(args)-1, len(args))

	entries := []models.LedgerEntry{}
	if err := s.store.Querier(ctx).SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	return entries, nil
}

// EntriesByReference returns every journal row recorded against one
// reference, oldest first. Admin tooling uses this to trace a deposit
// or withdrawal through its lifecycle.
func (s *Service) EntriesByReference(ctx context.Context, refType string, refID uuid.UUID) ([]models.LedgerEntry, error) {
	entries := []models.LedgerEntry{}
	err := s.store.Querier(ctx).SelectContext(ctx, &entries, `
		SELECT id, user_id, asset_id, chain_id, entry_type, direction, amount, balance_after, reference_type, reference_id, metadata, created_at
		FROM ledger_entries
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY created_at, id`,
		refType, refID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries by reference: %w", err)
	}
	return entries, nil
}
