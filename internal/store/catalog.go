package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openvault/staked/internal/models"
)

// Catalog queries for chains and assets. These rows change rarely and
// are read by nearly every component, so they live on the Store rather
// than in any one domain package.

func (s *Store) ActiveChains(ctx context.Context) ([]models.Chain, error) {
	var chains []models.Chain
	err := s.Querier(ctx).SelectContext(ctx, &chains,
		`SELECT * FROM chains WHERE is_active = true ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("store: list active chains: %w", err)
	}
	return chains, nil
}

func (s *Store) ChainByID(ctx context.Context, id uuid.UUID) (*models.Chain, error) {
	var chain models.Chain
	err := s.Querier(ctx).GetContext(ctx, &chain,
		`SELECT * FROM chains WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get chain %s: %w", id, err)
	}
	return &chain, nil
}

func (s *Store) ChainBySlug(ctx context.Context, slug string) (*models.Chain, error) {
	var chain models.Chain
	err := s.Querier(ctx).GetContext(ctx, &chain,
		`SELECT * FROM chains WHERE slug = $1`, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get chain %q: %w", slug, err)
	}
	return &chain, nil
}

func (s *Store) AssetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	err := s.Querier(ctx).GetContext(ctx, &asset,
		`SELECT * FROM assets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get asset %s: %w", id, err)
	}
	return &asset, nil
}

// ActiveContractAssets returns the active ERC-20 assets on a chain,
// i.e. the contracts the deposit scanner watches.
func (s *Store) ActiveContractAssets(ctx context.Context, chainID uuid.UUID) ([]models.Asset, error) {
	var assets []models.Asset
	err := s.Querier(ctx).SelectContext(ctx, &assets,
		`SELECT * FROM assets
		 WHERE chain_id = $1 AND is_active = true AND contract_address IS NOT NULL
		 ORDER BY symbol`, chainID)
	if err != nil {
		return nil, fmt.Errorf("store: list contract assets: %w", err)
	}
	return assets, nil
}
