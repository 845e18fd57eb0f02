package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/openvault/staked/internal/config"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
	"github.com/openvault/staked/internal/vault"
	"github.com/openvault/staked/internal/wallet"
)

// seedCmd applies the catalog idempotently: chains and assets upsert in
// place, pools are created once and never modified afterwards (APR
// changes go through the admin schedule endpoint).
func seedCmd(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	cat, err := config.LoadCatalog(c.String("catalog"))
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		for _, ch := range cat.Chains {
			if err := seedChain(ctx, tx, ch); err != nil {
				return err
			}
		}
		for _, p := range cat.Pools {
			if err := seedPool(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"chains": len(cat.Chains), "pools": len(cat.Pools),
	}).Info("catalog applied")

	if c.Bool("dev-treasury") {
		return seedDevTreasuries(ctx, st, cfg, log)
	}
	return nil
}

func seedChain(ctx context.Context, tx *sqlx.Tx, ch config.SeedChain) error {
	var chainID uuid.UUID
	err := tx.GetContext(ctx, &chainID, `
		INSERT INTO chains (slug, name, chain_id, rpc_endpoint, explorer_url, confirmations_required)
		VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6::bigint, 0), 12))
		ON CONFLICT ON CONSTRAINT uq_chains_slug DO UPDATE SET
		    name = EXCLUDED.name,
		    rpc_endpoint = EXCLUDED.rpc_endpoint,
		    explorer_url = EXCLUDED.explorer_url,
		    confirmations_required = EXCLUDED.confirmations_required
		RETURNING id`,
		ch.Slug, ch.Name, ch.ChainID, ch.RPCURL, ch.ExplorerURL, ch.Confirmations)
	if err != nil {
		return fmt.Errorf("seed: chain %s: %w", ch.Slug, err)
	}

	for _, a := range ch.Assets {
		price := decimal.Zero
		if a.PriceUSD != "" {
			price, err = decimal.NewFromString(a.PriceUSD)
			if err != nil {
				return fmt.Errorf("seed: asset %s/%s: bad priceUsd %q", ch.Slug, a.Symbol, a.PriceUSD)
			}
		}
		var contract *string
		if a.Contract != "" {
			v := strings.ToLower(a.Contract)
			contract = &v
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO assets (chain_id, symbol, name, decimals, contract_address, is_native, price_usd)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT ON CONSTRAINT uq_assets_chain_symbol DO UPDATE SET
			    name = EXCLUDED.name,
			    price_usd = EXCLUDED.price_usd,
			    updated_at = now()`,
			chainID, a.Symbol, a.Name, a.Decimals, contract, contract == nil, price)
		if err != nil {
			return fmt.Errorf("seed: asset %s/%s: %w", ch.Slug, a.Symbol, err)
		}
	}
	return nil
}

func seedPool(ctx context.Context, tx *sqlx.Tx, p config.SeedPool) error {
	var assetID uuid.UUID
	err := tx.GetContext(ctx, &assetID, `
		SELECT a.id FROM assets a JOIN chains c ON c.id = a.chain_id
		WHERE c.slug = $1 AND a.symbol = $2`, p.Chain, p.Asset)
	if err != nil {
		return fmt.Errorf("seed: pool %s: asset %s/%s not found: %w", p.Slug, p.Chain, p.Asset, err)
	}

	apr, err := decimal.NewFromString(p.APR)
	if err != nil {
		return fmt.Errorf("seed: pool %s: bad apr %q", p.Slug, p.APR)
	}
	minStake, err := decimal.NewFromString(p.MinStake)
	if err != nil {
		return fmt.Errorf("seed: pool %s: bad minStake %q", p.Slug, p.MinStake)
	}
	maxStake, err := optionalDecimal(p.MaxStake)
	if err != nil {
		return fmt.Errorf("seed: pool %s: bad maxStake %q", p.Slug, p.MaxStake)
	}
	capacity, err := optionalDecimal(p.TotalCapacity)
	if err != nil {
		return fmt.Errorf("seed: pool %s: bad totalCapacity %q", p.Slug, p.TotalCapacity)
	}
	poolType := models.PoolType(p.Type)
	if !poolType.Valid() {
		return fmt.Errorf("seed: pool %s: bad type %q", p.Slug, p.Type)
	}

	poolID := uuid.New()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO pools (id, slug, name, asset_id, type, lock_days, cooldown_hours, current_apr, min_stake, max_stake, total_capacity, total_staked, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, true)
		ON CONFLICT ON CONSTRAINT uq_pools_slug DO NOTHING`,
		poolID, p.Slug, p.Name, assetID, poolType, p.LockDays, p.CooldownHours,
		apr, minStake, maxStake, capacity)
	if err != nil {
		return fmt.Errorf("seed: pool %s: %w", p.Slug, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO apr_schedules (id, pool_id, apr, effective_from)
		VALUES ($1, $2, $3, now())`,
		uuid.New(), poolID, apr)
	if err != nil {
		return fmt.Errorf("seed: pool %s: opening schedule: %w", p.Slug, err)
	}
	return nil
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// seedDevTreasuries generates a sealed hot wallet for any chain that has
// no active treasury. Development convenience only; production wallets
// come in through the super-admin endpoint.
func seedDevTreasuries(ctx context.Context, st *store.Store, cfg *config.Config, log logrus.FieldLogger) error {
	v, err := vault.New(cfg.MasterKey)
	if err != nil {
		return err
	}
	keyring := wallet.NewKeyring(v)

	chains, err := st.ActiveChains(ctx)
	if err != nil {
		return err
	}
	for _, ch := range chains {
		var count int
		if err := st.DB().GetContext(ctx, &count,
			`SELECT count(*) FROM treasury_wallets WHERE chain_id = $1 AND is_active`, ch.ID); err != nil {
			return fmt.Errorf("seed: treasury count for %s: %w", ch.Slug, err)
		}
		if count > 0 {
			continue
		}
		sealed, addr, err := keyring.GenerateKey()
		if err != nil {
			return err
		}
		_, err = st.DB().ExecContext(ctx, `
			INSERT INTO treasury_wallets (chain_id, address, label, encrypted_private_key, is_active)
			VALUES ($1, $2, 'dev', $3, true)`,
			ch.ID, strings.ToLower(addr.Hex()), sealed)
		if err != nil {
			return fmt.Errorf("seed: treasury for %s: %w", ch.Slug, err)
		}
		log.WithFields(logrus.Fields{"chain": ch.Slug, "address": strings.ToLower(addr.Hex())}).
			Info("development treasury wallet generated")
	}
	return nil
}
