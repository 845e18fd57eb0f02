package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainsFromEnv(t *testing.T) {
	environ := []string{
		"ETHEREUM_RPC_URL=https://eth.example.com",
		"POLYGON_RPC_URL=https://poly.example.com",
		"POLYGON_CONFIRMATIONS=64",
		"ETHEREUM_CONFIRMATIONS=12",
		"DATABASE_URL=postgres://x",
		"EMPTY_RPC_URL=",
		"PATH=/usr/bin",
	}
	chains := chainsFromEnv(environ)
	require.Len(t, chains, 2)

	bySlug := map[string]ChainRPC{}
	for _, c := range chains {
		bySlug[c.Slug] = c
	}
	assert.Equal(t, "https://eth.example.com", bySlug["ethereum"].RPCURL)
	assert.EqualValues(t, 12, bySlug["ethereum"].Confirmations)
	assert.Equal(t, "https://poly.example.com", bySlug["polygon"].RPCURL)
	assert.EqualValues(t, 64, bySlug["polygon"].Confirmations)
}

func TestDecimalDecode(t *testing.T) {
	var d Decimal
	require.NoError(t, d.Decode(" 0.001 "))
	assert.Equal(t, "0.001", d.String())

	assert.Error(t, d.Decode("not-a-number"))
}

func TestCORSOrigins(t *testing.T) {
	cfg := &Config{CORSOriginsRaw: "https://app.example.com, https://admin.example.com ,"}
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSOrigins())

	cfg = &Config{CORSOriginsRaw: "*"}
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins())
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	doc := `
chains:
  - slug: ethereum
    name: Ethereum
    chainId: 1
    explorerUrl: https://etherscan.io
    confirmations: 12
    assets:
      - symbol: USDT
        name: Tether USD
        decimals: 6
        contract: "0xdac17f958d2ee523a2206206994597c13d831ec7"
        priceUsd: "1.0"
pools:
  - name: USDT Flexible
    slug: usdt-flexible
    chain: ethereum
    asset: USDT
    type: FLEXIBLE
    apr: "4.5"
    minStake: "10"
    cooldownHours: 24
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, cat.Chains, 1)
	require.Len(t, cat.Chains[0].Assets, 1)
	require.Len(t, cat.Pools, 1)
	assert.Equal(t, "usdt-flexible", cat.Pools[0].Slug)
	assert.EqualValues(t, 6, cat.Chains[0].Assets[0].Decimals)
}

func TestLoadCatalogRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chains:\n  - name: NoSlug\n"), 0o600))

	_, err := LoadCatalog(path)
	assert.Error(t, err)
}
