package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the YAML seed description of chains, assets and pools
// applied by `staked seed`. Decimal-valued fields stay strings here and
// are parsed by the seeder so a malformed catalog fails loudly with the
// offending entry named.
type Catalog struct {
	Chains []SeedChain `yaml:"chains"`
	Pools  []SeedPool  `yaml:"pools"`
}

type SeedChain struct {
	Slug          string      `yaml:"slug"`
	Name          string      `yaml:"name"`
	ChainID       int64       `yaml:"chainId"`
	RPCURL        string      `yaml:"rpcUrl"`
	ExplorerURL   string      `yaml:"explorerUrl"`
	Confirmations int64       `yaml:"confirmations"`
	Assets        []SeedAsset `yaml:"assets"`
}

type SeedAsset struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals int32  `yaml:"decimals"`
	// Contract is the ERC-20 address; empty means the chain's native
	// coin.
	Contract string `yaml:"contract"`
	PriceUSD string `yaml:"priceUsd"`
}

type SeedPool struct {
	Name          string `yaml:"name"`
	Slug          string `yaml:"slug"`
	Chain         string `yaml:"chain"`
	Asset         string `yaml:"asset"`
	Type          string `yaml:"type"`
	LockDays      int32  `yaml:"lockDays"`
	APR           string `yaml:"apr"`
	MinStake      string `yaml:"minStake"`
	MaxStake      string `yaml:"maxStake"`
	TotalCapacity string `yaml:"totalCapacity"`
	CooldownHours int32  `yaml:"cooldownHours"`
}

// LoadCatalog parses the seed catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(b, &cat); err != nil {
		return nil, fmt.Errorf("config: parse catalog %s: %w", path, err)
	}
	for i, ch := range cat.Chains {
		if ch.Slug == "" || ch.ChainID == 0 {
			return nil, fmt.Errorf("config: catalog chain %d: slug and chainId are required", i)
		}
	}
	for i, p := range cat.Pools {
		if p.Slug == "" || p.Chain == "" || p.Asset == "" {
			return nil, fmt.Errorf("config: catalog pool %d: slug, chain and asset are required", i)
		}
	}
	return &cat, nil
}
