// Package config loads the service configuration from the environment,
// with an optional .env file for development. Chains are discovered
// from {SLUG}_RPC_URL variables; everything else decodes into Config
// via struct tags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Decimal wraps decimal.Decimal so envdecode can parse it.
type Decimal struct {
	decimal.Decimal
}

// Decode implements envdecode.Decoder.
func (d *Decimal) Decode(s string) error {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	d.Decimal = v
	return nil
}

// ChainRPC is one chain endpoint discovered from the environment: the
// variable FOO_RPC_URL yields slug "foo", with FOO_CONFIRMATIONS as an
// optional confirmation-depth override.
type ChainRPC struct {
	Slug          string
	RPCURL        string
	Confirmations int64 // 0 means use the chain row's value
}

// Security holds the withdrawal-risk thresholds.
type Security struct {
	LargeWithdrawalThresholdUSD Decimal       `env:"LARGE_WITHDRAWAL_THRESHOLD_USD,default=10000"`
	DefaultDailyLimitUSD        Decimal       `env:"DEFAULT_DAILY_WITHDRAWAL_LIMIT_USD,default=50000"`
	MaxDailyWithdrawalRequests  int           `env:"MAX_DAILY_WITHDRAWAL_REQUESTS,default=10"`
	WithdrawalFeeRate           Decimal       `env:"WITHDRAWAL_FEE_RATE,default=0.001"`
	MinWithdrawalFee            Decimal       `env:"MIN_WITHDRAWAL_FEE,default=0.0001"`
	AddressCooldown             time.Duration `env:"ADDRESS_COOLDOWN,default=24h"`
	NewAccountAge               time.Duration `env:"NEW_ACCOUNT_AGE,default=168h"`
}

// Workers holds the background cadence knobs.
type Workers struct {
	ScanInterval    time.Duration `env:"SCAN_INTERVAL,default=30s"`
	ConfirmInterval time.Duration `env:"CONFIRM_INTERVAL,default=30s"`
	AccrualInterval time.Duration `env:"ACCRUAL_INTERVAL,default=60s"`
	ScanLookback    int64         `env:"SCAN_LOOKBACK_BLOCKS,default=10000"`
	ScanChunk       int64         `env:"SCAN_CHUNK_BLOCKS,default=2000"`
}

// Config is the full service configuration.
type Config struct {
	Env      string `env:"APP_ENV,default=development"`
	HTTPAddr string `env:"HTTP_ADDR,default=:8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
	LogJSON  bool   `env:"LOG_JSON,default=false"`

	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,default=redis://localhost:6379/0"`

	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET,required"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET,required"`
	AccessTokenTTL   time.Duration `env:"JWT_ACCESS_EXPIRES,default=15m"`
	RefreshTokenTTL  time.Duration `env:"JWT_REFRESH_EXPIRES,default=168h"`

	// MasterKey is the passphrase the vault derives its sealing key
	// from. Rotating it requires re-sealing every stored secret.
	MasterKey string `env:"MASTER_KEY,required"`

	// DevSignerSeed enables the deterministic development signer when
	// set. Production deployments leave it empty and plug an external
	// signer.
	DevSignerSeed string `env:"DEV_SIGNER_SEED,default="`

	CORSOriginsRaw string `env:"CORS_ORIGINS,default=*"`

	TOTPIssuer string `env:"TOTP_ISSUER,default=OpenVault"`

	Security Security
	Workers  Workers

	// Chains is populated from {SLUG}_RPC_URL variables, not by
	// envdecode.
	Chains []ChainRPC
}

// CORSOrigins returns the configured allowed origins.
func (c *Config) CORSOrigins() []string {
	parts := strings.Split(c.CORSOriginsRaw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ChainRPCBySlug returns the endpoint override for slug, if any.
func (c *Config) ChainRPCBySlug(slug string) (ChainRPC, bool) {
	for _, cr := range c.Chains {
		if cr.Slug == slug {
			return cr, true
		}
	}
	return ChainRPC{}, false
}

// Load reads .env when present and decodes the environment.
func Load() (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Chains = chainsFromEnv(os.Environ())

	if len(cfg.MasterKey) < 16 {
		return nil, fmt.Errorf("config: MASTER_KEY must be at least 16 characters")
	}
	return &cfg, nil
}

// chainsFromEnv scans environ for {SLUG}_RPC_URL pairs. Reserved
// prefixes that end in _RPC_URL but configure something else would be
// skipped here; there are none today.
func chainsFromEnv(environ []string) []ChainRPC {
	confs := map[string]int64{}
	var chains []ChainRPC
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		switch {
		case strings.HasSuffix(key, "_RPC_URL"):
			slug := strings.ToLower(strings.TrimSuffix(key, "_RPC_URL"))
			if slug == "" || val == "" {
				continue
			}
			chains = append(chains, ChainRPC{Slug: slug, RPCURL: val})
		case strings.HasSuffix(key, "_CONFIRMATIONS"):
			slug := strings.ToLower(strings.TrimSuffix(key, "_CONFIRMATIONS"))
			if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
				confs[slug] = n
			}
		}
	}
	for i := range chains {
		if n, ok := confs[chains[i].Slug]; ok {
			chains[i].Confirmations = n
		}
	}
	return chains
}
