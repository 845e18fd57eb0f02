package withdrawals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
)

// storeHistory answers the fraud scorer's questions from the database.
type storeHistory struct {
	store *store.Store
}

func (h storeHistory) WhitelistEntry(ctx context.Context, userID, chainID uuid.UUID, address string) (*models.AddressWhitelist, error) {
	var w models.AddressWhitelist
	err := h.store.Querier(ctx).GetContext(ctx, &w, `
		SELECT * FROM address_whitelist
		WHERE user_id = $1 AND chain_id = $2 AND address = $3`,
		userID, chainID, strings.ToLower(address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("withdrawals: whitelist entry: %w", err)
	}
	return &w, nil
}

// WithdrawalStats counts every request since the cutoff but sums only
// non-rejected ones: a rejected request released its reserve and should
// not count against the daily dollar limit, while its mere existence
// still counts toward velocity.
func (h storeHistory) WithdrawalStats(ctx context.Context, userID uuid.UUID, since time.Time) (int, decimal.Decimal, error) {
	var row struct {
		Count    int             `db:"count"`
		TotalUSD decimal.Decimal `db:"total_usd"`
	}
	err := h.store.Querier(ctx).GetContext(ctx, &row, `
		SELECT count(*) AS count,
		       COALESCE(sum(w.amount * a.price_usd) FILTER (WHERE w.status <> $3), 0) AS total_usd
		FROM withdrawal_requests w
		JOIN assets a ON a.id = w.asset_id
		WHERE w.user_id = $1 AND w.created_at >= $2`,
		userID, since, models.WithdrawalRejected)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("withdrawals: stats: %w", err)
	}
	return row.Count, row.TotalUSD, nil
}
