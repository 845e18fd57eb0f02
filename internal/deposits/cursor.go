package deposits

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openvault/staked/internal/store"
)

// The scan cursor lives in system_config so a restarted scanner resumes
// where the last committed window ended.
func cursorKey(chainSlug string) string {
	return "last_scanned_block_" + chainSlug
}

func readCursor(ctx context.Context, st *store.Store, chainSlug string) (int64, error) {
	var raw json.RawMessage
	err := st.Querier(ctx).GetContext(ctx, &raw,
		`SELECT value FROM system_config WHERE key = $1`, cursorKey(chainSlug))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("deposits: read cursor: %w", err)
	}
	var block int64
	if err := json.Unmarshal(raw, &block); err != nil {
		return 0, fmt.Errorf("deposits: decode cursor %s: %w", cursorKey(chainSlug), err)
	}
	return block, nil
}

func writeCursor(ctx context.Context, st *store.Store, chainSlug string, block int64) error {
	_, err := st.Querier(ctx).ExecContext(ctx, `
		INSERT INTO system_config (key, value, updated_at) VALUES ($1, to_jsonb($2::bigint), now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		cursorKey(chainSlug), block)
	if err != nil {
		return fmt.Errorf("deposits: write cursor: %w", err)
	}
	return nil
}
