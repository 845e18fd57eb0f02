package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func entry(t models.EntryType, amount string, meta string) models.LedgerEntry {
	uid := uuid.New()
	e := models.LedgerEntry{
		UserID:        &uid,
		AssetID:       uuid.New(),
		ChainID:       uuid.New(),
		EntryType:     t,
		Amount:        dec(amount),
		ReferenceType: models.RefAdjustment,
		ReferenceID:   uuid.New(),
	}
	if d, ok := DirectionOf(t); ok {
		e.Direction = d
	}
	if meta != "" {
		e.Metadata = types.JSONText(meta)
	}
	return e
}

func TestEffectOfProjection(t *testing.T) {
	tests := []struct {
		name  string
		entry models.LedgerEntry
		want  Delta
	}{
		{
			name:  "deposit confirmed credits available",
			entry: entry(models.EntryDepositConfirmed, "100", ""),
			want:  Delta{Available: dec("100")},
		},
		{
			name:  "stake created moves available to staked",
			entry: entry(models.EntryStakeCreated, "40", ""),
			want:  Delta{Available: dec("-40"), Staked: dec("40")},
		},
		{
			name:  "stake cancelled returns principal",
			entry: entry(models.EntryStakeCancelled, "40", ""),
			want:  Delta{Available: dec("40"), Staked: dec("-40")},
		},
		{
			name:  "stake cancelled forfeits unclaimed rewards",
			entry: entry(models.EntryStakeCancelled, "40", `{"forfeitedRewards":"0.5"}`),
			want:  Delta{Available: dec("40"), Staked: dec("-40"), Rewards: dec("-0.5")},
		},
		{
			name:  "unstake completed splits principal and rewards",
			entry: entry(models.EntryUnstakeCompleted, "40.1", `{"principal":"40","rewards":"0.1"}`),
			want:  Delta{Available: dec("40.1"), Staked: dec("-40"), Rewards: dec("-0.1")},
		},
		{
			name:  "reward accrued credits rewards only",
			entry: entry(models.EntryRewardAccrued, "0.1", ""),
			want:  Delta{Rewards: dec("0.1")},
		},
		{
			name:  "reward claimed moves rewards to available",
			entry: entry(models.EntryRewardClaimed, "0.1", ""),
			want:  Delta{Available: dec("0.1"), Rewards: dec("-0.1")},
		},
		{
			name:  "withdrawal requested reserves available",
			entry: entry(models.EntryWithdrawalRequested, "25", ""),
			want:  Delta{Available: dec("-25"), Pending: dec("25")},
		},
		{
			name:  "withdrawal rejected releases the reserve",
			entry: entry(models.EntryWithdrawalRejected, "25", ""),
			want:  Delta{Available: dec("25"), Pending: dec("-25")},
		},
		{
			name:  "withdrawal paid drains the reserve",
			entry: entry(models.EntryWithdrawalPaid, "25", ""),
			want:  Delta{Pending: dec("-25")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EffectOf(tt.entry)
			require.NoError(t, err)
			assert.True(t, got.Available.Equal(tt.want.Available), "available: got %s want %s", got.Available, tt.want.Available)
			assert.True(t, got.Staked.Equal(tt.want.Staked), "staked: got %s want %s", got.Staked, tt.want.Staked)
			assert.True(t, got.Rewards.Equal(tt.want.Rewards), "rewards: got %s want %s", got.Rewards, tt.want.Rewards)
			assert.True(t, got.Pending.Equal(tt.want.Pending), "pending: got %s want %s", got.Pending, tt.want.Pending)
		})
	}
}

func TestEffectOfAdjustmentFollowsDirection(t *testing.T) {
	credit := entry(models.EntryAdjustment, "5", "")
	credit.Direction = models.Credit
	got, err := EffectOf(credit)
	require.NoError(t, err)
	assert.True(t, got.Available.Equal(dec("5")))

	debit := entry(models.EntryAdjustment, "5", "")
	debit.Direction = models.Debit
	got, err = EffectOf(debit)
	require.NoError(t, err)
	assert.True(t, got.Available.Equal(dec("-5")))

	missing := entry(models.EntryAdjustment, "5", "")
	missing.Direction = ""
	_, err = EffectOf(missing)
	assert.Error(t, err)
}

func TestEffectOfRejectsBadEntries(t *testing.T) {
	t.Run("non-positive amount", func(t *testing.T) {
		e := entry(models.EntryDepositConfirmed, "100", "")
		e.Amount = decimal.Zero
		_, err := EffectOf(e)
		assert.True(t, apperr.IsKind(err, apperr.Validation))
	})

	t.Run("wrong direction", func(t *testing.T) {
		e := entry(models.EntryDepositConfirmed, "100", "")
		e.Direction = models.Debit
		_, err := EffectOf(e)
		assert.True(t, apperr.IsKind(err, apperr.Validation))
	})

	t.Run("unstake split does not sum to amount", func(t *testing.T) {
		e := entry(models.EntryUnstakeCompleted, "40.1", `{"principal":"40","rewards":"0.2"}`)
		_, err := EffectOf(e)
		assert.True(t, apperr.IsKind(err, apperr.Validation))
	})

	t.Run("unstake split negative", func(t *testing.T) {
		e := entry(models.EntryUnstakeCompleted, "40", `{"principal":"41","rewards":"-1"}`)
		_, err := EffectOf(e)
		assert.True(t, apperr.IsKind(err, apperr.Validation))
	})

	t.Run("negative forfeited rewards", func(t *testing.T) {
		e := entry(models.EntryStakeCancelled, "40", `{"forfeitedRewards":"-1"}`)
		_, err := EffectOf(e)
		assert.True(t, apperr.IsKind(err, apperr.Validation))
	})

	t.Run("unknown entry type", func(t *testing.T) {
		e := entry(models.EntryType("BOGUS"), "1", "")
		_, err := EffectOf(e)
		assert.True(t, apperr.IsKind(err, apperr.Validation))
	})
}

func TestDirectionOfCoversEveryType(t *testing.T) {
	credits := []models.EntryType{
		models.EntryDepositConfirmed, models.EntryStakeCancelled,
		models.EntryUnstakeCompleted, models.EntryRewardAccrued,
		models.EntryRewardClaimed, models.EntryWithdrawalRejected,
	}
	for _, et := range credits {
		d, ok := DirectionOf(et)
		assert.True(t, ok, "%s", et)
		assert.Equal(t, models.Credit, d, "%s", et)
	}

	debits := []models.EntryType{
		models.EntryStakeCreated, models.EntryWithdrawalRequested, models.EntryWithdrawalPaid,
	}
	for _, et := range debits {
		d, ok := DirectionOf(et)
		assert.True(t, ok, "%s", et)
		assert.Equal(t, models.Debit, d, "%s", et)
	}

	_, ok := DirectionOf(models.EntryAdjustment)
	assert.False(t, ok)
}
