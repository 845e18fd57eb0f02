package staking

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRewardFor(t *testing.T) {
	// 1000 at 10% APR over a full year earns 100.
	got := rewardFor(dec("1000"), dec("10"), 365*24*time.Hour)
	assert.True(t, got.Equal(dec("100")), "got %s", got)

	// One day earns 100/365.
	got = rewardFor(dec("1000"), dec("10"), 24*time.Hour)
	want := dec("100").Div(decimal.NewFromInt(365))
	assert.True(t, got.Equal(want), "got %s want %s", got, want)

	// One second earns the per-second rate exactly.
	got = rewardFor(dec("1000"), dec("10"), time.Second)
	want = dec("100").Div(decimal.NewFromInt(365 * 86400))
	assert.True(t, got.Equal(want), "got %s want %s", got, want)
}

func TestRewardForSubSecondIsZero(t *testing.T) {
	assert.True(t, rewardFor(dec("1000"), dec("10"), 999*time.Millisecond).IsZero())
	assert.True(t, rewardFor(dec("1000"), dec("10"), 0).IsZero())
	assert.True(t, rewardFor(dec("1000"), dec("10"), -time.Hour).IsZero())
}

func TestRewardForZeroAPR(t *testing.T) {
	assert.True(t, rewardFor(dec("1000"), decimal.Zero, 24*time.Hour).IsZero())
}

func TestRewardForFractionalSecondsTruncate(t *testing.T) {
	// 90.5s counts as 90 whole seconds.
	got := rewardFor(dec("1000"), dec("10"), 90*time.Second+500*time.Millisecond)
	want := rewardFor(dec("1000"), dec("10"), 90*time.Second)
	assert.True(t, got.Equal(want))
}

func TestEstimateRewards(t *testing.T) {
	// 500 at 7.3% over 100 days: 500 * 0.073 * 100/365 = 10.
	got := EstimateRewards(dec("500"), dec("7.3"), 100)
	assert.True(t, got.Equal(dec("10")), "got %s", got)

	assert.True(t, EstimateRewards(dec("500"), dec("7.3"), 0).IsZero())
	assert.True(t, EstimateRewards(dec("500"), dec("7.3"), -1).IsZero())
}

func TestEstimateRewardsMatchesAccrualRate(t *testing.T) {
	// The calculator and the accrual engine must agree over whole days.
	amount, apr := dec("1234.5"), dec("12.5")
	calc := EstimateRewards(amount, apr, 30)
	accrued := rewardFor(amount, apr, 30*24*time.Hour)
	assert.True(t, calc.Equal(accrued), "calculator %s accrual %s", calc, accrued)
}
