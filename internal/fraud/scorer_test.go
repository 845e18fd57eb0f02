package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/models"
)

type fakeHistory struct {
	entry    *models.AddressWhitelist
	count    int
	totalUSD decimal.Decimal
}

func (f fakeHistory) WhitelistEntry(ctx context.Context, userID, chainID uuid.UUID, address string) (*models.AddressWhitelist, error) {
	return f.entry, nil
}

func (f fakeHistory) WithdrawalStats(ctx context.Context, userID uuid.UUID, since time.Time) (int, decimal.Decimal, error) {
	return f.count, f.totalUSD, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testThresholds() Thresholds {
	return Thresholds{
		LargeWithdrawalUSD: dec("10000"),
		MaxDailyRequests:   10,
		NewAccountAge:      7 * 24 * time.Hour,
	}
}

func trustedUser(clk clock.Clock) *models.User {
	return &models.User{
		ID:                      uuid.New(),
		EmailVerified:           true,
		DailyWithdrawalLimitUSD: dec("50000"),
		CreatedAt:               clk.Now().Add(-30 * 24 * time.Hour),
	}
}

func whitelisted(clk clock.Clock) *models.AddressWhitelist {
	return &models.AddressWhitelist{CooldownEndsAt: clk.Now().Add(-time.Hour)}
}

func hasIndicator(res Result, typ string) (Indicator, bool) {
	for _, i := range res.Indicators {
		if i.Type == typ {
			return i, true
		}
	}
	return Indicator{}, false
}

func TestScoreCleanRequest(t *testing.T) {
	clk := clock.NewSimulated(testStart)
	s := NewScorer(fakeHistory{entry: whitelisted(clk)}, testThresholds(), clk)

	res, err := s.Score(context.Background(), Request{
		User:     trustedUser(clk),
		ChainID:  uuid.New(),
		Amount:   dec("100"),
		PriceUSD: dec("1"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Indicators)
	assert.Zero(t, res.TotalScore)
}

func TestScoreNewAddress(t *testing.T) {
	clk := clock.NewSimulated(testStart)
	s := NewScorer(fakeHistory{}, testThresholds(), clk)

	res, err := s.Score(context.Background(), Request{
		User: trustedUser(clk), ChainID: uuid.New(),
		Amount: dec("100"), PriceUSD: dec("1"),
	})
	require.NoError(t, err)
	ind, ok := hasIndicator(res, TypeNewAddress)
	require.True(t, ok)
	assert.Equal(t, Medium, ind.Severity)
	assert.Equal(t, 30, res.TotalScore)
}

func TestScoreAddressInCooldown(t *testing.T) {
	clk := clock.NewSimulated(testStart)
	entry := &models.AddressWhitelist{CooldownEndsAt: clk.Now().Add(6 * time.Hour)}
	s := NewScorer(fakeHistory{entry: entry}, testThresholds(), clk)

	res, err := s.Score(context.Background(), Request{
		User: trustedUser(clk), ChainID: uuid.New(),
		Amount: dec("100"), PriceUSD: dec("1"),
	})
	require.NoError(t, err)
	ind, ok := hasIndicator(res, TypeNewAddress)
	require.True(t, ok)
	assert.Equal(t, High, ind.Severity)
	assert.Equal(t, 50, ind.Score)
}

func TestScoreAmountRules(t *testing.T) {
	clk := clock.NewSimulated(testStart)

	t.Run("above large-withdrawal threshold", func(t *testing.T) {
		s := NewScorer(fakeHistory{entry: whitelisted(clk)}, testThresholds(), clk)
		res, err := s.Score(context.Background(), Request{
			User: trustedUser(clk), ChainID: uuid.New(),
			Amount: dec("11000"), PriceUSD: dec("1"),
		})
		require.NoError(t, err)
		ind, ok := hasIndicator(res, TypeHighAmount)
		require.True(t, ok)
		assert.Equal(t, Medium, ind.Severity)
	})

	t.Run("above the user's own limit", func(t *testing.T) {
		s := NewScorer(fakeHistory{entry: whitelisted(clk)}, testThresholds(), clk)
		res, err := s.Score(context.Background(), Request{
			User: trustedUser(clk), ChainID: uuid.New(),
			Amount: dec("60000"), PriceUSD: dec("1"),
		})
		require.NoError(t, err)
		ind, ok := hasIndicator(res, TypeHighAmount)
		require.True(t, ok)
		assert.Equal(t, High, ind.Severity)
		// The cumulative rule fires too: 0 + 60000 > 50000.
		_, ok = hasIndicator(res, TypeDailyLimit)
		assert.True(t, ok)
	})

	t.Run("zero price disables USD rules", func(t *testing.T) {
		s := NewScorer(fakeHistory{entry: whitelisted(clk)}, testThresholds(), clk)
		res, err := s.Score(context.Background(), Request{
			User: trustedUser(clk), ChainID: uuid.New(),
			Amount: dec("999999999"), PriceUSD: decimal.Zero,
		})
		require.NoError(t, err)
		_, ok := hasIndicator(res, TypeHighAmount)
		assert.False(t, ok)
	})
}

func TestScoreVelocity(t *testing.T) {
	clk := clock.NewSimulated(testStart)

	t.Run("at the request cap", func(t *testing.T) {
		s := NewScorer(fakeHistory{entry: whitelisted(clk), count: 10}, testThresholds(), clk)
		res, err := s.Score(context.Background(), Request{
			User: trustedUser(clk), ChainID: uuid.New(),
			Amount: dec("1"), PriceUSD: dec("1"),
		})
		require.NoError(t, err)
		ind, ok := hasIndicator(res, TypeVelocity)
		require.True(t, ok)
		assert.Equal(t, High, ind.Severity)
	})

	t.Run("approaching the cap", func(t *testing.T) {
		s := NewScorer(fakeHistory{entry: whitelisted(clk), count: 7}, testThresholds(), clk)
		res, err := s.Score(context.Background(), Request{
			User: trustedUser(clk), ChainID: uuid.New(),
			Amount: dec("1"), PriceUSD: dec("1"),
		})
		require.NoError(t, err)
		ind, ok := hasIndicator(res, TypeVelocity)
		require.True(t, ok)
		assert.Equal(t, Medium, ind.Severity)
	})
}

func TestScoreAccountTrust(t *testing.T) {
	clk := clock.NewSimulated(testStart)
	user := trustedUser(clk)
	user.CreatedAt = clk.Now().Add(-24 * time.Hour)
	user.EmailVerified = false

	s := NewScorer(fakeHistory{entry: whitelisted(clk)}, testThresholds(), clk)
	res, err := s.Score(context.Background(), Request{
		User: user, ChainID: uuid.New(),
		Amount: dec("1"), PriceUSD: dec("1"),
	})
	require.NoError(t, err)
	_, ok := hasIndicator(res, TypeNewAccount)
	assert.True(t, ok)
	_, ok = hasIndicator(res, TypeUnverifiedEmail)
	assert.True(t, ok)
	assert.Equal(t, 40, res.TotalScore)
}

func TestScoreDailyLimitCumulative(t *testing.T) {
	clk := clock.NewSimulated(testStart)
	s := NewScorer(fakeHistory{entry: whitelisted(clk), count: 2, totalUSD: dec("49000")}, testThresholds(), clk)

	res, err := s.Score(context.Background(), Request{
		User: trustedUser(clk), ChainID: uuid.New(),
		Amount: dec("2000"), PriceUSD: dec("1"),
	})
	require.NoError(t, err)
	ind, ok := hasIndicator(res, TypeDailyLimit)
	require.True(t, ok)
	assert.Equal(t, 50, ind.Score)
}
