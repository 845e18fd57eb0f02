// Package fraud scores withdrawal requests with the platform's
// heuristic rules. Scoring never blocks a submission; the score and its
// indicators ride on the request row to inform the admin reviewer.
package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/models"
)

// Severity buckets an indicator for the reviewer UI.
type Severity string

const (
	Low    Severity = "LOW"
	Medium Severity = "MEDIUM"
	High   Severity = "HIGH"
)

// Indicator types.
const (
	TypeNewAddress      = "NEW_ADDRESS"
	TypeHighAmount      = "HIGH_AMOUNT"
	TypeDailyLimit      = "DAILY_LIMIT"
	TypeVelocity        = "VELOCITY"
	TypeNewAccount      = "NEW_ACCOUNT"
	TypeUnverifiedEmail = "UNVERIFIED_EMAIL"
)

// Indicator is one triggered rule.
type Indicator struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Score       int      `json:"score"`
}

// Result is the scoring outcome persisted on the request.
type Result struct {
	Indicators []Indicator `json:"indicators"`
	TotalScore int         `json:"totalScore"`
}

// History answers the scorer's questions about the user's track record.
// The withdrawals service implements it against the store; tests plug a
// fake.
type History interface {
	// WhitelistEntry returns the whitelist row for (user, chain,
	// address), or nil when the destination was never used.
	WhitelistEntry(ctx context.Context, userID, chainID uuid.UUID, address string) (*models.AddressWhitelist, error)
	// WithdrawalStats returns the count of requests and the USD sum of
	// non-rejected requests the user made since the cutoff.
	WithdrawalStats(ctx context.Context, userID uuid.UUID, since time.Time) (count int, totalUSD decimal.Decimal, err error)
}

// Thresholds are the configurable rule boundaries.
type Thresholds struct {
	LargeWithdrawalUSD decimal.Decimal
	MaxDailyRequests   int
	NewAccountAge      time.Duration
}

// Request is the submission under scoring.
type Request struct {
	User               *models.User
	ChainID            uuid.UUID
	DestinationAddress string
	Amount             decimal.Decimal
	// PriceUSD is the asset's recorded unit price; zero disables the
	// USD-denominated rules rather than treating everything as free.
	PriceUSD decimal.Decimal
}

type Scorer struct {
	history    History
	thresholds Thresholds
	clock      clock.Clock
}

func NewScorer(history History, thresholds Thresholds, clk clock.Clock) *Scorer {
	return &Scorer{history: history, thresholds: thresholds, clock: clk}
}

// Score runs every rule and returns the indicators with their total.
func (s *Scorer) Score(ctx context.Context, req Request) (Result, error) {
	var res Result
	now := s.clock.Now()
	amountUSD := req.Amount.Mul(req.PriceUSD)

	// Destination history.
	entry, err := s.history.WhitelistEntry(ctx, req.User.ID, req.ChainID, req.DestinationAddress)
	if err != nil {
		return res, fmt.Errorf("fraud: whitelist lookup: %w", err)
	}
	switch {
	case entry == nil:
		res.add(Indicator{
			Type: TypeNewAddress, Severity: Medium, Score: 30,
			Description: "destination address has not been used before",
		})
	case entry.CooldownEndsAt.After(now):
		res.add(Indicator{
			Type: TypeNewAddress, Severity: High, Score: 50,
			Description: fmt.Sprintf("destination address is in cooldown until %s", entry.CooldownEndsAt.Format(time.RFC3339)),
		})
	}

	// Size against the platform threshold and the user's own limit.
	if amountUSD.GreaterThan(req.User.DailyWithdrawalLimitUSD) {
		res.add(Indicator{
			Type: TypeHighAmount, Severity: High, Score: 40,
			Description: fmt.Sprintf("amount ($%s) exceeds the user's daily limit ($%s)",
				amountUSD.StringFixed(2), req.User.DailyWithdrawalLimitUSD.StringFixed(2)),
		})
	} else if amountUSD.GreaterThan(s.thresholds.LargeWithdrawalUSD) {
		res.add(Indicator{
			Type: TypeHighAmount, Severity: Medium, Score: 20,
			Description: fmt.Sprintf("amount ($%s) exceeds the large-withdrawal threshold ($%s)",
				amountUSD.StringFixed(2), s.thresholds.LargeWithdrawalUSD.StringFixed(2)),
		})
	}

	// 24h cumulative volume and velocity.
	count, totalUSD, err := s.history.WithdrawalStats(ctx, req.User.ID, now.Add(-24*time.Hour))
	if err != nil {
		return res, fmt.Errorf("fraud: withdrawal stats: %w", err)
	}
	if totalUSD.Add(amountUSD).GreaterThan(req.User.DailyWithdrawalLimitUSD) {
		res.add(Indicator{
			Type: TypeDailyLimit, Severity: High, Score: 50,
			Description: fmt.Sprintf("cumulative 24h withdrawals ($%s) would exceed the daily limit ($%s)",
				totalUSD.Add(amountUSD).StringFixed(2), req.User.DailyWithdrawalLimitUSD.StringFixed(2)),
		})
	}
	if max := s.thresholds.MaxDailyRequests; max > 0 {
		switch {
		case count >= max:
			res.add(Indicator{
				Type: TypeVelocity, Severity: High, Score: 40,
				Description: fmt.Sprintf("%d withdrawal requests in the last 24h (limit %d)", count, max),
			})
		case count*10 >= max*7:
			res.add(Indicator{
				Type: TypeVelocity, Severity: Medium, Score: 20,
				Description: fmt.Sprintf("%d withdrawal requests in the last 24h approaches the limit of %d", count, max),
			})
		}
	}

	// Account trust.
	if req.User.CreatedAt.After(now.Add(-s.thresholds.NewAccountAge)) {
		res.add(Indicator{
			Type: TypeNewAccount, Severity: Medium, Score: 25,
			Description: fmt.Sprintf("account created %s ago", now.Sub(req.User.CreatedAt).Round(time.Hour)),
		})
	}
	if !req.User.EmailVerified {
		res.add(Indicator{
			Type: TypeUnverifiedEmail, Severity: Low, Score: 15,
			Description: "email address is not verified",
		})
	}

	if res.Indicators == nil {
		res.Indicators = []Indicator{}
	}
	return res, nil
}

func (r *Result) add(i Indicator) {
	r.Indicators = append(r.Indicators, i)
	r.TotalScore += i.Score
}
