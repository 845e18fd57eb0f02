// Package payouts executes approved withdrawals on chain: it signs and
// broadcasts the transfer from a treasury wallet, then tracks the
// transaction to confirmation depth. Processing is serialized per chain
// so treasury nonces stay monotonic.
package payouts

import (
	"context"

	"github.com/google/uuid"

	"github.com/openvault/staked/internal/queue"
)

// StatusQueue carries confirmation polls for sent payouts.
const StatusQueue = "payout:status"

// ProcessQueue names the per-chain broadcast queue. One queue per chain
// with concurrency 1 is what keeps nonce allocation single-writer.
func ProcessQueue(chainSlug string) string {
	return "payout:process:" + chainSlug
}

type processPayload struct {
	WithdrawalID uuid.UUID `json:"withdrawalId"`
}

type statusPayload struct {
	WithdrawalID uuid.UUID `json:"withdrawalId"`
	PayoutID     uuid.UUID `json:"payoutId"`
}

// EnqueueProcess schedules one withdrawal for broadcast. Called by the
// withdrawal service on approval and by the admin retry path.
func EnqueueProcess(ctx context.Context, q queue.Queue, chainSlug string, withdrawalID uuid.UUID) error {
	return q.Enqueue(ctx, ProcessQueue(chainSlug), processPayload{WithdrawalID: withdrawalID},
		queue.EnqueueOptions{MaxAttempts: 3})
}
