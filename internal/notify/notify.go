// Package notify writes user-facing notification rows. Writes are
// best-effort: a failed notification is logged and dropped, never
// allowed to roll back the financial transition that produced it, so
// the Notifier always writes on the plain handle even when the caller
// is inside a transaction.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
)

// Notification kinds.
const (
	KindDepositConfirmed    = "DEPOSIT_CONFIRMED"
	KindWithdrawalReviewed  = "WITHDRAWAL_REVIEWED"
	KindWithdrawalPaid      = "WITHDRAWAL_PAID"
	KindWithdrawalFailed    = "WITHDRAWAL_FAILED"
	KindStakeCompleted      = "STAKE_COMPLETED"
	KindBalanceAdjusted     = "BALANCE_ADJUSTED"
)

type Notifier struct {
	store *store.Store
	clock clock.Clock
	log   logrus.FieldLogger
}

func New(st *store.Store, clk clock.Clock, log logrus.FieldLogger) *Notifier {
	return &Notifier{store: st, clock: clk, log: log.WithField("component", "notify")}
}

// Push records one notification. Errors are swallowed after logging.
func (n *Notifier) Push(ctx context.Context, userID uuid.UUID, kind, title, message string, data interface{}) {
	blob := []byte(`{}`)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			blob = b
		}
	}
	_, err := n.store.DB().ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), userID, kind, title, message, blob, n.clock.Now())
	if err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{
			"user_id": userID, "kind": kind,
		}).Warn("notification write failed")
	}
}

// List returns a page of the user's notifications, newest first.
func (n *Notifier) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	query := `SELECT * FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND is_read = false`
	}
	query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows := []models.Notification{}
	if err := n.store.Querier(ctx).SelectContext(ctx, &rows, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	return rows, nil
}

// MarkRead flags one of the user's notifications as read. Unknown ids
// and other users' rows both report not-found.
func (n *Notifier) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	res, err := n.store.Querier(ctx).ExecContext(ctx,
		`UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("notify: mark read: %w", err)
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return store.ErrNotFound
	}
	return nil
}
