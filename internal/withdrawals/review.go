package withdrawals

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/audit"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/notify"
	"github.com/openvault/staked/internal/payouts"
)

// Actor identifies the admin performing a review and the request
// context the audit row records.
type Actor struct {
	User      *models.User
	IPAddress string
	UserAgent string
}

// Approve moves a request from PENDING_REVIEW to APPROVED and enqueues
// its payout. The status CAS and the audit row commit together; the
// enqueue happens after commit so a rollback never leaves a job behind.
func (s *Service) Approve(ctx context.Context, actor Actor, id uuid.UUID, notes string) (*models.WithdrawalRequest, error) {
	req, err := s.transition(ctx, actor, id, models.WithdrawalApproved, "withdrawal.approve",
		models.WithdrawalPendingReview, notes, nil, nil)
	if err != nil {
		return nil, err
	}

	ch, err := s.store.ChainByID(ctx, req.ChainID)
	if err != nil {
		return nil, err
	}
	if err := payouts.EnqueueProcess(ctx, s.queue, ch.Slug, req.ID); err != nil {
		// The approval is committed; the reconcile/retry path picks up
		// stranded APPROVED requests.
		s.log.WithError(err).WithField("request", req.ID).Error("payout enqueue failed")
	}

	s.notifier.Push(ctx, req.UserID, notify.KindWithdrawalReviewed,
		"Withdrawal approved",
		fmt.Sprintf("Your withdrawal of %s has been approved and queued for payout.", req.Amount),
		map[string]interface{}{"withdrawalId": req.ID, "status": req.Status})
	return req, nil
}

// Reject refuses a request and releases its reserve. adminNotes is
// mandatory: a rejection without a reason is not reviewable.
func (s *Service) Reject(ctx context.Context, actor Actor, id uuid.UUID, notes string) (*models.WithdrawalRequest, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, apperr.Invalid("adminNotes is required when rejecting")
	}

	release := func(ctx context.Context, req *models.WithdrawalRequest) error {
		_, err := s.poster.Post(ctx, models.LedgerEntry{
			UserID:        &req.UserID,
			AssetID:       req.AssetID,
			ChainID:       req.ChainID,
			EntryType:     models.EntryWithdrawalRejected,
			Direction:     models.Credit,
			Amount:        req.Amount,
			ReferenceType: models.RefWithdrawal,
			ReferenceID:   req.ID,
		})
		return err
	}
	req, err := s.transition(ctx, actor, id, models.WithdrawalRejected, "withdrawal.reject",
		models.WithdrawalPendingReview, notes, nil, release)
	if err != nil {
		return nil, err
	}

	s.notifier.Push(ctx, req.UserID, notify.KindWithdrawalReviewed,
		"Withdrawal rejected",
		fmt.Sprintf("Your withdrawal of %s was rejected: %s", req.Amount, notes),
		map[string]interface{}{"withdrawalId": req.ID, "status": req.Status})
	return req, nil
}

// MarkPaid settles a request paid outside the executor (manual bank of
// last resort). Allowed from PENDING_REVIEW, APPROVED and FAILED; it
// clears the pending reserve exactly as an on-chain payout would.
func (s *Service) MarkPaid(ctx context.Context, actor Actor, id uuid.UUID, notes string, proofURL *string) (*models.WithdrawalRequest, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, apperr.Invalid("adminNotes is required when marking paid")
	}

	settle := func(ctx context.Context, req *models.WithdrawalRequest) error {
		_, err := s.poster.Post(ctx, models.LedgerEntry{
			UserID:        &req.UserID,
			AssetID:       req.AssetID,
			ChainID:       req.ChainID,
			EntryType:     models.EntryWithdrawalPaid,
			Direction:     models.Debit,
			Amount:        req.Amount,
			ReferenceType: models.RefWithdrawal,
			ReferenceID:   req.ID,
		})
		return err
	}
	req, err := s.transition(ctx, actor, id, models.WithdrawalPaidManually, "withdrawal.mark_paid",
		"", notes, proofURL, settle)
	if err != nil {
		return nil, err
	}

	s.notifier.Push(ctx, req.UserID, notify.KindWithdrawalPaid,
		"Withdrawal paid",
		fmt.Sprintf("Your withdrawal of %s has been paid out.", req.Amount),
		map[string]interface{}{"withdrawalId": req.ID, "status": req.Status})
	return req, nil
}

// Retry re-enqueues a FAILED request for the executor, which owns the
// FAILED -> PROCESSING edge. No row changes here, so the audit entry is
// best-effort.
func (s *Service) Retry(ctx context.Context, actor Actor, id uuid.UUID) (*models.WithdrawalRequest, error) {
	req, err := s.byID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.WithdrawalFailed {
		return nil, apperr.Rejectf(apperr.CodeInvalidStatus,
			"only FAILED withdrawals can be retried, got %s", req.Status)
	}
	ch, err := s.store.ChainByID(ctx, req.ChainID)
	if err != nil {
		return nil, err
	}
	if err := payouts.EnqueueProcess(ctx, s.queue, ch.Slug, req.ID); err != nil {
		return nil, fmt.Errorf("withdrawals: enqueue retry: %w", err)
	}

	s.auditor.BestEffort(ctx, audit.Entry{
		ActorID:    &actor.User.ID,
		ActorEmail: actor.User.Email,
		Action:     "withdrawal.retry",
		Entity:     "withdrawal_request",
		EntityID:   req.ID.String(),
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
	})
	s.log.WithField("request", req.ID).Info("withdrawal retry enqueued")
	return req, nil
}

// transition performs one reviewed status change. fromStatus narrows
// the guard to a single expected state; when empty, any state with an
// edge to next is accepted (the mark-paid case). ledgerFn, when set,
// posts the release or settle entry inside the same transaction.
func (s *Service) transition(ctx context.Context, actor Actor, id uuid.UUID, next models.WithdrawalStatus, action string, fromStatus models.WithdrawalStatus, notes string, proofURL *string, ledgerFn func(context.Context, *models.WithdrawalRequest) error) (*models.WithdrawalRequest, error) {
	var updated *models.WithdrawalRequest
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		req, err := s.byID(ctx, id)
		if err != nil {
			return err
		}
		expected := fromStatus
		if expected == "" {
			expected = req.Status
		}
		if req.Status != expected || !req.Status.CanTransitionTo(next) {
			return apperr.Rejectf(apperr.CodeInvalidStatus,
				"withdrawal is %s, cannot move to %s", req.Status, next)
		}
		before := *req

		now := s.clock.Now()
		var adminNotes *string
		if strings.TrimSpace(notes) != "" {
			n := notes
			adminNotes = &n
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE withdrawal_requests
			SET status = $2, admin_notes = COALESCE($3, admin_notes),
			    manual_proof_url = COALESCE($4, manual_proof_url),
			    reviewed_by = $5, reviewed_at = $6, updated_at = $6
			WHERE id = $1 AND status = $7`,
			req.ID, next, adminNotes, proofURL, actor.User.ID, now, expected)
		if err != nil {
			return fmt.Errorf("withdrawals: %s: %w", action, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.Conflictf("withdrawal changed state, retry")
		}

		req.Status = next
		req.AdminNotes = adminNotes
		req.ReviewedBy = &actor.User.ID
		req.ReviewedAt = &now
		if proofURL != nil {
			req.ManualProofURL = proofURL
		}
		req.UpdatedAt = now

		if ledgerFn != nil {
			if err := ledgerFn(ctx, req); err != nil {
				return err
			}
		}

		if err := s.auditor.Record(ctx, audit.Entry{
			ActorID:    &actor.User.ID,
			ActorEmail: actor.User.Email,
			Action:     action,
			Entity:     "withdrawal_request",
			EntityID:   req.ID.String(),
			Before:     before,
			After:      *req,
			IPAddress:  actor.IPAddress,
			UserAgent:  actor.UserAgent,
		}); err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"request": updated.ID, "status": updated.Status, "actor": actor.User.ID,
	}).Info("withdrawal reviewed")
	return updated, nil
}
