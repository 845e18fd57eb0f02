package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openvault/staked/internal/ledger"
	"github.com/openvault/staked/internal/models"
)

func (s *Server) handleProfile(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// handleDashboard aggregates the user's position in one response:
// balances, open stakes and in-flight withdrawals.
func (s *Server) handleDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)

	balances, err := s.Ledger.Balances(ctx, user.ID)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	stakes, err := s.Staking.Positions(ctx, user.ID, models.StakeActive)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	pending, err := s.Withdrawals.List(ctx, user.ID, models.WithdrawalPendingReview, 100, 0)
	if err != nil {
		fail(c, s.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balances":           balances,
		"activeStakes":       stakes,
		"pendingWithdrawals": pending,
	})
}

func (s *Server) handleBalances(c *gin.Context) {
	balances, err := s.Ledger.Balances(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

func (s *Server) handleLedgerEntries(c *gin.Context) {
	limit, offset := pagination(c)
	f := ledger.EntriesFilter{
		EntryType: models.EntryType(c.Query("entryType")),
		Limit:     limit,
		Offset:    offset,
	}
	if raw := c.Query("assetId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "invalid assetId")
			return
		}
		f.AssetID = id
	}
	entries, err := s.Ledger.Entries(c.Request.Context(), currentUser(c).ID, f)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleNotifications(c *gin.Context) {
	limit, offset := pagination(c)
	unreadOnly := c.Query("unread") == "true"
	items, err := s.Notifier.List(c.Request.Context(), currentUser(c).ID, unreadOnly, limit, offset)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) handleNotificationRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid notification id")
		return
	}
	if err := s.Notifier.MarkRead(c.Request.Context(), currentUser(c).ID, id); err != nil {
		fail(c, s.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
