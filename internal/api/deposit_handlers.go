package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openvault/staked/internal/deposits"
	"github.com/openvault/staked/internal/models"
)

type depositAddressRequest struct {
	ChainID string `json:"chainId"`
}

func (s *Server) handleDepositAddress(c *gin.Context) {
	var req depositAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	chainID, err := uuid.Parse(req.ChainID)
	if err != nil {
		badRequest(c, "invalid chainId")
		return
	}

	addr, err := s.Deposits.GetOrCreateAddress(c.Request.Context(), currentUser(c).ID, chainID)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": addr,
		"instructions": "Send supported tokens to this address only. Deposits credit " +
			"automatically after the required confirmations.",
	})
}

func (s *Server) handleDepositList(c *gin.Context) {
	limit, offset := pagination(c)
	f := deposits.ListFilter{
		Status: models.DepositStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	}
	if raw := c.Query("chainId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "invalid chainId")
			return
		}
		f.ChainID = id
	}
	items, err := s.Deposits.List(c.Request.Context(), currentUser(c).ID, f)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, items)
}
