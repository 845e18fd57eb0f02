package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/withdrawals"
)

type withdrawalSubmitRequest struct {
	AssetID            string  `json:"assetId"`
	Amount             string  `json:"amount"`
	DestinationAddress string  `json:"destinationAddress"`
	IdempotencyKey     string  `json:"idempotencyKey"`
	UserNotes          *string `json:"userNotes"`
}

func (s *Server) handleWithdrawalSubmit(c *gin.Context) {
	var req withdrawalSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	assetID, err := uuid.Parse(req.AssetID)
	if err != nil {
		badRequest(c, "invalid assetId")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		badRequest(c, "amount must be a positive decimal")
		return
	}
	dest, ok := normalizeAddress(req.DestinationAddress)
	if !ok {
		badRequest(c, "destinationAddress must be a 0x-prefixed EVM address")
		return
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" || len(key) > 128 {
		badRequest(c, "idempotencyKey is required and must be at most 128 characters")
		return
	}

	w, err := s.Withdrawals.Submit(c.Request.Context(), currentUser(c), withdrawals.SubmitInput{
		AssetID:            assetID,
		Amount:             amount,
		DestinationAddress: dest,
		IdempotencyKey:     key,
		UserNotes:          req.UserNotes,
	})
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (s *Server) handleWithdrawalList(c *gin.Context) {
	limit, offset := pagination(c)
	items, err := s.Withdrawals.List(c.Request.Context(), currentUser(c).ID,
		models.WithdrawalStatus(c.Query("status")), limit, offset)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) handleWithdrawalGet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid withdrawal id")
		return
	}
	w, err := s.Withdrawals.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, w)
}
