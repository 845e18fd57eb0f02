package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/staking"
)

func (s *Server) handlePools(c *gin.Context) {
	f := staking.PoolFilter{Type: models.PoolType(c.Query("type"))}
	if raw := c.Query("assetId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "invalid assetId")
			return
		}
		f.AssetID = id
	}
	pools, err := s.Staking.Pools(c.Request.Context(), f)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, pools)
}

// handlePoolCalculator estimates rewards for ?amount over ?days at the
// pool's display APR. Public and read-only.
func (s *Server) handlePoolCalculator(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid pool id")
		return
	}
	amount, ok := parseAmount(c.Query("amount"))
	if !ok {
		badRequest(c, "amount must be a positive decimal")
		return
	}
	days := 365
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 3650 {
			badRequest(c, "days must be between 1 and 3650")
			return
		}
		days = n
	}

	pool, err := s.Staking.Pool(c.Request.Context(), id)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	estimated := staking.EstimateRewards(amount, pool.CurrentAPR, days)
	c.JSON(http.StatusOK, gin.H{
		"poolId":           pool.ID,
		"apr":              pool.CurrentAPR,
		"amount":           amount,
		"days":             days,
		"estimatedRewards": estimated,
		"totalReturn":      amount.Add(estimated),
	})
}

type stakeCreateRequest struct {
	PoolID string `json:"poolId"`
	Amount string `json:"amount"`
}

func (s *Server) handleStakeCreate(c *gin.Context) {
	var req stakeCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	poolID, err := uuid.Parse(req.PoolID)
	if err != nil {
		badRequest(c, "invalid poolId")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		badRequest(c, "amount must be a positive decimal")
		return
	}

	pos, err := s.Staking.Create(c.Request.Context(), currentUser(c).ID, poolID, amount)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, pos)
}

func (s *Server) handleStakeList(c *gin.Context) {
	positions, err := s.Staking.Positions(c.Request.Context(), currentUser(c).ID,
		models.StakeStatus(c.Query("status")))
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) handleStakeGet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid stake id")
		return
	}
	pos, err := s.Staking.Position(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) handleUnstake(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid stake id")
		return
	}
	outcome, err := s.Staking.Unstake(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleClaim(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid stake id")
		return
	}
	claimed, err := s.Staking.Claim(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claimedAmount": claimed})
}
