package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/audit"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/staking"
	"github.com/openvault/staked/internal/store"
	"github.com/openvault/staked/internal/withdrawals"
)

// adminPage reads ?page (1-based) and ?limit for the admin console's
// paged listings.
func adminPage(c *gin.Context) (page, limit, offset int) {
	limit, _ = pagination(c)
	page = 1
	if raw := c.Query("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 {
			page = n
		}
	}
	return page, limit, (page - 1) * limit
}

func pageEnvelope(items interface{}, total int64, page, limit int) gin.H {
	totalPages := (total + int64(limit) - 1) / int64(limit)
	return gin.H{
		"items":      items,
		"total":      total,
		"page":       page,
		"limit":      limit,
		"totalPages": totalPages,
	}
}

func (s *Server) actor(c *gin.Context) withdrawals.Actor {
	return withdrawals.Actor{
		User:      currentUser(c),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func (s *Server) handleAdminWithdrawals(c *gin.Context) {
	page, limit, offset := adminPage(c)
	items, total, err := s.Withdrawals.ListAll(c.Request.Context(),
		models.WithdrawalStatus(c.Query("status")), limit, offset)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, pageEnvelope(items, total, page, limit))
}

type reviewRequest struct {
	AdminNotes string  `json:"adminNotes"`
	ProofURL   *string `json:"proofUrl"`
}

func (s *Server) reviewBody(c *gin.Context) (reviewRequest, uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid withdrawal id")
		return reviewRequest{}, uuid.Nil, false
	}
	var req reviewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body")
			return reviewRequest{}, uuid.Nil, false
		}
	}
	return req, id, true
}

func (s *Server) handleAdminApprove(c *gin.Context) {
	req, id, ok := s.reviewBody(c)
	if !ok {
		return
	}
	w, err := s.Withdrawals.Approve(c.Request.Context(), s.actor(c), id, req.AdminNotes)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) handleAdminReject(c *gin.Context) {
	req, id, ok := s.reviewBody(c)
	if !ok {
		return
	}
	w, err := s.Withdrawals.Reject(c.Request.Context(), s.actor(c), id, req.AdminNotes)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) handleAdminMarkPaid(c *gin.Context) {
	req, id, ok := s.reviewBody(c)
	if !ok {
		return
	}
	w, err := s.Withdrawals.MarkPaid(c.Request.Context(), s.actor(c), id, req.AdminNotes, req.ProofURL)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) handleAdminRetry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid withdrawal id")
		return
	}
	w, err := s.Withdrawals.Retry(c.Request.Context(), s.actor(c), id)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) handleAdminDeposits(c *gin.Context) {
	page, limit, offset := adminPage(c)
	items, total, err := s.Deposits.ListAll(c.Request.Context(),
		models.DepositStatus(c.Query("status")), limit, offset)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, pageEnvelope(items, total, page, limit))
}

func (s *Server) handleAdminUsers(c *gin.Context) {
	page, limit, offset := adminPage(c)
	users, total, err := s.Store.Users(c.Request.Context(), c.Query("email"), limit, offset)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, pageEnvelope(users, total, page, limit))
}

func (s *Server) handleAdminAuditLogs(c *gin.Context) {
	page, limit, offset := adminPage(c)
	logs, total, err := s.Auditor.List(c.Request.Context(),
		c.Query("action"), c.Query("entity"), limit, offset)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, pageEnvelope(logs, total, page, limit))
}

type createPoolRequest struct {
	Name          string  `json:"name"`
	Slug          string  `json:"slug"`
	AssetID       string  `json:"assetId"`
	Type          string  `json:"type"`
	LockDays      int32   `json:"lockDays"`
	APR           string  `json:"apr"`
	MinStake      string  `json:"minStake"`
	MaxStake      *string `json:"maxStake"`
	TotalCapacity *string `json:"totalCapacity"`
	CooldownHours int32   `json:"cooldownHours"`
}

func (s *Server) handleAdminCreatePool(c *gin.Context) {
	var req createPoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Slug) == "" {
		badRequest(c, "name and slug are required")
		return
	}
	assetID, err := uuid.Parse(req.AssetID)
	if err != nil {
		badRequest(c, "invalid assetId")
		return
	}
	poolType := models.PoolType(req.Type)
	if poolType != models.PoolFlexible && poolType != models.PoolFixed {
		badRequest(c, "type must be FLEXIBLE or FIXED")
		return
	}
	apr, err := decimal.NewFromString(req.APR)
	if err != nil || apr.IsNegative() {
		badRequest(c, "apr must be a non-negative decimal")
		return
	}
	minStake, ok := parseAmount(req.MinStake)
	if !ok {
		badRequest(c, "minStake must be a positive decimal")
		return
	}
	in := staking.CreatePoolInput{
		Name:          strings.TrimSpace(req.Name),
		Slug:          strings.ToLower(strings.TrimSpace(req.Slug)),
		AssetID:       assetID,
		Type:          poolType,
		LockDays:      req.LockDays,
		APR:           apr,
		MinStake:      minStake,
		CooldownHours: req.CooldownHours,
	}
	if req.MaxStake != nil {
		v, ok := parseAmount(*req.MaxStake)
		if !ok {
			badRequest(c, "maxStake must be a positive decimal")
			return
		}
		in.MaxStake = &v
	}
	if req.TotalCapacity != nil {
		v, ok := parseAmount(*req.TotalCapacity)
		if !ok {
			badRequest(c, "totalCapacity must be a positive decimal")
			return
		}
		in.TotalCapacity = &v
	}

	admin := currentUser(c)
	pool, err := s.Staking.CreatePool(c.Request.Context(), in, admin.ID)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	s.Auditor.BestEffort(c.Request.Context(), audit.Entry{
		ActorID:    &admin.ID,
		ActorEmail: admin.Email,
		Action:     "pool.create",
		Entity:     "pool",
		EntityID:   pool.ID.String(),
		After:      *pool,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	c.JSON(http.StatusCreated, pool)
}

type scheduleAPRRequest struct {
	NewAPR        string `json:"newApr"`
	EffectiveFrom string `json:"effectiveFrom"`
}

func (s *Server) handleAdminScheduleAPR(c *gin.Context) {
	poolID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid pool id")
		return
	}
	var req scheduleAPRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	apr, err := decimal.NewFromString(req.NewAPR)
	if err != nil || apr.IsNegative() {
		badRequest(c, "newApr must be a non-negative decimal")
		return
	}
	var from time.Time
	if req.EffectiveFrom != "" {
		from, err = time.Parse(time.RFC3339, req.EffectiveFrom)
		if err != nil {
			badRequest(c, "effectiveFrom must be RFC 3339")
			return
		}
	}

	admin := currentUser(c)
	row, err := s.Staking.ScheduleAPR(c.Request.Context(), poolID, apr, from, admin.ID)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	s.Auditor.BestEffort(c.Request.Context(), audit.Entry{
		ActorID:    &admin.ID,
		ActorEmail: admin.Email,
		Action:     "pool.schedule_apr",
		Entity:     "pool",
		EntityID:   poolID.String(),
		After:      *row,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	c.JSON(http.StatusCreated, row)
}

func (s *Server) handleAdminCancelStake(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid stake id")
		return
	}
	pos, err := s.Staking.Cancel(c.Request.Context(), id)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	admin := currentUser(c)
	s.Auditor.BestEffort(c.Request.Context(), audit.Entry{
		ActorID:    &admin.ID,
		ActorEmail: admin.Email,
		Action:     "stake.cancel",
		Entity:     "stake_position",
		EntityID:   pos.ID.String(),
		After:      *pos,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	c.JSON(http.StatusOK, pos)
}

type adjustRequest struct {
	AssetID   string `json:"assetId"`
	ChainID   string `json:"chainId"`
	Direction string `json:"direction"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

// handleAdminAdjust posts a manual ledger correction against a user.
// Super-admin only; the reason lands in the entry metadata and the
// audit log.
func (s *Server) handleAdminAdjust(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid user id")
		return
	}
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	assetID, err := uuid.Parse(req.AssetID)
	if err != nil {
		badRequest(c, "invalid assetId")
		return
	}
	chainID, err := uuid.Parse(req.ChainID)
	if err != nil {
		badRequest(c, "invalid chainId")
		return
	}
	direction := models.Direction(req.Direction)
	if direction != models.Credit && direction != models.Debit {
		badRequest(c, "direction must be CREDIT or DEBIT")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		badRequest(c, "amount must be a positive decimal")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		badRequest(c, "reason is required")
		return
	}

	admin := currentUser(c)
	meta, _ := json.Marshal(map[string]string{
		"reason":  req.Reason,
		"adminId": admin.ID.String(),
	})

	var entry models.LedgerEntry
	err = s.Store.RunInTx(c.Request.Context(), func(ctx context.Context, tx *sqlx.Tx) error {
		var postErr error
		entry, postErr = s.Poster.Post(ctx, models.LedgerEntry{
			UserID:        &userID,
			AssetID:       assetID,
			ChainID:       chainID,
			EntryType:     models.EntryAdjustment,
			Direction:     direction,
			Amount:        amount,
			ReferenceType: models.RefAdjustment,
			ReferenceID:   uuid.New(),
			Metadata:      types.JSONText(meta),
		})
		if postErr != nil {
			return postErr
		}
		return s.Auditor.Record(ctx, audit.Entry{
			ActorID:    &admin.ID,
			ActorEmail: admin.Email,
			Action:     "user.adjust",
			Entity:     "ledger_entry",
			EntityID:   entry.ID.String(),
			After:      entry,
			IPAddress:  c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
		})
	})
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

type treasuryRequest struct {
	ChainID    string `json:"chainId"`
	PrivateKey string `json:"privateKey"`
	Label      string `json:"label"`
}

// handleAdminTreasury registers a treasury hot wallet. With no
// privateKey a fresh key is generated server-side; either way only the
// sealed blob is stored.
func (s *Server) handleAdminTreasury(c *gin.Context) {
	var req treasuryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	chainID, err := uuid.Parse(req.ChainID)
	if err != nil {
		badRequest(c, "invalid chainId")
		return
	}
	if _, err := s.Store.ChainByID(c.Request.Context(), chainID); err != nil {
		fail(c, s.log, err)
		return
	}

	var (
		sealed []byte
		addr   string
	)
	if req.PrivateKey != "" {
		blob, a, err := s.Keyring.SealKey(req.PrivateKey)
		if err != nil {
			badRequest(c, "invalid private key")
			return
		}
		sealed, addr = blob, strings.ToLower(a.Hex())
	} else {
		blob, a, err := s.Keyring.GenerateKey()
		if err != nil {
			fail(c, s.log, err)
			return
		}
		sealed, addr = blob, strings.ToLower(a.Hex())
	}

	wallet := models.TreasuryWallet{
		ID:      uuid.New(),
		ChainID: chainID,
		Address: addr,
		Label:   strings.TrimSpace(req.Label),
	}
	err = s.Store.RunInTx(c.Request.Context(), func(ctx context.Context, tx *sqlx.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO treasury_wallets (id, chain_id, address, label, encrypted_private_key, is_active)
			VALUES ($1, $2, $3, $4, $5, true)`,
			wallet.ID, wallet.ChainID, wallet.Address, wallet.Label, sealed)
		if store.IsUniqueViolation(execErr, "uq_treasury_wallets_chain_address") {
			return apperr.Conflictf("a treasury wallet for this chain and address already exists")
		}
		return execErr
	})
	if err != nil {
		fail(c, s.log, err)
		return
	}

	admin := currentUser(c)
	s.Auditor.BestEffort(c.Request.Context(), audit.Entry{
		ActorID:    &admin.ID,
		ActorEmail: admin.Email,
		Action:     "treasury.create",
		Entity:     "treasury_wallet",
		EntityID:   wallet.ID.String(),
		After:      wallet,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	wallet.IsActive = true
	c.JSON(http.StatusCreated, wallet)
}
