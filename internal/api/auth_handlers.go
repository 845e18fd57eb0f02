package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !validEmail(req.Email) {
		badRequest(c, "invalid email address")
		return
	}
	if !validPassword(req.Password) {
		badRequest(c, "password must be 8-128 characters with upper, lower, digit and special characters")
		return
	}

	_, pair, err := s.auth.Register(c.Request.Context(), req.Email, req.Password, requestMeta(c))
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, pair)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totpCode"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		badRequest(c, "email and password are required")
		return
	}

	_, pair, err := s.auth.Login(c.Request.Context(), req.Email, req.Password, req.TOTPCode, requestMeta(c))
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		badRequest(c, "refreshToken is required")
		return
	}
	pair, err := s.auth.Refresh(c.Request.Context(), req.RefreshToken, requestMeta(c))
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *Server) handleLogout(c *gin.Context) {
	claims := currentClaims(c)
	if err := s.auth.Logout(c.Request.Context(), claims.SessionID); err != nil {
		fail(c, s.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSessions(c *gin.Context) {
	sessions, err := s.auth.Sessions(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleRevokeSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid session id")
		return
	}
	if err := s.auth.RevokeSession(c.Request.Context(), currentUser(c).ID, id); err != nil {
		fail(c, s.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleTwoFactorSetup(c *gin.Context) {
	secret, url, err := s.auth.TwoFactorSetup(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"secret": secret, "qrCodeUrl": url})
}

type totpRequest struct {
	TOTPCode string `json:"totpCode"`
}

func (s *Server) handleTwoFactorVerify(c *gin.Context) {
	var req totpRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validTOTP(req.TOTPCode) {
		badRequest(c, "totpCode must be 6 digits")
		return
	}
	codes, err := s.auth.TwoFactorVerify(c.Request.Context(), currentUser(c).ID, req.TOTPCode)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recoveryCodes": codes})
}

// handleTwoFactorDisable accepts a TOTP code or a recovery code, so a
// user who lost the authenticator can still turn 2FA off.
func (s *Server) handleTwoFactorDisable(c *gin.Context) {
	var req totpRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validSecondFactor(req.TOTPCode) {
		badRequest(c, "totpCode must be a 6-digit code or a recovery code")
		return
	}
	if err := s.auth.TwoFactorDisable(c.Request.Context(), currentUser(c).ID, req.TOTPCode); err != nil {
		fail(c, s.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
