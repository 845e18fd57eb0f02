package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/openvault/staked/internal/audit"
	"github.com/openvault/staked/internal/auth"
	"github.com/openvault/staked/internal/config"
	"github.com/openvault/staked/internal/deposits"
	"github.com/openvault/staked/internal/ledger"
	"github.com/openvault/staked/internal/metrics"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/notify"
	"github.com/openvault/staked/internal/staking"
	"github.com/openvault/staked/internal/store"
	"github.com/openvault/staked/internal/wallet"
	"github.com/openvault/staked/internal/withdrawals"
)

// Pinger is anything the health check can probe. The Redis queue and
// the store both satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries everything the HTTP layer delegates to.
type Deps struct {
	Config      *config.Config
	Store       *store.Store
	Auth        *auth.Service
	Ledger      *ledger.Service
	Poster      *ledger.Poster
	Staking     *staking.Service
	Deposits    *deposits.Service
	Withdrawals *withdrawals.Service
	Notifier    *notify.Notifier
	Auditor     *audit.Recorder
	Keyring     *wallet.Keyring
	QueuePing   Pinger
	Log         logrus.FieldLogger
}

// Server is the HTTP front end.
type Server struct {
	Deps
	auth   *auth.Service
	log    logrus.FieldLogger
	engine *gin.Engine
	http   *http.Server
}

func NewServer(d Deps) *Server {
	if d.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		Deps: d,
		auth: d.Auth,
		log:  d.Log.WithField("component", "api"),
	}
	s.engine = s.router()
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) router() *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery(), requestID(), accessLog(s.log), cors(s.Config.CORSOrigins()))

	// Global per-IP ceiling; sensitive endpoints carry tighter buckets
	// on top.
	global := newIPLimiter(rate.Limit(10), 20)
	e.Use(rateLimit(global, time.Second))

	e.GET("/healthz", s.healthz)
	e.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := e.Group("/v1")

	pub := v1.Group("/")
	{
		pub.POST("/auth/register", rateLimit(perMinute(3), time.Minute), s.handleRegister)
		pub.POST("/auth/login", rateLimit(perMinute(5), time.Minute), s.handleLogin)
		pub.POST("/auth/refresh", rateLimit(perMinute(10), time.Minute), s.handleRefresh)
		pub.GET("/pools", s.handlePools)
		pub.GET("/pools/:id/calculator", s.handlePoolCalculator)
	}

	usr := v1.Group("/", s.authenticate())
	{
		usr.POST("/auth/logout", s.handleLogout)
		usr.GET("/auth/sessions", s.handleSessions)
		usr.DELETE("/auth/sessions/:id", s.handleRevokeSession)
		usr.POST("/auth/2fa/setup", s.handleTwoFactorSetup)
		usr.POST("/auth/2fa/verify", s.handleTwoFactorVerify)
		usr.POST("/auth/2fa/disable", s.handleTwoFactorDisable)

		usr.GET("/user/profile", s.handleProfile)
		usr.GET("/user/dashboard", s.handleDashboard)
		usr.GET("/user/balances", s.handleBalances)
		usr.GET("/user/ledger", s.handleLedgerEntries)
		usr.GET("/user/notifications", s.handleNotifications)
		usr.POST("/user/notifications/:id/read", s.handleNotificationRead)

		usr.POST("/stakes", s.handleStakeCreate)
		usr.GET("/stakes", s.handleStakeList)
		usr.GET("/stakes/:id", s.handleStakeGet)
		usr.POST("/stakes/:id/unstake", s.handleUnstake)
		usr.POST("/stakes/:id/claim", s.handleClaim)

		usr.POST("/deposits/address", s.handleDepositAddress)
		usr.GET("/deposits", s.handleDepositList)

		usr.POST("/withdrawals", s.handleWithdrawalSubmit)
		usr.GET("/withdrawals", s.handleWithdrawalList)
		usr.GET("/withdrawals/:id", s.handleWithdrawalGet)
	}

	adm := v1.Group("/admin", s.authenticate(), requireRole(models.RoleAdmin))
	{
		adm.GET("/withdrawals", s.handleAdminWithdrawals)
		adm.POST("/withdrawals/:id/approve", s.handleAdminApprove)
		adm.POST("/withdrawals/:id/reject", s.handleAdminReject)
		adm.POST("/withdrawals/:id/mark-paid", s.handleAdminMarkPaid)
		adm.POST("/withdrawals/:id/retry", s.handleAdminRetry)
		adm.GET("/deposits", s.handleAdminDeposits)
		adm.GET("/users", s.handleAdminUsers)
		adm.GET("/audit-logs", s.handleAdminAuditLogs)
		adm.POST("/pools", s.handleAdminCreatePool)
		adm.POST("/pools/:id/apr", s.handleAdminScheduleAPR)
		adm.POST("/stakes/:id/cancel", s.handleAdminCancelStake)

		sup := adm.Group("/", requireRole(models.RoleSuperAdmin))
		sup.POST("/users/:id/adjust", s.handleAdminAdjust)
		sup.POST("/treasury", s.handleAdminTreasury)
	}

	return e
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.Config.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.Config.HTTPAddr).Info("http server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{"database": "ok", "queue": "ok"}
	if err := s.Store.Ping(ctx); err != nil {
		checks["database"] = "down"
		status = http.StatusServiceUnavailable
	}
	if s.QueuePing != nil {
		if err := s.QueuePing.Ping(ctx); err != nil {
			checks["queue"] = "down"
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, checks)
}
