// staked is the staking platform backend. `staked run` serves the API
// and the background workers; migrate, reconcile and seed are operator
// commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/openvault/staked/internal/api"
	"github.com/openvault/staked/internal/audit"
	"github.com/openvault/staked/internal/auth"
	"github.com/openvault/staked/internal/chain"
	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/config"
	"github.com/openvault/staked/internal/deposits"
	"github.com/openvault/staked/internal/ledger"
	"github.com/openvault/staked/internal/notify"
	"github.com/openvault/staked/internal/payouts"
	"github.com/openvault/staked/internal/queue"
	"github.com/openvault/staked/internal/staking"
	"github.com/openvault/staked/internal/store"
	"github.com/openvault/staked/internal/vault"
	"github.com/openvault/staked/internal/wallet"
	"github.com/openvault/staked/internal/withdrawals"
	"github.com/openvault/staked/internal/worker"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "staked",
		Usage:   "custodial staking platform backend",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "serve the API and background workers",
				Action: runCmd,
			},
			{
				Name:  "migrate",
				Usage: "apply pending database migrations",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "migrations",
						Usage: "migration source URL",
						Value: "file://migrations",
					},
				},
				Action: migrateCmd,
			},
			{
				Name:  "reconcile",
				Usage: "refold the ledger journal and report projection drift",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "fix",
						Usage: "rewrite drifted projections to the folded values",
					},
				},
				Action: reconcileCmd,
			},
			{
				Name:  "seed",
				Usage: "apply the chain/asset/pool catalog",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "catalog",
						Usage: "catalog YAML path",
						Value: "catalog.yaml",
					},
					&cli.BoolFlag{
						Name:  "dev-treasury",
						Usage: "generate a treasury wallet for chains that have none",
					},
				},
				Action: seedCmd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) logrus.FieldLogger {
	log := logrus.New()
	if cfg.LogJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func runCmd(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	st, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer st.Close()

	v, err := vault.New(cfg.MasterKey)
	if err != nil {
		return err
	}
	keyring := wallet.NewKeyring(v)

	var signer wallet.Signer
	if cfg.DevSignerSeed != "" {
		dev, err := wallet.NewDevSigner(cfg.DevSignerSeed)
		if err != nil {
			return err
		}
		signer = dev
		log.Warn("development signer enabled; do not use in production")
	}

	q, err := queue.NewRedis(cfg.RedisURL, clock.System{}, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chainRows, err := st.ActiveChains(ctx)
	if err != nil {
		return err
	}
	chains := chain.NewSet(ctx, chainRows, cfg, log)

	clk := clock.System{}
	poster := ledger.NewPoster(st, clk, log)
	ledgerSvc := ledger.NewService(st)
	notifier := notify.New(st, clk, log)
	auditor := audit.NewRecorder(st, clk, log)

	tokens := auth.NewTokens(cfg.JWTAccessSecret, cfg.JWTRefreshSecret,
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL, clk)
	authSvc := auth.NewService(st, tokens, v, clk, cfg.TOTPIssuer, log)

	stakingSvc := staking.NewService(st, poster, clk, log)
	depositSvc := deposits.NewService(st, signer, clk, log)
	scanner := deposits.NewScanner(st, chains, clk, cfg.Workers.ScanLookback, cfg.Workers.ScanChunk, log)
	tracker := deposits.NewTracker(st, chains, poster, notifier, clk, log)
	withdrawalSvc := withdrawals.NewService(st, poster, q, notifier, auditor, cfg.Security, clk, log)

	executor := payouts.NewExecutor(st, chains, poster, keyring, q, notifier, clk, log)
	executor.Register(chains.Slugs())

	runner := worker.NewRunner(q, log)
	if err := runner.Schedule(cfg.Workers, scanner.ScanAll, tracker.TrackAll, stakingSvc.AccrueAll); err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return err
	}

	server := api.NewServer(api.Deps{
		Config:      cfg,
		Store:       st,
		Auth:        authSvc,
		Ledger:      ledgerSvc,
		Poster:      poster,
		Staking:     stakingSvc,
		Deposits:    depositSvc,
		Withdrawals: withdrawalSvc,
		Notifier:    notifier,
		Auditor:     auditor,
		Keyring:     keyring,
		QueuePing:   q,
		Log:         log,
	})

	serveErr := server.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		log.WithError(err).Error("worker shutdown")
	}
	return serveErr
}

func migrateCmd(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	return store.Migrate(cfg.DatabaseURL, c.String("migrations"), log)
}

func reconcileCmd(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	st, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := ledger.NewReconciler(st, log).Run(ctx, c.Bool("fix"))
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"entries":     report.Entries,
		"projections": report.Projections,
		"drifts":      len(report.Drifts),
		"fixed":       report.Fixed,
	}).Info("reconciliation complete")
	if len(report.Drifts) > report.Fixed {
		return fmt.Errorf("reconcile: %d unrepaired drifts", len(report.Drifts)-report.Fixed)
	}
	return nil
}
