package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quorumkit/governance-service/internal/application"
	"github.com/quorumkit/governance-service/internal/events"
	"github.com/quorumkit/governance-service/internal/governor"
	"github.com/quorumkit/governance-service/internal/infrastructure/chain"
	"github.com/quorumkit/governance-service/internal/infrastructure/postgres"
	httpHandler "github.com/quorumkit/governance-service/internal/interfaces/http"
	"github.com/quorumkit/governance-service/internal/ledger"
	"github.com/quorumkit/governance-service/internal/store"
	"github.com/quorumkit/governance-service/internal/timelock"
	"github.com/quorumkit/governance-service/pkg/config"
	"github.com/quorumkit/governance-service/pkg/logger"
	"github.com/quorumkit/governance-service/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Environment)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Governance Service...")

	db, err := postgres.NewConnection(&cfg.Database, log)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := postgres.RunMigrations(db, log); err != nil {
		log.Fatalw("Failed to run migrations", "error", err)
	}

	repo := postgres.NewRepository(db, log)

	chainClient := chain.NewClient(
		cfg.ChainAPI.BaseURL,
		cfg.ChainAPI.RequestTimeout,
		cfg.ChainAPI.MaxRetries,
		cfg.ChainAPI.RetryDelay,
		log,
	)
	dispatcher := chain.NewDispatcher(cfg.ChainAPI.BaseURL, cfg.ChainAPI.RequestTimeout, log)

	lgr := ledger.New(log)
	st := store.New()

	notifier := events.NewNotifier(256, log)
	defer notifier.Close()

	tl := timelock.New(timelock.Config{
		MinDelay:         cfg.Timelock.MinDelay,
		MaxDelay:         cfg.Timelock.MaxDelay,
		ExecutionTimeout: cfg.Timelock.ExecutionTimeout,
		Cancellers:       splitList(cfg.Timelock.Cancellers),
	}, dispatcher, st, log)

	gov := governor.New(governor.Config{
		VotingDelay:       cfg.Governor.VotingDelay,
		VotingPeriod:      cfg.Governor.VotingPeriod,
		ProposalThreshold: cfg.Governor.ProposalThreshold,
		QuorumNumerator:   cfg.Governor.QuorumNumerator,
		QuorumDenominator: cfg.Governor.QuorumDenominator,
		QueueWindow:       cfg.Governor.QueueWindow,
		AdminAddress:      cfg.Governor.AdminAddress,
	}, lgr, st, tl, notifier, log)

	service := application.NewService(lgr, gov, tl, st, repo, chainClient, &cfg.ChainAPI, log)

	if err := service.LoadState(); err != nil {
		log.Fatalw("Failed to restore governance state", "error", err)
	}

	initializeMetrics(lgr, st, log)

	if err := service.StartPolling(); err != nil {
		log.Fatalw("Failed to start polling", "error", err)
	}
	defer service.StopPolling()

	router := httpHandler.NewRouter(service, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.Metrics.Enabled {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())
			metricsServer := &http.Server{
				Addr:    ":" + cfg.Metrics.Port,
				Handler: metricsMux,
			}
			log.Infow("Starting metrics server", "port", cfg.Metrics.Port)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("Metrics server error", "error", err)
			}
		}()
	}

	go func() {
		log.Infow("Starting HTTP server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("Server forced to shutdown", "error", err)
	}

	log.Info("Server shutdown complete")
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func initializeMetrics(lgr *ledger.Ledger, st *store.Store, log *logger.Logger) {
	seq := lgr.CurrentSeq()
	metrics.UpdateLastAppliedSeq(seq)

	if count := st.CountProposals(); count > 0 {
		log.Infow("Initialized metrics", "existing_proposals", count, "last_seq", seq)
	}
}
