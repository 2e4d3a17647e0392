// Package main provides the API server entry point for the grant reconciler service.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grant-reconciler/internal/adapter"
	"github.com/grant-reconciler/internal/api"
	"github.com/grant-reconciler/internal/config"
	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/ratelimit"
	"github.com/grant-reconciler/internal/service"
	"github.com/grant-reconciler/internal/storage"
)

func main() {
	fmt.Println("Grant Reconciler API Server")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, stop := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer stop()

	// Storage
	var catalogStore storage.CatalogStore = storage.NewMemoryCatalog()
	if cfg.Database.Postgres.Enabled {
		postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer postgres.Close()
		catalogStore = storage.NewCatalogRepository(postgres)
		logger.Info("Using Postgres project catalog")
	} else {
		logger.Warn("Postgres disabled, using in-memory project catalog")
	}

	var (
		locks        storage.InFlightStore = storage.NewMemoryInFlightStore()
		metricsCache adapter.MetricsCache
		budget       adapter.CallBudget
	)
	if cfg.Database.Redis.Enabled {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redis.Close()
		locks = storage.NewRedisInFlightStore(redis)
		metricsCache = storage.NewMetricsCache(storage.NewCacheService(redis, cfg.Database.Redis.MetricsTTL), logger)
		logger.Info("Using Redis for in-flight locks and metrics cache")

		if cfg.Chain.RPCBudgetCU > 0 {
			tracker, err := ratelimit.NewBudgetTracker(&ratelimit.BudgetConfig{
				Redis:          redis.Client(),
				TotalBudget:    cfg.Chain.RPCBudgetCU,
				ReservedBudget: cfg.Chain.RPCReservedCU,
			})
			if err != nil {
				logger.WithError(err).Fatal("Failed to create RPC budget tracker")
			}
			budget = tracker
			logger.WithField("cu_per_second", cfg.Chain.RPCBudgetCU).Info("Shared RPC budget enabled")
		}
	} else if cfg.Chain.RPCBudgetCU > 0 {
		logger.Warn("RPC_CU_BUDGET requires Redis, budget disabled")
	}

	// Chain access
	pool, err := adapter.NewRPCPool(ctx, &adapter.RPCPoolConfig{
		Endpoints: cfg.Chain.RPCEndpoints,
		Budget:    budget,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to RPC endpoints")
	}
	defer pool.Close()

	reader, err := adapter.NewGrantContractReader(pool, cfg.Chain.ContractAddress, cfg.Chain.LogLookbackBlocks)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create contract reader")
	}

	var writer service.ChainWriter
	if cfg.Chain.SignerPrivateKey != "" {
		w, err := adapter.NewGrantContractWriter(pool, adapter.WriterConfig{
			ContractAddress: cfg.Chain.ContractAddress,
			PrivateKeyHex:   cfg.Chain.SignerPrivateKey,
			ChainID:         cfg.Chain.ChainID,
			PollInterval:    cfg.Chain.ReceiptPollInterval,
		})
		if err != nil {
			logger.WithError(err).Warn("Invalid signer configuration, write path disabled")
		} else {
			writer = w
			logger.WithField("from", w.From()).Info("Write path enabled")
		}
	} else {
		logger.Info("No signer key configured, write path disabled")
	}

	// Enrichment
	github := adapter.NewGitHubClient(adapter.GitHubClientConfig{
		Token:             cfg.GitHub.Token,
		BaseURL:           cfg.GitHub.BaseURL,
		CommitLookback:    cfg.GitHub.CommitLookback,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
		Timeout:           cfg.GitHub.Timeout,
	}, metricsCache)

	var generative service.GenerativeScorer
	if cfg.Scoring.URL != "" {
		generative = adapter.NewGenerativeScoringClient(adapter.ScoringClientConfig{
			URL:     cfg.Scoring.URL,
			APIKey:  cfg.Scoring.APIKey,
			Model:   cfg.Scoring.Model,
			Timeout: cfg.Scoring.Timeout,
		})
	}
	scorer := service.NewScorer(github, generative, logger)

	// Services
	catalog := service.NewCatalogService(catalogStore, service.NewIdentifierReconciler())
	companies := service.NewCompanyResolver(reader, cfg.Refresh.MaxConcurrency, logger)
	assembler := service.NewViewAssembler(reader, companies, catalog, service.AssemblerConfig{
		MaxConcurrency: cfg.Refresh.MaxConcurrency,
	}, logger)
	submitter := service.NewActionSubmitter(writer, reader, assembler, catalog, locks, service.SubmitterConfig{
		ConfirmationTimeout: cfg.Chain.ConfirmationTimeout,
		RefreshDelay:        cfg.Refresh.RetryDelay,
		RefreshRetries:      cfg.Refresh.RetryAttempts,
	}, logger)
	governance := service.NewGovernanceService(reader, companies, assembler, logger)

	sessions := service.NewSessionStore(cfg.Session.IdleTTL)
	go sessions.Run(ctx, time.Minute)

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RequestsPerSec:  cfg.RateLimit.RequestsPerSecond,
		Burst:           cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, api.Dependencies{
		Views:      assembler,
		Catalog:    catalog,
		Governance: governance,
		Actions:    submitter,
		Intents:    service.NewIntentBuilder(catalog),
		Scoring:    scorer,
		Metrics:    github,
		Contract:   reader,
		Sessions:   sessions,
	}, logger)

	go func() {
		if err := server.Start(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":     cfg.Server.Host,
		"port":     cfg.Server.Port,
		"contract": cfg.Chain.ContractAddress,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
