package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatbi/chatbi/internal/api"
	"github.com/chatbi/chatbi/internal/auth"
	"github.com/chatbi/chatbi/internal/config"
	"github.com/chatbi/chatbi/internal/history"
	"github.com/chatbi/chatbi/internal/llm"
	"github.com/chatbi/chatbi/internal/narrative"
	"github.com/chatbi/chatbi/internal/observability"
	"github.com/chatbi/chatbi/internal/pipeline"
	"github.com/chatbi/chatbi/internal/query"
	"github.com/chatbi/chatbi/internal/schema"
	"github.com/chatbi/chatbi/internal/warehouse"
	"github.com/chatbi/chatbi/internal/warehouse/duckdb"
	"github.com/chatbi/chatbi/internal/warehouse/mysql"
	"github.com/chatbi/chatbi/internal/warehouse/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("chatbi-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	driver, err := openWarehouse(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to open warehouse", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = driver.Close() }()

	store := schema.NewStore(driver, schema.StoreConfig{
		Database: cfg.Warehouse.Database,
		TTL:      cfg.Pipeline.SchemaTTL,
	})
	questionLog := history.NewLog(cfg.Pipeline.HistoryLimit)

	var client llm.Client
	if cfg.AI.Enabled {
		client, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize model client", slog.Any("error", err))
			os.Exit(1)
		}
	}

	engine := query.NewWarehouseEngine(driver, cfg.Pipeline.QueryTimeout, logger)
	engine.MaxRetries = cfg.Pipeline.QueryRetries
	engine.RetryBackoff = cfg.Pipeline.RetryBackoff

	var narrator *narrative.Generator
	if cfg.AI.Enabled && cfg.Pipeline.Narrative {
		narrator = narrative.NewGenerator(client, logger)
	}

	runner := pipeline.New(store, client, engine, questionLog, narrator, pipeline.Config{
		RowCap:         cfg.Pipeline.RowCap,
		SmallN:         cfg.Pipeline.SmallN,
		PromptBytes:    cfg.Pipeline.PromptBytes,
		HistoryTurns:   cfg.Pipeline.HistoryTurns,
		LLMMaxTokens:   cfg.AI.MaxTokens,
		RequestTimeout: cfg.Pipeline.RequestTimeout,
	}, logger)

	deps := api.Dependencies{
		Logger:  logger,
		Runner:  runner,
		Schema:  store,
		History: questionLog,
		Readiness: api.CombineReadinessChecks(
			api.CheckWarehouseDSN(cfg),
			driver.HealthCheck,
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("warehouse", cfg.Warehouse.Kind),
			slog.Bool("ai_enabled", cfg.AI.Enabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func openWarehouse(ctx context.Context, cfg config.Config) (warehouse.Driver, error) {
	kind, err := warehouse.ParseKind(cfg.Warehouse.Kind)
	if err != nil {
		return nil, err
	}
	whCfg := warehouse.Config{
		Kind:            kind,
		DSN:             cfg.Warehouse.DSN,
		Database:        cfg.Warehouse.Database,
		MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
		MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
		ConnMaxIdleTime: cfg.Warehouse.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
	}
	switch kind {
	case warehouse.KindPostgres:
		return postgres.Open(ctx, whCfg)
	case warehouse.KindMySQL:
		return mysql.Open(ctx, whCfg)
	case warehouse.KindDuckDB:
		return duckdb.Open(ctx, whCfg)
	default:
		return nil, fmt.Errorf("unsupported warehouse kind %q", cfg.Warehouse.Kind)
	}
}
