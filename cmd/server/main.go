package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/garyjia/contract-pipeline/internal/api"
	"github.com/garyjia/contract-pipeline/internal/config"
	"github.com/garyjia/contract-pipeline/internal/extraction"
	"github.com/garyjia/contract-pipeline/internal/infrastructure/external/langfuse"
	"github.com/garyjia/contract-pipeline/internal/infrastructure/external/openai"
	"github.com/garyjia/contract-pipeline/internal/infrastructure/persistence/repository"
	"github.com/garyjia/contract-pipeline/internal/pdf"
	"github.com/garyjia/contract-pipeline/internal/pipeline"
	"github.com/garyjia/contract-pipeline/internal/prompt"
	"github.com/garyjia/contract-pipeline/internal/registry"
	"github.com/garyjia/contract-pipeline/internal/review"
	"github.com/garyjia/contract-pipeline/internal/worker"
	"github.com/garyjia/contract-pipeline/internal/workflow"
	"github.com/garyjia/contract-pipeline/migrations"
	"github.com/garyjia/contract-pipeline/pkg/database"
	"github.com/garyjia/contract-pipeline/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

func main() {
	// Local development credentials; missing .env is fine in production.
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Contract Pipeline",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.Run(migrations.FS, "."); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Pipeline.StorageDir, 0o755); err != nil {
		logger.Fatal("Failed to create storage directory", zap.Error(err))
	}

	// Repositories
	workflowRepo := repository.NewWorkflowRepository(db, logger)
	contractRepo := repository.NewContractRepository(db, logger)
	reviewRepo := repository.NewReviewRepository(db, logger)
	registryRepo := repository.NewRegistryRepository(db, logger)

	// External collaborators
	langfuseClient := langfuse.NewClient(langfuse.Config{
		BaseURL:   cfg.Langfuse.BaseURL,
		PublicKey: cfg.Langfuse.PublicKey,
		SecretKey: cfg.Langfuse.SecretKey,
	}, logger)

	chatClient := openai.NewClient(openai.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Timeout:     cfg.OpenAI.Timeout,
	}, logger)

	// Domain services
	machine := workflow.NewService(workflowRepo, logger)
	resolver := registry.NewResolver(registryRepo, logger)
	promptCache := prompt.NewCache(langfuseClient, cfg.Langfuse.CacheTTL, logger)
	extractor := extraction.NewOrchestrator(promptCache, chatClient, langfuseClient, cfg.Langfuse.Label, logger)
	reviewManager := review.NewManager(reviewRepo, contractRepo, machine, cfg.Review.Timeout, logger)

	parser := pdf.NewParser(int(cfg.Pipeline.MaxPDFSizeBytes), logger)
	storage := pdf.NewStorage(cfg.Pipeline.StorageDir, logger)

	pipelineService := pipeline.NewService(machine, resolver, extractor, contractRepo, reviewManager, parser, storage, logger)

	if len(cfg.Langfuse.WarmPrompts) > 0 {
		warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		promptCache.Warm(warmCtx, cfg.Langfuse.WarmPrompts, cfg.Langfuse.Label)
		cancel()
	}

	// Background workers
	workerManager := worker.NewManager(logger)
	workerManager.Register(worker.NewReviewSweeper(reviewManager, cfg.Review.SweepInterval, logger))
	if err := workerManager.StartAll(context.Background()); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	if cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewHandler(pipelineService, machine, reviewManager, logger)
	router := api.NewRouter(handler, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	workerManager.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
