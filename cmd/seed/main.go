// Command seed loads the baseline reference data: verticals, providers and
// their extraction configs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/garyjia/contract-pipeline/internal/config"
	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"github.com/garyjia/contract-pipeline/internal/infrastructure/persistence/repository"
	"github.com/garyjia/contract-pipeline/migrations"
	"github.com/garyjia/contract-pipeline/pkg/database"
	"github.com/garyjia/contract-pipeline/pkg/utils"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

func main() {
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: "stdout",
		Format:     "console",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

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

	repo := repository.NewRegistryRepository(db, logger)
	ctx := context.Background()

	energy := &entity.Vertical{
		Slug:              "energy",
		DisplayName:       "Energy",
		DefaultPromptName: "contract-extraction-energy",
		BaseRequiredFields: []string{
			"provider", "tariff_name", "monthly_rate", "contract_start", "contract_end",
		},
		Active: true,
	}
	if err := repo.SeedVertical(ctx, energy); err != nil {
		logger.Fatal("Failed to seed energy vertical", zap.Error(err))
	}

	broadband := &entity.Vertical{
		Slug:              "broadband",
		DisplayName:       "Broadband",
		DefaultPromptName: "contract-extraction-broadband",
		BaseRequiredFields: []string{
			"provider", "tariff_name", "monthly_rate", "download_speed_mbps",
		},
		Active: true,
	}
	if err := repo.SeedVertical(ctx, broadband); err != nil {
		logger.Fatal("Failed to seed broadband vertical", zap.Error(err))
	}

	providers := []struct {
		vertical  *entity.Vertical
		slug      string
		name      string
		rules     string
		promptVar *string
	}{
		{energy, "eon", "E.ON", `{"monthly_rate": {"min": 5, "max": 500}, "annual_consumption_kwh": {"min": 100, "max": 100000}}`, nil},
		{energy, "vattenfall", "Vattenfall", `{"monthly_rate": {"min": 5, "max": 500}}`, nil},
		{broadband, "telekom", "Telekom", `{"monthly_rate": {"min": 10, "max": 200}, "download_speed_mbps": {"min": 16, "max": 1000}}`, nil},
	}

	for _, p := range providers {
		provider := &entity.Provider{
			Slug:        p.slug,
			DisplayName: p.name,
			VerticalID:  p.vertical.ID,
			Active:      true,
		}
		if err := repo.SeedProvider(ctx, provider); err != nil {
			logger.Fatal("Failed to seed provider",
				zap.String("slug", p.slug), zap.Error(err))
		}
		if err := repo.SeedProviderConfig(ctx, provider.ID, "default", nil, p.rules, p.promptVar); err != nil {
			logger.Fatal("Failed to seed provider config",
				zap.String("slug", p.slug), zap.Error(err))
		}
		logger.Info("Seeded provider",
			zap.String("vertical", p.vertical.Slug),
			zap.String("slug", p.slug))
	}

	logger.Info("Seed completed")
}
