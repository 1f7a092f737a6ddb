package main

import (
	"context"
	"flag"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/config"
	"github.com/contentworks/routing-engine/pkg/common/database"
	"github.com/contentworks/routing-engine/pkg/common/logger"
	"github.com/contentworks/routing-engine/pkg/configstore"
	"github.com/contentworks/routing-engine/pkg/seed"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	logger.Init()
	cfg := config.Load()

	path := flag.String("file", cfg.SeedFile, "YAML routing configuration to apply")
	dryRun := flag.Bool("dry-run", false, "validate the file without writing")
	flag.Parse()

	file, err := seed.Load(*path)
	if err != nil {
		logger.Log.WithError(err).WithField("file", *path).Fatal("failed to read seed file")
	}
	if *dryRun {
		if _, err := file.RoutingRules(); err != nil {
			logger.Log.WithError(err).Fatal("invalid routing rules")
		}
		if _, err := file.TierThresholds(); err != nil {
			logger.Log.WithError(err).Fatal("invalid tier thresholds")
		}
		logger.Log.WithField("file", *path).Info("seed file is valid")
		return
	}

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()

	repo := configstore.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate configuration tables")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	err = repo.Transaction(ctx, func(tx *configstore.Repository) error {
		return seed.Apply(ctx, tx, file)
	})
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to apply seed file")
	}
	logger.Log.WithField("file", *path).Info("routing configuration seeded")
}
