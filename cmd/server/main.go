package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"parisdvf/server/config"
	"parisdvf/server/internal/api"
	"parisdvf/server/internal/database"
	"parisdvf/server/internal/dvf"
	"parisdvf/server/internal/geodata"
	"parisdvf/server/internal/pipeline"
	"parisdvf/server/internal/query"
	"parisdvf/server/internal/search"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DatabaseURL, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	client := dvf.NewClient(dvf.ClientOptions{
		BaseURL:         cfg.Scraping.APIBaseURL,
		CadastreBaseURL: cfg.Scraping.CadastreBaseURL,
		PageSize:        cfg.Scraping.PageSize,
		PagesPerSecond:  cfg.Scraping.PagesPerSecond,
		Retry: dvf.RetryPolicy{
			MaxAttempts: cfg.Scraping.MaxRetries,
			BaseDelay:   time.Duration(cfg.Scraping.RetryDelay) * time.Second,
			Retryable:   dvf.IsTransient,
		},
	}, logger)

	index := search.NewIndex(cfg.SearchIndexPath, logger)
	defer index.Close()

	pipe := pipeline.NewPipeline(client, db, index, logger)
	runDefault := pipeline.Options{
		Codes:    config.ParisInseeCodes(),
		AnneeMin: cfg.Scraping.AnneeMin,
		AnneeMax: cfg.Scraping.AnneeMax,
		Mode:     pipeline.LoadModeReplace,
	}

	// Bootstrap: an empty store triggers a full scrape before serving,
	// a populated one serves as-is.
	if _, err := pipe.EnsureData(context.Background(), runDefault); err != nil {
		logger.WithError(err).Error("Initial pipeline run failed, serving existing data")
	}

	queries := query.NewService(db, logger)
	boundaries := geodata.NewArrondissements(
		cfg.ArrondissementsGeoJSONURL,
		filepath.Join(os.TempDir(), "parisdvf", "geodata"),
		logger,
	)

	handler := api.NewHandler(db, queries, index, pipe, boundaries, runDefault, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, handler)

	logger.Infof("Starting server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}
