package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"parisdvf/server/config"
	"parisdvf/server/internal/database"
	"parisdvf/server/internal/dvf"
	"parisdvf/server/internal/pipeline"
	"parisdvf/server/internal/search"
)

func main() {
	anneeMin := flag.String("annee-min", "", "first mutation year to scrape (default from config)")
	anneeMax := flag.String("annee-max", "", "last mutation year to scrape (default from config)")
	codes := flag.String("codes", "", "comma-separated INSEE codes (default all Paris arrondissements)")
	appendMode := flag.Bool("append", false, "insert without truncating existing transactions")
	withGeo := flag.Bool("geo", false, "also fetch cadastre parcels and rebuild the parcelles table")
	skipIndex := flag.Bool("skip-index", false, "skip the search index rebuild")
	flag.Parse()

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

	var indexer pipeline.Indexer
	index := search.NewIndex(cfg.SearchIndexPath, logger)
	defer index.Close()
	if !*skipIndex {
		indexer = index
	}

	pipe := pipeline.NewPipeline(client, db, indexer, logger)

	opts := pipeline.Options{
		Codes:         config.ParisInseeCodes(),
		AnneeMin:      cfg.Scraping.AnneeMin,
		AnneeMax:      cfg.Scraping.AnneeMax,
		Mode:          pipeline.LoadModeReplace,
		WithParcelles: *withGeo,
	}
	if *codes != "" {
		opts.Codes = strings.Split(*codes, ",")
	}
	if *anneeMin != "" {
		opts.AnneeMin = *anneeMin
	}
	if *anneeMax != "" {
		opts.AnneeMax = *anneeMax
	}
	if *appendMode {
		opts.Mode = pipeline.LoadModeAppend
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := pipe.Run(ctx, opts)
	if err != nil {
		logger.WithError(err).Fatal("Pipeline run failed")
	}

	logger.WithFields(logrus.Fields{
		"run_id":    result.RunID,
		"fetched":   result.Fetched,
		"loaded":    result.Loaded,
		"indexed":   result.Indexed,
		"parcelles": result.Parcelles,
		"duration":  result.Duration.String(),
	}).Info("Scrape finished")
}
