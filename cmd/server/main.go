package main

import (
	"context"
	"flag"
	"time"

	"investa/internal/config"
	"investa/internal/database"
	"investa/internal/directory"
	"investa/internal/handlers"
	"investa/internal/portfolio"
	"investa/internal/search"
	"investa/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	// Load .env file if it exists, but don't fail if it's missing (e.g. in production)
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.Logger()

	db, err := initDB(cfg.Database.URL)
	if err != nil {
		logger.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := database.New(db, logger)
	if err := repo.Migrate(ctx); err != nil {
		logger.Fatalf("migrate failed: %v", err)
	}

	store := directory.NewStore(db, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatalf("ticker directory schema: %v", err)
	}
	feed := directory.NewFTPFeed(directory.FTPConfig{
		Addr:    cfg.Feed.Host,
		Dir:     cfg.Feed.Dir,
		Timeout: cfg.FeedTimeout(),
	}, logger)
	syncer := directory.NewSyncer(store, feed, logger)
	if cfg.SyncOnStartup() {
		if res, err := syncer.SyncIfNeeded(ctx); err != nil {
			logger.Warnf("ticker sync failed, search uses the built-in list: %v", err)
		} else {
			logger.Infof("ticker directory %s (%d tickers)", res.Status, res.Count)
		}
	}

	oracle := service.NewPriceOracle(service.OracleConfig{
		BaseURL:           cfg.MarketData.URL,
		Timeout:           cfg.MarketDataTimeout(),
		RequestsPerSecond: cfg.MarketData.RequestsPerSecond,
		PriceTTL:          cfg.PriceCacheTTL(),
		HistoryTTL:        cfg.HistoryCacheTTL(),
	}, logger)
	searcher := search.New(store, cfg.SearchCacheTTL(), cfg.Search.Limit, logger)
	if iv := cfg.SyncInterval(); iv > 0 {
		syncer.Start(ctx, iv, func(directory.SyncResult) { searcher.Reset() })
	}
	pf := portfolio.NewService(repo, oracle, logger)

	h := handlers.NewHandler(repo, pf, oracle, searcher, syncer, logger)

	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	rg := gin.Default()
	h.Register(rg)

	logger.Infof("server starting on :%s", cfg.Server.Port)
	if err := rg.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}
}

func initDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}
