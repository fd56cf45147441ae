package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"reddit_archiver/internal/config"
	"reddit_archiver/internal/domain"
	"reddit_archiver/internal/engine"
	"reddit_archiver/internal/metrics"
	"reddit_archiver/internal/normalize"
	"reddit_archiver/internal/publisher"
	"reddit_archiver/internal/reddit"
	"reddit_archiver/internal/scheduler"
	"reddit_archiver/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run every feed once and exit")
	resetFeed := flag.String("reset-feed", "", "delete the named feed's checkpoint and exit")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	checkpointStore := postgres.NewCheckpointStore(db)

	if *resetFeed != "" {
		if err := checkpointStore.Reset(ctx, *resetFeed); err != nil {
			logger.Error("failed to reset checkpoint", "feed", *resetFeed, "error", err)
			os.Exit(1)
		}
		logger.Info("checkpoint reset", "feed", *resetFeed)
		return
	}

	txManager := postgres.NewTransactionManager(db)
	itemStore := postgres.NewItemStore(db, txManager)

	authenticator := reddit.NewAuthenticator(reddit.AuthConfig{
		TokenURL:     cfg.Reddit.TokenURL,
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		UserAgent:    cfg.Reddit.UserAgent,
		Timeout:      cfg.Reddit.Timeout,
	})

	client := reddit.NewClient(reddit.ClientConfig{
		BaseURL:   cfg.Reddit.BaseURL,
		UserAgent: cfg.Reddit.UserAgent,
		PageSize:  cfg.Reddit.PageSize,
		Timeout:   cfg.Reddit.Timeout,
	}, authenticator, logger)

	var events engine.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		events = rabbitMQ
	}

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
		go serveMetrics(cfg.Metrics.Addr, recorder, logger)
	}

	normalizer := normalize.New()

	engines := make([]*engine.Engine, 0, len(cfg.Feeds))
	for _, fc := range cfg.Feeds {
		feed := fc.Feed()
		engines = append(engines, engine.New(
			feed,
			authenticator,
			client.Feed(feed),
			normalizer,
			itemStore,
			checkpointStore,
			events,
			recorder,
			logger,
			cfg.Sync,
		))
	}

	group := engine.NewGroup(engines, cfg.Sync.MaxParallelFeeds, logger)

	logger.Info("starting archiver",
		"feeds", len(cfg.Feeds),
		"interval", cfg.Sync.Interval,
		"max_pages", cfg.Sync.MaxPagesPerRun,
	)

	if *once {
		_, syncErr := group.Sync(ctx)
		if counts, err := itemStore.CountByKind(ctx); err == nil {
			logger.Info("archive totals",
				"posts", counts[domain.KindPost],
				"comments", counts[domain.KindComment],
			)
		} else {
			logger.Warn("archive totals unavailable", "error", err)
		}
		if syncErr != nil {
			os.Exit(1)
		}
		return
	}

	sched := scheduler.NewScheduler(group, cfg.Sync.Interval, cfg.Sync.RunTimeout, logger)
	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func serveMetrics(addr string, recorder *metrics.Recorder, logger *slog.Logger) {
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, recorder.Handler()); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
