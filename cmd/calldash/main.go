package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"calldash-server/pkg/analysis"
	"calldash-server/pkg/client"
	"calldash-server/pkg/config"
	http_server "calldash-server/pkg/http"
	"calldash-server/pkg/ingest"
	"calldash-server/pkg/live"
	"calldash-server/pkg/metrics"
	"calldash-server/pkg/notify"
	"calldash-server/pkg/store"
	"calldash-server/pkg/transcribe"
)

var logger = logrus.New()

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.ConfigureLogger(logger)

	metrics.Init(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewMySQLDatabase(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	tracker := client.NewStateTracker(cfg.Client.FailureThreshold, logger)
	runner := client.New(cfg.Client, tracker, logger)
	probe := store.NewCapabilityProbe(db, logger)
	repo := store.NewRepository(db, runner, probe, logger)

	var feed notify.Feed
	if cfg.AMQP.Enabled {
		amqpFeed, err := notify.NewAMQPFeed(cfg.AMQP, logger)
		if err != nil {
			logger.WithError(err).Warn("AMQP unavailable, falling back to in-process change feed")
			feed = notify.NewLocalFeed(logger)
		} else {
			feed = amqpFeed
		}
	} else {
		feed = notify.NewLocalFeed(logger)
	}
	defer feed.Close()
	repo.SetNotifier(feed)

	analyzer := analysis.NewAnalyzer(logger)
	pipeline := ingest.NewPipeline(repo, analyzer, transcribe.NewMockProvider(logger), cfg.Analytics.TopKeywords, logger)

	subscriber := live.NewSubscriber(repo, feed, analyzer, cfg.Live, cfg.Analytics, logger)
	if err := subscriber.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start live subscriber")
	}
	defer subscriber.Close()

	hub := http_server.NewMetricsHub(logger)
	hub.Start()
	defer hub.Stop()

	removeListener := subscriber.AddListener(hub.BroadcastSnapshot)
	defer removeListener()

	go forwardConnectionEvents(tracker, hub)

	server := http_server.NewServer(cfg.HTTP, hub, pipeline, subscriber, tracker, logger)
	server.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
}

// forwardConnectionEvents mirrors connection state changes to the
// dashboard clients so persistent failures and recoveries are visible
// without polling.
func forwardConnectionEvents(tracker *client.StateTracker, hub *http_server.MetricsHub) {
	events, cancel := tracker.Subscribe()
	defer cancel()

	for event := range events {
		switch event.Kind {
		case client.EventPersistentFailure:
			hub.BroadcastEvent("connection_lost", event)
		case client.EventRestored:
			hub.BroadcastEvent("connection_restored", event)
		default:
			hub.BroadcastEvent("connection_state", event)
		}
	}
}
