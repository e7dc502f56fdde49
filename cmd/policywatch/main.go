// Package main wires together the policy watch service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/visawatch/policywatch/internal/api"
	"github.com/visawatch/policywatch/internal/clock/system"
	"github.com/visawatch/policywatch/internal/config"
	"github.com/visawatch/policywatch/internal/detect"
	"github.com/visawatch/policywatch/internal/fetcher"
	collyfetcher "github.com/visawatch/policywatch/internal/fetcher/colly"
	headlessfetcher "github.com/visawatch/policywatch/internal/fetcher/headless"
	"github.com/visawatch/policywatch/internal/hash/sha256"
	"github.com/visawatch/policywatch/internal/health"
	"github.com/visawatch/policywatch/internal/id/uuid"
	"github.com/visawatch/policywatch/internal/logging"
	"github.com/visawatch/policywatch/internal/metrics"
	"github.com/visawatch/policywatch/internal/notify"
	"github.com/visawatch/policywatch/internal/pipeline"
	memorypublisher "github.com/visawatch/policywatch/internal/publisher/memory"
	pubsubpublisher "github.com/visawatch/policywatch/internal/publisher/pubsub"
	"github.com/visawatch/policywatch/internal/scheduler"
	blobgcs "github.com/visawatch/policywatch/internal/storage/blob/gcs"
	bloblocal "github.com/visawatch/policywatch/internal/storage/blob/local"
	blobmemory "github.com/visawatch/policywatch/internal/storage/blob/memory"
	memorystorage "github.com/visawatch/policywatch/internal/storage/memory"
	"github.com/visawatch/policywatch/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		sourceStore       pipeline.SourceStore
		versionStore      pipeline.VersionStore
		changeStore       pipeline.ChangeStore
		subscriptionStore pipeline.SubscriptionStore
		reportStore       pipeline.ReportStore
	)
	if cfg.DB.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		stores := postgres.NewStores(pool)
		defer stores.Close()
		sourceStore = stores.Sources
		versionStore = stores.Versions
		changeStore = stores.Changes
		subscriptionStore = stores.Subscriptions
		reportStore = stores.Reports
		logger.Info("using postgres stores")
	} else {
		sourceStore = memorystorage.NewSourceStore()
		versionStore = memorystorage.NewVersionStore()
		changeStore = memorystorage.NewChangeStore()
		subscriptionStore = memorystorage.NewSubscriptionStore()
		reportStore = memorystorage.NewReportStore()
		logger.Info("using in-memory stores")
	}

	blobStore := newBlobStore(ctx, cfg, logger)
	publisher := newPublisher(ctx, cfg, logger)

	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.New()

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})
	var headless fetcher.RawFetcher
	if cfg.Headless.Enabled {
		chromeFetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			headless = chromeFetcher
		}
	}
	docFetcher := fetcher.NewDocument(probe, headless, fetcher.Config{
		HeadlessEnabled: cfg.Headless.Enabled && headless != nil,
		ThinBodyMinSize: cfg.Headless.ThinBodyMinSize,
	}, logger.Named("fetcher"))

	policy := health.Policy{
		ErrorThreshold:  cfg.Health.ErrorThreshold,
		StaleMultiplier: cfg.Health.StaleMultiplier,
	}
	tracker := health.NewTracker(sourceStore, clock, policy, logger.Named("health"))
	detector := detect.New(versionStore, changeStore, subscriptionStore,
		blobStore, hasher, clock, idGen, logger.Named("detect"))
	dispatcher := notify.New(subscriptionStore, notify.NewLogSender(logger.Named("mail")),
		nil, publisher, notify.Config{Topic: cfg.PubSub.TopicName}, logger.Named("notify"))

	sched := scheduler.New(sourceStore, reportStore, docFetcher, detector,
		tracker, dispatcher, clock, idGen, scheduler.Config{
			PollInterval: cfg.PollInterval(),
			Concurrency:  cfg.Scheduler.Concurrency,
		}, logger.Named("scheduler"))

	apiServer := api.NewServer(sourceStore, versionStore, changeStore,
		reportStore, sched, clock, policy, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.Scheduler.Enabled {
		go func() {
			logger.Info("scheduler started",
				zap.Duration("poll_interval", cfg.PollInterval()),
				zap.Int("concurrency", cfg.Scheduler.Concurrency),
			)
			sched.Run(ctx)
		}()
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) pipeline.BlobStore {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("gcs client init failed", zap.Error(err))
		}
		store, err := blobgcs.New(client, blobgcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			logger.Fatal("gcs blob store init failed", zap.Error(err))
		}
		logger.Info("using gcs archive", zap.String("bucket", cfg.Storage.GCSBucket))
		return store
	case "local":
		store, err := bloblocal.New(bloblocal.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			logger.Fatal("local blob store init failed", zap.Error(err))
		}
		logger.Info("using local archive", zap.String("dir", cfg.Storage.LocalDir))
		return store
	default:
		logger.Info("using in-memory archive")
		return blobmemory.NewBlobStore()
	}
}

func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) pipeline.Publisher {
	if cfg.PubSub.TopicName == "" {
		return nil
	}
	if cfg.PubSub.ProjectID == "" {
		logger.Warn("pubsub topic set without project id, using in-memory publisher")
		return memorypublisher.New()
	}
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("pubsub publisher init failed", zap.Error(err))
	}
	logger.Info("publishing change events",
		zap.String("project", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	return pub
}
