package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"media-queue/internal/auth"
	"media-queue/internal/config"
	"media-queue/internal/downloader"
	apphttp "media-queue/internal/http"
	"media-queue/internal/persistence"
	"media-queue/internal/repository"
	"media-queue/internal/repository/sqlite"
	"media-queue/internal/service"
	"media-queue/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var s3Client *s3.Client
	if cfg.Storage.Bucket != "" {
		s3Client, err = buildS3Client(ctx, cfg)
		if err != nil {
			logger.Fatalf("setup storage: %v", err)
		}
		logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	}

	snapshots, closeRepo, err := buildSnapshotRepository(ctx, cfg, s3Client, logger)
	if err != nil {
		logger.Fatalf("setup persistence: %v", err)
	}
	defer closeRepo()

	store := service.NewJobStore(
		persistence.NewAdapter(snapshots, persistence.Options{Timeout: cfg.Persistence.Timeout, Logger: logger}),
		service.StoreOptions{MaxActive: cfg.Scheduler.MaxConcurrent, Logger: logger},
	)
	if err := store.Restore(ctx); err != nil {
		logger.Warnf("restore jobs: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := downloader.NewMetrics(reg)

	var storageSvc storage.Service
	if s3Client != nil {
		storageSvc = storage.NewS3Service(s3Client)
	}

	transfer, closeTransfer, err := buildTransfer(cfg, storageSvc, logger)
	if err != nil {
		logger.Fatalf("setup downloader: %v", err)
	}
	defer closeTransfer()

	manager := downloader.NewManager(downloader.Config{
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		TickInterval:  cfg.Scheduler.TickInterval,
		CancelTimeout: cfg.Scheduler.CancelTimeout,
		Logger:        logger,
		Metrics:       metrics,
	}, store, transfer)
	if err := manager.Start(ctx); err != nil {
		logger.Fatalf("start manager: %v", err)
	}

	authenticator, err := auth.New(auth.Config{
		Username:     cfg.Auth.Username,
		PasswordHash: cfg.Auth.PasswordHash,
		Secret:       cfg.Auth.JWTSecret,
		TokenTTL:     cfg.TokenTTL(),
	})
	if err != nil {
		logger.Fatalf("setup auth: %v", err)
	}
	if !authenticator.Enabled() {
		logger.Warn("auth.jwtsecret is empty, API is unauthenticated")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(apphttp.Options{
		Store:     store,
		Scheduler: manager,
		Storage:   storageSvc,
		Bucket:    cfg.Storage.Bucket,
		DataRoot:  cfg.Download.DataDir,
		Auth:      authenticator,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:    logger,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	manager.Shutdown()

	logger.Info("bye")
}

func buildSnapshotRepository(ctx context.Context, cfg config.Config, client *s3.Client, logger *logrus.Logger) (repository.SnapshotRepository, func(), error) {
	if cfg.Persistence.Backend == "s3" {
		repo, err := storage.NewSnapshotRepository(client, cfg.Storage.Bucket, cfg.Storage.SnapshotKey)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("persisting snapshots to %s", repo.Location())
		return repo, func() {}, nil
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	repo := sqlite.NewSnapshotRepository(db, sqlite.DefaultSnapshotName)
	if err := repo.Init(ctx); err != nil {
		closeDB(db)
		return nil, nil, fmt.Errorf("init snapshot repository: %w", err)
	}
	if rev, err := repo.Revision(ctx); err == nil {
		logger.Infof("persisting snapshots to %s (revision %d)", cfg.Database.Path, rev)
	}
	return repo, func() { closeDB(db) }, nil
}

func closeDB(db *sql.DB) {
	_ = db.Close()
}

func buildTransfer(cfg config.Config, storageSvc storage.Service, logger *logrus.Logger) (downloader.Transfer, func(), error) {
	var (
		transfer downloader.Transfer
		closeFn  = func() {}
	)
	switch cfg.Downloader.Mode {
	case "live":
		torrents, err := downloader.NewTorrentTransfer(downloader.TorrentConfig{
			DataDir:        cfg.Download.DataDir,
			StatusInterval: cfg.Scheduler.TickInterval,
			Logger:         logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("start torrent client: %w", err)
		}
		closeFn = torrents.Close
		transfer = downloader.KindRouter{
			Download: downloader.HTTPTransfer{
				Client:         &http.Client{},
				DataDir:        cfg.Download.DataDir,
				StatusInterval: cfg.Scheduler.TickInterval,
			},
			Torrent: torrents,
		}
	default:
		transfer = downloader.SimulatedTransfer{
			Step:     cfg.Downloader.SimulateStep,
			Interval: cfg.Scheduler.TickInterval,
		}
	}

	if cfg.Storage.Archive && storageSvc != nil {
		transfer = downloader.ArchivingTransfer{
			Inner:       transfer,
			Storage:     storageSvc,
			Bucket:      cfg.Storage.Bucket,
			KeyPrefix:   cfg.Storage.KeyPrefix,
			RemoveLocal: true,
			Logger:      logger,
		}
	}
	return transfer, closeFn, nil
}

func buildS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
