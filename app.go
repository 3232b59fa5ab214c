package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/foodscan/internal/auth"
	"github.com/example/foodscan/internal/capture"
	"github.com/example/foodscan/internal/compress"
	"github.com/example/foodscan/internal/config"
	"github.com/example/foodscan/internal/drafts"
	"github.com/example/foodscan/internal/httpclient"
	"github.com/example/foodscan/internal/logging"
	"github.com/example/foodscan/internal/pipeline"
	"github.com/example/foodscan/internal/present"
	"github.com/example/foodscan/internal/repository"
)

// app holds the components shared by every command.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	service *pipeline.Service
	tokens  auth.TokenSource
	durable bool

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, tokens: auth.NewSource(cfg.Token, cfg.TokenFile)}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	var cache drafts.Cache = drafts.NewMemoryCache()
	if cfg.RedisAddr != "" {
		redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := initRedis(redisCtx, cfg.RedisAddr)
		cancel()
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		cache = drafts.NewRedisCache(client)
		a.durable = true
	}
	store := drafts.NewStore(cache, cfg.DraftTTL, logger)

	var history pipeline.HistoryRepository
	if cfg.DatabaseDSN != "" {
		db, err := initDatabase(ctx, cfg.DatabaseDSN)
		if err != nil {
			a.close()
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		}
		repo := repository.NewScanRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		history = repo
	}

	compressor := compress.New(compress.Options{MaxDimension: cfg.MaxDimension, Quality: cfg.JPEGQuality}, logger)
	client := httpclient.New(cfg.APIBaseURL, logger, httpclient.WithTimeout(cfg.HTTPTimeout))
	a.service = pipeline.NewService(compressor, client, store, history, logger)
	return a, nil
}

func (a *app) screen() *pipeline.Screen {
	device := capture.NewFFmpegDevice(a.cfg.Camera.FFmpeg, a.cfg.Camera.Device, a.logger)
	return pipeline.NewScreen(
		capture.NewAcquirer(device, a.logger, uuid.NewString),
		capture.NewCapturer(a.logger),
		a.service,
		a.tokens,
		a.presentConfig(),
		a.logger,
	)
}

func (a *app) presentConfig() present.Config {
	return present.Config{
		Title:        a.cfg.UI.Title,
		CaptureLabel: a.cfg.UI.CaptureLabel,
		UploadLabel:  a.cfg.UI.UploadLabel,
		ScanLabel:    a.cfg.UI.ScanLabel,
		FooterText:   a.cfg.UI.FooterText,
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func initDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	return client, nil
}
