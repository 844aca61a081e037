// Package app 按配置装配数据库、Redis 索引、追踪与引擎，供各个命令复用
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/config"
	"github.com/d60-Lab/timeline-engine/internal/adjacency"
	"github.com/d60-Lab/timeline-engine/internal/cache"
	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/internal/service"
	"github.com/d60-Lab/timeline-engine/pkg/database"
	"github.com/d60-Lab/timeline-engine/pkg/logger"
	"github.com/d60-Lab/timeline-engine/pkg/tracing"
)

type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  redis.UniversalClient
	Engine *service.Engine

	closers []func(context.Context) error
}

// New 初始化全部依赖；失败时已打开的资源会被释放
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &App{Config: cfg}
	if err := a.init(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			sentry.Flush(2 * time.Second)
			return nil
		})
	}

	shutdown, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	a.DB, err = database.InitDB(cfg)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return database.Close(a.DB) })

	users := repository.NewUserRepository(a.DB)
	edges := repository.NewEdgeRepository(a.DB)
	posts := repository.NewPostRepository(a.DB)
	timeline := repository.NewTimelineRepository(a.DB)
	adj := adjacency.NewCache(a.DB)
	hook := adjacency.NewHook()

	opts := service.EngineOptions{
		AllowSelfFollow: cfg.Graph.AllowSelfFollow,
		Strategy:        service.Strategy(cfg.Timeline.Strategy),
		FeedSource:      repository.FeedSource(cfg.Timeline.FeedSource),
		BatchSize:       cfg.Timeline.BatchSize,
	}

	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func(context.Context) error { return a.Redis.Close() })
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			// 索引只是加速层，Redis 不可用时照常启动，读取会回源
			logger.Warn("redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		index := cache.NewFollowerIndex(a.Redis, adj, cfg.Redis.IndexTTL)
		repairer := service.NewIndexRepairer(index, 1024)
		a.closers = append(a.closers, repairer.Start(2))
		opts.Index = index
		opts.Repairer = repairer
	}

	a.Engine = service.NewEngineWith(a.DB, users, edges, posts, timeline, adj, hook, opts)
	logger.Info("engine ready",
		zap.String("driver", cfg.Database.Driver),
		zap.String("strategy", cfg.Timeline.Strategy),
		zap.String("feed_source", cfg.Timeline.FeedSource),
		zap.Bool("redis_index", cfg.Redis.Enabled))
	return nil
}

// Close 逆序释放资源
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = logger.Sync()
	return errors.Join(errs...)
}
