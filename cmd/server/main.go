package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/config"
	"github.com/d60-Lab/vinylfeed/internal/api"
	"github.com/d60-Lab/vinylfeed/internal/api/handler"
	"github.com/d60-Lab/vinylfeed/internal/docstore"
	"github.com/d60-Lab/vinylfeed/internal/entitycache"
	"github.com/d60-Lab/vinylfeed/internal/feed"
	"github.com/d60-Lab/vinylfeed/internal/realtime"
	"github.com/d60-Lab/vinylfeed/internal/repository"
	"github.com/d60-Lab/vinylfeed/internal/service"
	"github.com/d60-Lab/vinylfeed/pkg/cache"
	"github.com/d60-Lab/vinylfeed/pkg/database"
	"github.com/d60-Lab/vinylfeed/pkg/errreport"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
	"github.com/d60-Lab/vinylfeed/pkg/tracing"
)

// @title       vinylfeed API
// @version     1.0
// @BasePath    /api/v1
// @securityDefinitions.apikey BearerAuth
// @in          header
// @name        Authorization
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	flush, err := errreport.Init(cfg.Sentry)
	if err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	store := docstore.NewRedisStore(rdb)
	entities := entitycache.New(db, rdb, cfg.Feed.HydrationCacheTTL)

	followRepo := repository.NewFollowRepository(db)
	fanRepo := repository.NewFanRepository(db)
	postRepo := repository.NewPostRepository(store)
	likeRepo := repository.NewLikeRepository(store)
	commentRepo := repository.NewCommentRepository(db)
	notifRepo := repository.NewNotificationRepository(db)
	vinylRepo := repository.NewUserVinylRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	albumRepo := repository.NewAlbumRepository(db)
	userRepo := repository.NewUserRepository(db)

	builder := feed.NewBuilder(followRepo, postRepo, entities, feed.Config{
		FollowCap:     cfg.Feed.FollowCap,
		InClauseLimit: cfg.Feed.InClauseLimit,
	})
	changes := realtime.NewChangeFeed(rdb, cfg.Realtime.PingInterval, cfg.Realtime.SubscribeTimeout)
	manager := realtime.NewManager(cfg.Realtime.LivenessTimeout)

	notifications := service.NewNotificationService(notifRepo, entities, changes)
	replicator := service.NewFanReplicator(fanRepo, notifications, 4096)
	relations := service.NewRelationshipService(followRepo, fanRepo, replicator)
	cascade := service.NewCascadeDeleter(postRepo, likeRepo, commentRepo, notifRepo)
	posts := service.NewPostService(postRepo, builder, cascade)
	likes := service.NewLikeService(postRepo, likeRepo, notifications)
	comments := service.NewCommentService(postRepo, commentRepo, entities, notifications, changes)
	collections := service.NewCollectionService(vinylRepo, entities, posts, changes)
	catalog := service.NewCatalogService(albumRepo, userRepo, entities)

	relay := service.NewChangeRelay(outboxRepo, changes, 1, cfg.Realtime.RelayClaimLimit, cfg.Realtime.RelayPollInterval)
	stopRelay := relay.Start()
	stopReplicator := replicator.Start(4)

	if err := handler.RegisterValidators(); err != nil {
		return fmt.Errorf("register validators: %w", err)
	}
	h := handler.New(handler.Deps{
		Relations:     relations,
		Posts:         posts,
		Likes:         likes,
		Comments:      comments,
		Notifications: notifications,
		Collections:   collections,
		Catalog:       catalog,
		Manager:       manager,
		Session: service.SessionDeps{
			Manager:          manager,
			Feed:             builder,
			FeedSource:       service.PostsWatchSource(builder, postRepo, store, cfg.Realtime.PingInterval, cfg.Realtime.SubscribeTimeout),
			Notifications:    notifications,
			Collections:      collections,
			InitialPageSize:  cfg.Feed.InitialPageSize,
			LoadMorePageSize: cfg.Feed.LoadMorePageSize,
		},
		Feed: cfg.Feed,
	})

	// 请求 ctx 挂在 baseCtx 上，关停时取消它让 SSE 长连接退出
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(cfg, h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("db", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cancelRequests()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := stopReplicator(shutdownCtx); err != nil {
		logger.Warn("stop replicator", zap.Error(err))
	}
	if err := stopRelay(shutdownCtx); err != nil {
		logger.Warn("stop relay", zap.Error(err))
	}
	manager.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("shutdown tracing", zap.Error(err))
	}
	return nil
}
