package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"collabEngine/backend/config"
	"collabEngine/backend/internal/cache"
	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/entity"
	"collabEngine/backend/internal/httpapi"
	"collabEngine/backend/internal/httpapi/handlers"
	"collabEngine/backend/internal/identity"
	"collabEngine/backend/internal/logx"
	"collabEngine/backend/internal/permission"
	"collabEngine/backend/internal/store"
	"collabEngine/backend/internal/ws"
)

type stores struct {
	versions  store.VersionStore
	perms     store.PermissionStore
	documents store.DocumentStore
}

func initStores(cfg *config.Config, logger *zap.Logger) (stores, error) {
	if cfg.Storage.Driver != "mysql" {
		logger.Warn("using in-memory stores, versions and permissions are lost on restart")
		return stores{
			versions:  store.NewMemoryVersionStore(cfg.Collab.DraftRetention),
			perms:     store.NewMemoryPermissionStore(),
			documents: store.NewMemoryDocumentStore(),
		}, nil
	}
	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		return stores{}, fmt.Errorf("connect mysql: %w", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		return stores{}, fmt.Errorf("migrate mysql: %w", err)
	}
	return stores{
		versions:  store.NewGormVersionStore(db, cfg.Collab.DraftRetention),
		perms:     store.NewGormPermissionStore(db),
		documents: store.NewGormDocumentStore(db),
	}, nil
}

func initPresence(ctx context.Context, cfg *config.Config) (cache.PresenceCache, func(), error) {
	if len(cfg.Redis.Addrs) == 0 {
		return nil, func() {}, nil
	}
	// 一个地址是单机，多个地址是集群
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return cache.NewRedisPresence(rdb), func() { _ = rdb.Close() }, nil
}

func initPublisher(cfg *config.Config, logger *zap.Logger) (collab.EventPublisher, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return collab.NopPublisher{}, func() {}, nil
	}
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect kafka: %w", err)
	}
	// Kafka 本地队列 + worker 重试发送
	dispatcher := collab.NewKafkaDispatcher(
		producer,
		cfg.Kafka.Topic,
		collab.NewSemaphoreControl(cfg.Kafka.Workers),
		collab.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     cfg.Kafka.Workers,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		},
		logger.Named("kafka"),
	)
	return dispatcher, func() {
		// 先把队列里的事件发完再关 producer
		dispatcher.Close()
		_ = producer.Close()
	}, nil
}

func initResolver(cfg *config.Config) identity.Resolver {
	if cfg.Auth.Mode == "remote" {
		return identity.NewRemoteResolver(cfg.Auth.Path, 0)
	}
	return identity.NewJWTResolver(cfg.Auth.JWTSecret)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	logger, err := logx.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("config loaded", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := initStores(cfg, logger)
	if err != nil {
		logger.Fatal("init stores failed", zap.Error(err))
	}
	presence, closeRedis, err := initPresence(ctx, cfg)
	if err != nil {
		logger.Fatal("init presence failed", zap.Error(err))
	}
	defer closeRedis()
	publisher, closeKafka, err := initPublisher(cfg, logger)
	if err != nil {
		logger.Fatal("init kafka failed", zap.Error(err))
	}
	defer closeKafka()

	// 构造协作引擎
	registry := collab.NewRegistry(collab.SessionOptions{
		ChangeLogCap: cfg.Collab.ChangeLogCap,
		TypingWindow: cfg.Collab.TypingWindow,
	})
	svc := collab.NewService(collab.Deps{
		Registry:  registry,
		Gate:      permission.NewGate(st.perms, logger.Named("permission")),
		Versions:  st.versions,
		Documents: st.documents,
		Presence:  presence,
		Publisher: publisher,
		SaveSem:   collab.NewSemaphoreControl(cfg.Collab.MaxConcurrentOps),
		Logger:    logger.Named("collab"),
	}, collab.Options{PresenceTTL: cfg.Collab.PresenceTTL})

	hub := ws.NewHub(logger.Named("hub"))
	manager := ws.NewManager(hub, svc,
		identity.NewDocTypeEntitlements(cfg.Collab.EntitledDocTypes),
		collab.NewSemaphoreControl(cfg.Collab.MaxConcurrentOps),
		ws.ManagerConfig{
			Conn: ws.ConnConfig{
				IdleTimeout:    cfg.Collab.IdleTimeout,
				WriteTimeout:   cfg.Collab.WriteTimeout,
				SendQueueSize:  cfg.Collab.SendQueueSize,
				MaxMessageSize: cfg.Collab.MaxMessageSize,
			},
			AllowedOrigins: cfg.Collab.AllowedOrigins,
		},
		logger.Named("ws"),
	)

	gin.SetMode(cfg.Running.GinMode)
	router := httpapi.NewRouter(httpapi.RouterDeps{
		Resolver:    initResolver(cfg),
		Manager:     manager,
		Handlers:    handlers.New(svc, hub, logger.Named("http")),
		Logger:      logger.Named("access"),
		CorsOrigins: cfg.Cors.Origins,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", zap.String("addr", server.Addr), zap.String("gin_mode", gin.Mode()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return collab.RunAutoSave(gctx, svc, cfg.Collab.AutoSaveInterval, logger.Named("autosave"), func(v entity.DocumentVersion) {
			hub.Broadcast(v.DocumentID, ws.NewVersionSaved(v), "")
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Running.ShutdownTimeout)
		defer cancel()
		// 先关 WebSocket：拆除时会把未保存的修改存成草稿
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("websocket shutdown incomplete", zap.Error(err))
		}
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return
	}
	logger.Info("server exited")
}
