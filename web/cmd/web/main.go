// @title                       ParkShare Messaging API
// @version                     1.0
// @description                 端到端加密消息：公钥目录、会话、消息与附件
// @BasePath                    /api/v1
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/incyashraj/ParkShare-sub000/shared/jwt"
	sharedNats "github.com/incyashraj/ParkShare-sub000/shared/nats"
	"github.com/incyashraj/ParkShare-sub000/shared/snowflake"
	_ "github.com/incyashraj/ParkShare-sub000/web/docs"
	"github.com/incyashraj/ParkShare-sub000/web/internal/attachment"
	"github.com/incyashraj/ParkShare-sub000/web/internal/config"
	"github.com/incyashraj/ParkShare-sub000/web/internal/handler"
	natsClient "github.com/incyashraj/ParkShare-sub000/web/internal/nats"
	"github.com/incyashraj/ParkShare-sub000/web/internal/repository"
	"github.com/incyashraj/ParkShare-sub000/web/internal/router"
	"github.com/incyashraj/ParkShare-sub000/web/internal/service"
)

func main() {
	configPath := flag.String("config", "configs/web.yaml", "config file path")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 数据库迁移
	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, cfg.Database.DSN()); err != nil {
			logger.Error("Failed to migrate database", "error", err)
			os.Exit(1)
		}
		logger.Info("Database migrated")
	}

	// 连接数据库
	db, err := repository.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

	// 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()
	logger.Info("Connected to Redis", "addr", cfg.Redis.GetAddr())

	// 连接 NATS
	nc, err := sharedNats.Connect(cfg.NATS, "parkshare-web", logger.With("component", "nats"))
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer sharedNats.Drain(nc)
	logger.Info("Connected to NATS", "url", cfg.NATS.URL)

	// 对象存储
	uploader, err := attachment.New(ctx, cfg.Storage)
	if err != nil {
		logger.Error("Failed to init attachment storage", "error", err)
		os.Exit(1)
	}

	// 初始化 JWT 服务（只校验，签发在身份服务）
	jwtService := jwt.New(cfg.JWT.SecretKey, cfg.JWT.Issuer, cfg.JWT.AccessExpire)

	// 初始化雪花ID生成器
	sfNode, err := snowflake.NewNode(cfg.App.NodeID)
	if err != nil {
		logger.Error("Failed to create snowflake node", "error", err)
		os.Exit(1)
	}

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	blockRepo := repository.NewBlockRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	membersCache := repository.NewMembersCache(redisClient)
	presenceRepo := repository.NewPresenceRepository(redisClient)

	// 初始化 Service
	publisher := natsClient.NewEventPublisher(nc)
	directoryService := service.NewDirectoryService(userRepo, blockRepo, presenceRepo)
	messageService := service.NewMessageService(conversationRepo, messageRepo, blockRepo, sfNode, publisher)
	conversationService := service.NewConversationService(conversationRepo, userRepo, blockRepo, membersCache, messageService, sfNode)

	// 上行消息消费（access 转发的 message-status）
	subscriber := natsClient.NewUpstreamSubscriber(nc, service.NewUpstreamService(messageService), natsClient.SubscriberConfig{
		WorkerCount: cfg.Subscriber.WorkerCount,
		BufferSize:  cfg.Subscriber.BufferSize,
	})
	if err := subscriber.Start(ctx); err != nil {
		logger.Error("Failed to start upstream subscriber", "error", err)
		os.Exit(1)
	}

	// 设置路由
	r := router.SetupRouter(cfg, logger, jwtService, router.Handlers{
		User:         handler.NewUserHandler(directoryService),
		Conversation: handler.NewConversationHandler(conversationService, messageService),
		Message:      handler.NewMessageHandler(messageService),
		Attachment:   handler.NewAttachmentHandler(uploader),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": db,
			"redis": handler.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
			"nats": handler.PingFunc(func(context.Context) error {
				if !nc.IsConnected() {
					return errors.New("disconnected")
				}
				return nil
			}),
		}),
	})

	// 启动服务器
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Web server started", "addr", srv.Addr, "mode", cfg.App.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
	if err := subscriber.Stop(); err != nil {
		logger.Error("Subscriber stop failed", "error", err)
	}
	if n := subscriber.Rejected(); n > 0 {
		logger.Warn("Upstream messages left unprocessed at shutdown", "count", n)
	}
	cancel()
	logger.Info("Server stopped")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
