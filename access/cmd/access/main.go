package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/incyashraj/ParkShare-sub000/access/internal/config"
	"github.com/incyashraj/ParkShare-sub000/access/internal/health"
	"github.com/incyashraj/ParkShare-sub000/access/internal/nats"
	"github.com/incyashraj/ParkShare-sub000/access/internal/redis"
	"github.com/incyashraj/ParkShare-sub000/access/internal/server"
	"github.com/incyashraj/ParkShare-sub000/shared/jwt"
)

func main() {
	configPath := flag.String("config", "configs/access.yaml", "config file path")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	natsClient, err := nats.NewClient(cfg.NATS, cfg.Server.NodeID, logger)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	logger.Info("Connected to NATS", "url", cfg.NATS.URL)

	redisClient := redis.NewClient(cfg.Redis, cfg.Server.NodeID, logger)
	defer redisClient.Close()
	logger.Info("Connected to Redis", "addr", cfg.Redis.GetAddr())

	// 令牌由身份服务签发，这里只校验
	validator := jwt.New(cfg.Auth.TokenSecret, cfg.Auth.Issuer, 0)

	srv := server.New(cfg, natsClient, redisClient, validator, logger)
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// 健康检查 HTTP 服务
	checker := health.NewChecker(cfg.Server.NodeID, natsClient, redisClient, srv.ConnManager(), srv.Hub())
	healthServer := &http.Server{
		Addr:              cfg.Server.HealthAddr,
		Handler:           checker.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Health check server started", "addr", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed", "error", err)
		}
	}()

	logger.Info("Access server started", "addr", cfg.Server.Addr, "node_id", cfg.Server.NodeID)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthServer.Shutdown(shutdownCtx)

	srv.Shutdown()
	cancel()
	logger.Info("Server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
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
