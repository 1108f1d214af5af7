package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"github.com/incyashraj/ParkShare-sub000/access/internal/config"
	"github.com/incyashraj/ParkShare-sub000/access/internal/connection"
	"github.com/incyashraj/ParkShare-sub000/access/internal/handler"
	"github.com/incyashraj/ParkShare-sub000/access/internal/nats"
	"github.com/incyashraj/ParkShare-sub000/access/internal/presence"
	"github.com/incyashraj/ParkShare-sub000/access/internal/redis"
	"github.com/incyashraj/ParkShare-sub000/access/internal/room"
	"github.com/incyashraj/ParkShare-sub000/access/internal/task"
	"github.com/incyashraj/ParkShare-sub000/access/internal/typing"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
	"github.com/incyashraj/ParkShare-sub000/shared/workerpool"
)

const (
	// WebTransportPath 客户端连接路径
	WebTransportPath = "/webtransport"

	// 会话建立后必须在该时间内完成首帧认证
	authTimeout = 10 * time.Second

	closeCodeAuthFailed webtransport.SessionErrorCode = 4001
)

type Server struct {
	cfg         *config.Config
	natsClient  *nats.Client
	redisClient *redis.Client
	logger      *slog.Logger
	connMgr     *connection.Manager
	hub         *room.Hub
	tracker     *presence.Tracker
	scheduler   *task.Scheduler
	pool        *workerpool.Pool
	handler     *handler.Handler
	wtServer    *webtransport.Server
	idleReaper  *connection.IdleReaper
	wg          sync.WaitGroup
}

func New(cfg *config.Config, natsClient *nats.Client, redisClient *redis.Client, validator handler.TokenValidator, logger *slog.Logger) *Server {
	connMgr := connection.NewManager(cfg.Server.MaxConnections)
	hub := room.NewHub(redisClient, logger)
	tracker := presence.NewTracker(presence.Config{
		AwayAfter:    cfg.Presence.AwayAfter,
		OfflineAfter: cfg.Presence.OfflineAfter,
	}, redisClient, natsClient, logger)
	scheduler := task.NewScheduler(cfg.Typing.Workers, cfg.Typing.TickInterval, logger)
	pool := workerpool.New(cfg.WorkerPool.Workers, cfg.WorkerPool.QueueSize, logger)

	h := handler.NewHandler(handler.Deps{
		NodeID:    cfg.Server.NodeID,
		ConnMgr:   connMgr,
		Hub:       hub,
		Presence:  tracker,
		Typing:    typing.NewRegistry(scheduler, natsClient, cfg.Typing.ExpireTicks, logger),
		Pool:      pool,
		Validator: validator,
		Upstream:  natsClient,
		Routes:    redisClient,
	}, logger)

	return &Server{
		cfg:         cfg,
		natsClient:  natsClient,
		redisClient: redisClient,
		logger:      logger,
		connMgr:     connMgr,
		hub:         hub,
		tracker:     tracker,
		scheduler:   scheduler,
		pool:        pool,
		handler:     h,
	}
}

// Start 启动 WebTransport 服务（阻塞）
func (s *Server) Start(ctx context.Context) error {
	tlsConfig, err := loadTLSConfig(s.cfg.QUIC.CertFile, s.cfg.QUIC.KeyFile, s.cfg.QUIC.DevCertDir, s.logger)
	if err != nil {
		return err
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:        s.cfg.QUIC.MaxIdleTimeout,
		KeepAlivePeriod:       s.cfg.QUIC.KeepAlivePeriod,
		MaxIncomingStreams:    s.cfg.QUIC.MaxIncomingStreams,
		MaxIncomingUniStreams: s.cfg.QUIC.MaxIncomingUniStreams,
		Allow0RTT:             s.cfg.QUIC.Allow0RTT,
		EnableDatagrams:       true, // WebTransport 需要启用数据报支持
	}

	s.wtServer = &webtransport.Server{
		H3: http3.Server{
			Addr:       s.cfg.Server.Addr,
			TLSConfig:  tlsConfig,
			QUICConfig: quicConfig,
		},
		CheckOrigin: originChecker(s.cfg.Server.AllowedOrigins),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebTransportPath, func(w http.ResponseWriter, r *http.Request) {
		session, err := s.wtServer.Upgrade(w, r)
		if err != nil {
			s.logger.Error("WebTransport upgrade failed", "error", err)
			return
		}
		s.wg.Add(1)
		go s.handleSession(ctx, session)
	})
	s.wtServer.H3.Handler = mux

	if err := s.scheduler.Start(); err != nil && !errors.Is(err, task.ErrAlreadyRunning) {
		return err
	}

	if err := s.natsClient.SubscribeDownstream(func(msg *proto.DownstreamMessage) {
		s.handler.HandleDownstream(msg)
	}); err != nil {
		return err
	}

	s.idleReaper = connection.NewIdleReaper(
		s.connMgr,
		s.cfg.Server.HeartbeatTimeout,
		s.cfg.Server.HeartbeatCheckInterval,
		s.logger,
		func(conn *connection.Connection) {
			s.handler.OnDisconnect(ctx, conn)
		},
	)
	go s.idleReaper.Run(ctx)
	go s.tracker.Run(ctx, s.cfg.Presence.SweepInterval)

	s.logger.Info("WebTransport server starting", "addr", s.cfg.Server.Addr, "node_id", s.cfg.Server.NodeID)
	return s.wtServer.ListenAndServe()
}

func (s *Server) handleSession(ctx context.Context, session *webtransport.Session) {
	defer s.wg.Done()

	// 客户端只使用一条双向流，首帧必须是认证请求
	acceptCtx, cancel := context.WithTimeout(ctx, authTimeout)
	stream, err := session.AcceptStream(acceptCtx)
	cancel()
	if err != nil {
		_ = session.CloseWithError(closeCodeAuthFailed, "no stream")
		return
	}

	_ = stream.SetReadDeadline(time.Now().Add(authTimeout))
	conn, err := s.handler.Authenticate(ctx, session, stream)
	if err != nil {
		s.logger.Warn("Auth failed, closing session", "error", err)
		_ = session.CloseWithError(closeCodeAuthFailed, "auth failed")
		return
	}
	_ = stream.SetReadDeadline(time.Time{})
	defer s.handler.OnDisconnect(ctx, conn)

	// 阻塞直到流关闭；心跳超时关闭会话也会使读取返回
	s.handler.HandleStream(ctx, conn, stream)
}

// originChecker 未配置时允许所有来源
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// 非浏览器客户端
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.Contains(allowed, origin) || slices.Contains(allowed, u.Host)
	}
}

// ConnManager 返回连接管理器
func (s *Server) ConnManager() *connection.Manager {
	return s.connMgr
}

// Hub 返回房间表
func (s *Server) Hub() *room.Hub {
	return s.hub
}

// Shutdown 关闭监听与所有连接，等待断线清理完成
func (s *Server) Shutdown() {
	if s.wtServer != nil {
		if err := s.wtServer.Close(); err != nil {
			s.logger.Warn("Failed to close WebTransport server", "error", err)
		}
	}
	s.connMgr.CloseAll()
	s.wg.Wait()
	s.pool.Shutdown()
	s.scheduler.Stop()
}
