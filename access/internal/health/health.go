package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const pingTimeout = 2 * time.Second

// Status 健康状态
type Status struct {
	Service     string `json:"service"`
	NodeID      string `json:"nodeId"`
	NATS        string `json:"nats"`
	Redis       string `json:"redis"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

// ConnectionCounter 连接计数器接口
type ConnectionCounter interface {
	Count() int
}

// BusChecker 消息总线连接状态
type BusChecker interface {
	IsConnected() bool
}

// Pinger Redis 连通性
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker 健康检查器
type Checker struct {
	nodeID      string
	bus         BusChecker
	redis       Pinger
	connCounter ConnectionCounter
	roomCounter ConnectionCounter
}

func NewChecker(nodeID string, bus BusChecker, redis Pinger, connCounter, roomCounter ConnectionCounter) *Checker {
	return &Checker{
		nodeID:      nodeID,
		bus:         bus,
		redis:       redis,
		connCounter: connCounter,
		roomCounter: roomCounter,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		Service: "access",
		NodeID:  h.nodeID,
		NATS:    "disconnected",
		Redis:   "not configured",
	}

	if h.bus != nil && h.bus.IsConnected() {
		status.NATS = "connected"
	}

	if h.redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := h.redis.Ping(pingCtx); err == nil {
			status.Redis = "connected"
		} else {
			status.Redis = "disconnected"
		}
	}

	if h.connCounter != nil {
		status.Connections = h.connCounter.Count()
	}
	if h.roomCounter != nil {
		status.Rooms = h.roomCounter.Count()
	}
	return status
}

// IsHealthy 下行推送依赖 NATS，在线状态与房间校验依赖 Redis
func (s *Status) IsHealthy() bool {
	return s.NATS == "connected" && s.Redis != "disconnected"
}

// ServeHTTP /health
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.IsHealthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Ready /ready
func (h *Checker) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Check(r.Context()).IsHealthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("Not Ready"))
}

// Mux 健康检查路由
func (h *Checker) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", h)
	mux.HandleFunc("/ready", h.Ready)
	return mux
}
