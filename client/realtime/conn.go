// Package realtime 客户端实时连接
//
// 一个会话只有一条 WebTransport 双向流：首帧认证，之后请求/响应按 reqId 关联，
// 服务端推送通过 Events() 交给调用方。读循环与发送互不阻塞。
package realtime

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/webtransport-go"
	"github.com/sethvargo/go-retry"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

const (
	eventBufferSize       = 1024
	defaultRequestTimeout = 10 * time.Second

	// maxQueuedEvents 调用方长时间不消费 Events() 时读循环暂存的推送上限，超出后丢弃新推送
	maxQueuedEvents = 64 * eventBufferSize
)

// ErrClosed 连接已关闭
var ErrClosed = errors.New("realtime connection closed")

// Config 连接配置
type Config struct {
	URL                string // https://host:4433/webtransport
	Token              string
	DeviceID           string
	Platform           string
	InsecureSkipVerify bool
	RequestTimeout     time.Duration
	HeartbeatInterval  time.Duration
	DialRetries        uint64
	DialBackoff        time.Duration
}

// Conn 已认证的实时连接
type Conn struct {
	rw      io.ReadWriter
	closer  func() error
	logger  *slog.Logger
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *proto.ServerResponse

	events    chan *proto.ServerEvent
	queueMu   sync.Mutex
	queued    []*proto.ServerEvent
	queueWake chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	err       error

	userID int64
	connID int64
}

// Dial 建立 WebTransport 会话、打开双向流并完成认证
// 网络错误按指数退避重试 DialRetries 次；认证被拒绝不重试
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := &webtransport.Dialer{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			NextProtos:         []string{"h3"},
		},
		QUICConfig: &quic.Config{
			KeepAlivePeriod: 15 * time.Second,
			EnableDatagrams: true,
		},
	}

	backoff := cfg.DialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var conn *Conn
	err := retry.Do(ctx, retry.WithMaxRetries(cfg.DialRetries, retry.NewExponential(backoff)), func(ctx context.Context) error {
		_, session, err := dialer.Dial(ctx, cfg.URL, nil)
		if err != nil {
			logger.Warn("Dial failed", "url", cfg.URL, "error", err)
			return retry.RetryableError(sharedErrors.ErrNetworkFailure.Wrap(err))
		}
		stream, err := session.OpenStreamSync(ctx)
		if err != nil {
			_ = session.CloseWithError(0, "open stream failed")
			return retry.RetryableError(sharedErrors.ErrNetworkFailure.Wrap(err))
		}

		c := newConn(stream, func() error {
			_ = stream.Close()
			return session.CloseWithError(0, "client closed")
		}, cfg.RequestTimeout, logger)

		if err := c.authenticate(cfg.Token, cfg.DeviceID, cfg.Platform); err != nil {
			_ = c.Close()
			if sharedErrors.Is(err, sharedErrors.ErrNetworkFailure) {
				return retry.RetryableError(err)
			}
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	conn.start()
	if cfg.HeartbeatInterval > 0 {
		go conn.heartbeatLoop(cfg.HeartbeatInterval)
	}
	return conn, nil
}

func newConn(rw io.ReadWriter, closer func() error, timeout time.Duration, logger *slog.Logger) *Conn {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Conn{
		rw:        rw,
		closer:    closer,
		logger:    logger,
		timeout:   timeout,
		pending:   make(map[string]chan *proto.ServerResponse),
		events:    make(chan *proto.ServerEvent, eventBufferSize),
		queueWake: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// authenticate 发送认证帧并同步等待 AuthAck（读循环启动前）
func (c *Conn) authenticate(token, deviceID, platform string) error {
	body, err := json.Marshal(&proto.AuthRequest{Token: token, DeviceID: deviceID, Platform: platform})
	if err != nil {
		return err
	}
	if err := c.writeFrame(proto.FrameTypeAuth, body); err != nil {
		return err
	}

	frameType, body, err := proto.ReadFrame(c.rw)
	if err != nil {
		return sharedErrors.ErrNetworkFailure.Wrap(err)
	}
	if frameType != proto.FrameTypeAuthAck {
		return sharedErrors.ErrNetworkFailure.Wrap(fmt.Errorf("unexpected frame type %d before auth ack", frameType))
	}

	var ack proto.AuthAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return sharedErrors.ErrNetworkFailure.Wrap(err)
	}
	if ack.Code != sharedErrors.CodeSuccess {
		return sharedErrors.FromCode(ack.Code, ack.Message)
	}

	c.userID = ack.UserID
	c.connID = ack.ConnID
	return nil
}

func (c *Conn) start() {
	go c.readLoop()
	go c.deliverLoop()
}

// readLoop 只做解帧与分发：响应直接交给等待者，推送进入队列，
// 事件回调里再发请求也不会因 Events() 积压而等不到响应
func (c *Conn) readLoop() {
	for {
		frameType, body, err := proto.ReadFrame(c.rw)
		if err != nil {
			c.shutdown(err)
			return
		}

		switch frameType {
		case proto.FrameTypeResponse:
			var resp proto.ServerResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				c.logger.Warn("Malformed response", "error", err)
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.ReqID]
			delete(c.pending, resp.ReqID)
			c.mu.Unlock()
			if ok {
				ch <- &resp
			}

		case proto.FrameTypeEvent:
			var ev proto.ServerEvent
			if err := json.Unmarshal(body, &ev); err != nil {
				c.logger.Warn("Malformed event", "error", err)
				continue
			}
			c.enqueue(&ev)

		default:
			c.logger.Debug("Ignoring frame", "frame_type", frameType)
		}
	}
}

func (c *Conn) enqueue(ev *proto.ServerEvent) {
	c.queueMu.Lock()
	if len(c.queued) >= maxQueuedEvents {
		c.queueMu.Unlock()
		c.logger.Warn("Event queue full, dropping event", "event", ev.Event)
		return
	}
	c.queued = append(c.queued, ev)
	c.queueMu.Unlock()

	select {
	case c.queueWake <- struct{}{}:
	default:
	}
}

func (c *Conn) dequeue() (*proto.ServerEvent, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queued) == 0 {
		return nil, false
	}
	ev := c.queued[0]
	c.queued[0] = nil
	c.queued = c.queued[1:]
	return ev, true
}

// deliverLoop 按到达顺序把推送交给 Events()，连接关闭后关闭 channel
func (c *Conn) deliverLoop() {
	defer close(c.events)

	for {
		ev, ok := c.dequeue()
		if !ok {
			select {
			case <-c.queueWake:
				continue
			case <-c.done:
				return
			}
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writeFrame(frameType byte, body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := proto.WriteFrame(c.rw, frameType, body); err != nil {
		return sharedErrors.ErrNetworkFailure.Wrap(err)
	}
	return nil
}

// Request 发送请求并等待响应；非零响应码还原为对应的预定义错误
func (c *Conn) Request(ctx context.Context, event string, data any, out any) error {
	select {
	case <-c.done:
		return sharedErrors.ErrNetworkFailure.Wrap(ErrClosed)
	default:
	}

	req := &proto.ClientRequest{ReqID: uuid.NewString(), Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return sharedErrors.ErrInvalidParams.Wrap(err)
		}
		req.Data = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return sharedErrors.ErrInvalidParams.Wrap(err)
	}

	ch := make(chan *proto.ServerResponse, 1)
	c.mu.Lock()
	c.pending[req.ReqID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ReqID)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(proto.FrameTypeRequest, body); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case resp := <-ch:
		if resp.Code != sharedErrors.CodeSuccess {
			return sharedErrors.FromCode(resp.Code, resp.Message)
		}
		if out != nil && len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return sharedErrors.ErrServerError.Wrap(err)
			}
		}
		return nil
	case <-c.done:
		return sharedErrors.ErrNetworkFailure.Wrap(ErrClosed)
	case <-ctx.Done():
		return sharedErrors.ErrNetworkFailure.Wrap(ctx.Err())
	}
}

// Post 发送请求但不等待响应（用于回执，避免阻塞事件处理）
func (c *Conn) Post(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return sharedErrors.ErrInvalidParams.Wrap(err)
	}
	body, err := json.Marshal(&proto.ClientRequest{Event: event, Data: raw})
	if err != nil {
		return sharedErrors.ErrInvalidParams.Wrap(err)
	}
	return c.writeFrame(proto.FrameTypeRequest, body)
}

func (c *Conn) Join(ctx context.Context, conversationID int64) error {
	return c.Request(ctx, proto.EventJoinRoom, proto.RoomRequest{ConversationID: conversationID}, nil)
}

func (c *Conn) Leave(ctx context.Context, conversationID int64) error {
	return c.Request(ctx, proto.EventLeaveRoom, proto.RoomRequest{ConversationID: conversationID}, nil)
}

func (c *Conn) TypingStart(ctx context.Context, conversationID int64) error {
	return c.Request(ctx, proto.EventTypingStart, proto.TypingRequest{ConversationID: conversationID}, nil)
}

func (c *Conn) TypingStop(ctx context.Context, conversationID int64) error {
	return c.Request(ctx, proto.EventTypingStop, proto.TypingRequest{ConversationID: conversationID}, nil)
}

// ReportStatus 上报 delivered / read
func (c *Conn) ReportStatus(update *proto.StatusUpdate) error {
	return c.Post(proto.EventMessageStatus, update)
}

func (c *Conn) Activity(ctx context.Context, label string) error {
	return c.Request(ctx, proto.EventActivity, proto.ActivityRequest{Label: label}, nil)
}

// QueryPresence 在线状态快照
func (c *Conn) QueryPresence(ctx context.Context, userID int64) (*model.PresenceRecord, error) {
	var rec model.PresenceRecord
	if err := c.Request(ctx, proto.EventPresenceQuery, proto.PresenceQuery{UserID: userID}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Heartbeat 返回服务端时间（毫秒）
func (c *Conn) Heartbeat(ctx context.Context) (int64, error) {
	var ack struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.Request(ctx, proto.EventHeartbeat, nil, &ack); err != nil {
		return 0, err
	}
	return ack.ServerTime, nil
}

func (c *Conn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if _, err := c.Heartbeat(context.Background()); err != nil {
				c.logger.Warn("Heartbeat failed", "error", err)
			}
		}
	}
}

// Events 服务端推送，连接关闭后 channel 关闭
func (c *Conn) Events() <-chan *proto.ServerEvent {
	return c.events
}

// Done 连接关闭时返回
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err 连接关闭的原因
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Conn) UserID() int64 { return c.userID }
func (c *Conn) ConnID() int64 { return c.connID }

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		if c.closer != nil {
			_ = c.closer()
		}
	})
}

// Close 关闭连接，未完成的请求返回 ErrNetworkFailure
func (c *Conn) Close() error {
	c.shutdown(ErrClosed)
	return nil
}
