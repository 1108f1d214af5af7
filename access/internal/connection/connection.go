package connection

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/webtransport-go"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

const writeBufferSize = 256

var connIDCounter int64

// SessionCloser 底层会话（*webtransport.Session 满足该接口）
type SessionCloser interface {
	CloseWithError(code webtransport.SessionErrorCode, msg string) error
}

// Connection 一个已认证的客户端连接
// 所有下行帧都写入认证时使用的那条双向流
type Connection struct {
	id         int64
	userID     int64
	deviceID   string
	platform   string
	session    SessionCloser
	stream     io.Writer
	logger     *slog.Logger
	writeChan  chan []byte
	closeChan  chan struct{}
	closeOnce  sync.Once
	createTime time.Time
	lastActive atomic.Int64 // unix 纳秒
}

// Identity 认证后绑定到连接上的身份
type Identity struct {
	UserID   int64
	DeviceID string
	Platform string
}

// New 创建连接并启动写循环
func New(session SessionCloser, stream io.Writer, id Identity, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		id:         atomic.AddInt64(&connIDCounter, 1),
		userID:     id.UserID,
		deviceID:   id.DeviceID,
		platform:   id.Platform,
		session:    session,
		stream:     stream,
		writeChan:  make(chan []byte, writeBufferSize),
		closeChan:  make(chan struct{}),
		createTime: time.Now(),
	}
	c.logger = logger.With("conn_id", c.id, "user_id", c.userID)
	c.Touch(c.createTime)
	go c.writeLoop()
	return c
}

func (c *Connection) ID() int64 {
	return c.id
}

func (c *Connection) UserID() int64 {
	return c.userID
}

func (c *Connection) DeviceID() string {
	return c.deviceID
}

func (c *Connection) Platform() string {
	return c.platform
}

func (c *Connection) CreateTime() time.Time {
	return c.createTime
}

// Send 投递一帧，不阻塞；慢客户端缓冲区满时丢弃并返回 ErrSendBufferFull
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.closeChan:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeChan <- frame:
		return nil
	case <-c.closeChan:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case frame := <-c.writeChan:
			if _, err := c.stream.Write(frame); err != nil {
				c.logger.Debug("Failed to write frame", "error", err)
				c.Close()
				return
			}
		case <-c.closeChan:
			return
		}
	}
}

// Close 关闭连接（可重复调用）
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		if c.session != nil {
			_ = c.session.CloseWithError(0, "connection closed")
		}
	})
}

// Done 连接关闭时返回
func (c *Connection) Done() <-chan struct{} {
	return c.closeChan
}

// Touch 刷新活跃时间
func (c *Connection) Touch(now time.Time) {
	c.lastActive.Store(now.UnixNano())
}

// LastActiveTime 最近活跃时间
func (c *Connection) LastActiveTime() time.Time {
	return time.Unix(0, c.lastActive.Load())
}
