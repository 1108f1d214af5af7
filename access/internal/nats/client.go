package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	sharedConfig "github.com/incyashraj/ParkShare-sub000/shared/config"
	sharedNats "github.com/incyashraj/ParkShare-sub000/shared/nats"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

// publishConn 发布所需的最小接口（*nats.Conn 满足）
type publishConn interface {
	Publish(subject string, data []byte) error
}

// Client Access 节点的 NATS 客户端
// 上行：客户端上报的状态变更、上下线 -> web（队列组消费）
// 下行：订阅广播 Subject
type Client struct {
	conn   *nats.Conn
	pub    publishConn
	nodeID string
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(cfg sharedConfig.NATSConfig, nodeID string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	conn, err := sharedNats.Connect(cfg, "parkshare-access-"+nodeID, logger)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, pub: conn, nodeID: nodeID, logger: logger}, nil
}

// Conn 底层连接
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// PublishUpstream 发布上行消息
func (c *Client) PublishUpstream(_ context.Context, msg *proto.UpstreamMessage) error {
	msg.NodeID = c.nodeID
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.pub.Publish(sharedNats.SubjectUpstream, data)
}

// PublishDownstream 广播下行消息（在线状态、输入状态由 access 自己产生）
func (c *Client) PublishDownstream(_ context.Context, msg *proto.DownstreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.pub.Publish(sharedNats.SubjectBroadcast, data)
}

// SubscribeDownstream 订阅广播 Subject
func (c *Client) SubscribeDownstream(handler func(msg *proto.DownstreamMessage)) error {
	cb := func(m *nats.Msg) {
		var msg proto.DownstreamMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			c.logger.Warn("Dropping malformed downstream message", "subject", m.Subject, "error", err)
			return
		}
		if msg.Event == nil {
			return
		}
		handler(&msg)
	}

	sub, err := c.conn.Subscribe(sharedNats.SubjectBroadcast, cb)
	if err != nil {
		return err
	}
	c.subs = append(c.subs, sub)
	return nil
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close 排空后关闭连接
func (c *Client) Close() {
	sharedNats.Drain(c.conn)
}
