package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	sharedConfig "github.com/incyashraj/ParkShare-sub000/shared/config"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
	sharedRedis "github.com/incyashraj/ParkShare-sub000/shared/redis"
)

// Client Redis 客户端
// 会话路由、在线状态读写，以及会话参与者缓存读取
type Client struct {
	client *redis.Client
	nodeID string
	logger *slog.Logger
}

var _ sharedRedis.RouteStore = (*Client)(nil)

// NewClient 创建 Redis 客户端
func NewClient(cfg sharedConfig.RedisConfig, nodeID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	return &Client{
		client: client,
		nodeID: nodeID,
		logger: logger,
	}
}

// NewFromRedis 使用已有的 go-redis 客户端
func NewFromRedis(client *redis.Client, nodeID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: client, nodeID: nodeID, logger: logger}
}

// Raw 底层客户端
func (c *Client) Raw() *redis.Client {
	return c.client
}

// Register 登记一个会话路由，同一用户多设备各占一个 field
func (c *Client) Register(ctx context.Context, route *model.SessionRoute) error {
	if route.NodeID == "" {
		route.NodeID = c.nodeID
	}
	data, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("marshal route: %w", err)
	}

	key := sharedRedis.BuildRouteKey(route.UserID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, strconv.FormatInt(route.ConnID, 10), data)
		pipe.Expire(ctx, key, sharedRedis.RouteTTL)
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Debug("Session route registered",
		"user_id", route.UserID,
		"conn_id", route.ConnID,
		"node_id", route.NodeID)
	return nil
}

// Unregister 删除一个会话路由
func (c *Client) Unregister(ctx context.Context, userID, connID int64) error {
	return c.client.HDel(ctx, sharedRedis.BuildRouteKey(userID), strconv.FormatInt(connID, 10)).Err()
}

// Get 用户在所有节点上的会话路由，损坏的条目被跳过
func (c *Client) Get(ctx context.Context, userID int64) ([]model.SessionRoute, error) {
	fields, err := c.client.HGetAll(ctx, sharedRedis.BuildRouteKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	routes := make([]model.SessionRoute, 0, len(fields))
	for connID, data := range fields {
		route, err := sharedRedis.ParseRoute(data)
		if err != nil {
			c.logger.Warn("Skipping malformed route", "user_id", userID, "conn_id", connID, "error", err)
			continue
		}
		routes = append(routes, *route)
	}
	return routes, nil
}

// Refresh 心跳续期
func (c *Client) Refresh(ctx context.Context, userID int64) error {
	return c.client.Expire(ctx, sharedRedis.BuildRouteKey(userID), sharedRedis.RouteTTL).Err()
}

// ActiveSessions 用户在所有节点上的会话数
func (c *Client) ActiveSessions(ctx context.Context, userID int64) (int64, error) {
	return c.client.HLen(ctx, sharedRedis.BuildRouteKey(userID)).Result()
}

// SavePresence 写入在线状态
func (c *Client) SavePresence(ctx context.Context, rec *model.PresenceRecord) error {
	key := sharedRedis.BuildPresenceKey(rec.UserID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, sharedRedis.EncodePresence(rec))
	pipe.Expire(ctx, key, sharedRedis.PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// LoadPresence 读取在线状态，从未上线的用户返回 offline
func (c *Client) LoadPresence(ctx context.Context, userId int64) (*model.PresenceRecord, error) {
	fields, err := c.client.HGetAll(ctx, sharedRedis.BuildPresenceKey(userId)).Result()
	if err != nil {
		return nil, err
	}
	return sharedRedis.DecodePresence(userId, fields), nil
}

// Participants 读取会话参与者缓存（由 web 在创建/打开会话时写入）
func (c *Client) Participants(ctx context.Context, conversationId int64) ([]int64, error) {
	members, err := c.client.SMembers(ctx, sharedRedis.BuildConversationMembersKey(conversationId)).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Ping 检查 Redis 连接
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.client.Close()
}
