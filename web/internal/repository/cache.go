package repository

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/incyashraj/ParkShare-sub000/shared/model"
	sharedRedis "github.com/incyashraj/ParkShare-sub000/shared/redis"
)

// MembersCache 会话参与者缓存，Access 加入房间时据此校验
type MembersCache struct {
	rdb *redis.Client
}

// NewMembersCache 创建参与者缓存
func NewMembersCache(rdb *redis.Client) *MembersCache {
	return &MembersCache{rdb: rdb}
}

// SetMembers 写入会话参与者
func (c *MembersCache) SetMembers(ctx context.Context, conversationId int64, participants []int64) error {
	key := sharedRedis.BuildConversationMembersKey(conversationId)
	members := make([]any, 0, len(participants))
	for _, p := range participants {
		members = append(members, strconv.FormatInt(p, 10))
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		pipe.SAdd(ctx, key, members...)
	}
	pipe.Expire(ctx, key, sharedRedis.ConversationMembersTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// PresenceRepository 在线状态读取（由 Access 写入）
type PresenceRepository struct {
	rdb *redis.Client
}

// NewPresenceRepository 创建在线状态仓库
func NewPresenceRepository(rdb *redis.Client) *PresenceRepository {
	return &PresenceRepository{rdb: rdb}
}

// Get 获取用户在线状态快照
func (r *PresenceRepository) Get(ctx context.Context, userId int64) (*model.PresenceRecord, error) {
	fields, err := r.rdb.HGetAll(ctx, sharedRedis.BuildPresenceKey(userId)).Result()
	if err != nil {
		return nil, err
	}
	return sharedRedis.DecodePresence(userId, fields), nil
}
