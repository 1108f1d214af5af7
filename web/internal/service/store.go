package service

import (
	"context"

	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
	"github.com/incyashraj/ParkShare-sub000/shared/snowflake"
)

// UserStore 用户资料与公钥目录
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	UpsertDisplayName(ctx context.Context, id int64, displayName string) error
	UpsertPublicKey(ctx context.Context, id int64, armored string) error
	GetPublicKey(ctx context.Context, id int64) (string, error)
	GetDisplayNames(ctx context.Context, ids []int64) (map[int64]string, error)
}

// BlockStore 屏蔽关系
type BlockStore interface {
	Block(ctx context.Context, blockerId, blockedId int64) error
	Unblock(ctx context.Context, blockerId, blockedId int64) error
	Relation(ctx context.Context, me, other int64) (iBlocked, theyBlocked bool, err error)
}

// ConversationStore 会话存储
type ConversationStore interface {
	Create(ctx context.Context, conv *model.Conversation) error
	Remove(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*model.Conversation, error)
	ListForUser(ctx context.Context, userId int64, archived bool) ([]*model.Conversation, error)
	SetFlag(ctx context.Context, conversationId, userId int64, flag model.ConversationFlag, value *bool) (model.UserFlags, error)
	MarkDeleted(ctx context.Context, conversationId, userId int64) error
	RecordMessage(ctx context.Context, conversationId int64, ref *model.MessageRef) error
	ResetUnread(ctx context.Context, conversationId, userId int64) error
}

// MessageStore 消息存储
type MessageStore interface {
	Insert(ctx context.Context, msg *model.Message) (bool, error)
	Get(ctx context.Context, id int64) (*model.Message, error)
	ListByConversation(ctx context.Context, conversationId, beforeId int64, limit int) ([]*model.Message, error)
	CompareAndSetStatus(ctx context.Context, id int64, from, to model.MessageStatus) (bool, error)
	MarkRead(ctx context.Context, conversationId, readerId int64) ([]*model.Message, error)
	SoftDelete(ctx context.Context, id int64) error
}

// PresenceReader 在线状态快照
type PresenceReader interface {
	Get(ctx context.Context, userId int64) (*model.PresenceRecord, error)
}

// MembershipCache 会话参与者缓存（供 Access 校验加入房间）
type MembershipCache interface {
	SetMembers(ctx context.Context, conversationId int64, participants []int64) error
}

// EventPublisher 下行事件发布
type EventPublisher interface {
	PublishDownstream(ctx context.Context, message *proto.DownstreamMessage) error
}

// IDGenerator 分布式 ID 生成
type IDGenerator interface {
	Generate() snowflake.ID
}
