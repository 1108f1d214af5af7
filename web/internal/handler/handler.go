package handler

import (
	"context"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
	"github.com/incyashraj/ParkShare-sub000/web/internal/service"
	"github.com/incyashraj/ParkShare-sub000/web/pkg/response"
)

// DirectoryService 公钥目录与用户相关操作
type DirectoryService interface {
	PutPublicKey(ctx context.Context, actorId, userId int64, armored string) error
	GetPublicKey(ctx context.Context, userId int64) (*service.PublicKeyResponse, error)
	UpdateProfile(ctx context.Context, actorId, userId int64, displayName string) error
	GetUser(ctx context.Context, userId int64) (*model.User, error)
	Block(ctx context.Context, actorId, targetId int64) error
	Unblock(ctx context.Context, actorId, targetId int64) error
	Presence(ctx context.Context, userId int64) (*model.PresenceRecord, error)
}

// ConversationService 会话操作
type ConversationService interface {
	Create(ctx context.Context, userId int64, req *service.CreateConversationRequest) (*service.CreateConversationResponse, error)
	Get(ctx context.Context, userId, conversationId int64) (*model.ConversationView, error)
	ToggleFlag(ctx context.Context, userId, conversationId int64, flag string, value *bool) (*model.ConversationView, error)
	List(ctx context.Context, userId int64, filter service.ListFilter) ([]*model.ConversationView, error)
	Delete(ctx context.Context, userId, conversationId int64) error
	MarkRead(ctx context.Context, userId, conversationId int64) (int, error)
}

// MessageService 消息操作
type MessageService interface {
	Send(ctx context.Context, senderId int64, req *service.SendMessageRequest) (*model.Message, error)
	List(ctx context.Context, userId, conversationId, beforeId int64, limit int) ([]*model.Message, error)
	Delete(ctx context.Context, userId, messageId int64) error
	ApplyStatus(ctx context.Context, userId int64, update *proto.StatusUpdate) error
}

// AttachmentUploader 附件上传
type AttachmentUploader interface {
	Upload(ctx context.Context, ownerId int64, filename, mimeType string, size int64, r io.Reader) (*model.Attachment, error)
	MaxSize() int64
}

// paramID 解析路径中的 ID 参数，失败时直接写入错误响应
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ErrorWithMsg(c, sharedErrors.CodeInvalidParams, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt64 解析查询参数，缺省时返回 0
func queryInt64(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		response.ErrorWithMsg(c, sharedErrors.CodeInvalidParams, "invalid "+name)
		return 0, false
	}
	return v, true
}
