package service

import (
	"context"
	"log/slog"
	"strings"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/keys"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
)

// PublicKeyRequest 发布公钥请求
type PublicKeyRequest struct {
	PublicKey string `json:"publicKey" binding:"required" example:"-----BEGIN PARKSHARE PUBLIC KEY-----..."` // 装甲格式公钥
}

// PublicKeyResponse 公钥响应
type PublicKeyResponse struct {
	UserID    int64  `json:"userId"`
	PublicKey string `json:"publicKey"`
}

// ProfileRequest 修改资料请求
type ProfileRequest struct {
	DisplayName string `json:"displayName" binding:"required,max=64" example:"Alice"` // 展示名
}

// DirectoryService 公钥目录、用户资料、屏蔽与在线状态查询
type DirectoryService struct {
	users    UserStore
	blocks   BlockStore
	presence PresenceReader
	logger   *slog.Logger
}

// NewDirectoryService 创建目录服务
func NewDirectoryService(users UserStore, blocks BlockStore, presence PresenceReader) *DirectoryService {
	return &DirectoryService{
		users:    users,
		blocks:   blocks,
		presence: presence,
		logger:   slog.Default().With("service", "directory"),
	}
}

// PutPublicKey 幂等发布公钥；只能发布自己的公钥
func (s *DirectoryService) PutPublicKey(ctx context.Context, actorId, userId int64, armored string) error {
	if actorId != userId {
		return sharedErrors.ErrForbidden
	}

	pub, err := keys.ParsePublicKey(armored)
	if err != nil {
		return err
	}

	if err := s.users.UpsertPublicKey(ctx, userId, pub.Armor()); err != nil {
		return err
	}
	s.logger.Debug("Public key published", "userId", userId, "fingerprint", pub.Fingerprint())
	return nil
}

// GetPublicKey 获取公钥；未发布时返回 ErrPublicKeyNotFound
func (s *DirectoryService) GetPublicKey(ctx context.Context, userId int64) (*PublicKeyResponse, error) {
	armored, err := s.users.GetPublicKey(ctx, userId)
	if err != nil {
		return nil, err
	}
	return &PublicKeyResponse{UserID: userId, PublicKey: armored}, nil
}

// UpdateProfile 修改展示名
func (s *DirectoryService) UpdateProfile(ctx context.Context, actorId, userId int64, displayName string) error {
	if actorId != userId {
		return sharedErrors.ErrForbidden
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return sharedErrors.ErrInvalidParams
	}
	return s.users.UpsertDisplayName(ctx, userId, displayName)
}

// GetUser 获取用户公开信息（附带在线状态）
func (s *DirectoryService) GetUser(ctx context.Context, userId int64) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userId)
	if err != nil {
		return nil, err
	}
	if rec, err := s.Presence(ctx, userId); err == nil {
		user.Presence = rec.Status
	}
	return user, nil
}

// Block 屏蔽用户
func (s *DirectoryService) Block(ctx context.Context, actorId, targetId int64) error {
	if actorId == targetId || targetId <= 0 {
		return sharedErrors.ErrInvalidParams
	}
	if err := s.blocks.Block(ctx, actorId, targetId); err != nil {
		return err
	}
	s.logger.Info("User blocked", "blockerId", actorId, "blockedId", targetId)
	return nil
}

// Unblock 取消屏蔽
func (s *DirectoryService) Unblock(ctx context.Context, actorId, targetId int64) error {
	if actorId == targetId || targetId <= 0 {
		return sharedErrors.ErrInvalidParams
	}
	return s.blocks.Unblock(ctx, actorId, targetId)
}

// Presence 在线状态快照，用于在实时推送到达前初始化界面
func (s *DirectoryService) Presence(ctx context.Context, userId int64) (*model.PresenceRecord, error) {
	if s.presence == nil {
		return &model.PresenceRecord{UserID: userId, Status: model.PresenceOffline}, nil
	}
	return s.presence.Get(ctx, userId)
}
