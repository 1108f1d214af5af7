package keys

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"golang.org/x/crypto/curve25519"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
)

// ErrKeyNotFound 密钥库中不存在该用户的密钥对
var ErrKeyNotFound = errors.New("key pair not found")

// Keystore 本机安全密钥库
// 后端不可用时返回 ErrKeystoreUnavailable，不存在时返回 ErrKeyNotFound
type Keystore interface {
	Get(ctx context.Context, ownerID int64) (*KeyPair, error)
	Set(ctx context.Context, kp *KeyPair) error
	Clear(ctx context.Context, ownerID int64) error
}

// Directory 公钥目录
// GetPublicKey 在用户未发布公钥时返回 ErrPublicKeyNotFound，与网络错误区分
type Directory interface {
	PutPublicKey(ctx context.Context, userID int64, armored string) error
	GetPublicKey(ctx context.Context, userID int64) (string, error)
}

// Manager 密钥管理器
type Manager struct {
	keystore  Keystore
	directory Directory
	random    io.Reader
	logger    *slog.Logger
}

// NewManager 创建密钥管理器
func NewManager(keystore Keystore, directory Directory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		keystore:  keystore,
		directory: directory,
		logger:    logger,
	}
}

// WithRandom 替换随机源（测试用）
func (m *Manager) WithRandom(r io.Reader) *Manager {
	m.random = r
	return m
}

// GenerateKeyPair 生成新的密钥对（不落盘）
func (m *Manager) GenerateKeyPair(identity int64) (*KeyPair, error) {
	return GenerateKeyPair(identity, m.random)
}

// EnsureKeyPair 从密钥库加载密钥对，不存在时生成并保存
func (m *Manager) EnsureKeyPair(ctx context.Context, userID int64) (*KeyPair, error) {
	kp, err := m.keystore.Get(ctx, userID)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, asKeystoreError(err)
	}

	kp, err = m.GenerateKeyPair(userID)
	if err != nil {
		return nil, err
	}
	if err := m.keystore.Set(ctx, kp); err != nil {
		return nil, asKeystoreError(err)
	}

	m.logger.Info("Generated new key pair", "user_id", userID, "fingerprint", kp.Public.Fingerprint())
	return kp, nil
}

// PublishPublicKey 幂等写入公钥目录
func (m *Manager) PublishPublicKey(ctx context.Context, userID int64, pub PublicKey) error {
	return m.directory.PutPublicKey(ctx, userID, pub.Armor())
}

// StartSession 会话开始时确保密钥存在并重新发布公钥
// 发布失败时仍返回密钥对，调用方可继续使用本地密钥解密
func (m *Manager) StartSession(ctx context.Context, userID int64) (*KeyPair, error) {
	kp, err := m.EnsureKeyPair(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.PublishPublicKey(ctx, userID, kp.Public); err != nil {
		m.logger.Warn("Failed to publish public key", "user_id", userID, "error", err)
		return kp, err
	}
	return kp, nil
}

// FetchPublicKey 查询对方公钥
func (m *Manager) FetchPublicKey(ctx context.Context, userID int64) (PublicKey, error) {
	armored, err := m.directory.GetPublicKey(ctx, userID)
	if err != nil {
		return PublicKey{}, err
	}
	return ParsePublicKey(armored)
}

// Forget 清除本机密钥（退出登录）
func (m *Manager) Forget(ctx context.Context, userID int64) error {
	if err := m.keystore.Clear(ctx, userID); err != nil {
		return asKeystoreError(err)
	}
	return nil
}

func asKeystoreError(err error) error {
	if sharedErrors.Is(err, sharedErrors.ErrKeystoreUnavailable) {
		return err
	}
	return sharedErrors.ErrKeystoreUnavailable.Wrap(err)
}

func derivePublic(priv *PrivateKey) PublicKey {
	var pub PublicKey
	out, err := curve25519.X25519(priv.key[:], curve25519.Basepoint)
	if err != nil {
		return pub
	}
	copy(pub[:], out)
	return pub
}
