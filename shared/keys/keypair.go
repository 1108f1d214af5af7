package keys

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/box"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
)

const (
	// PublicKeyBlockType 公钥 PEM 类型
	PublicKeyBlockType = "PARKSHARE PUBLIC KEY"
	// PrivateKeyBlockType 私钥 PEM 类型（只写入本机密钥库）
	PrivateKeyBlockType = "PARKSHARE PRIVATE KEY"

	// KeySize X25519 密钥长度
	KeySize = 32

	headerOwner   = "Owner"
	headerCreated = "Created"
)

// PublicKey X25519 公钥
type PublicKey [KeySize]byte

// Bytes 返回底层数组指针（供 nacl/box 使用）
func (k *PublicKey) Bytes() *[KeySize]byte {
	return (*[KeySize]byte)(k)
}

// IsZero 是否为空公钥
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// Armor 返回装甲文本形式
func (k PublicKey) Armor() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: PublicKeyBlockType, Bytes: k[:]}))
}

// Fingerprint 公钥指纹（SHA-256 前 8 字节）
func (k PublicKey) Fingerprint() string {
	sum := sha256.Sum256(k[:])
	return hex.EncodeToString(sum[:8])
}

// ParsePublicKey 解析装甲公钥
func ParsePublicKey(armored string) (PublicKey, error) {
	var pub PublicKey
	block, _ := pem.Decode([]byte(strings.TrimSpace(armored)))
	if block == nil {
		return pub, sharedErrors.ErrInvalidPublicKey.Wrap(fmt.Errorf("no PEM block"))
	}
	if block.Type != PublicKeyBlockType {
		return pub, sharedErrors.ErrInvalidPublicKey.Wrap(fmt.Errorf("unexpected type %q", block.Type))
	}
	if len(block.Bytes) != KeySize {
		return pub, sharedErrors.ErrInvalidPublicKey.Wrap(fmt.Errorf("invalid key size %d", len(block.Bytes)))
	}
	copy(pub[:], block.Bytes)
	return pub, nil
}

// PrivateKey X25519 私钥，只存在于生成它的设备上
type PrivateKey struct {
	key [KeySize]byte
}

// Bytes 返回底层数组指针（供 nacl/box 使用）
func (k *PrivateKey) Bytes() *[KeySize]byte {
	return &k.key
}

// String 避免私钥被意外打印到日志
func (k *PrivateKey) String() string {
	return "PrivateKey(redacted)"
}

// KeyPair 用户密钥对
type KeyPair struct {
	OwnerID   int64
	Public    PublicKey
	Private   *PrivateKey
	CreatedAt time.Time
}

// GenerateKeyPair 为 identity 生成密钥对
// random 为 nil 时使用 crypto/rand；熵源不可用时返回 ErrCryptoUnavailable
func GenerateKeyPair(identity int64, random io.Reader) (*KeyPair, error) {
	if random == nil {
		random = rand.Reader
	}
	pub, priv, err := box.GenerateKey(random)
	if err != nil {
		return nil, sharedErrors.ErrCryptoUnavailable.Wrap(err)
	}
	return &KeyPair{
		OwnerID:   identity,
		Public:    PublicKey(*pub),
		Private:   &PrivateKey{key: *priv},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// MarshalKeyPair 序列化密钥对（私钥 + 公钥两个 PEM 块），仅用于本机密钥库
func MarshalKeyPair(kp *KeyPair) ([]byte, error) {
	if kp == nil || kp.Private == nil {
		return nil, fmt.Errorf("marshal key pair: missing private key")
	}
	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{
		Type: PrivateKeyBlockType,
		Headers: map[string]string{
			headerOwner:   strconv.FormatInt(kp.OwnerID, 10),
			headerCreated: kp.CreatedAt.UTC().Format(time.RFC3339),
		},
		Bytes: kp.Private.key[:],
	})
	if err != nil {
		return nil, fmt.Errorf("marshal key pair: %w", err)
	}
	buf.WriteString(kp.Public.Armor())
	return buf.Bytes(), nil
}

// UnmarshalKeyPair 反序列化密钥对，并校验公私钥匹配
func UnmarshalKeyPair(data []byte) (*KeyPair, error) {
	block, rest := pem.Decode(data)
	if block == nil || block.Type != PrivateKeyBlockType {
		return nil, fmt.Errorf("unmarshal key pair: missing private key block")
	}
	if len(block.Bytes) != KeySize {
		return nil, fmt.Errorf("unmarshal key pair: invalid private key size %d", len(block.Bytes))
	}

	owner, err := strconv.ParseInt(block.Headers[headerOwner], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("unmarshal key pair: bad owner header: %w", err)
	}
	created, _ := time.Parse(time.RFC3339, block.Headers[headerCreated])

	kp := &KeyPair{OwnerID: owner, Private: &PrivateKey{}, CreatedAt: created}
	copy(kp.Private.key[:], block.Bytes)

	pub, err := ParsePublicKey(string(rest))
	if err != nil {
		return nil, fmt.Errorf("unmarshal key pair: %w", err)
	}
	if derived := derivePublic(kp.Private); derived != pub {
		return nil, fmt.Errorf("unmarshal key pair: public key does not match private key")
	}
	kp.Public = pub
	return kp, nil
}
