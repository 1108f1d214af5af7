// Package codec 消息正文加解密与格式识别
//
// 加密正文是一个 PEM 信封：
//
//	-----BEGIN PARKSHARE SEALED MESSAGE-----
//	Version: 1
//
//	<base64 payload>
//	-----END PARKSHARE SEALED MESSAGE-----
//
// payload 布局：1 字节接收者数量 n，随后 n 个 [8 字节公钥指纹 | 80 字节匿名封装的内容密钥]，
// 再接 24 字节 nonce 与 XChaCha20-Poly1305 密文。
// 不以信封头开头的正文视为历史明文，原样透传。
package codec

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/keys"
)

const (
	// EnvelopeBlockType 信封 PEM 类型
	EnvelopeBlockType = "PARKSHARE SEALED MESSAGE"
	// EnvelopeHeader 信封头，用于识别加密正文
	EnvelopeHeader = "-----BEGIN " + EnvelopeBlockType + "-----"
	// EnvelopeVersion 当前信封版本
	EnvelopeVersion = "1"

	// UndecryptablePlaceholder 无法解密时展示的占位文本
	UndecryptablePlaceholder = "[Unable to decrypt this message]"

	fingerprintSize = 8
	contentKeySize  = chacha20poly1305.KeySize
	sealedKeySize   = box.AnonymousOverhead + contentKeySize
	recipientSize   = fingerprintSize + sealedKeySize
	maxRecipients   = 255
	headerVersion   = "Version"
)

// Kind 正文类型
type Kind uint8

const (
	KindPlaintext Kind = iota
	KindEncrypted
)

func (k Kind) String() string {
	if k == KindEncrypted {
		return "encrypted"
	}
	return "plaintext"
}

// Content 正文的标签联合：Plaintext(text) | Encrypted(payload, header)
// 在接收/加载时识别一次，之后不再重新识别
type Content struct {
	kind    Kind
	text    string            // Plaintext
	armored string            // Encrypted: 原始信封文本
	payload []byte            // Encrypted: 解码后的 payload，信封损坏时为 nil
	header  map[string]string // Encrypted: 信封头字段
}

// Plaintext 构造明文正文
func Plaintext(text string) Content {
	return Content{kind: KindPlaintext, text: text}
}

// Detect 识别正文类型
func Detect(body string) Content {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, EnvelopeHeader) {
		return Plaintext(body)
	}

	c := Content{kind: KindEncrypted, armored: body}
	block, _ := pem.Decode([]byte(trimmed))
	if block != nil && block.Type == EnvelopeBlockType {
		c.payload = block.Bytes
		c.header = block.Headers
	}
	return c
}

// Kind 正文类型
func (c Content) Kind() Kind { return c.kind }

// IsEncrypted 是否为加密正文
func (c Content) IsEncrypted() bool { return c.kind == KindEncrypted }

// Text 明文内容，加密正文返回空串
func (c Content) Text() string {
	if c.kind == KindPlaintext {
		return c.text
	}
	return ""
}

// Header 信封头字段
func (c Content) Header() map[string]string { return c.header }

// Payload 加密 payload
func (c Content) Payload() []byte { return c.payload }

// Wire 线上传输格式
func (c Content) Wire() string {
	if c.kind == KindEncrypted {
		return c.armored
	}
	return c.text
}

// Encrypt 为多个接收者加密明文（通常是对方与发送者自己，以便发送者在其他会话中回看）
func Encrypt(plaintext string, recipients ...keys.PublicKey) (Content, error) {
	return EncryptWithRandom(rand.Reader, plaintext, recipients...)
}

// EncryptWithRandom 使用指定随机源加密
func EncryptWithRandom(random io.Reader, plaintext string, recipients ...keys.PublicKey) (Content, error) {
	recipients = uniqueRecipients(recipients)
	if len(recipients) == 0 || len(recipients) > maxRecipients {
		return Content{}, fmt.Errorf("encrypt: invalid recipient count %d", len(recipients))
	}

	contentKey := make([]byte, contentKeySize)
	if _, err := io.ReadFull(random, contentKey); err != nil {
		return Content{}, sharedErrors.ErrCryptoUnavailable.Wrap(err)
	}

	aead, err := chacha20poly1305.NewX(contentKey)
	if err != nil {
		return Content{}, sharedErrors.ErrCryptoUnavailable.Wrap(err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(random, nonce); err != nil {
		return Content{}, sharedErrors.ErrCryptoUnavailable.Wrap(err)
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(len(recipients)))
	for i := range recipients {
		pub := recipients[i]
		sealed, err := box.SealAnonymous(nil, contentKey, pub.Bytes(), random)
		if err != nil {
			return Content{}, sharedErrors.ErrCryptoUnavailable.Wrap(err)
		}
		buf.Write(fingerprint(pub))
		buf.Write(sealed)
	}
	buf.Write(nonce)
	buf.Write(aead.Seal(nil, nonce, []byte(plaintext), associatedData()))

	armored := string(pem.EncodeToMemory(&pem.Block{
		Type:    EnvelopeBlockType,
		Headers: map[string]string{headerVersion: EnvelopeVersion},
		Bytes:   buf.Bytes(),
	}))
	return Detect(armored), nil
}

// Decrypt 用本机密钥对解密；明文正文原样返回
// 密钥不匹配、数据损坏时返回 ErrDecryptionFailed
func Decrypt(c Content, kp *keys.KeyPair) (string, error) {
	if c.kind == KindPlaintext {
		return c.text, nil
	}
	if kp == nil || kp.Private == nil {
		return "", sharedErrors.ErrDecryptionFailed.Wrap(errors.New("no local key"))
	}
	if c.payload == nil {
		return "", sharedErrors.ErrDecryptionFailed.Wrap(errors.New("malformed envelope"))
	}
	if v := c.header[headerVersion]; v != EnvelopeVersion {
		return "", sharedErrors.ErrDecryptionFailed.Wrap(fmt.Errorf("unsupported envelope version %q", v))
	}

	payload := c.payload
	if len(payload) < 1 {
		return "", sharedErrors.ErrDecryptionFailed.Wrap(errors.New("empty payload"))
	}
	n := int(payload[0])
	payload = payload[1:]
	if len(payload) < n*recipientSize+chacha20poly1305.NonceSizeX {
		return "", sharedErrors.ErrDecryptionFailed.Wrap(errors.New("truncated payload"))
	}

	own := fingerprint(kp.Public)
	var contentKey []byte
	for i := 0; i < n; i++ {
		entry := payload[i*recipientSize : (i+1)*recipientSize]
		if !bytes.Equal(entry[:fingerprintSize], own) {
			continue
		}
		key, ok := box.OpenAnonymous(nil, entry[fingerprintSize:], kp.Public.Bytes(), kp.Private.Bytes())
		if ok {
			contentKey = key
			break
		}
	}
	if contentKey == nil {
		return "", sharedErrors.ErrDecryptionFailed.Wrap(errors.New("message was not encrypted for this key"))
	}

	rest := payload[n*recipientSize:]
	nonce, ciphertext := rest[:chacha20poly1305.NonceSizeX], rest[chacha20poly1305.NonceSizeX:]
	aead, err := chacha20poly1305.NewX(contentKey)
	if err != nil {
		return "", sharedErrors.ErrDecryptionFailed.Wrap(err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, associatedData())
	if err != nil {
		return "", sharedErrors.ErrDecryptionFailed.Wrap(err)
	}
	return string(plaintext), nil
}

// Reveal 解密用于展示：失败时返回占位文本与 false，不向上抛错
func Reveal(c Content, kp *keys.KeyPair) (string, bool) {
	text, err := Decrypt(c, kp)
	if err != nil {
		return UndecryptablePlaceholder, false
	}
	return text, true
}

// Preview 会话列表摘要；加密正文不可读时返回空串
func Preview(body string) string {
	c := Detect(body)
	if c.IsEncrypted() {
		return ""
	}
	return c.Text()
}

func fingerprint(pub keys.PublicKey) []byte {
	sum := sha256.Sum256(pub[:])
	return sum[:fingerprintSize]
}

func associatedData() []byte {
	return []byte(EnvelopeBlockType + " v" + EnvelopeVersion)
}

func uniqueRecipients(in []keys.PublicKey) []keys.PublicKey {
	out := make([]keys.PublicKey, 0, len(in))
	seen := make(map[keys.PublicKey]struct{}, len(in))
	for _, k := range in {
		if k.IsZero() {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
