// Package jwt 校验身份服务签发的访问令牌
//
// 身份服务是外部协作方，令牌的 sub 是稳定的用户 uid，did 绑定设备。
// 本服务只校验；Issue 供开发环境与测试签发。
package jwt

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
)

type Platform string

const (
	PlatformUnknown Platform = "unknown"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
	PlatformDesktop Platform = "desktop"
)

// ParsePlatform 未知值返回 PlatformUnknown
func ParsePlatform(s string) Platform {
	switch p := Platform(s); p {
	case PlatformAndroid, PlatformIOS, PlatformWeb, PlatformDesktop:
		return p
	}
	return PlatformUnknown
}

// Claims 用户 uid 在 sub 中，Verify 后解析到 UserID
type Claims struct {
	UserID   int64    `json:"-"`
	DeviceID string   `json:"did,omitempty"`
	Platform Platform `json:"plt,omitempty"`
	jwt.RegisteredClaims
}

// Service HS256 令牌签发与校验
type Service struct {
	key    []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

// New issuer 为空时不校验 iss；ttl 只影响 Issue
func New(secret, issuer string, ttl time.Duration) *Service {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Service{
		key:    []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		parser: jwt.NewParser(opts...),
	}
}

func (s *Service) Issue(userID int64, deviceID string, platform Platform) (string, error) {
	now := time.Now()
	claims := &Claims{
		DeviceID: deviceID,
		Platform: platform,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify 校验签名、过期与签发方，并要求 sub 是正整数 uid
func (s *Service) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, ErrTokenInvalid
	}

	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || uid <= 0 {
		return nil, ErrTokenInvalid
	}
	claims.UserID = uid
	return claims, nil
}
