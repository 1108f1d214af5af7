package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 用于统一管理业务错误，包含错误码和错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，使 errors.Is 在 Wrap 之后仍然成立
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// Direction 屏蔽方向
type Direction string

const (
	DirectionNone          Direction = ""
	DirectionBlockedByMe   Direction = "blocked-by-me"
	DirectionBlockedByThem Direction = "blocked-by-them"
)

// BlockDirection 返回屏蔽错误的方向，非屏蔽错误返回 DirectionNone
func BlockDirection(err error) Direction {
	switch GetCodeOrZero(err) {
	case CodeBlockedByMe:
		return DirectionBlockedByMe
	case CodeBlockedByThem:
		return DirectionBlockedByThem
	}
	return DirectionNone
}

// GetCodeOrZero 获取错误码，非 AppError 返回 0
func GetCodeOrZero(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return 0
}

// FromCode 根据错误码还原预定义错误，未知错误码返回携带该码的新错误
func FromCode(code int, message string) *AppError {
	if e, ok := registry[code]; ok {
		if message == "" || message == e.Message {
			return e
		}
		return &AppError{Code: e.Code, Message: message}
	}
	return NewError(code, message)
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeTokenInvalid = 10003
	CodeTokenExpired = 10004

	// 用户/公钥目录 11000-11999
	CodeUserNotFound      = 11001
	CodeInvalidParams     = 11002
	CodePublicKeyNotFound = 11003
	CodeInvalidPublicKey  = 11004
	CodeForbidden         = 11005

	// 会话相关 13000-13999
	CodeConversationNotFound = 13001
	CodeNotParticipant       = 13002
	CodeBlockedByMe          = 13003
	CodeBlockedByThem        = 13004
	CodeInvalidFlag          = 13005

	// 消息相关 14000-14999
	CodeMessageNotFound   = 14001
	CodeRecipientNotReady = 14002
	CodeNotMessageSender  = 14003
	CodeInvalidStatus     = 14004

	// 加密相关 15000-15999
	CodeCryptoUnavailable   = 15001
	CodeKeystoreUnavailable = 15002
	CodeDecryptionFailed    = 15003

	// 系统错误 50000-50999
	CodeServerError    = 50001
	CodeDBError        = 50002
	CodeNetworkFailure = 50004
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrTokenInvalid = NewError(CodeTokenInvalid, "token is invalid")
	ErrTokenExpired = NewError(CodeTokenExpired, "token has expired")
)

// 用户/公钥目录
var (
	ErrUserNotFound      = NewError(CodeUserNotFound, "user not found")
	ErrInvalidParams     = NewError(CodeInvalidParams, "invalid parameters")
	ErrPublicKeyNotFound = NewError(CodePublicKeyNotFound, "this user hasn't set up secure messaging yet")
	ErrInvalidPublicKey  = NewError(CodeInvalidPublicKey, "public key is malformed")
	ErrForbidden         = NewError(CodeForbidden, "operation not allowed for this user")
)

// 会话相关
var (
	ErrConversationNotFound = NewError(CodeConversationNotFound, "conversation not found")
	ErrNotParticipant       = NewError(CodeNotParticipant, "you are not a participant of this conversation")
	ErrBlockedByMe          = NewError(CodeBlockedByMe, "you have blocked this user; unblock them to send messages")
	ErrBlockedByThem        = NewError(CodeBlockedByThem, "this user is not accepting messages from you")
	ErrInvalidFlag          = NewError(CodeInvalidFlag, "unknown conversation flag")
)

// 消息相关
var (
	ErrMessageNotFound   = NewError(CodeMessageNotFound, "message not found")
	ErrRecipientNotReady = NewError(CodeRecipientNotReady, "recipient hasn't set up secure messaging yet")
	ErrNotMessageSender  = NewError(CodeNotMessageSender, "only the sender can delete this message")
	ErrInvalidStatus     = NewError(CodeInvalidStatus, "invalid message status")
)

// 加密相关
var (
	ErrCryptoUnavailable   = NewError(CodeCryptoUnavailable, "secure messaging is unavailable on this device")
	ErrKeystoreUnavailable = NewError(CodeKeystoreUnavailable, "secure key storage is unavailable")
	ErrDecryptionFailed    = NewError(CodeDecryptionFailed, "unable to decrypt message")
)

// 系统相关
var (
	ErrServerError    = NewError(CodeServerError, "internal server error")
	ErrDBError        = NewError(CodeDBError, "database error")
	ErrNetworkFailure = NewError(CodeNetworkFailure, "network failure, please retry")
)

var registry = map[int]*AppError{}

func init() {
	for _, e := range []*AppError{
		ErrTokenInvalid, ErrTokenExpired,
		ErrUserNotFound, ErrInvalidParams, ErrPublicKeyNotFound, ErrInvalidPublicKey, ErrForbidden,
		ErrConversationNotFound, ErrNotParticipant, ErrBlockedByMe, ErrBlockedByThem, ErrInvalidFlag,
		ErrMessageNotFound, ErrRecipientNotReady, ErrNotMessageSender, ErrInvalidStatus,
		ErrCryptoUnavailable, ErrKeystoreUnavailable, ErrDecryptionFailed,
		ErrServerError, ErrDBError, ErrNetworkFailure,
	} {
		registry[e.Code] = e
	}
}
