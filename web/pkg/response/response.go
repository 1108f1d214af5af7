package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// BlockedData 屏蔽错误的附加信息，客户端据此给出不同的提示
type BlockedData struct {
	Direction sharedErrors.Direction `json:"direction"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    sharedErrors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 按错误码返回预定义错误
func Error(c *gin.Context, code int) {
	ErrorFromAppError(c, sharedErrors.FromCode(code, ""))
}

// ErrorWithMsg 自定义错误消息
func ErrorWithMsg(c *gin.Context, code int, message string) {
	c.JSON(HTTPStatus(code), Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ErrorFromAppError 从 AppError 生成错误响应；非 AppError 视为服务器内部错误
func ErrorFromAppError(c *gin.Context, err error) {
	code := sharedErrors.GetCode(err)
	message := sharedErrors.GetMessage(err)

	var data interface{}
	if dir := sharedErrors.BlockDirection(err); dir != sharedErrors.DirectionNone {
		data = BlockedData{Direction: dir}
	}
	if code == sharedErrors.CodeServerError {
		_ = c.Error(err)
	}

	c.JSON(HTTPStatus(code), Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Unauthorized 未认证
func Unauthorized(c *gin.Context) {
	Error(c, sharedErrors.CodeTokenInvalid)
}

// HTTPStatus 错误码对应的 HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case sharedErrors.CodeSuccess:
		return http.StatusOK
	case sharedErrors.CodeTokenInvalid, sharedErrors.CodeTokenExpired:
		return http.StatusUnauthorized
	case sharedErrors.CodeInvalidParams, sharedErrors.CodeInvalidPublicKey,
		sharedErrors.CodeInvalidFlag, sharedErrors.CodeInvalidStatus:
		return http.StatusBadRequest
	case sharedErrors.CodeForbidden, sharedErrors.CodeNotParticipant, sharedErrors.CodeNotMessageSender,
		sharedErrors.CodeBlockedByMe, sharedErrors.CodeBlockedByThem:
		return http.StatusForbidden
	case sharedErrors.CodeUserNotFound, sharedErrors.CodePublicKeyNotFound,
		sharedErrors.CodeConversationNotFound, sharedErrors.CodeMessageNotFound:
		return http.StatusNotFound
	case sharedErrors.CodeNetworkFailure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
