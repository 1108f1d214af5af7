package handler

import (
	"github.com/gin-gonic/gin"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/web/internal/middleware"
	"github.com/incyashraj/ParkShare-sub000/web/internal/service"
	"github.com/incyashraj/ParkShare-sub000/web/pkg/response"
)

// MessageHandler 消息处理器
type MessageHandler struct {
	messages MessageService
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(messages MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// Send 发送消息
// @Summary      发送消息
// @Description  clientMsgId 为幂等令牌，重复提交返回同一条消息；发送者总是令牌中的用户
// @Tags         消息
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body  service.SendMessageRequest  true  "消息"
// @Success      200  {object}  response.Response{data=model.Message}
// @Failure      403  {object}  response.Response{data=response.BlockedData}
// @Failure      404  {object}  response.Response
// @Router       /messages [post]
func (h *MessageHandler) Send(c *gin.Context) {
	var req service.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, sharedErrors.CodeInvalidParams, err.Error())
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, msg)
}

// Delete 删除消息（仅发送者）
// @Summary      删除消息
// @Tags         消息
// @Produce      json
// @Security     BearerAuth
// @Param        id  path  int  true  "消息ID"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Router       /messages/{id} [delete]
func (h *MessageHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.messages.Delete(c.Request.Context(), middleware.GetUserID(c), id); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}
