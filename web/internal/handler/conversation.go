package handler

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/web/internal/middleware"
	"github.com/incyashraj/ParkShare-sub000/web/internal/service"
	"github.com/incyashraj/ParkShare-sub000/web/pkg/response"
)

// ConversationHandler 会话处理器
type ConversationHandler struct {
	conversations ConversationService
	messages      MessageService
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(conversations ConversationService, messages MessageService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, messages: messages}
}

// MarkReadResponse 标记已读响应
type MarkReadResponse struct {
	Updated int `json:"updated"`
}

// List 获取会话列表
// @Summary      会话列表
// @Description  按最后活跃时间倒序；archived=true 返回已归档会话；q 匹配参与者名称、主题和明文的最后一条消息
// @Tags         会话
// @Produce      json
// @Security     BearerAuth
// @Param        archived  query  bool    false  "是否归档"
// @Param        q         query  string  false  "搜索关键字"
// @Success      200  {object}  response.Response{data=[]model.ConversationView}
// @Router       /conversations [get]
func (h *ConversationHandler) List(c *gin.Context) {
	archived, _ := strconv.ParseBool(c.Query("archived"))

	convs, err := h.conversations.List(c.Request.Context(), middleware.GetUserID(c), service.ListFilter{
		Archived: archived,
		Query:    c.Query("q"),
	})
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	if convs == nil {
		convs = []*model.ConversationView{}
	}
	response.Success(c, convs)
}

// Create 创建会话
// @Summary      创建会话
// @Description  任意一方屏蔽了另一方时返回 403，data.direction 为 blocked-by-me 或 blocked-by-them
// @Tags         会话
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body  service.CreateConversationRequest  true  "会话信息"
// @Success      200  {object}  response.Response{data=service.CreateConversationResponse}
// @Failure      400  {object}  response.Response
// @Failure      403  {object}  response.Response{data=response.BlockedData}
// @Router       /conversations [post]
func (h *ConversationHandler) Create(c *gin.Context) {
	var req service.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, sharedErrors.CodeInvalidParams, err.Error())
		return
	}

	resp, err := h.conversations.Create(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, resp)
}

// Get 获取会话详情
// GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	conv, err := h.conversations.Get(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, conv)
}

// Messages 获取会话消息
// @Summary      会话消息
// @Description  按时间正序返回 before 之前的一页消息
// @Tags         会话
// @Produce      json
// @Security     BearerAuth
// @Param        id      path   int  true   "会话ID"
// @Param        before  query  int  false  "只返回ID小于该值的消息"
// @Param        limit   query  int  false  "每页数量，默认50，最大200"
// @Success      200  {object}  response.Response{data=[]model.Message}
// @Failure      404  {object}  response.Response
// @Router       /conversations/{id}/messages [get]
func (h *ConversationHandler) Messages(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	before, ok := queryInt64(c, "before")
	if !ok {
		return
	}
	limit, ok := queryInt64(c, "limit")
	if !ok {
		return
	}

	msgs, err := h.messages.List(c.Request.Context(), middleware.GetUserID(c), id, before, int(limit))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	response.Success(c, msgs)
}

// MarkRead 批量标记已读
// @Summary      标记已读
// @Description  将会话中他人发送的消息标记为已读，并向发送者推送 read 状态
// @Tags         会话
// @Produce      json
// @Security     BearerAuth
// @Param        id  path  int  true  "会话ID"
// @Success      200  {object}  response.Response{data=MarkReadResponse}
// @Router       /conversations/{id}/read [put]
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	n, err := h.conversations.MarkRead(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, MarkReadResponse{Updated: n})
}

// ToggleFlag 返回修改某个个人标记的处理函数
// @Summary      星标/静音/归档
// @Description  只影响当前用户；body 为 {"value": bool} 时设为该值，不传 body 时取反
// @Tags         会话
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path  int                  true   "会话ID"
// @Param        flag     path  string               true   "star | mute | archive"
// @Param        request  body  service.FlagRequest  false  "目标值"
// @Success      200  {object}  response.Response{data=model.ConversationView}
// @Router       /conversations/{id}/{flag} [post]
func (h *ConversationHandler) ToggleFlag(flag model.ConversationFlag) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}

		var req service.FlagRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			response.ErrorWithMsg(c, sharedErrors.CodeInvalidParams, err.Error())
			return
		}

		conv, err := h.conversations.ToggleFlag(c.Request.Context(), middleware.GetUserID(c), id, string(flag), req.Value)
		if err != nil {
			response.ErrorFromAppError(c, err)
			return
		}
		response.Success(c, conv)
	}
}

// Delete 删除会话（仅对当前用户隐藏）
// @Summary      删除会话
// @Tags         会话
// @Produce      json
// @Security     BearerAuth
// @Param        id  path  int  true  "会话ID"
// @Success      200  {object}  response.Response
// @Router       /conversations/{id} [delete]
func (h *ConversationHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.conversations.Delete(c.Request.Context(), middleware.GetUserID(c), id); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}
