package handler

import (
	"github.com/gin-gonic/gin"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/web/internal/middleware"
	"github.com/incyashraj/ParkShare-sub000/web/internal/service"
	"github.com/incyashraj/ParkShare-sub000/web/pkg/response"
)

// UserHandler 公钥目录、资料、屏蔽与在线状态
type UserHandler struct {
	directory DirectoryService
}

// NewUserHandler 创建用户处理器
func NewUserHandler(directory DirectoryService) *UserHandler {
	return &UserHandler{directory: directory}
}

// PutPublicKey 发布公钥
// @Summary      发布公钥
// @Description  幂等写入当前用户的公钥，每次会话开始时调用
// @Tags         公钥目录
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        uid      path  int                       true  "用户ID"
// @Param        request  body  service.PublicKeyRequest  true  "公钥"
// @Success      200  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Router       /users/{uid}/publicKey [put]
func (h *UserHandler) PutPublicKey(c *gin.Context) {
	uid, ok := paramID(c, "uid")
	if !ok {
		return
	}

	var req service.PublicKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, sharedErrors.CodeInvalidParams, err.Error())
		return
	}

	if err := h.directory.PutPublicKey(c.Request.Context(), middleware.GetUserID(c), uid, req.PublicKey); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetPublicKey 获取公钥
// @Summary      获取公钥
// @Description  未发布公钥时返回 404，客户端应提示对方尚未开启加密消息
// @Tags         公钥目录
// @Produce      json
// @Security     BearerAuth
// @Param        uid  path  int  true  "用户ID"
// @Success      200  {object}  response.Response{data=service.PublicKeyResponse}
// @Failure      404  {object}  response.Response
// @Router       /users/{uid}/publicKey [get]
func (h *UserHandler) GetPublicKey(c *gin.Context) {
	uid, ok := paramID(c, "uid")
	if !ok {
		return
	}

	key, err := h.directory.GetPublicKey(c.Request.Context(), uid)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, key)
}

// GetUser 获取用户公开信息
// GET /api/v1/users/{uid}
func (h *UserHandler) GetUser(c *gin.Context) {
	uid, ok := paramID(c, "uid")
	if !ok {
		return
	}

	user, err := h.directory.GetUser(c.Request.Context(), uid)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, user)
}

// UpdateProfile 修改展示名
// PUT /api/v1/users/{uid}/profile
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	uid, ok := paramID(c, "uid")
	if !ok {
		return
	}

	var req service.ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, sharedErrors.CodeInvalidParams, err.Error())
		return
	}

	if err := h.directory.UpdateProfile(c.Request.Context(), middleware.GetUserID(c), uid, req.DisplayName); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetPresence 在线状态快照
// @Summary      在线状态
// @Tags         用户
// @Produce      json
// @Security     BearerAuth
// @Param        uid  path  int  true  "用户ID"
// @Success      200  {object}  response.Response{data=model.PresenceRecord}
// @Router       /users/{uid}/presence [get]
func (h *UserHandler) GetPresence(c *gin.Context) {
	uid, ok := paramID(c, "uid")
	if !ok {
		return
	}

	rec, err := h.directory.Presence(c.Request.Context(), uid)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, rec)
}

// Block 屏蔽用户
// POST /api/v1/users/{uid}/block
func (h *UserHandler) Block(c *gin.Context) {
	uid, ok := paramID(c, "uid")
	if !ok {
		return
	}
	if err := h.directory.Block(c.Request.Context(), middleware.GetUserID(c), uid); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// Unblock 取消屏蔽
// DELETE /api/v1/users/{uid}/block
func (h *UserHandler) Unblock(c *gin.Context) {
	uid, ok := paramID(c, "uid")
	if !ok {
		return
	}
	if err := h.directory.Unblock(c.Request.Context(), middleware.GetUserID(c), uid); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}
