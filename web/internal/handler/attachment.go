package handler

import (
	"github.com/gin-gonic/gin"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/web/internal/middleware"
	"github.com/incyashraj/ParkShare-sub000/web/pkg/response"
)

// AttachmentHandler 附件上传
type AttachmentHandler struct {
	uploader AttachmentUploader
}

// NewAttachmentHandler 创建附件处理器
func NewAttachmentHandler(uploader AttachmentUploader) *AttachmentHandler {
	return &AttachmentHandler{uploader: uploader}
}

// Upload 上传附件
// @Summary      上传附件
// @Description  返回的描述 {url, filename, mimetype, size} 原样放入消息的 attachments
// @Tags         附件
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        file  formData  file  true  "文件"
// @Success      200  {object}  response.Response{data=model.Attachment}
// @Failure      400  {object}  response.Response
// @Router       /attachments [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.ErrorWithMsg(c, sharedErrors.CodeInvalidParams, "file is required")
		return
	}
	if limit := h.uploader.MaxSize(); limit > 0 && header.Size > limit {
		response.ErrorWithMsg(c, sharedErrors.CodeInvalidParams, "file too large")
		return
	}

	f, err := header.Open()
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	defer f.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	att, err := h.uploader.Upload(c.Request.Context(), middleware.GetUserID(c), header.Filename, mimeType, header.Size, f)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, att)
}
