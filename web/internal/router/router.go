package router

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/web/internal/config"
	"github.com/incyashraj/ParkShare-sub000/web/internal/handler"
	"github.com/incyashraj/ParkShare-sub000/web/internal/middleware"
)

// Handlers 路由依赖的处理器集合
type Handlers struct {
	User         *handler.UserHandler
	Conversation *handler.ConversationHandler
	Message      *handler.MessageHandler
	Attachment   *handler.AttachmentHandler
	Health       *handler.HealthHandler
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, logger *slog.Logger, validator middleware.TokenValidator, h Handlers) *gin.Engine {
	gin.SetMode(cfg.App.Mode)

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowCredentials,
	))

	// Swagger 文档路由
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/health", h.Health.Health)

	// API v1，全部需要身份服务签发的令牌
	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(validator))
	{
		// 公钥目录与用户
		users := v1.Group("/users/:uid")
		{
			users.GET("", h.User.GetUser)
			users.PUT("/publicKey", h.User.PutPublicKey)
			users.GET("/publicKey", h.User.GetPublicKey)
			users.PUT("/profile", h.User.UpdateProfile)
			users.GET("/presence", h.User.GetPresence)
			users.POST("/block", h.User.Block)
			users.DELETE("/block", h.User.Unblock)
		}

		// 会话
		conversations := v1.Group("/conversations")
		{
			conversations.GET("", h.Conversation.List)
			conversations.POST("", h.Conversation.Create)
			conversations.GET("/:id", h.Conversation.Get)
			conversations.DELETE("/:id", h.Conversation.Delete)
			conversations.GET("/:id/messages", h.Conversation.Messages)
			conversations.PUT("/:id/read", h.Conversation.MarkRead)
			conversations.POST("/:id/star", h.Conversation.ToggleFlag(model.FlagStar))
			conversations.POST("/:id/mute", h.Conversation.ToggleFlag(model.FlagMute))
			conversations.POST("/:id/archive", h.Conversation.ToggleFlag(model.FlagArchive))
		}

		// 消息
		messages := v1.Group("/messages")
		{
			messages.POST("", h.Message.Send)
			messages.DELETE("/:id", h.Message.Delete)
		}

		v1.POST("/attachments", h.Attachment.Upload)
	}

	return r
}
