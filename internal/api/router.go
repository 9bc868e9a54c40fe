// internal/api/router.go
package api

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/SceneChronicle/internal/config"
	"github.com/Corphon/SceneChronicle/internal/conversation"
	"github.com/Corphon/SceneChronicle/internal/di"
	"github.com/Corphon/SceneChronicle/internal/services"
	"github.com/Corphon/SceneChronicle/internal/storage"
)

// Server bundles the router with the pieces that must be closed with it.
type Server struct {
	Engine  *gin.Engine
	Handler *Handler
	limiter *RateLimiter
}

// Close 停止限流器清理协程
func (s *Server) Close() {
	s.limiter.Close()
}

// SetupRouter 配置HTTP路由；服务只从容器获取
func SetupRouter(container *di.Container) (*Server, error) {
	cfg, err := di.Resolve[*config.Config](container, di.ServiceConfig)
	if err != nil {
		return nil, err
	}
	repo, err := di.Resolve[*storage.Repository](container, di.ServiceRepository)
	if err != nil {
		return nil, err
	}
	llmService, err := di.Resolve[*services.LLMService](container, di.ServiceLLM)
	if err != nil {
		return nil, err
	}
	sessions, err := di.Resolve[*conversation.Manager](container, di.ServiceSessions)
	if err != nil {
		return nil, err
	}
	hub, err := di.Resolve[*Hub](container, di.ServiceHub)
	if err != nil {
		return nil, fmt.Errorf("websocket hub: %w", err)
	}
	images := di.Optional[services.ImageStore](container, di.ServiceImages)

	handler := NewHandler(repo, sessions, llmService, images, cfg, hub)

	if !cfg.Server.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(), CORS(cfg.Server.CORSOrigins))

	// 本地图片
	if cfg.Image.Store == config.ImageStoreLocal {
		r.Static(cfg.Image.PublicPath, filepath.Join(cfg.Server.DataDir, storage.ImageDir))
	}

	limiter := NewRateLimiter(cfg.Server.RateLimit, time.Minute)
	api := r.Group("/api", limiter.Middleware(handler.Response))
	{
		api.GET("/health", handler.Health)
		api.GET("/metrics", handler.GetMetrics)

		characters := api.Group("/characters")
		{
			characters.GET("", handler.ListCharacters)
			characters.POST("", handler.CreateCharacter)
			characters.GET("/:id", handler.GetCharacter)
			characters.PUT("/:id", handler.UpdateCharacter)
			characters.DELETE("/:id", handler.DeleteCharacter)
			characters.POST("/:id/chat", handler.StartDirectChat)
		}

		scenarios := api.Group("/scenarios")
		{
			scenarios.GET("", handler.ListScenarios)
			scenarios.POST("", handler.CreateScenario)
			scenarios.GET("/:id", handler.GetScenario)
			scenarios.PUT("/:id", handler.UpdateScenario)
			scenarios.DELETE("/:id", handler.DeleteScenario)

			scenarios.GET("/:id/messages", handler.ListMessages)
			scenarios.POST("/:id/messages", handler.SubmitMessage)
			scenarios.DELETE("/:id/messages", handler.ClearMessages)
			scenarios.GET("/:id/memory", handler.GetMemory)
			scenarios.PUT("/:id/memory", handler.PutMemory)
			scenarios.POST("/:id/compress", handler.Compress)
			scenarios.POST("/:id/image", handler.ForceImage)
			scenarios.GET("/:id/state", handler.GetState)
		}

		llmGroup := api.Group("/llm")
		{
			llmGroup.POST("/test", handler.TestConnection)
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}

		api.GET("/ws/scenarios/:id", handler.ScenarioWebSocket)
		api.GET("/ws/status", handler.GetWebSocketStatus)
	}

	return &Server{Engine: r, Handler: handler, limiter: limiter}, nil
}
