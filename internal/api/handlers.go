// internal/api/handlers.go
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/SceneChronicle/internal/config"
	"github.com/Corphon/SceneChronicle/internal/conversation"
	"github.com/Corphon/SceneChronicle/internal/models"
	"github.com/Corphon/SceneChronicle/internal/services"
	"github.com/Corphon/SceneChronicle/internal/storage"
	"github.com/Corphon/SceneChronicle/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	Repo     *storage.Repository
	Sessions *conversation.Manager
	LLM      *services.LLMService
	Images   services.ImageStore // 可为 nil
	Config   *config.Config
	Hub      *Hub
	Response *ResponseHelper

	llmMu  sync.Mutex // 串行化 LLM 配置更新
	logger *utils.Logger
}

// NewHandler 创建API处理器
func NewHandler(repo *storage.Repository, sessions *conversation.Manager, llmService *services.LLMService,
	images services.ImageStore, cfg *config.Config, hub *Hub) *Handler {
	return &Handler{
		Repo:     repo,
		Sessions: sessions,
		LLM:      llmService,
		Images:   images,
		Config:   cfg,
		Hub:      hub,
		Response: NewResponseHelper(),
		logger:   utils.GetLogger(),
	}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":    "ok",
		"llm_ready": h.LLM.IsReady(),
		"llm_state": h.LLM.GetReadyState(),
		"sessions":  h.Sessions.Len(),
		"websocket": h.Hub.Status(),
	})
}

// GetMetrics 返回进程内指标
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, utils.GetMetricsCollector().GetMetrics())
}

// ---- characters ----

func (h *Handler) ListCharacters(c *gin.Context) {
	list, err := h.Repo.ListCharacters(c.Request.Context())
	if err != nil {
		h.Response.HandleError(c, "character", err)
		return
	}
	h.Response.Success(c, list)
}

func (h *Handler) GetCharacter(c *gin.Context) {
	ch, err := h.Repo.GetCharacter(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, "character", err)
		return
	}
	h.Response.Success(c, ch)
}

func (h *Handler) CreateCharacter(c *gin.Context) {
	var ch models.Character
	if err := c.ShouldBindJSON(&ch); err != nil {
		h.Response.BadRequest(c, "invalid character", err.Error())
		return
	}
	ch.ID = ""
	ch.CreatedAt = time.Time{}
	if err := h.Repo.SaveCharacter(c.Request.Context(), &ch); err != nil {
		h.Response.HandleError(c, "character", err)
		return
	}
	h.Response.Created(c, ch)
}

// UpdateCharacter applies the request body on top of the stored character
// and refreshes the live sessions it takes part in.
func (h *Handler) UpdateCharacter(c *gin.Context) {
	ctx := c.Request.Context()
	ch, err := h.Repo.GetCharacter(ctx, c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, "character", err)
		return
	}
	id, created := ch.ID, ch.CreatedAt
	if err := c.ShouldBindJSON(ch); err != nil {
		h.Response.BadRequest(c, "invalid character", err.Error())
		return
	}
	ch.ID, ch.CreatedAt = id, created
	if err := h.Repo.SaveCharacter(ctx, ch); err != nil {
		h.Response.HandleError(c, "character", err)
		return
	}
	h.Sessions.RefreshCharacter(ctx, id)
	h.Response.Success(c, ch)
}

func (h *Handler) DeleteCharacter(c *gin.Context) {
	if err := h.Repo.DeleteCharacter(c.Request.Context(), c.Param("id")); err != nil {
		h.Response.HandleError(c, "character", err)
		return
	}
	h.Response.Success(c, gin.H{"deleted": c.Param("id")})
}

// StartDirectChat 返回角色的一对一场景，不存在时创建（201）
func (h *Handler) StartDirectChat(c *gin.Context) {
	s, created, err := h.Repo.DirectScenario(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, "character", err)
		return
	}
	if created {
		h.Response.Created(c, s)
		return
	}
	h.Response.Success(c, s)
}

// ---- scenarios ----

func (h *Handler) ListScenarios(c *gin.Context) {
	list, err := h.Repo.ListScenarios(c.Request.Context())
	if err != nil {
		h.Response.HandleError(c, "scenario", err)
		return
	}
	h.Response.Success(c, list)
}

func (h *Handler) GetScenario(c *gin.Context) {
	s, err := h.Repo.GetScenario(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, "scenario", err)
		return
	}
	h.Response.Success(c, s)
}

// CreateScenario 创建场景；缺省的采样与图像参数取默认值
func (h *Handler) CreateScenario(c *gin.Context) {
	s := models.Scenario{
		ChatParameters:  models.DefaultChatParameters(),
		ImageParameters: models.DefaultImageParameters(),
		Language:        models.LanguageEnglish,
	}
	if err := c.ShouldBindJSON(&s); err != nil {
		h.Response.BadRequest(c, "invalid scenario", err.Error())
		return
	}
	s.ID = ""
	if err := h.Repo.CreateScenario(c.Request.Context(), &s); err != nil {
		h.Response.HandleError(c, "scenario", err)
		return
	}
	h.Response.Created(c, s)
}

// UpdateScenario applies the body on top of the stored scenario. Memory is
// never changed here; see PutMemory.
func (h *Handler) UpdateScenario(c *gin.Context) {
	ctx := c.Request.Context()
	s, err := h.Repo.GetScenario(ctx, c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, "scenario", err)
		return
	}
	id := s.ID
	if err := c.ShouldBindJSON(s); err != nil {
		h.Response.BadRequest(c, "invalid scenario", err.Error())
		return
	}
	s.ID = id
	if err := h.Repo.UpdateScenario(ctx, s); err != nil {
		h.Response.HandleError(c, "scenario", err)
		return
	}
	if err := h.Sessions.Refresh(ctx, id); err != nil {
		h.logger.Warn("Failed to refresh session", map[string]interface{}{"scenario_id": id, "error": err.Error()})
	}
	h.Response.Success(c, s)
}

// DeleteScenario removes a scenario, its messages and its stored images.
// It is refused while the scenario has work in flight.
func (h *Handler) DeleteScenario(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	msgs, err := h.Repo.GetMessages(ctx, id)
	if err != nil {
		h.Response.HandleError(c, "scenario", err)
		return
	}
	if err := h.Sessions.Evict(id); err != nil {
		h.Response.HandleError(c, "scenario", err)
		return
	}
	if err := h.Repo.DeleteScenario(ctx, id); err != nil {
		h.Response.HandleError(c, "scenario", err)
		return
	}
	h.deleteImages(ctx, msgs)
	h.Response.Success(c, gin.H{"deleted": id})
}

// deleteImages 删除消息引用的图片，失败只记录日志
func (h *Handler) deleteImages(ctx context.Context, msgs []models.Message) {
	if h.Images == nil {
		return
	}
	for _, m := range msgs {
		if m.Kind != models.KindImage || m.ImageURL == "" {
			continue
		}
		if err := h.Images.Delete(ctx, m.ImageURL); err != nil {
			h.logger.Warn("Failed to delete image", map[string]interface{}{"ref": m.ImageURL, "error": err.Error()})
		}
	}
}

// ---- llm ----

// TestConnection lists the provider's models as a connection check.
func (h *Handler) TestConnection(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	modelsList, err := h.LLM.Ping(ctx)
	if err != nil {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorConnectionFailed, "connection test failed", err.Error())
		return
	}
	h.Response.Success(c, gin.H{
		"provider": h.LLM.GetProviderName(),
		"status":   "connected",
		"models":   modelsList,
	})
}

// GetLLMStatus 获取LLM服务状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	h.llmMu.Lock()
	settings := h.Config.LLM
	h.llmMu.Unlock()

	h.Response.Success(c, gin.H{
		"ready":    h.LLM.IsReady(),
		"status":   h.LLM.GetReadyState(),
		"provider": h.LLM.GetProviderName(),
		"model":    h.LLM.GetDefaultModel(),
		"config": gin.H{
			"provider":    settings.Provider,
			"base_url":    settings.BaseURL,
			"has_api_key": settings.APIKey != "",
			"timeout":     settings.Timeout.String(),
		},
	})
}

// UpdateLLMConfigRequest is the body of PUT /api/llm/config.
type UpdateLLMConfigRequest struct {
	Provider string `json:"provider" binding:"required"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	Timeout  string `json:"timeout"`
}

// UpdateLLMConfig 更新并保存LLM配置
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req UpdateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid llm config", err.Error())
		return
	}

	h.llmMu.Lock()
	defer h.llmMu.Unlock()

	settings := h.Config.LLM
	settings.Provider = req.Provider
	if req.BaseURL != "" {
		settings.BaseURL = req.BaseURL
	}
	if req.APIKey != "" {
		settings.APIKey = req.APIKey
	}
	if req.Model != "" {
		settings.Model = req.Model
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			h.Response.BadRequest(c, "invalid timeout", req.Timeout)
			return
		}
		settings.Timeout = d
	}

	next := *h.Config
	next.LLM = settings
	if err := h.LLM.UpdateProvider(settings.Provider, next.ProviderConfig()); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "failed to apply llm config", err.Error())
		return
	}
	if err := h.Config.SaveLLM(settings); err != nil {
		h.Response.HandleError(c, "", err)
		return
	}
	h.Response.Success(c, gin.H{
		"provider": h.LLM.GetProviderName(),
		"model":    h.LLM.GetDefaultModel(),
		"ready":    h.LLM.IsReady(),
	})
}

// GetWebSocketStatus 获取 WebSocket 连接状态
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	h.Response.Success(c, h.Hub.Status())
}
