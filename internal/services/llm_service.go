// internal/services/llm_service.go
package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/llm"
	"github.com/Corphon/SceneChronicle/internal/memory"
	"github.com/Corphon/SceneChronicle/internal/models"
	"github.com/Corphon/SceneChronicle/internal/prompt"
	"github.com/Corphon/SceneChronicle/internal/utils"
	"github.com/Corphon/SceneChronicle/internal/visual"
)

var ErrLLMNotReady = errors.New("llm service not ready")

// DefaultStopWords 生成时的停止词，防止模型替用户发言
var DefaultStopWords = []string{"User:", "###", "<|eot_id|>", "[SYSTEM"}

// 场景描述请求参数
const (
	sceneMaxTokens          = 150
	defaultSceneTemperature = 0.7
)

// ImageStore persists generated image bytes and returns a reference to
// them. A nil store makes the service answer with data URIs.
type ImageStore interface {
	Save(ctx context.Context, scenarioID string, data []byte, contentType string) (string, error)
	// Delete removes a stored image; unknown references are ignored.
	Delete(ctx context.Context, ref string) error
}

// LLMService 提供统一的大语言模型调用接口
//
// It is the single adapter between the conversation core and a remote
// provider: text generation, memory summaries, scene descriptions and
// image synthesis all go through it.
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	defaultModel  string
	isReady       bool
	readyState    string

	images  ImageStore
	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// NewLLMService 创建LLM服务；初始化失败时返回未就绪的服务而不是错误
func NewLLMService(providerName string, config map[string]string, images ImageStore) *LLMService {
	s := NewEmptyLLMService()
	s.images = images
	if providerName == "" {
		s.readyState = "LLM provider not configured"
		return s
	}
	if err := s.UpdateProvider(providerName, config); err != nil {
		s.logger.Warn("LLM provider initialization failed", map[string]interface{}{
			"provider": providerName,
			"error":    err.Error(),
		})
	}
	return s
}

// NewEmptyLLMService 创建一个空的LLM服务实例作为后备方案
func NewEmptyLLMService() *LLMService {
	return &LLMService{
		readyState: "Uninitialized",
		logger:     utils.GetLogger(),
		metrics:    utils.GetMetricsCollector(),
	}
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetReadyState 返回服务就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderName 返回当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// GetDefaultModel 获取当前配置的默认模型
func (s *LLMService) GetDefaultModel() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.defaultModel
}

// UpdateProvider 更新LLM服务的提供商
func (s *LLMService) UpdateProvider(providerName string, config map[string]string) error {
	provider, err := llm.GetProvider(providerName, config)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return apperrors.NewValidationError("invalid llm provider configuration", err)
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.defaultModel = strings.TrimSpace(config["default_model"])
	s.isReady = true
	s.readyState = "Ready"
	return nil
}

func (s *LLMService) current() (llm.Provider, string, error) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	if s.provider == nil || !s.isReady {
		return nil, "", apperrors.NewUpstreamError(s.readyState, ErrLLMNotReady)
	}
	return s.provider, s.providerName, nil
}

// complete runs one completion and records its metrics.
func (s *LLMService) complete(ctx context.Context, operation string, req llm.CompletionRequest) (string, error) {
	provider, name, err := s.current()
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, req)
	tokens := 0
	if resp != nil {
		tokens = resp.TokensUsed
	}
	s.metrics.RecordLLMRequest(name, operation, tokens, time.Since(start), err)

	if err != nil {
		return "", apperrors.FromRemote(operation+" request failed", err)
	}
	if resp == nil {
		return "", apperrors.NewMalformedError(operation+" returned no response", nil)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", apperrors.NewMalformedError(operation+" returned empty text", nil)
	}
	return text, nil
}

// Generate produces one character line from an assembled prompt.
func (s *LLMService) Generate(ctx context.Context, p prompt.Prompt, params models.ChatParameters) (string, error) {
	req := llm.CompletionRequest{
		SystemPrompt: p.System(),
		Messages:     make([]llm.ChatMessage, 0, len(p.Turns)),
		MaxTokens:    params.MaxTokens,
		Temperature:  params.Temperature,
		TopP:         params.TopP,
		Model:        params.Model,
		StopWords:    DefaultStopWords,
		ExtraParams:  map[string]interface{}{},
	}
	for _, t := range p.Turns {
		role := llm.RoleUser
		if t.Role == prompt.RoleAssistant {
			role = llm.RoleAssistant
		}
		req.Messages = append(req.Messages, llm.ChatMessage{Role: role, Content: t.Content})
	}
	if params.TopK > 0 {
		req.ExtraParams["top_k"] = params.TopK
	}
	if params.RepetitionPenalty > 0 {
		req.ExtraParams["repetition_penalty"] = params.RepetitionPenalty
	}
	return s.complete(ctx, "generate", req)
}

// Summarize implements memory.Summarizer.
func (s *LLMService) Summarize(ctx context.Context, req memory.SummaryRequest) (string, error) {
	return s.complete(ctx, "summarize."+string(req.Kind), llm.CompletionRequest{
		SystemPrompt: req.Instruction,
		Prompt:       req.Source,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	})
}

// Describe implements visual.SceneSummarizer.
func (s *LLMService) Describe(ctx context.Context, req visual.SceneRequest) (string, error) {
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = defaultSceneTemperature
	}
	return s.complete(ctx, "describe", llm.CompletionRequest{
		Prompt:      req.Instruction(),
		Temperature: temperature,
		MaxTokens:   sceneMaxTokens,
	})
}

// Synthesize implements visual.ImageSynthesizer. Base64 output is either
// handed to the image store or returned inline as a data URI.
func (s *LLMService) Synthesize(ctx context.Context, req visual.ImageRequest) (string, error) {
	provider, name, err := s.current()
	if err != nil {
		return "", err
	}

	imgReq := llm.ImageRequest{
		Prompt:         req.Description,
		NegativePrompt: req.Params.NegativePrompt,
		ExtraParams:    map[string]interface{}{},
	}
	if !req.Params.RandomizeSeed {
		seed := req.Params.Seed
		imgReq.Seed = &seed
	}
	if req.Params.GuidanceScale > 0 {
		imgReq.ExtraParams["guidance_scale"] = req.Params.GuidanceScale
	}
	if req.Params.Steps > 0 {
		imgReq.ExtraParams["num_inference_steps"] = req.Params.Steps
	}
	if req.Params.UseEmbedding {
		imgReq.ExtraParams["ip_adapter_scale"] = req.Params.IPScale
	}

	start := time.Now()
	resp, err := provider.GenerateImage(ctx, imgReq)
	s.metrics.RecordLLMRequest(name, "synthesize", 0, time.Since(start), err)
	if err != nil {
		return "", apperrors.FromRemote("image request failed", err)
	}
	if resp == nil {
		return "", apperrors.NewMalformedError("image request returned no response", nil)
	}

	switch {
	case resp.B64JSON != "":
		return s.storeImage(ctx, req.ScenarioID, resp.B64JSON)
	case resp.URL != "":
		return resp.URL, nil
	default:
		return "", apperrors.NewMalformedError("image response carried no image", nil)
	}
}

func (s *LLMService) storeImage(ctx context.Context, scenarioID, b64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", apperrors.NewMalformedError("image payload is not valid base64", err)
	}
	contentType := http.DetectContentType(data)

	if s.images == nil {
		return "data:" + contentType + ";base64," + b64, nil
	}
	ref, err := s.images.Save(ctx, scenarioID, data, contentType)
	if err != nil {
		return "", apperrors.WrapError(err, "failed to store image", apperrors.ErrorTypeError)
	}
	return ref, nil
}

// Ping lists the provider's models, which doubles as a connection test.
func (s *LLMService) Ping(ctx context.Context) ([]string, error) {
	provider, name, err := s.current()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	ids, err := provider.ListModels(ctx)
	s.metrics.RecordLLMRequest(name, "ping", 0, time.Since(start), err)
	if err != nil {
		return nil, apperrors.FromRemote("connection test failed", err)
	}
	return ids, nil
}
