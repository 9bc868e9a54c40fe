// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Corphon/SceneChronicle/internal/llm"
)

const (
	defaultBaseURL    = "http://localhost:5000/v1"
	defaultModel      = "llama-3"
	defaultImageModel = "dall-e-3"
	defaultTimeout    = 60 * time.Second

	// 本地兼容服务通常不校验密钥
	placeholderKey = "sk-no-key"
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{}
	})
}

// Provider talks to any OpenAI-compatible endpoint: OpenAI itself, a
// local llama.cpp or vLLM server, a tunnelled notebook, and so on.
type Provider struct {
	client       openai.Client
	baseURL      string
	defaultModel string
	imageModel   string
}

// Initialize 读取 api_key / base_url / default_model / image_model / timeout
func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		apiKey = placeholderKey
	}

	p.baseURL = NormalizeBaseURL(config["base_url"])
	p.defaultModel = firstNonEmpty(config["default_model"], defaultModel)
	p.imageModel = firstNonEmpty(config["image_model"], defaultImageModel)

	timeout := defaultTimeout
	if raw := config["timeout"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
		timeout = d
	}

	p.client = openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(p.baseURL),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(0),
	)
	return nil
}

// GetName 获取提供者名称
func (p *Provider) GetName() string {
	return "openai"
}

// CompleteText sends a chat completion. Extra parameters the official
// API lacks (top_k, repetition_penalty) travel as extra JSON fields,
// which OpenAI-compatible servers accept.
func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	msgs := req.AllMessages()
	if len(msgs) == 0 {
		return nil, errors.New("completion request has no messages")
	}

	params := openai.ChatCompletionNewParams{
		Model:    firstNonEmpty(req.Model, p.defaultModel),
		Messages: convertMessages(msgs),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}

	extra := make(map[string]any, len(req.ExtraParams)+1)
	for k, v := range req.ExtraParams {
		extra[k] = v
	}
	if len(req.StopWords) > 0 {
		extra["stop"] = req.StopWords
	}
	if len(extra) > 0 {
		params.SetExtraFields(extra)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, describeError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	return &llm.CompletionResponse{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		TokensUsed:   int(resp.Usage.TotalTokens),
		PromptTokens: int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		ModelName:    resp.Model,
		ProviderName: p.GetName(),
	}, nil
}

// GenerateImage calls the images endpoint and asks for base64 output so
// the caller can persist the bytes itself.
func (p *Provider) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("image prompt is empty")
	}

	params := openai.ImageGenerateParams{
		Prompt:         req.Prompt,
		Model:          openai.ImageModel(firstNonEmpty(req.Model, p.imageModel)),
		N:              openai.Int(1),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	}
	if req.Size != "" {
		params.Size = openai.ImageGenerateParamsSize(req.Size)
	}

	extra := make(map[string]any, len(req.ExtraParams)+2)
	for k, v := range req.ExtraParams {
		extra[k] = v
	}
	if req.NegativePrompt != "" {
		extra["negative_prompt"] = req.NegativePrompt
	}
	if req.Seed != nil {
		extra["seed"] = *req.Seed
	}
	if len(extra) > 0 {
		params.SetExtraFields(extra)
	}

	resp, err := p.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, describeError("image generation", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("image generation returned no data")
	}

	img := resp.Data[0]
	return &llm.ImageResponse{
		URL:           img.URL,
		B64JSON:       img.B64JSON,
		RevisedPrompt: img.RevisedPrompt,
	}, nil
}

// ListModels calls GET /v1/models.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, describeError("list models", err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func convertMessages(msgs []llm.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// describeError keeps the HTTP status of API errors in the message.
func describeError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: status %d: %w", op, apiErr.StatusCode, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// NormalizeBaseURL accepts a bare host, a /v1 root, or a full
// /chat/completions URL and returns the /v1/ root the client expects.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		u = defaultBaseURL
	}
	u = strings.TrimRight(u, "/")
	u = strings.TrimSuffix(u, "/chat/completions")
	u = strings.TrimSuffix(u, "/models")
	if !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u + "/"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
