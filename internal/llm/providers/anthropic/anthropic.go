// internal/llm/providers/anthropic/anthropic.go
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Corphon/SceneChronicle/internal/llm"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	defaultAPIVersion = "2023-06-01"
	defaultModel      = "claude-3-5-sonnet-latest"
	defaultMaxTokens  = 1024
	defaultTimeout    = 60 * time.Second
)

// ErrImagesUnsupported is returned by GenerateImage.
var ErrImagesUnsupported = errors.New("anthropic does not generate images")

func init() {
	llm.Register("anthropic", func() llm.Provider {
		return &Provider{baseURL: defaultBaseURL, apiVersion: defaultAPIVersion}
	})
}

// Provider talks to the Anthropic Messages API. It has no image
// endpoint, so scenarios using it should disable scene images.
type Provider struct {
	apiKey       string
	baseURL      string
	apiVersion   string
	client       *http.Client
	defaultModel string
}

// Initialize 读取 api_key / base_url / api_version / default_model / timeout
func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return errors.New("anthropic api密钥未提供")
	}
	p.apiKey = apiKey

	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")
	}
	if apiVersion := config["api_version"]; apiVersion != "" {
		p.apiVersion = apiVersion
	}
	p.defaultModel = defaultModel
	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}

	timeout := defaultTimeout
	if raw := config["timeout"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
		timeout = d
	}
	p.client = &http.Client{Timeout: timeout}
	return nil
}

// GetName 获取提供者名称
func (p *Provider) GetName() string {
	return "anthropic"
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// convertMessages lifts system messages into the system field and merges
// consecutive turns of the same role, since the API requires strict
// user/assistant alternation starting with the user.
func convertMessages(msgs []llm.ChatMessage) (string, []message) {
	var system []string
	var out []message
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := llm.RoleUser
		if m.Role == llm.RoleAssistant {
			role = llm.RoleAssistant
		}
		if len(out) > 0 && out[len(out)-1].Role == role {
			out[len(out)-1].Content += "\n\n" + m.Content
			continue
		}
		if len(out) == 0 && role == llm.RoleAssistant {
			out = append(out, message{Role: llm.RoleUser, Content: "(continue)"})
		}
		out = append(out, message{Role: role, Content: m.Content})
	}
	return strings.Join(system, "\n\n"), out
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	system, messages := convertMessages(req.AllMessages())
	if len(messages) == 0 {
		return nil, errors.New("completion request has no messages")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	requestBody := map[string]interface{}{
		"model":      model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	if system != "" {
		requestBody["system"] = system
	}
	if req.Temperature > 0 {
		// Anthropic 的温度范围是 0-1
		requestBody["temperature"] = min(req.Temperature, 1.0)
	}
	if req.TopP > 0 {
		requestBody["top_p"] = req.TopP
	}
	if len(req.StopWords) > 0 {
		requestBody["stop_sequences"] = req.StopWords
	}
	if topK, ok := req.ExtraParams["top_k"]; ok {
		requestBody["top_k"] = topK
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	var response struct {
		Model      string `json:"model"`
		StopReason string `json:"stop_reason"`
		Content    []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/messages", jsonData, &response); err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}

	var text strings.Builder
	for _, content := range response.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("anthropic未返回文本内容")
	}

	return &llm.CompletionResponse{
		Text:         text.String(),
		FinishReason: response.StopReason,
		TokensUsed:   response.Usage.InputTokens + response.Usage.OutputTokens,
		PromptTokens: response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		ModelName:    firstNonEmpty(response.Model, model),
		ProviderName: p.GetName(),
	}, nil
}

func (p *Provider) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	return nil, ErrImagesUnsupported
}

// ListModels calls GET /v1/models.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	var response struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := p.do(ctx, http.MethodGet, "/v1/models", nil, &response); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	ids := make([]string, 0, len(response.Data))
	for _, m := range response.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (p *Provider) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("X-Api-Key", p.apiKey)
	httpReq.Header.Set("Anthropic-Version", p.apiVersion)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return fmt.Errorf("status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(httpResp.Body).Decode(out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
