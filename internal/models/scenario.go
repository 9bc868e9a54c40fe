// internal/models/scenario.go
package models

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
)

// Language 输出语言标签
type Language string

const (
	LanguageEnglish  Language = "English"
	LanguageManglish Language = "Manglish"
)

// ChatParameters 采样参数，原样传递给文本生成器
type ChatParameters struct {
	Temperature       float64 `json:"temperature" yaml:"temperature"`
	TopK              int     `json:"top_k" yaml:"top_k"`
	TopP              float64 `json:"top_p" yaml:"top_p"`
	MaxTokens         int     `json:"max_tokens" yaml:"max_tokens"`
	ContextSize       int     `json:"context_size" yaml:"context_size"`
	RepetitionPenalty float64 `json:"repetition_penalty" yaml:"repetition_penalty"`
	Model             string  `json:"model,omitempty" yaml:"model,omitempty"` // 为空时使用服务默认模型
}

// DefaultChatParameters mirrors the defaults applied when a scenario omits them.
func DefaultChatParameters() ChatParameters {
	return ChatParameters{
		Temperature:       0.9,
		TopK:              40,
		TopP:              1.0,
		MaxTokens:         1200,
		ContextSize:       4096,
		RepetitionPenalty: 1.1,
	}
}

// Validate 检查采样参数范围
func (p ChatParameters) Validate() error {
	switch {
	case p.Temperature < 0 || p.Temperature > 2:
		return errInvalid(fmt.Sprintf("temperature %.2f out of range [0,2]", p.Temperature))
	case p.TopP < 0 || p.TopP > 1:
		return errInvalid(fmt.Sprintf("top_p %.2f out of range [0,1]", p.TopP))
	case p.TopK < 0:
		return errInvalid("top_k must not be negative")
	case p.MaxTokens < 0:
		return errInvalid("max_tokens must not be negative")
	case p.ContextSize < 0:
		return errInvalid("context_size must not be negative")
	case p.RepetitionPenalty < 0:
		return errInvalid("repetition_penalty must not be negative")
	}
	return nil
}

// ImageParameters 图像生成参数
type ImageParameters struct {
	NegativePrompt string  `json:"negative_prompt" yaml:"negative_prompt"`
	IPScale        float64 `json:"ip_scale" yaml:"ip_scale"`
	GuidanceScale  float64 `json:"guidance_scale" yaml:"guidance_scale"`
	Steps          int     `json:"steps" yaml:"steps"`
	Seed           int64   `json:"seed" yaml:"seed"`
	RandomizeSeed  bool    `json:"randomize_seed" yaml:"randomize_seed"`
	UseLLM         bool    `json:"use_llm" yaml:"use_llm"`
	LLMTemperature float64 `json:"llm_temperature" yaml:"llm_temperature"`
	UseEmbedding   bool    `json:"use_embedding" yaml:"use_embedding"`
}

// DefaultImageParameters returns the stock image settings.
func DefaultImageParameters() ImageParameters {
	return ImageParameters{
		NegativePrompt: "bad anatomy, blurry, low quality, distorted face, extra limbs",
		IPScale:        0.6,
		GuidanceScale:  5.0,
		Steps:          30,
		Seed:           42,
		RandomizeSeed:  true,
		UseLLM:         true,
		LLMTemperature: 0.7,
	}
}

// Validate 检查图像参数范围
func (p ImageParameters) Validate() error {
	if p.Steps < 0 {
		return errInvalid("steps must not be negative")
	}
	if p.GuidanceScale < 0 {
		return errInvalid("guidance_scale must not be negative")
	}
	if p.IPScale < 0 || p.IPScale > 1 {
		return errInvalid(fmt.Sprintf("ip_scale %.2f out of range [0,1]", p.IPScale))
	}
	return nil
}

// Scenario 表示一个对话场景，拥有自己的分层记忆
type Scenario struct {
	ID                 string          `json:"id" yaml:"id"`
	Name               string          `json:"name" yaml:"name"`
	Description        string          `json:"description" yaml:"description"`
	CharacterIDs       []string        `json:"character_ids" yaml:"character_ids"`
	ChatParameters     ChatParameters  `json:"chat_parameters" yaml:"chat_parameters"`
	ImageParameters    ImageParameters `json:"image_parameters" yaml:"image_parameters"`
	SystemInstruction  string          `json:"system_instruction" yaml:"system_instruction"`
	Language           Language        `json:"language" yaml:"language"`
	UserPersona        string          `json:"user_persona,omitempty" yaml:"user_persona,omitempty"`
	BackgroundImageURL string          `json:"background_image_url,omitempty" yaml:"background_image_url,omitempty"`
	Memory             MemoryStore     `json:"memory" yaml:"-"`
	CreatedAt          time.Time       `json:"created_at" yaml:"-"`
	LastUpdated        time.Time       `json:"last_updated" yaml:"-"`
}

// Validate checks a scenario before it is stored.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errInvalid("scenario name is required")
	}
	switch s.Language {
	case "", LanguageEnglish, LanguageManglish:
	default:
		return errInvalid(fmt.Sprintf("unsupported language %q", s.Language))
	}
	seen := make(map[string]bool, len(s.CharacterIDs))
	for _, id := range s.CharacterIDs {
		if seen[id] {
			return errInvalid(fmt.Sprintf("character %s listed twice", id))
		}
		seen[id] = true
	}
	if err := s.ChatParameters.Validate(); err != nil {
		return err
	}
	return s.ImageParameters.Validate()
}

// OutputLanguage 返回目标语言，未设置时为英语
func (s *Scenario) OutputLanguage() Language {
	if s.Language == "" {
		return LanguageEnglish
	}
	return s.Language
}

func errInvalid(msg string) error {
	return apperrors.NewValidationError(msg, nil)
}
