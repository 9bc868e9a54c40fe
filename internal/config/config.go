// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/memory"
	"github.com/Corphon/SceneChronicle/internal/storage"
	"github.com/Corphon/SceneChronicle/internal/utils"
)

// 图片存储方式
const (
	ImageStoreNone  = "none"
	ImageStoreLocal = "local"
	ImageStoreS3    = "s3"
)

// llmFile holds LLM settings saved from the API; they override the environment.
const llmFile = "llm.json"

// Config 包含应用程序的所有配置
type Config struct {
	Server ServerConfig `json:"server"`
	LLM    LLMConfig    `json:"llm"`
	Image  ImageConfig  `json:"image"`
	Store  StoreConfig  `json:"store"`
	Memory MemoryConfig `json:"memory"`
	Visual VisualConfig `json:"visual"`
}

type ServerConfig struct {
	Port        string        `json:"port" env:"PORT" envDefault:"8080"`
	DataDir     string        `json:"data_dir" env:"DATA_DIR" envDefault:"data"`
	LogDir      string        `json:"log_dir" env:"LOG_DIR" envDefault:"logs"`
	LogLevel    string        `json:"log_level" env:"LOG_LEVEL" envDefault:"info"`
	DebugMode   bool          `json:"debug_mode" env:"DEBUG_MODE" envDefault:"false"`
	CORSOrigins []string      `json:"cors_origins" env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimit   int           `json:"rate_limit" env:"RATE_LIMIT" envDefault:"120"` // 每分钟每个客户端
	SessionTTL  time.Duration `json:"session_ttl" env:"SESSION_TTL" envDefault:"30m"`
	SecretKey   string        `json:"-" env:"CONFIG_SECRET"` // 加密保存的 API 密钥
}

type LLMConfig struct {
	Provider string        `json:"provider" env:"LLM_PROVIDER" envDefault:"openai"`
	BaseURL  string        `json:"base_url" env:"LLM_BASE_URL" envDefault:"http://localhost:5000/v1"`
	APIKey   string        `json:"api_key,omitempty" env:"LLM_API_KEY"`
	Model    string        `json:"model" env:"LLM_MODEL" envDefault:"llama-3"`
	Timeout  time.Duration `json:"timeout" env:"LLM_TIMEOUT" envDefault:"60s"`
}

type ImageConfig struct {
	Model         string `json:"model" env:"IMAGE_MODEL" envDefault:"dall-e-3"`
	Store         string `json:"store" env:"IMAGE_STORE" envDefault:"local"`
	Enabled       bool   `json:"enabled" env:"IMAGES_ENABLED" envDefault:"true"`
	PublicPath    string `json:"public_path" env:"IMAGE_PUBLIC_PATH" envDefault:"/images"`
	S3Bucket      string `json:"s3_bucket" env:"S3_BUCKET"`
	S3Region      string `json:"s3_region" env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint    string `json:"s3_endpoint" env:"S3_ENDPOINT"`
	S3Prefix      string `json:"s3_prefix" env:"S3_PREFIX"`
	S3AccessKey   string `json:"-" env:"S3_ACCESS_KEY"`
	S3SecretKey   string `json:"-" env:"S3_SECRET_KEY"`
	PublicBaseURL string `json:"public_base_url" env:"PUBLIC_BASE_URL"`
}

type StoreConfig struct {
	Backend string `json:"backend" env:"STORE_BACKEND" envDefault:"file"`
}

type MemoryConfig struct {
	Window       int   `json:"window" env:"MEMORY_WINDOW" envDefault:"20"`
	PromptWindow int   `json:"prompt_window" env:"PROMPT_WINDOW" envDefault:"20"`
	TierBounds   []int `json:"tier_bounds" env:"MEMORY_TIER_BOUNDS" envSeparator:"," envDefault:"10,10"`
}

type VisualConfig struct {
	Min     int `json:"min" env:"VISUAL_MIN" envDefault:"3"`
	Max     int `json:"max" env:"VISUAL_MAX" envDefault:"5"`
	History int `json:"history" env:"VISUAL_HISTORY" envDefault:"6"`
}

// Load 从 .env 和环境变量加载配置
func Load() (*Config, error) {
	// .env 是可选的
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, apperrors.NewValidationError("invalid environment configuration", err)
	}
	if err := cfg.loadLLMOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Port) == "" {
		return apperrors.NewValidationError("PORT is required", nil)
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid PORT %q", c.Server.Port), err)
	}
	switch c.Store.Backend {
	case storage.BackendFile, storage.BackendBadger, storage.BackendSQLite, storage.BackendMemory:
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown STORE_BACKEND %q", c.Store.Backend), nil)
	}
	switch c.Image.Store {
	case ImageStoreNone, ImageStoreLocal:
	case ImageStoreS3:
		if c.Image.S3Bucket == "" {
			return apperrors.NewValidationError("S3_BUCKET is required when IMAGE_STORE=s3", nil)
		}
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown IMAGE_STORE %q", c.Image.Store), nil)
	}
	if c.LLM.Timeout <= 0 {
		return apperrors.NewValidationError("LLM_TIMEOUT must be positive", nil)
	}
	if c.Memory.PromptWindow < 1 {
		return apperrors.NewValidationError("PROMPT_WINDOW must be at least 1", nil)
	}
	if c.Visual.Min < 1 || c.Visual.Max < c.Visual.Min {
		return apperrors.NewValidationError(
			fmt.Sprintf("visual threshold range [%d,%d] is invalid", c.Visual.Min, c.Visual.Max), nil)
	}
	return c.Policy().Validate()
}

// Policy returns the memory compression policy.
func (c *Config) Policy() memory.Policy {
	return memory.Policy{
		Window: c.Memory.Window,
		Bounds: append([]int(nil), c.Memory.TierBounds...),
	}
}

// ProviderConfig 返回 llm.Provider.Initialize 所需的键值
func (c *Config) ProviderConfig() map[string]string {
	return map[string]string{
		"api_key":       c.LLM.APIKey,
		"base_url":      c.LLM.BaseURL,
		"default_model": c.LLM.Model,
		"image_model":   c.Image.Model,
		"timeout":       c.LLM.Timeout.String(),
	}
}

// S3Options maps the image settings onto the object store options.
func (c *Config) S3Options() storage.S3Options {
	return storage.S3Options{
		Bucket:        c.Image.S3Bucket,
		Region:        c.Image.S3Region,
		Endpoint:      c.Image.S3Endpoint,
		Prefix:        c.Image.S3Prefix,
		AccessKey:     c.Image.S3AccessKey,
		SecretKey:     c.Image.S3SecretKey,
		PublicBaseURL: c.Image.PublicBaseURL,
	}
}

// SaveLLM stores new LLM settings under the data directory so they survive
// a restart, and applies them to c.
func (c *Config) SaveLLM(settings LLMConfig) error {
	if settings.Provider == "" {
		return apperrors.NewValidationError("provider is required", nil)
	}
	if settings.Timeout <= 0 {
		settings.Timeout = c.LLM.Timeout
	}
	if err := os.MkdirAll(c.Server.DataDir, 0755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}
	stored := settings
	sealed, err := utils.EncryptSecret(settings.APIKey, c.Server.SecretKey)
	if err != nil {
		return fmt.Errorf("加密密钥失败: %w", err)
	}
	stored.APIKey = sealed
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.Server.DataDir, llmFile), data, 0600); err != nil {
		return err
	}
	c.LLM = settings
	return nil
}

func (c *Config) loadLLMOverrides() error {
	data, err := os.ReadFile(filepath.Join(c.Server.DataDir, llmFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var saved LLMConfig
	if err := json.Unmarshal(data, &saved); err != nil {
		return apperrors.NewValidationError("invalid saved llm settings", err)
	}
	if saved.Provider != "" {
		c.LLM.Provider = saved.Provider
	}
	if saved.BaseURL != "" {
		c.LLM.BaseURL = saved.BaseURL
	}
	if saved.Model != "" {
		c.LLM.Model = saved.Model
	}
	if saved.Timeout > 0 {
		c.LLM.Timeout = saved.Timeout
	}
	// 文件中没有密钥时保留环境变量的密钥
	if saved.APIKey != "" {
		key, err := utils.DecryptSecret(saved.APIKey, c.Server.SecretKey)
		if err != nil {
			return apperrors.NewValidationError("cannot read saved api key", err)
		}
		c.LLM.APIKey = key
	}
	return nil
}
