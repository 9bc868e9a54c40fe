package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/storage"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := Parse()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "llama-3", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:5000/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 20, cfg.Memory.Window)
	assert.Equal(t, 20, cfg.Memory.PromptWindow)
	assert.Equal(t, []int{10, 10}, cfg.Memory.TierBounds)
	assert.Equal(t, 3, cfg.Visual.Min)
	assert.Equal(t, 5, cfg.Visual.Max)

	p := cfg.Policy()
	assert.Equal(t, 20, p.Window)
	assert.Equal(t, []int{10, 10}, p.Bounds)

	pc := cfg.ProviderConfig()
	assert.Equal(t, "1m0s", pc["timeout"])
	assert.Equal(t, "llama-3", pc["default_model"])
}

func TestParseTwoTierScheme(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("MEMORY_TIER_BOUNDS", "10")
	t.Setenv("LLM_TIMEOUT", "5s")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, []int{10}, cfg.Policy().Bounds)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"PORT": "http"}},
		{"unknown store", map[string]string{"STORE_BACKEND": "etcd"}},
		{"unknown image store", map[string]string{"IMAGE_STORE": "ftp"}},
		{"s3 without bucket", map[string]string{"IMAGE_STORE": "s3"}},
		{"inverted visual range", map[string]string{"VISUAL_MIN": "5", "VISUAL_MAX": "3"}},
		{"zero window", map[string]string{"MEMORY_WINDOW": "0"}},
		{"zero tier bound", map[string]string{"MEMORY_TIER_BOUNDS": "10,0"}},
		{"zero prompt window", map[string]string{"PROMPT_WINDOW": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATA_DIR", t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Parse()
			require.NoError(t, err)
			assert.True(t, apperrors.IsValidationError(cfg.Validate()))
		})
	}
}

func TestSaveLLMOverridesEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LLM_API_KEY", "env-key")

	cfg, err := Parse()
	require.NoError(t, err)

	err = cfg.SaveLLM(LLMConfig{Provider: "openai", BaseURL: "http://gpu:8000/v1", Model: "mistral"})
	require.NoError(t, err)
	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout, "timeout falls back to the current one")

	reloaded, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "http://gpu:8000/v1", reloaded.LLM.BaseURL)
	assert.Equal(t, "mistral", reloaded.LLM.Model)
	assert.Equal(t, "env-key", reloaded.LLM.APIKey, "empty saved key keeps the environment key")

	assert.True(t, apperrors.IsValidationError(cfg.SaveLLM(LLMConfig{})))
}

func TestSaveLLMEncryptsKey(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("CONFIG_SECRET", "s3cret")

	cfg, err := Parse()
	require.NoError(t, err)
	require.NoError(t, cfg.SaveLLM(LLMConfig{Provider: "anthropic", APIKey: "sk-ant-1"}))
	assert.Equal(t, "sk-ant-1", cfg.LLM.APIKey)

	raw, err := os.ReadFile(filepath.Join(dir, llmFile))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-ant-1")

	reloaded, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", reloaded.LLM.Provider)
	assert.Equal(t, "sk-ant-1", reloaded.LLM.APIKey)

	t.Setenv("CONFIG_SECRET", "")
	_, err = Parse()
	assert.True(t, apperrors.IsValidationError(err), "encrypted key without a secret")
}

func TestEmbeddedPresets(t *testing.T) {
	p, err := LoadPresets()
	require.NoError(t, err)
	require.Len(t, p.Characters, 1)
	require.Len(t, p.Scenarios, 1)

	eve := p.Characters[0]
	assert.Equal(t, "char_eve", eve.ID)
	assert.Equal(t, "Eve", eve.Name)
	assert.NotEmpty(t, eve.Persona)
	assert.NotEmpty(t, eve.VisualDescription)

	s := p.Scenarios[0]
	assert.Equal(t, "scen_eve_hangout", s.ID)
	assert.Equal(t, []string{"char_eve"}, s.CharacterIDs)
	assert.InDelta(t, 0.85, s.ChatParameters.Temperature, 1e-9)
	assert.Equal(t, 30, s.ImageParameters.Steps)
	assert.True(t, s.ImageParameters.UseEmbedding)
	require.NoError(t, s.Validate())
}

func TestSeedIsIdempotent(t *testing.T) {
	p, err := LoadPresets()
	require.NoError(t, err)
	repo := storage.NewRepository(storage.NewMemoryKV())
	ctx := context.Background()

	added, err := p.Seed(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	s, err := repo.GetScenario(ctx, "scen_eve_hangout")
	require.NoError(t, err)
	s.Name = "Edited"
	require.NoError(t, repo.SaveScenario(ctx, s))

	added, err = p.Seed(ctx, repo)
	require.NoError(t, err)
	assert.Zero(t, added)

	s, err = repo.GetScenario(ctx, "scen_eve_hangout")
	require.NoError(t, err)
	assert.Equal(t, "Edited", s.Name, "user edits survive a restart")
}

func TestParsePresetsRejectsMissingIDs(t *testing.T) {
	_, err := ParsePresets([]byte("characters:\n  - name: Nobody\n"))
	assert.True(t, apperrors.IsValidationError(err))
}
