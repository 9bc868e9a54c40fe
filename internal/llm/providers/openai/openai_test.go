package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneChronicle/internal/llm"
)

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "http://localhost:5000/v1/"},
		{"https://abc.gradio.live", "https://abc.gradio.live/v1/"},
		{"https://abc.gradio.live/", "https://abc.gradio.live/v1/"},
		{"https://abc.gradio.live/v1", "https://abc.gradio.live/v1/"},
		{"https://abc.gradio.live/v1/chat/completions", "https://abc.gradio.live/v1/"},
		{"http://localhost:8000/v1/models", "http://localhost:8000/v1/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeBaseURL(tt.in), tt.in)
	}
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := llm.GetProvider("openai", map[string]string{"base_url": srv.URL, "timeout": "5s"})
	require.NoError(t, err)
	return p.(*Provider)
}

func TestCompleteTextSendsExtraFields(t *testing.T) {
	var body map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"llama-3",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"*smiles* hi"}}],
			"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`)
	})

	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{
		SystemPrompt: "You are Eve.",
		Messages:     []llm.ChatMessage{{Role: llm.RoleUser, Content: "hello"}},
		Temperature:  0.85,
		MaxTokens:    1200,
		StopWords:    []string{"User:"},
		ExtraParams:  map[string]interface{}{"top_k": 40, "repetition_penalty": 1.1},
	})
	require.NoError(t, err)

	assert.Equal(t, "*smiles* hi", resp.Text)
	assert.Equal(t, 8, resp.TokensUsed)
	assert.Equal(t, "llama-3", body["model"])
	assert.EqualValues(t, 40, body["top_k"])
	assert.EqualValues(t, 1.1, body["repetition_penalty"])
	assert.Equal(t, []any{"User:"}, body["stop"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestCompleteTextReportsStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"message":"model loading"}}`)
	})

	_, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestListModels(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[{"id":"llama-3","object":"model","created":1,"owned_by":"me"}]}`)
	})

	ids, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama-3"}, ids)
}

func TestGenerateImage(t *testing.T) {
	var body map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"created":1,"data":[{"b64_json":"aGVsbG8="}]}`)
	})

	seed := int64(42)
	resp, err := p.GenerateImage(context.Background(), llm.ImageRequest{
		Prompt:         "a cosy living room",
		NegativePrompt: "blurry",
		Seed:           &seed,
	})
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", resp.B64JSON)
	assert.Equal(t, "blurry", body["negative_prompt"])
	assert.EqualValues(t, 42, body["seed"])
	assert.Equal(t, "b64_json", body["response_format"])
}
