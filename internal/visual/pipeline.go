// internal/visual/pipeline.go
package visual

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/SceneChronicle/internal/models"
)

// DefaultHistory is how many recent lines the scene summarizer sees.
const DefaultHistory = 6

// CharacterSketch 角色外观描述
type CharacterSketch struct {
	Name   string `json:"name"`
	Visual string `json:"visual"`
}

// SceneRequest asks for one sentence describing the current scene.
type SceneRequest struct {
	Characters  []CharacterSketch
	History     []models.Message
	Names       map[string]string
	Language    models.Language
	Temperature float64
}

// ImageRequest 图像合成请求
type ImageRequest struct {
	ScenarioID  string
	Description string
	Params      models.ImageParameters
}

// SceneSummarizer turns recent history into a visual description.
type SceneSummarizer interface {
	Describe(ctx context.Context, req SceneRequest) (string, error)
}

// ImageSynthesizer renders a description and returns an image reference,
// either a data URI or a URL.
type ImageSynthesizer interface {
	Synthesize(ctx context.Context, req ImageRequest) (string, error)
}

// BuildSceneRequest gathers the sketches of the participants and the
// last n finalized text lines of the log.
func BuildSceneRequest(characters []models.Character, log []models.Message, n int, lang models.Language) SceneRequest {
	if n <= 0 {
		n = DefaultHistory
	}
	req := SceneRequest{Names: make(map[string]string, len(characters)), Language: lang}
	for i := range characters {
		c := &characters[i]
		req.Characters = append(req.Characters, CharacterSketch{Name: c.Name, Visual: c.VisualHint()})
		req.Names[c.ID] = c.Name
	}

	var recent []models.Message
	for _, m := range log {
		if m.Counted() {
			recent = append(recent, m)
		}
	}
	if len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	req.History = recent
	return req
}

// Instruction renders the request as the text sent to a language model.
func (r SceneRequest) Instruction() string {
	var b strings.Builder
	b.WriteString("Describe the current scene as ONE vivid visual sentence for an image generator. ")
	b.WriteString("Mention who is present, what they look like, where they are and what they are doing. Output ONLY the sentence.\n\n")
	if len(r.Characters) > 0 {
		b.WriteString("CHARACTERS:\n")
		for _, c := range r.Characters {
			fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Visual)
		}
		b.WriteString("\n")
	}
	b.WriteString("RECENT EVENTS:\n")
	for _, m := range r.History {
		fmt.Fprintf(&b, "%s: %s\n", m.Speaker(r.Names), m.Text)
	}
	return strings.TrimSpace(b.String())
}

// Fallback builds a description without a language model: the
// participants' looks followed by the latest line.
func (r SceneRequest) Fallback() string {
	parts := make([]string, 0, len(r.Characters)+1)
	for _, c := range r.Characters {
		if c.Visual != "" {
			parts = append(parts, c.Name+", "+c.Visual)
		}
	}
	if n := len(r.History); n > 0 {
		parts = append(parts, r.History[n-1].Text)
	}
	return strings.Join(parts, ". ")
}
