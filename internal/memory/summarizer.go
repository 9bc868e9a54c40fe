// internal/memory/summarizer.go
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/SceneChronicle/internal/models"
)

// SummaryKind 摘要请求类型
type SummaryKind string

const (
	// KindWindow condenses one raw message window into a tier-1 entry.
	KindWindow SummaryKind = "window"
	// KindCondense condenses a full tier into one entry of the next tier.
	KindCondense SummaryKind = "condense"
	// KindMerge folds the last tier into main memory.
	KindMerge SummaryKind = "merge"
)

// SummaryRequest is what the engine asks a Summarizer for.
type SummaryRequest struct {
	Kind        SummaryKind
	Level       int // 源层级，window 请求为 -1
	Instruction string
	Source      string
	Temperature float64
	MaxTokens   int
}

// Summarizer turns source text into a summary. Implementations call a
// remote model; an empty result is treated as a failure by the engine.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, req SummaryRequest) (string, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	return f(ctx, req)
}

func windowRequest(transcript string, size int) SummaryRequest {
	return SummaryRequest{
		Kind:        KindWindow,
		Level:       -1,
		Instruction: fmt.Sprintf("Summarize these %d messages into ONE dense sentence for story tracking. No intro/outro.", size),
		Source:      transcript,
		Temperature: 0.1,
		MaxTokens:   100,
	}
}

func condenseRequest(level int, entries []string) SummaryRequest {
	return SummaryRequest{
		Kind:        KindCondense,
		Level:       level,
		Instruction: fmt.Sprintf("Condense these %d story points into ONE dense paragraph that keeps every name, event and change in relationship. No intro/outro.", len(entries)),
		Source:      bullets(entries),
		Temperature: 0.2,
		MaxTokens:   300,
	}
}

func mergeRequest(level int, mainMemory string, entries []string) SummaryRequest {
	global := mainMemory
	if strings.TrimSpace(global) == "" {
		global = "None"
	}
	return SummaryRequest{
		Kind:  KindMerge,
		Level: level,
		Instruction: fmt.Sprintf("Merge the 'Global Memory' and these '%d New Points' into a single, high-density paragraph of permanent history. "+
			"Keep it concise but detailed. Output ONLY the paragraph.", len(entries)),
		Source:      fmt.Sprintf("Global Memory: %s\nPoints to Merge:\n%s", global, bullets(entries)),
		Temperature: 0.2,
		MaxTokens:   600,
	}
}

func bullets(entries []string) string {
	return "- " + strings.Join(entries, "\n- ")
}

// Transcript renders messages as "speaker: text" lines in order.
func Transcript(window []models.Message, names map[string]string) string {
	lines := make([]string, 0, len(window))
	for _, m := range window {
		lines = append(lines, m.Speaker(names)+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}
