// internal/memory/engine.go
package memory

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/models"
	"github.com/Corphon/SceneChronicle/internal/utils"
)

// Engine performs the bookkeeping of the memory hierarchy. It holds no
// per-scenario state: callers pass a MemoryStore in and get the updated
// copy back, and decide themselves whether a compression may start.
type Engine struct {
	policy     Policy
	summarizer Summarizer
	logger     *utils.Logger
	metrics    *utils.MetricsCollector
}

// NewEngine 创建压缩引擎
func NewEngine(policy Policy, summarizer Summarizer) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if summarizer == nil {
		return nil, apperrors.NewValidationError("summarizer is required", nil)
	}
	return &Engine{
		policy:     policy,
		summarizer: summarizer,
		logger:     utils.GetLogger(),
		metrics:    utils.GetMetricsCollector(),
	}, nil
}

// Policy returns the engine's tier configuration.
func (e *Engine) Policy() Policy {
	return e.policy
}

// NextWindow returns the half-open range of counted messages that forms
// the oldest pending window.
func (e *Engine) NextWindow(mem models.MemoryStore) (start, end int, ok bool) {
	if e.policy.Pending(mem.RawCounter, mem.WindowCursor) == 0 {
		return 0, 0, false
	}
	return mem.WindowCursor, mem.WindowCursor + e.policy.Window, true
}

// Overfull reports whether some tier has reached its bound. That only
// happens after a failed condensation.
func (e *Engine) Overfull(mem models.MemoryStore) bool {
	for level, bound := range e.policy.Bounds {
		if len(mem.Tier(level)) >= bound {
			return true
		}
	}
	return false
}

// StepResult 单次压缩步骤结果
type StepResult struct {
	Start, End int
	Summarized bool  // 是否生成了 tier-1 条目
	Forfeited  bool  // 窗口摘要失败并被放弃
	Condensed  []int // 本次被清空的层级
	Err        error // 最近一次摘要失败原因
}

// Step summarizes one window into tier 1 and then runs a cascade pass.
// The window cursor moves forward by one window whether or not the
// summary succeeds; a failed window is not retried.
func (e *Engine) Step(ctx context.Context, mem models.MemoryStore, window []models.Message, names map[string]string) (models.MemoryStore, StepResult) {
	out := mem.Clone()
	out.EnsureTiers(len(e.policy.Bounds))
	res := StepResult{Start: out.WindowCursor, End: out.WindowCursor + e.policy.Window}

	if len(window) != e.policy.Window {
		res.Err = apperrors.NewValidationError(
			fmt.Sprintf("window holds %d messages, want %d", len(window), e.policy.Window), nil)
		return mem, res
	}

	out.WindowCursor += e.policy.Window

	summary, err := e.summarize(ctx, windowRequest(Transcript(window, names), len(window)))
	if err != nil {
		res.Forfeited = true
		res.Err = err
		e.metrics.IncrementCounter("compression.forfeited")
		e.logger.Warn("Window summary failed, window forfeited", map[string]interface{}{
			"start": res.Start,
			"end":   res.End,
			"error": err.Error(),
		})
	} else {
		out.Tiers[0] = append(out.Tiers[0], summary)
		res.Summarized = true
		e.metrics.IncrementCounter("compression.windows")
	}

	condensed, cascadeErr := e.cascade(ctx, &out)
	res.Condensed = condensed
	if cascadeErr != nil {
		res.Err = cascadeErr
	}
	return out, res
}

// Cascade runs one cascade pass on its own, used to retry a tier left
// full by an earlier failure.
func (e *Engine) Cascade(ctx context.Context, mem models.MemoryStore) (models.MemoryStore, []int, error) {
	out := mem.Clone()
	out.EnsureTiers(len(e.policy.Bounds))
	condensed, err := e.cascade(ctx, &out)
	return out, condensed, err
}

// cascade walks the tiers from lowest to highest. Each full tier is
// consumed at most once: an intermediate tier feeds the next one, the
// last tier merges into main memory. On failure the tier is left as is.
func (e *Engine) cascade(ctx context.Context, mem *models.MemoryStore) ([]int, error) {
	var condensed []int
	var lastErr error
	last := len(e.policy.Bounds) - 1

	for level, bound := range e.policy.Bounds {
		entries := mem.Tiers[level]
		if len(entries) < bound {
			continue
		}

		var req SummaryRequest
		if level == last {
			req = mergeRequest(level, mem.MainMemory, entries)
		} else {
			req = condenseRequest(level, entries)
		}

		out, err := e.summarize(ctx, req)
		if err != nil {
			lastErr = err
			e.metrics.IncrementCounter("compression.cascade_failed")
			e.logger.Warn("Tier condensation failed, tier kept", map[string]interface{}{
				"tier":    level + 1,
				"entries": len(entries),
				"error":   err.Error(),
			})
			continue
		}

		if level == last {
			mem.MainMemory = out
		} else {
			mem.Tiers[level+1] = append(mem.Tiers[level+1], out)
		}
		mem.Tiers[level] = nil
		condensed = append(condensed, level)
		e.metrics.IncrementCounter("compression.cascades")
		e.logger.Debug("Tier condensed", map[string]interface{}{"tier": level + 1, "kind": string(req.Kind)})
	}
	return condensed, lastErr
}

func (e *Engine) summarize(ctx context.Context, req SummaryRequest) (string, error) {
	out, err := e.summarizer.Summarize(ctx, req)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", apperrors.NewMalformedError("summarizer returned empty output", nil)
	}
	return out, nil
}
