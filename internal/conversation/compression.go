// internal/conversation/compression.go
package conversation

import (
	"context"
	"time"

	"github.com/Corphon/SceneChronicle/internal/models"
)

// TriggerCompressionCheck starts the compression pipeline when a full
// window of counted messages is pending and no compression is running.
// It reports whether a pipeline was started.
func (s *Session) TriggerCompressionCheck() bool {
	s.mu.Lock()
	if s.compression != CompressionIdle {
		s.mu.Unlock()
		return false
	}
	if _, _, ok := s.deps.Engine.NextWindow(s.scenario.Memory); !ok && !s.deps.Engine.Overfull(s.scenario.Memory) {
		s.mu.Unlock()
		return false
	}
	s.compression = Compressing
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runCompression()
	return true
}

// runCompression drains pending windows oldest first. The state goes
// back to idle under the same lock as the final check, so a window that
// became due meanwhile is never left behind.
func (s *Session) runCompression() {
	defer s.wg.Done()

	// 每个窗口最多 1 次摘要 + 每层 1 次级联
	budget := s.deps.Timeout * time.Duration(len(s.deps.Engine.Policy().Bounds)+1)
	// 满层重试每次运行最多一次
	retried := false

	for {
		s.mu.Lock()
		mem := s.scenario.Memory.Clone()
		start, end, ok := s.deps.Engine.NextWindow(mem)
		if !ok {
			if !retried && s.deps.Engine.Overfull(mem) {
				retried = true
				s.mu.Unlock()
				s.retryCascade(mem, budget)
				continue
			}
			s.compression = CompressionIdle
			s.mu.Unlock()
			return
		}
		counted := s.log.Counted()
		if end > len(counted) {
			s.compression = CompressionIdle
			s.mu.Unlock()
			s.logger.Error("Memory window exceeds message log", map[string]interface{}{
				"scenario_id": s.id,
				"window_end":  end,
				"counted":     len(counted),
			})
			return
		}
		window := append([]models.Message(nil), counted[start:end]...)
		names := s.names()
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(s.ctx, budget)
		next, res := s.deps.Engine.Step(ctx, mem, window, names)
		cancel()

		s.mu.Lock()
		s.scenario.Memory.ReplaceSummaries(next)
		updated := s.scenario.Memory.Clone()
		s.mu.Unlock()

		fields := map[string]interface{}{
			"scenario_id": s.id,
			"window":      []int{res.Start, res.End},
			"summarized":  res.Summarized,
			"condensed":   res.Condensed,
		}
		if res.Err != nil {
			fields["error"] = res.Err.Error()
			s.logger.Warn("Compression step finished with errors", fields)
		} else {
			s.logger.Info("Compression step completed", fields)
		}

		s.emit(memoryEvent(s.id, updated))
		s.persistScenario(s.ctx)
	}
}

// retryCascade condenses tiers left full when no window is pending.
func (s *Session) retryCascade(mem models.MemoryStore, budget time.Duration) {
	ctx, cancel := context.WithTimeout(s.ctx, budget)
	next, condensed, err := s.deps.Engine.Cascade(ctx, mem)
	cancel()

	s.mu.Lock()
	s.scenario.Memory.ReplaceSummaries(next)
	updated := s.scenario.Memory.Clone()
	s.mu.Unlock()

	fields := map[string]interface{}{"scenario_id": s.id, "condensed": condensed}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Warn("Cascade retry failed", fields)
	} else {
		s.logger.Info("Cascade retry completed", fields)
	}
	if len(condensed) == 0 {
		return
	}
	s.emit(memoryEvent(s.id, updated))
	s.persistScenario(s.ctx)
}
