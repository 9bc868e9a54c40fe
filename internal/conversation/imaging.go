// internal/conversation/imaging.go
package conversation

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/models"
	"github.com/Corphon/SceneChronicle/internal/visual"
)

// TriggerImageCheck counts one character line towards the image cadence
// and starts the image pipeline when the threshold is reached. It
// reports whether a pipeline was started.
func (s *Session) TriggerImageCheck() bool {
	if s.deps.Synthesizer == nil {
		return false
	}
	if !s.deps.Cadence.Observe() {
		return false
	}
	return s.startImage()
}

// ForceImage runs the image pipeline now and restarts the cadence.
func (s *Session) ForceImage() error {
	if s.deps.Synthesizer == nil {
		return ErrImagesDisabled
	}
	if !s.startImage() {
		return ErrImageInProgress
	}
	// 仅在流水线真正启动后重置节奏
	s.deps.Cadence.Reset()
	return nil
}

func (s *Session) startImage() bool {
	s.mu.Lock()
	if s.image != ImageIdle {
		s.mu.Unlock()
		s.logger.Debug("Image pipeline busy, trigger skipped", map[string]interface{}{"scenario_id": s.id})
		return false
	}
	placeholder, err := s.log.Append(models.NewImagePlaceholder())
	if err != nil {
		s.mu.Unlock()
		return false
	}
	s.image = ImageGenerating

	req := visual.BuildSceneRequest(s.characters, s.log.Snapshot(), s.deps.ImageHistory, s.scenario.OutputLanguage())
	params := s.scenario.ImageParameters
	req.Temperature = params.LLMTemperature
	s.wg.Add(1)
	s.mu.Unlock()

	s.emit(messageEvent(EventMessageAppended, s.id, placeholder))
	s.persistMessages(s.ctx)

	go s.runImage(placeholder, req, params)
	return true
}

func (s *Session) runImage(placeholder models.Message, req visual.SceneRequest, params models.ImageParameters) {
	defer s.wg.Done()

	start := time.Now()
	description, ref, err := s.renderScene(req, params)

	var event Event
	s.mu.Lock()
	if err == nil {
		final := placeholder
		final.Text = description
		final.ImageURL = ref
		final.State = models.StateFinal
		final.Timestamp = time.Now()
		if final, err = s.log.Replace(placeholder.ID, final); err == nil {
			event = messageEvent(EventMessageReplaced, s.id, final)
		}
	}
	if err != nil {
		s.log.Remove(placeholder.ID)
		event = removedEvent(s.id, placeholder.ID)
	}
	s.image = ImageIdle
	s.mu.Unlock()

	s.emit(event)
	s.persistMessages(s.ctx)

	if err != nil {
		s.metrics.IncrementCounter("image.failed")
		s.logger.Warn("Scene image failed", map[string]interface{}{
			"scenario_id": s.id,
			"error":       err.Error(),
		})
		return
	}
	s.metrics.IncrementCounter("image.generated")
	s.metrics.RecordHistogram("image.latency_ms", time.Since(start).Milliseconds())
	s.logger.Info("Scene image generated", map[string]interface{}{
		"scenario_id": s.id,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// renderScene describes the scene, then synthesizes it.
func (s *Session) renderScene(req visual.SceneRequest, params models.ImageParameters) (string, string, error) {
	var description string
	if params.UseLLM && s.deps.Describer != nil {
		ctx, cancel := context.WithTimeout(s.ctx, s.deps.Timeout)
		out, err := s.deps.Describer.Describe(ctx, req)
		cancel()
		if err != nil {
			return "", "", apperrors.FromRemote("scene description failed", err)
		}
		description = out
	} else {
		description = req.Fallback()
	}

	description = strings.TrimSpace(description)
	if description == "" {
		return "", "", apperrors.NewMalformedError("scene description is empty", nil)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.deps.Timeout)
	defer cancel()
	ref, err := s.deps.Synthesizer.Synthesize(ctx, visual.ImageRequest{
		ScenarioID:  s.id,
		Description: description,
		Params:      params,
	})
	if err != nil {
		return "", "", apperrors.FromRemote("image synthesis failed", err)
	}
	if strings.TrimSpace(ref) == "" {
		return "", "", apperrors.NewMalformedError("image synthesizer returned no reference", nil)
	}
	return description, ref, nil
}
