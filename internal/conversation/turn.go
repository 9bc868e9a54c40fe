// internal/conversation/turn.go
package conversation

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/models"
	"github.com/Corphon/SceneChronicle/internal/prompt"
)

// Turn is the handle of one accepted user message. Wait returns the
// character line, or the failure notice and the generation error.
type Turn struct {
	User      models.Message
	SpeakerID string

	done   chan struct{}
	result models.Message
	err    error
}

func newTurn(user models.Message, speakerID string) *Turn {
	return &Turn{User: user, SpeakerID: speakerID, done: make(chan struct{})}
}

func (t *Turn) finish(result models.Message, err error) {
	t.result = result
	t.err = err
	close(t.done)
}

// Done is closed when the turn has resolved.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the turn resolves or ctx ends.
func (t *Turn) Wait(ctx context.Context) (models.Message, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}

// SubmitUserMessage appends a user line and, when the scenario has
// participants, starts the reply of the next speaker in round-robin
// order. It is refused while a reply is still pending.
func (s *Session) SubmitUserMessage(ctx context.Context, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.turn != TurnIdle {
		s.mu.Unlock()
		s.metrics.IncrementCounter("turn.rejected")
		return nil, ErrTurnInProgress
	}

	user, err := s.log.Append(models.NewUserMessage(text))
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.scenario.Memory.RawCounter++

	if len(s.characters) == 0 {
		s.mu.Unlock()
		s.emit(messageEvent(EventMessageAppended, s.id, user))
		s.persistMessages(ctx)
		s.persistScenario(ctx)
		s.TriggerCompressionCheck()

		t := newTurn(user, "")
		t.finish(user, nil)
		return t, nil
	}

	speaker := s.characters[s.turnIndex%len(s.characters)]
	s.turn = TurnAwaitingResponse
	placeholder, err := s.log.Append(models.NewTextPlaceholder(speaker.ID))
	if err != nil {
		s.turn = TurnIdle
		s.mu.Unlock()
		return nil, err
	}
	scenario := s.scenarioLocked()
	history := s.log.Snapshot()
	names := s.names()
	s.wg.Add(1)
	s.mu.Unlock()

	s.emit(
		messageEvent(EventMessageAppended, s.id, user),
		messageEvent(EventMessageAppended, s.id, placeholder),
	)
	s.persistMessages(ctx)
	s.persistScenario(ctx)
	s.TriggerCompressionCheck()

	s.logger.Info("Turn started", map[string]interface{}{
		"scenario_id":  s.id,
		"character_id": speaker.ID,
	})

	t := newTurn(user, speaker.ID)
	go s.runTurn(t, speaker, scenario, history, names, placeholder.ID)
	return t, nil
}

func (s *Session) runTurn(t *Turn, speaker models.Character, scenario models.Scenario, history []models.Message, names map[string]string, placeholderID string) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.deps.Timeout)
	defer cancel()

	p := prompt.Assemble(speaker, scenario, history, prompt.Options{Window: s.deps.PromptWindow, Names: names})
	start := time.Now()
	text, err := s.deps.Generator.Generate(ctx, p, scenario.ChatParameters)
	if err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			err = apperrors.NewMalformedError("text generator returned empty output", nil)
		}
	} else {
		err = apperrors.FromRemote("text generation failed", err)
	}

	var result models.Message
	s.mu.Lock()
	s.log.Remove(placeholderID)
	if err == nil {
		result, _ = s.log.Append(models.NewCharacterMessage(speaker.ID, text))
		s.scenario.Memory.RawCounter++
	} else {
		result, _ = s.log.Append(models.NewFailureNotice(speaker.ID, FailureNotice))
	}
	s.turn = TurnIdle
	if n := len(s.characters); n > 1 {
		s.turnIndex = (s.turnIndex + 1) % n
	}
	s.mu.Unlock()

	s.emit(removedEvent(s.id, placeholderID), messageEvent(EventMessageAppended, s.id, result))
	s.persistMessages(s.ctx)
	if err == nil {
		// 计数器随消息一起保存
		s.persistScenario(s.ctx)
	}

	s.metrics.RecordHistogram("turn.latency_ms", time.Since(start).Milliseconds())
	if err != nil {
		s.metrics.IncrementCounter("turn.failed")
		s.logger.Error("Turn failed", map[string]interface{}{
			"scenario_id":  s.id,
			"character_id": speaker.ID,
			"error":        err.Error(),
		})
		t.finish(result, err)
		return
	}

	s.metrics.IncrementCounter("turn.completed")
	s.logger.Info("Turn completed", map[string]interface{}{
		"scenario_id":  s.id,
		"character_id": speaker.ID,
		"duration_ms":  time.Since(start).Milliseconds(),
	})
	t.finish(result, nil)

	s.TriggerCompressionCheck()
	s.TriggerImageCheck()
}
