// internal/conversation/session.go
package conversation

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/memory"
	"github.com/Corphon/SceneChronicle/internal/models"
	"github.com/Corphon/SceneChronicle/internal/prompt"
	"github.com/Corphon/SceneChronicle/internal/utils"
	"github.com/Corphon/SceneChronicle/internal/visual"
)

// DefaultTimeout bounds every remote call made by a session.
const DefaultTimeout = 60 * time.Second

// FailureNotice is the inline text recorded when a turn fails.
const FailureNotice = "AI Turn Error. Check connection."

var (
	ErrTurnInProgress        = apperrors.NewBusyError("a character is already responding", nil)
	ErrEmptyMessage          = apperrors.NewValidationError("message text is empty", nil)
	ErrCompressionInProgress = apperrors.NewBusyError("memory compression is in progress", nil)
	ErrImageInProgress       = apperrors.NewBusyError("a scene image is already being generated", nil)
	ErrImagesDisabled        = apperrors.NewValidationError("image generation is not configured", nil)
	ErrSessionBusy           = apperrors.NewBusyError("scenario has work in flight", nil)
)

// TextGenerator produces one character line for an assembled prompt.
type TextGenerator interface {
	Generate(ctx context.Context, p prompt.Prompt, params models.ChatParameters) (string, error)
}

// Persister stores session state after every mutation. Failures are
// logged and never interrupt a pipeline.
type Persister interface {
	SaveMessages(ctx context.Context, scenarioID string, msgs []models.Message) error
	SaveScenario(ctx context.Context, s *models.Scenario) error
}

// Deps 会话依赖
type Deps struct {
	Generator   TextGenerator
	Engine      *memory.Engine
	Describer   visual.SceneSummarizer // 可选
	Synthesizer visual.ImageSynthesizer
	Persister   Persister
	Listener    Listener
	Cadence     *visual.Cadence

	Timeout      time.Duration
	PromptWindow int
	ImageHistory int
}

// Session owns one scenario's conversation: its message log, its memory
// and the three pipeline states. The mutex guards bookkeeping only and
// is never held across a remote call.
type Session struct {
	id          string
	mu          sync.Mutex
	scenario    models.Scenario
	characters  []models.Character
	log         *MessageLog
	turn        TurnState
	compression CompressionState
	image       ImageState
	turnIndex   int

	deps    Deps
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	saveMu  sync.Mutex
	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// NewSession builds a session from stored state. Placeholders left over
// from an interrupted run are dropped, and a raw counter that lags the
// stored log is raised to the number of counted messages.
func NewSession(scenario models.Scenario, characters []models.Character, history []models.Message, deps Deps) (*Session, error) {
	if deps.Generator == nil {
		return nil, apperrors.NewValidationError("text generator is required", nil)
	}
	if deps.Engine == nil {
		return nil, apperrors.NewValidationError("compression engine is required", nil)
	}
	if deps.Timeout <= 0 {
		deps.Timeout = DefaultTimeout
	}
	if deps.PromptWindow <= 0 {
		deps.PromptWindow = prompt.DefaultWindow
	}
	if deps.Cadence == nil {
		deps.Cadence = visual.NewDefaultCadence(nil)
	}

	logger := utils.GetLogger()
	kept := make([]models.Message, 0, len(history))
	for _, m := range history {
		if m.IsPending() {
			logger.Warn("Dropping stale placeholder", map[string]interface{}{
				"scenario_id": scenario.ID,
				"message_id":  m.ID,
			})
			continue
		}
		kept = append(kept, m)
	}
	log, err := NewMessageLog(kept)
	if err != nil {
		return nil, err
	}

	scenario.Memory = scenario.Memory.Clone()
	scenario.Memory.EnsureTiers(len(deps.Engine.Policy().Bounds))
	// 计数器落后于日志时（例如保存前进程退出）以日志为准
	if counted := len(log.Counted()); counted > scenario.Memory.RawCounter {
		logger.Warn("Raw counter behind message log, catching up", map[string]interface{}{
			"scenario_id": scenario.ID,
			"stored":      scenario.Memory.RawCounter,
			"counted":     counted,
		})
		scenario.Memory.RawCounter = counted
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         scenario.ID,
		scenario:   scenario,
		characters: append([]models.Character(nil), characters...),
		log:        log,
		deps:       deps,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
		metrics:    utils.GetMetricsCollector(),
	}, nil
}

// ID returns the scenario id.
func (s *Session) ID() string {
	return s.id
}

// Scenario returns a copy of the scenario including its memory.
func (s *Session) Scenario() models.Scenario {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scenarioLocked()
}

func (s *Session) scenarioLocked() models.Scenario {
	out := s.scenario
	out.CharacterIDs = append([]string(nil), s.scenario.CharacterIDs...)
	out.Memory = s.scenario.Memory.Clone()
	return out
}

// Messages 返回消息快照
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Snapshot()
}

// Memory 返回记忆快照
func (s *Session) Memory() models.MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scenario.Memory.Clone()
}

// Snapshot is a read-only view of the pipeline states.
type Snapshot struct {
	ScenarioID     string           `json:"scenario_id"`
	Turn           TurnState        `json:"turn"`
	Compression    CompressionState `json:"compression"`
	Image          ImageState       `json:"image"`
	NextSpeaker    string           `json:"next_speaker,omitempty"`
	Messages       int              `json:"messages"`
	RawCounter     int              `json:"raw_counter"`
	ImageSince     int              `json:"image_since"`
	ImageThreshold int              `json:"image_threshold"`
}

// State 返回各管线状态
func (s *Session) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ScenarioID:     s.id,
		Turn:           s.turn,
		Compression:    s.compression,
		Image:          s.image,
		Messages:       s.log.Len(),
		RawCounter:     s.scenario.Memory.RawCounter,
		ImageSince:     s.deps.Cadence.Since(),
		ImageThreshold: s.deps.Cadence.Threshold(),
	}
	if n := len(s.characters); n > 0 {
		snap.NextSpeaker = s.characters[s.turnIndex%n].ID
	}
	return snap
}

// Idle reports whether no pipeline is running.
func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleLocked()
}

func (s *Session) idleLocked() bool {
	return s.turn == TurnIdle && s.compression == CompressionIdle && s.image == ImageIdle
}

// Refresh applies edited scenario settings and participants. Memory and
// the message log are kept.
func (s *Session) Refresh(scenario models.Scenario, characters []models.Character) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scenario.ID = s.id
	scenario.Memory = s.scenario.Memory
	s.scenario = scenario
	s.characters = append([]models.Character(nil), characters...)
	if n := len(s.characters); n > 0 {
		s.turnIndex %= n
	} else {
		s.turnIndex = 0
	}
}

// SetMemory replaces the memory tiers with a user edit. The raw counter
// and window cursor are kept so no window is triggered twice. An edit
// with a tier at its bound, or entries past the last tier, is refused.
func (s *Session) SetMemory(ctx context.Context, edit models.MemoryStore) (models.MemoryStore, error) {
	policy := s.deps.Engine.Policy()
	if err := policy.CheckMemory(edit); err != nil {
		return models.MemoryStore{}, err
	}

	s.mu.Lock()
	if s.compression != CompressionIdle {
		s.mu.Unlock()
		return models.MemoryStore{}, ErrCompressionInProgress
	}
	next := edit.Clone()
	next.WindowCursor = s.scenario.Memory.WindowCursor
	if len(next.Tiers) > len(policy.Bounds) {
		next.Tiers = next.Tiers[:len(policy.Bounds)]
	}
	next.EnsureTiers(len(policy.Bounds))
	s.scenario.Memory.ReplaceSummaries(next)
	mem := s.scenario.Memory.Clone()
	s.mu.Unlock()

	s.emit(memoryEvent(s.id, mem))
	s.persistScenario(ctx)
	return mem, nil
}

// Clear drops the message log and resets memory. It is refused while
// any pipeline is running.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	if !s.idleLocked() {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	s.log.Reset()
	s.scenario.Memory = models.MemoryStore{}
	s.scenario.Memory.EnsureTiers(len(s.deps.Engine.Policy().Bounds))
	s.turnIndex = 0
	s.deps.Cadence.Reset()
	s.mu.Unlock()

	s.emit(Event{Type: EventChatCleared, ScenarioID: s.id, Timestamp: time.Now()})
	s.persistMessages(ctx)
	s.persistScenario(ctx)
	return nil
}

// Wait blocks until every background pipeline has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight remote calls and waits for the pipelines to
// record their outcome.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Session) names() map[string]string {
	names := make(map[string]string, len(s.characters))
	for _, c := range s.characters {
		names[c.ID] = c.Name
	}
	return names
}

func (s *Session) emit(events ...Event) {
	if s.deps.Listener == nil {
		return
	}
	for _, e := range events {
		s.deps.Listener.OnEvent(e)
	}
}

// persistMessages writes the current log. Snapshots are taken under
// saveMu so a later state is never overwritten by an earlier one.
func (s *Session) persistMessages(ctx context.Context) {
	if s.deps.Persister == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	msgs := s.log.Snapshot()
	s.mu.Unlock()

	if err := s.deps.Persister.SaveMessages(context.WithoutCancel(ctx), s.id, msgs); err != nil {
		s.logger.Error("Failed to persist messages", map[string]interface{}{
			"scenario_id": s.id,
			"error":       err.Error(),
		})
	}
}

func (s *Session) persistScenario(ctx context.Context) {
	if s.deps.Persister == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	scenario := s.scenarioLocked()
	s.mu.Unlock()

	scenario.LastUpdated = time.Now()
	if err := s.deps.Persister.SaveScenario(context.WithoutCancel(ctx), &scenario); err != nil {
		s.logger.Error("Failed to persist scenario", map[string]interface{}{
			"scenario_id": s.id,
			"error":       err.Error(),
		})
	}
}
