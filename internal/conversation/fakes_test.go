package conversation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/memory"
	"github.com/Corphon/SceneChronicle/internal/models"
	"github.com/Corphon/SceneChronicle/internal/prompt"
	"github.com/Corphon/SceneChronicle/internal/visual"
)

// fakeGenerator answers from reply; when gate is set each call waits
// for one value on it.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	prompts []prompt.Prompt
	gate    chan struct{}
	reply   func(call int) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, p prompt.Prompt, _ models.ChatParameters) (string, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.prompts = append(g.prompts, p)
	g.mu.Unlock()

	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.reply == nil {
		return fmt.Sprintf(" line %d ", call), nil
	}
	return g.reply(call)
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeSummarizer returns "S<i>" and tracks how many calls overlap.
type fakeSummarizer struct {
	mu       sync.Mutex
	calls    int
	inFlight int
	maxSeen  int
	sources  []string
	gate     chan struct{}
}

func (s *fakeSummarizer) Summarize(ctx context.Context, req memory.SummaryRequest) (string, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	s.sources = append(s.sources, req.Source)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return fmt.Sprintf("S%d", n), nil
}

type fakeDescriber struct {
	text string
	err  error
}

func (d *fakeDescriber) Describe(context.Context, visual.SceneRequest) (string, error) {
	return d.text, d.err
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	ref   string
	err   error
	gate  chan struct{}
	calls int
	last  visual.ImageRequest
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req visual.ImageRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.ref, f.err
}

// memoryStore is an in-memory Store.
type memoryStore struct {
	mu         sync.Mutex
	scenarios  map[string]models.Scenario
	characters map[string]models.Character
	messages   map[string][]models.Message
	saves      int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		scenarios:  map[string]models.Scenario{},
		characters: map[string]models.Character{},
		messages:   map[string][]models.Message{},
	}
}

func (m *memoryStore) SaveMessages(_ context.Context, id string, msgs []models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[id] = append([]models.Message(nil), msgs...)
	m.saves++
	return nil
}

func (m *memoryStore) SaveScenario(_ context.Context, s *models.Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenarios[s.ID] = *s
	return nil
}

func (m *memoryStore) GetScenario(_ context.Context, id string) (*models.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenarios[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("scenario not found", nil)
	}
	return &s, nil
}

func (m *memoryStore) GetCharacter(_ context.Context, id string) (*models.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.characters[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("character not found", nil)
	}
	return &c, nil
}

func (m *memoryStore) GetMessages(_ context.Context, id string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.messages[id]...), nil
}

func (m *memoryStore) saved(id string) []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.messages[id]...)
}

// eventLog records listener events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

var errUnreachable = errors.New("endpoint unreachable")

func testCharacters(n int) []models.Character {
	names := []string{"Eve", "Ada", "Kai", "Mei"}
	out := make([]models.Character, n)
	for i := range out {
		out[i] = models.Character{
			ID:                fmt.Sprintf("char_%d", i),
			Name:              names[i%len(names)],
			Persona:           "friendly",
			VisualDescription: "short hair",
		}
	}
	return out
}

func testScenario(chars []models.Character) models.Scenario {
	s := models.Scenario{
		ID:              "scen_test",
		Name:            "Test",
		ChatParameters:  models.DefaultChatParameters(),
		ImageParameters: models.DefaultImageParameters(),
	}
	for _, c := range chars {
		s.CharacterIDs = append(s.CharacterIDs, c.ID)
	}
	return s
}

type sessionOpts struct {
	chars      int
	gen        *fakeGenerator
	summarizer *fakeSummarizer
	describer  *fakeDescriber
	synth      *fakeSynthesizer
	cadence    *visual.Cadence
	store      *memoryStore
	listener   Listener
	timeout    time.Duration
	memory     models.MemoryStore
}

func newTestSession(t *testing.T, o sessionOpts) *Session {
	t.Helper()
	if o.gen == nil {
		o.gen = &fakeGenerator{}
	}
	if o.summarizer == nil {
		o.summarizer = &fakeSummarizer{}
	}
	if o.cadence == nil {
		o.cadence = visual.NewDefaultCadence(rand.New(rand.NewSource(1)))
	}
	engine, err := memory.NewEngine(memory.DefaultPolicy(), o.summarizer)
	require.NoError(t, err)

	deps := Deps{
		Generator: o.gen,
		Engine:    engine,
		Cadence:   o.cadence,
		Listener:  o.listener,
		Timeout:   o.timeout,
	}
	if o.describer != nil {
		deps.Describer = o.describer
	}
	if o.synth != nil {
		deps.Synthesizer = o.synth
	}
	if o.store != nil {
		deps.Persister = o.store
	}

	chars := testCharacters(o.chars)
	scenario := testScenario(chars)
	scenario.Memory = o.memory
	s, err := NewSession(scenario, chars, nil, deps)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func pendingCount(msgs []models.Message) int {
	n := 0
	for _, m := range msgs {
		if m.IsPending() {
			n++
		}
	}
	return n
}
