package conversation

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/memory"
	"github.com/Corphon/SceneChronicle/internal/models"
)

func newTestManager(t *testing.T, store *memoryStore, gen *fakeGenerator) *Manager {
	t.Helper()
	engine, err := memory.NewEngine(memory.DefaultPolicy(), &fakeSummarizer{})
	require.NoError(t, err)
	m := NewManager(store, ManagerOptions{
		Deps:      Deps{Generator: gen, Engine: engine},
		VisualMin: 3,
		VisualMax: 5,
		NewRand:   func() *rand.Rand { return rand.New(rand.NewSource(1)) },
	})
	t.Cleanup(m.Close)
	return m
}

func seedStore(store *memoryStore, chars int) models.Scenario {
	cs := testCharacters(chars)
	for _, c := range cs {
		store.characters[c.ID] = c
	}
	s := testScenario(cs)
	store.scenarios[s.ID] = s
	return s
}

func TestManagerLoadsSessionOnce(t *testing.T) {
	store := newMemoryStore()
	scenario := seedStore(store, 2)
	store.messages[scenario.ID] = []models.Message{models.NewUserMessage("earlier")}
	m := newTestManager(t, store, &fakeGenerator{})

	s1, err := m.Get(context.Background(), scenario.ID)
	require.NoError(t, err)
	s2, err := m.Get(context.Background(), scenario.ID)
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, m.Len())
	require.Len(t, s1.Messages(), 1)
	assert.Equal(t, "earlier", s1.Messages()[0].Text)
}

func TestManagerMissingScenario(t *testing.T) {
	m := newTestManager(t, newMemoryStore(), &fakeGenerator{})
	_, err := m.Get(context.Background(), "nope")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestManagerSkipsMissingCharacters(t *testing.T) {
	store := newMemoryStore()
	scenario := seedStore(store, 2)
	delete(store.characters, "char_1")
	m := newTestManager(t, store, &fakeGenerator{})

	s, err := m.Get(context.Background(), scenario.ID)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		turn, err := s.SubmitUserMessage(context.Background(), "hi")
		require.NoError(t, err)
		_, err = waitTurn(t, turn)
		require.NoError(t, err)
		assert.Equal(t, "char_0", turn.SpeakerID)
	}
}

func TestManagerPersistsThroughStore(t *testing.T) {
	store := newMemoryStore()
	scenario := seedStore(store, 1)
	m := newTestManager(t, store, &fakeGenerator{})

	s, err := m.Get(context.Background(), scenario.ID)
	require.NoError(t, err)
	turn, err := s.SubmitUserMessage(context.Background(), "hi")
	require.NoError(t, err)
	_, err = waitTurn(t, turn)
	require.NoError(t, err)
	s.Wait()

	assert.Len(t, store.saved(scenario.ID), 2)
}

func TestManagerRefresh(t *testing.T) {
	store := newMemoryStore()
	scenario := seedStore(store, 1)
	m := newTestManager(t, store, &fakeGenerator{})
	s, err := m.Get(context.Background(), scenario.ID)
	require.NoError(t, err)

	c := store.characters["char_0"]
	c.Name = "Evelyn"
	store.characters["char_0"] = c
	m.RefreshCharacter(context.Background(), "char_0")

	turn, err := s.SubmitUserMessage(context.Background(), "hi")
	require.NoError(t, err)
	_, err = waitTurn(t, turn)
	require.NoError(t, err)

	gen := s.deps.Generator.(*fakeGenerator)
	body, ok := gen.prompts[0].Section("identity")
	require.True(t, ok)
	assert.Contains(t, body, "Evelyn")
}

func TestManagerEvictAndCleanup(t *testing.T) {
	store := newMemoryStore()
	scenario := seedStore(store, 1)
	gen := &fakeGenerator{gate: make(chan struct{})}
	m := newTestManager(t, store, gen)

	s, err := m.Get(context.Background(), scenario.ID)
	require.NoError(t, err)
	turn, err := s.SubmitUserMessage(context.Background(), "hi")
	require.NoError(t, err)

	assert.ErrorIs(t, m.Evict(scenario.ID), ErrSessionBusy)
	m.cleanupIdleSessions(time.Now().Add(time.Hour))
	assert.Equal(t, 1, m.Len(), "busy sessions survive cleanup")

	gen.gate <- struct{}{}
	_, err = waitTurn(t, turn)
	require.NoError(t, err)
	s.Wait()

	m.cleanupIdleSessions(time.Now().Add(time.Hour))
	assert.Zero(t, m.Len())
}

func TestManagerKeepsRawCounterAcrossEviction(t *testing.T) {
	store := newMemoryStore()
	scenario := seedStore(store, 1)
	m := newTestManager(t, store, &fakeGenerator{})
	ctx := context.Background()

	s, err := m.Get(ctx, scenario.ID)
	require.NoError(t, err)
	runTurns(t, s, 5)
	s.Wait()
	require.NoError(t, m.Evict(scenario.ID))

	store.mu.Lock()
	assert.Equal(t, 10, store.scenarios[scenario.ID].Memory.RawCounter, "counter saved with the turns")
	store.mu.Unlock()

	s, err = m.Get(ctx, scenario.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, s.Memory().RawCounter)

	runTurns(t, s, 10)
	s.Wait()

	mem := s.Memory()
	assert.Equal(t, 30, mem.RawCounter)
	assert.Equal(t, 20, mem.WindowCursor)
	assert.Equal(t, []string{"S1"}, mem.Tier(0))
}

func TestManagerCatchesUpStaleRawCounter(t *testing.T) {
	store := newMemoryStore()
	scenario := seedStore(store, 1)
	store.messages[scenario.ID] = []models.Message{
		models.NewUserMessage("a"),
		models.NewCharacterMessage("char_0", "b"),
		models.NewFailureNotice("char_0", FailureNotice),
		models.NewUserMessage("c"),
	}
	m := newTestManager(t, store, &fakeGenerator{})

	s, err := m.Get(context.Background(), scenario.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Memory().RawCounter, "failure notices are not counted")
}
