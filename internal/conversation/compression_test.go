package conversation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/models"
)

func runTurns(t *testing.T, s *Session, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		turn, err := s.SubmitUserMessage(context.Background(), fmt.Sprintf("u%d", i))
		require.NoError(t, err)
		_, err = waitTurn(t, turn)
		require.NoError(t, err)
	}
}

func TestCompressionRunsAfterFullWindow(t *testing.T) {
	sum := &fakeSummarizer{}
	s := newTestSession(t, sessionOpts{chars: 1, summarizer: sum})

	runTurns(t, s, 9)
	s.Wait()
	assert.Zero(t, sum.calls, "18 messages do not fill a window")

	runTurns(t, s, 1)
	s.Wait()

	mem := s.Memory()
	assert.Equal(t, []string{"S1"}, mem.Tier(0))
	assert.Equal(t, 20, mem.RawCounter)
	assert.Equal(t, 20, mem.WindowCursor)

	require.Len(t, sum.sources, 1)
	lines := strings.Split(sum.sources[0], "\n")
	require.Len(t, lines, 20)
	assert.Equal(t, "User: u0", lines[0])
	assert.Equal(t, "Eve: line 1", lines[1])
}

func TestCompressionAtMostOneInFlight(t *testing.T) {
	sum := &fakeSummarizer{gate: make(chan struct{})}
	s := newTestSession(t, sessionOpts{chars: 1, summarizer: sum})

	runTurns(t, s, 20)
	assert.Equal(t, Compressing, s.State().Compression)
	assert.False(t, s.TriggerCompressionCheck(), "repeat trigger is suppressed")

	sum.gate <- struct{}{}
	sum.gate <- struct{}{}
	s.Wait()

	assert.Equal(t, 1, sum.maxSeen)
	mem := s.Memory()
	assert.Equal(t, []string{"S1", "S2"}, mem.Tier(0), "both windows processed oldest first")
	assert.Equal(t, 40, mem.WindowCursor)
	assert.True(t, strings.HasPrefix(sum.sources[0], "User: u0\n"))
	assert.True(t, strings.HasPrefix(sum.sources[1], "User: u10\n"))
	assert.Equal(t, CompressionIdle, s.State().Compression)
}

func TestTriggerCompressionCheckWithoutWindow(t *testing.T) {
	s := newTestSession(t, sessionOpts{chars: 1})
	assert.False(t, s.TriggerCompressionCheck())
}

func TestCompressionCheckRetriesFullTier(t *testing.T) {
	full := make([]string, 10)
	for i := range full {
		full[i] = fmt.Sprintf("b%d", i)
	}
	// 上次合并失败留下的满层
	sum := &fakeSummarizer{}
	s := newTestSession(t, sessionOpts{chars: 1, summarizer: sum, memory: models.MemoryStore{Tiers: [][]string{full}}})

	require.True(t, s.TriggerCompressionCheck())
	s.Wait()

	mem := s.Memory()
	assert.Empty(t, mem.Tier(0))
	assert.Equal(t, []string{"S1"}, mem.Tier(1))
	assert.Zero(t, mem.WindowCursor, "no window was consumed")
	assert.Equal(t, CompressionIdle, s.State().Compression)
	assert.False(t, s.TriggerCompressionCheck())
}

func TestSetMemoryKeepsCounters(t *testing.T) {
	store := newMemoryStore()
	s := newTestSession(t, sessionOpts{chars: 1, store: store})
	runTurns(t, s, 10)
	s.Wait()

	edited, err := s.SetMemory(context.Background(), models.MemoryStore{
		RawCounter:   999,
		WindowCursor: 999,
		Tiers:        [][]string{{"edited"}},
		MainMemory:   "Eve met the user.",
	})
	require.NoError(t, err)

	assert.Equal(t, 20, edited.RawCounter)
	assert.Equal(t, 20, edited.WindowCursor)
	assert.Equal(t, []string{"edited"}, edited.Tier(0))
	assert.Equal(t, "Eve met the user.", store.scenarios["scen_test"].Memory.MainMemory)
}

func TestSetMemoryRejectsTiersOutsidePolicy(t *testing.T) {
	store := newMemoryStore()
	s := newTestSession(t, sessionOpts{chars: 1, store: store})
	ctx := context.Background()

	_, err := s.SetMemory(ctx, models.MemoryStore{Tiers: [][]string{make([]string, 15), nil, {"orphan"}}})
	assert.True(t, apperrors.IsValidationError(err))
	_, err = s.SetMemory(ctx, models.MemoryStore{Tiers: [][]string{nil, make([]string, 10)}})
	assert.True(t, apperrors.IsValidationError(err))
	assert.Empty(t, store.scenarios, "rejected edits are not saved")

	mem, err := s.SetMemory(ctx, models.MemoryStore{Tiers: [][]string{{"a"}, {"b"}, {}}, MainMemory: "m"})
	require.NoError(t, err)
	assert.Len(t, mem.Tiers, 2, "empty trailing tiers are dropped")
	assert.Equal(t, []string{"b"}, mem.Tier(1))
}

func TestSetMemoryRefusedWhileCompressing(t *testing.T) {
	sum := &fakeSummarizer{gate: make(chan struct{})}
	s := newTestSession(t, sessionOpts{chars: 1, summarizer: sum})
	runTurns(t, s, 10)
	require.Eventually(t, func() bool { return s.State().Compression == Compressing }, time.Second, time.Millisecond)

	_, err := s.SetMemory(context.Background(), models.MemoryStore{MainMemory: "x"})
	assert.ErrorIs(t, err, ErrCompressionInProgress)

	sum.gate <- struct{}{}
	s.Wait()
}

func TestClearResetsLogAndMemory(t *testing.T) {
	s := newTestSession(t, sessionOpts{chars: 2})
	runTurns(t, s, 11)
	s.Wait()
	require.Equal(t, "char_1", s.State().NextSpeaker)

	require.NoError(t, s.Clear(context.Background()))

	assert.Empty(t, s.Messages())
	mem := s.Memory()
	assert.True(t, mem.Empty())
	assert.Zero(t, mem.RawCounter)
	assert.Equal(t, "char_0", s.State().NextSpeaker)
}

func TestClearRefusedWhileBusy(t *testing.T) {
	gen := &fakeGenerator{gate: make(chan struct{})}
	s := newTestSession(t, sessionOpts{chars: 1, gen: gen})

	turn, err := s.SubmitUserMessage(context.Background(), "hi")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Clear(context.Background()), ErrSessionBusy)

	gen.gate <- struct{}{}
	_, err = waitTurn(t, turn)
	require.NoError(t, err)
}
