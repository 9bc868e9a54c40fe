package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/models"
)

func seedRepo(t *testing.T) (*Repository, *models.Character, *models.Scenario) {
	t.Helper()
	r := NewRepository(NewMemoryKV())
	ctx := context.Background()

	eve := &models.Character{Name: "Eve", Persona: "cheerful"}
	require.NoError(t, r.SaveCharacter(ctx, eve))

	s := &models.Scenario{
		Name:            "Hanging out",
		CharacterIDs:    []string{eve.ID},
		ChatParameters:  models.DefaultChatParameters(),
		ImageParameters: models.DefaultImageParameters(),
	}
	require.NoError(t, r.CreateScenario(ctx, s))
	return r, eve, s
}

func TestRepositoryCharacters(t *testing.T) {
	r, eve, _ := seedRepo(t)
	ctx := context.Background()

	assert.Contains(t, eve.ID, "char_")
	assert.False(t, eve.CreatedAt.IsZero())

	got, err := r.GetCharacter(ctx, eve.ID)
	require.NoError(t, err)
	assert.Equal(t, "Eve", got.Name)

	err = r.SaveCharacter(ctx, &models.Character{Name: "  "})
	assert.True(t, apperrors.IsValidationError(err))

	list, err := r.ListCharacters(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	err = r.DeleteCharacter(ctx, eve.ID)
	assert.True(t, apperrors.IsConflictError(err), "character in use")
}

func TestRepositoryScenarioLifecycle(t *testing.T) {
	r, eve, s := seedRepo(t)
	ctx := context.Background()

	s.Memory = models.MemoryStore{RawCounter: 40, WindowCursor: 40, Tiers: [][]string{{"S1", "S2"}}}
	require.NoError(t, r.SaveScenario(ctx, s))

	edit := *s
	edit.Name = "Renamed"
	edit.Memory = models.MemoryStore{}
	require.NoError(t, r.UpdateScenario(ctx, &edit))

	got, err := r.GetScenario(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, 40, got.Memory.RawCounter, "updates keep memory")

	bad := *s
	bad.CharacterIDs = []string{"char_missing"}
	assert.True(t, apperrors.IsValidationError(r.UpdateScenario(ctx, &bad)))

	msgs := []models.Message{models.NewUserMessage("hi"), models.NewCharacterMessage(eve.ID, "hello")}
	require.NoError(t, r.SaveMessages(ctx, s.ID, msgs))
	loaded, err := r.GetMessages(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, msgs[1].ID, loaded[1].ID)

	require.NoError(t, r.DeleteScenario(ctx, s.ID))
	_, err = r.GetScenario(ctx, s.ID)
	assert.True(t, apperrors.IsNotFoundError(err))
	loaded, err = r.GetMessages(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	require.NoError(t, r.DeleteCharacter(ctx, eve.ID), "free once the scenario is gone")
}

func TestRepositoryCreateScenarioResetsMemory(t *testing.T) {
	r, eve, _ := seedRepo(t)
	s := &models.Scenario{
		Name:         "Second",
		CharacterIDs: []string{eve.ID},
		Memory:       models.MemoryStore{MainMemory: "injected"},
	}
	require.NoError(t, r.CreateScenario(context.Background(), s))
	assert.True(t, s.Memory.Empty())
}

func TestRepositoryDirectScenario(t *testing.T) {
	r, eve, group := seedRepo(t)
	ctx := context.Background()

	s, created, err := r.DirectScenario(ctx, eve.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, group.ID, s.ID, "a differently named scenario is not the direct chat")
	assert.Contains(t, s.ID, "direct_")
	assert.Equal(t, "Eve", s.Name)
	assert.Equal(t, []string{eve.ID}, s.CharacterIDs)
	assert.Equal(t, models.LanguageEnglish, s.Language)
	assert.Contains(t, s.SystemInstruction, "You are Eve.")

	again, created, err := r.DirectScenario(ctx, eve.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, s.ID, again.ID)

	list, err := r.ListScenarios(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, _, err = r.DirectScenario(ctx, "char_nobody")
	assert.True(t, apperrors.IsNotFoundError(err))
}
