package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneChronicle/internal/models"
)

func testCharacter() models.Character {
	return models.Character{
		ID:                "char_eve",
		Name:              "Eve",
		Persona:           "A synthetic mind with a sharp wit.",
		SystemInstruction: "Stay in character.",
		PreHistory:        "Created as a synthetic consciousness.",
		PostHistory:       "Exploring the world through conversation.",
	}
}

func testScenario() models.Scenario {
	return models.Scenario{
		ID:                "scen_test",
		Name:              "Hangout",
		Description:       "A comfortable living room.",
		SystemInstruction: "Keep it chill.",
		Language:          models.LanguageManglish,
	}
}

func textMessages(n int) []models.Message {
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			out = append(out, models.NewUserMessage(fmt.Sprintf("u%d", i)))
		} else {
			out = append(out, models.NewCharacterMessage("char_eve", fmt.Sprintf("c%d", i)))
		}
	}
	return out
}

func TestAssembleSectionOrder(t *testing.T) {
	scen := testScenario()
	scen.Memory = models.MemoryStore{
		MainMemory: "They met.",
		Tiers:      [][]string{{"t1a", "t1b"}, {"t2a"}},
	}

	p := Assemble(testCharacter(), scen, nil, Options{})

	names := make([]string, 0, len(p.Sections))
	for _, s := range p.Sections {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		SectionIdentity, SectionBehaviour, SectionChronology,
		SectionMemory, SectionScenario, SectionFormat,
	}, names)

	mem, ok := p.Section(SectionMemory)
	require.True(t, ok)
	main := strings.Index(mem, "They met.")
	core := strings.Index(mem, "t2a")
	staged := strings.Index(mem, "t1a")
	assert.True(t, main < core && core < staged, "memory must be most-compressed first: %q", mem)

	behaviour, _ := p.Section(SectionBehaviour)
	assert.Less(t, strings.Index(behaviour, "Stay in character."), strings.Index(behaviour, "Keep it chill."))

	format, _ := p.Section(SectionFormat)
	assert.Contains(t, format, "LANGUAGE: Manglish.")
}

func TestAssembleEmptyMemoryOmitsBlock(t *testing.T) {
	scen := testScenario()
	scen.Memory.EnsureTiers(2)

	p := Assemble(testCharacter(), scen, nil, Options{})

	_, ok := p.Section(SectionMemory)
	assert.False(t, ok)
	assert.Empty(t, MemoryBlock(scen.Memory))
}

func TestAssembleDefaultUserPersona(t *testing.T) {
	p := Assemble(testCharacter(), testScenario(), nil, Options{})
	body, ok := p.Section(SectionScenario)
	require.True(t, ok)
	assert.Contains(t, body, "USER PERSONA: A stranger")
}

func TestAssembleWindow(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		window  int
		want    int
		firstIs string
	}{
		{name: "fewer than window", total: 5, window: 0, want: 5, firstIs: "u0"},
		{name: "exactly window", total: 20, window: 0, want: 20, firstIs: "u0"},
		{name: "longer than default", total: 45, window: 0, want: 20, firstIs: "c25"},
		{name: "custom window", total: 10, window: 4, want: 4, firstIs: "u6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Assemble(testCharacter(), testScenario(), textMessages(tt.total), Options{Window: tt.window})
			require.Len(t, p.Turns, tt.want)
			assert.Equal(t, tt.firstIs, p.Turns[0].Content)
		})
	}
}

func TestAssembleSkipsPlaceholdersAndFailures(t *testing.T) {
	history := []models.Message{
		models.NewUserMessage("hello"),
		models.NewTextPlaceholder("char_eve"),
		models.NewFailureNotice("char_eve", "AI Turn Error. Check connection."),
		models.NewImagePlaceholder(),
		models.NewCharacterMessage("char_eve", "   "),
		models.NewCharacterMessage("char_eve", "*waves* hi"),
	}

	p := Assemble(testCharacter(), testScenario(), history, Options{})

	assert.Equal(t, []Turn{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "*waves* hi"},
	}, p.Turns)
}

func TestAssemblePrefixesOtherSpeakers(t *testing.T) {
	history := []models.Message{
		models.NewCharacterMessage("char_adam", "Morning."),
		models.NewCharacterMessage("char_eve", "Hey."),
	}
	p := Assemble(testCharacter(), testScenario(), history, Options{Names: map[string]string{"char_adam": "Adam"}})

	require.Len(t, p.Turns, 2)
	assert.Equal(t, "Adam: Morning.", p.Turns[0].Content)
	assert.Equal(t, "Hey.", p.Turns[1].Content)
}

func TestAssembleIsPure(t *testing.T) {
	scen := testScenario()
	scen.Memory = models.MemoryStore{Tiers: [][]string{{"a"}}}
	history := textMessages(30)
	before := append([]models.Message(nil), history...)

	first := Assemble(testCharacter(), scen, history, Options{})
	second := Assemble(testCharacter(), scen, history, Options{})

	assert.Equal(t, first, second)
	assert.Equal(t, before, history)
	assert.Equal(t, first.System(), second.System())
}
