// internal/prompt/assembler.go
package prompt

import (
	"fmt"
	"strings"

	"github.com/Corphon/SceneChronicle/internal/models"
)

// DefaultWindow is the number of raw messages replayed verbatim.
const DefaultWindow = 20

const defaultUserPersona = "A stranger"

// Role 模型消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Section 指令块
type Section struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

// Turn is one replayed raw message.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is the ordered instruction set sent to the text generator.
type Prompt struct {
	Sections []Section `json:"sections"`
	Turns    []Turn    `json:"turns"`
}

// System joins the instruction sections into one system message.
func (p Prompt) System() string {
	parts := make([]string, 0, len(p.Sections))
	for _, s := range p.Sections {
		parts = append(parts, s.Body)
	}
	return strings.Join(parts, "\n\n")
}

// Section returns the body of the named section, if present.
func (p Prompt) Section(name string) (string, bool) {
	for _, s := range p.Sections {
		if s.Name == name {
			return s.Body, true
		}
	}
	return "", false
}

// Options 组装选项
type Options struct {
	// Window is the raw sliding window size; zero means DefaultWindow.
	Window int
	// Names maps character ids to display names. Lines spoken by other
	// participants are prefixed with their name.
	Names map[string]string
}

// 指令块名称
const (
	SectionIdentity   = "identity"
	SectionBehaviour  = "instructions"
	SectionChronology = "chronology"
	SectionMemory     = "memory"
	SectionScenario   = "scenario"
	SectionFormat     = "format"
)

// Assemble builds the prompt for one character turn. It has no side
// effects and returns the same value for the same inputs.
func Assemble(character models.Character, scenario models.Scenario, history []models.Message, opts Options) Prompt {
	var p Prompt
	add := func(name, body string) {
		if body = strings.TrimSpace(body); body != "" {
			p.Sections = append(p.Sections, Section{Name: name, Body: body})
		}
	}

	add(SectionIdentity, identityBlock(character))
	add(SectionBehaviour, behaviourBlock(character, scenario))
	add(SectionChronology, chronologyBlock(character))
	add(SectionMemory, MemoryBlock(scenario.Memory))
	add(SectionScenario, scenarioBlock(scenario))
	add(SectionFormat, formatBlock(scenario))

	p.Turns = window(character, history, opts)
	return p
}

func identityBlock(c models.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CORE DIRECTIVE: You are %s.", c.Name)
	if c.Persona != "" {
		fmt.Fprintf(&b, "\n\nCHARACTER PERSONA: %s", c.Persona)
	}
	return b.String()
}

func behaviourBlock(c models.Character, s models.Scenario) string {
	var lines []string
	if c.SystemInstruction != "" {
		lines = append(lines, "INSTRUCTIONS: "+c.SystemInstruction)
	}
	if s.SystemInstruction != "" {
		lines = append(lines, "SCENE DIRECTIVE: "+s.SystemInstruction)
	}
	return strings.Join(lines, "\n")
}

func chronologyBlock(c models.Character) string {
	if c.PreHistory == "" && c.PostHistory == "" {
		return ""
	}
	lines := []string{"[CHRONOLOGY]"}
	if c.PreHistory != "" {
		lines = append(lines, "BACKSTORY: "+c.PreHistory)
	}
	if c.PostHistory != "" {
		lines = append(lines, "PRESENT: "+c.PostHistory)
	}
	return strings.Join(lines, "\n")
}

// MemoryBlock renders tiered memory most-compressed first. It returns an
// empty string when every tier is empty.
func MemoryBlock(mem models.MemoryStore) string {
	var parts []string
	if mem.MainMemory != "" {
		parts = append(parts, "[PERMANENT HISTORY]: "+mem.MainMemory)
	}
	for i := len(mem.Tiers) - 1; i >= 0; i-- {
		tier := mem.Tiers[i]
		if len(tier) == 0 {
			continue
		}
		parts = append(parts, tierLabel(i)+":\n- "+strings.Join(tier, "\n- "))
	}
	return strings.Join(parts, "\n")
}

func tierLabel(i int) string {
	switch i {
	case 0:
		return "[STAGED CHRONICLES]"
	case 1:
		return "[CORE CHRONICLES]"
	default:
		return fmt.Sprintf("[CHRONICLES TIER %d]", i+1)
	}
}

func scenarioBlock(s models.Scenario) string {
	persona := s.UserPersona
	if strings.TrimSpace(persona) == "" {
		persona = defaultUserPersona
	}
	var lines []string
	if s.Description != "" {
		lines = append(lines, "SCENARIO: "+s.Description)
	}
	lines = append(lines, "USER PERSONA: "+persona)
	return strings.Join(lines, "\n")
}

func formatBlock(s models.Scenario) string {
	return "[OUTPUT FORMAT]\n" +
		"- USE ASTERISKS (*) for all narrations and physical actions.\n" +
		"- USE PLAIN TEXT for spoken dialogue.\n" +
		"- LANGUAGE: " + string(s.OutputLanguage()) + "."
}

// window keeps the last n replayable messages, oldest first.
func window(speaker models.Character, history []models.Message, opts Options) []Turn {
	n := opts.Window
	if n <= 0 {
		n = DefaultWindow
	}

	eligible := make([]models.Message, 0, len(history))
	for _, m := range history {
		if m.State != models.StateFinal || m.Kind != models.KindText || strings.TrimSpace(m.Text) == "" {
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) > n {
		eligible = eligible[len(eligible)-n:]
	}

	turns := make([]Turn, 0, len(eligible))
	for _, m := range eligible {
		if m.Sender == models.SenderUser {
			turns = append(turns, Turn{Role: RoleUser, Content: m.Text})
			continue
		}
		content := m.Text
		if m.CharacterID != "" && m.CharacterID != speaker.ID {
			if name := opts.Names[m.CharacterID]; name != "" {
				content = name + ": " + content
			}
		}
		turns = append(turns, Turn{Role: RoleAssistant, Content: content})
	}
	return turns
}
