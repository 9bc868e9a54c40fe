// internal/config/presets.go
package config

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/models"
	"github.com/Corphon/SceneChronicle/internal/utils"
)

//go:embed presets.yaml
var presetsYAML []byte

// Presets are the built-in characters and scenarios.
type Presets struct {
	Characters []models.Character `yaml:"characters"`
	Scenarios  []models.Scenario  `yaml:"scenarios"`
}

// PresetStore is the part of the repository seeding needs.
type PresetStore interface {
	GetCharacter(ctx context.Context, id string) (*models.Character, error)
	SaveCharacter(ctx context.Context, c *models.Character) error
	GetScenario(ctx context.Context, id string) (*models.Scenario, error)
	CreateScenario(ctx context.Context, s *models.Scenario) error
}

// LoadPresets 解析内嵌的预设
func LoadPresets() (*Presets, error) {
	return ParsePresets(presetsYAML)
}

// ParsePresets decodes a presets document.
func ParsePresets(data []byte) (*Presets, error) {
	var p Presets
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, apperrors.NewValidationError("invalid presets", err)
	}
	for i := range p.Characters {
		if p.Characters[i].ID == "" {
			return nil, apperrors.NewValidationError(fmt.Sprintf("preset character %d has no id", i), nil)
		}
	}
	for i := range p.Scenarios {
		if p.Scenarios[i].ID == "" {
			return nil, apperrors.NewValidationError(fmt.Sprintf("preset scenario %d has no id", i), nil)
		}
	}
	return &p, nil
}

// Seed stores every preset that is not in the store yet and returns how
// many records were added. Existing records are never overwritten.
func (p *Presets) Seed(ctx context.Context, store PresetStore) (int, error) {
	logger := utils.GetLogger()
	added := 0

	for i := range p.Characters {
		c := p.Characters[i]
		_, err := store.GetCharacter(ctx, c.ID)
		if err == nil {
			continue
		}
		if !apperrors.IsNotFoundError(err) {
			return added, err
		}
		if err := store.SaveCharacter(ctx, &c); err != nil {
			return added, fmt.Errorf("seed character %s: %w", c.ID, err)
		}
		added++
		logger.Info("preset character seeded", map[string]interface{}{"character_id": c.ID})
	}

	for i := range p.Scenarios {
		s := p.Scenarios[i]
		s.CharacterIDs = append([]string(nil), s.CharacterIDs...)
		_, err := store.GetScenario(ctx, s.ID)
		if err == nil {
			continue
		}
		if !apperrors.IsNotFoundError(err) {
			return added, err
		}
		if err := store.CreateScenario(ctx, &s); err != nil {
			return added, fmt.Errorf("seed scenario %s: %w", s.ID, err)
		}
		added++
		logger.Info("preset scenario seeded", map[string]interface{}{"scenario_id": s.ID})
	}
	return added, nil
}
