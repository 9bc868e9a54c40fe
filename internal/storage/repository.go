// internal/storage/repository.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/models"
)

// 键前缀
const (
	characterPrefix = "character:"
	scenarioPrefix  = "scenario:"
	messagesPrefix  = "messages:"
)

// Repository gives typed access to characters, scenarios and message
// lists stored as JSON blobs in a KV.
type Repository struct {
	kv       KV
	directMu sync.Mutex // 串行化直接对话场景的查找与创建
}

// NewRepository 创建仓库
func NewRepository(kv KV) *Repository {
	return &Repository{kv: kv}
}

// KV returns the underlying store.
func (r *Repository) KV() KV {
	return r.kv
}

func (r *Repository) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := r.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.NewProcessingError(fmt.Sprintf("corrupt record %s", key), err)
	}
	return nil
}

func (r *Repository) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.NewProcessingError(fmt.Sprintf("encode record %s", key), err)
	}
	return r.kv.Set(ctx, key, data)
}

func (r *Repository) ids(ctx context.Context, prefix string) ([]string, error) {
	keys, err := r.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, prefix))
	}
	return ids, nil
}

// ---- characters ----

// GetCharacter 按 id 读取角色
func (r *Repository) GetCharacter(ctx context.Context, id string) (*models.Character, error) {
	var c models.Character
	if err := r.getJSON(ctx, characterPrefix+id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCharacters returns every character ordered by creation time.
func (r *Repository) ListCharacters(ctx context.Context) ([]models.Character, error) {
	ids, err := r.ids(ctx, characterPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]models.Character, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetCharacter(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveCharacter validates and stores c, assigning an id when missing.
func (r *Repository) SaveCharacter(ctx context.Context, c *models.Character) error {
	if err := c.Validate(); err != nil {
		return err
	}
	now := time.Now()
	if c.ID == "" {
		c.ID = "char_" + uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.LastUpdated = now
	return r.setJSON(ctx, characterPrefix+c.ID, c)
}

// DeleteCharacter removes a character that no scenario references.
func (r *Repository) DeleteCharacter(ctx context.Context, id string) error {
	if _, err := r.GetCharacter(ctx, id); err != nil {
		return err
	}
	scenarios, err := r.ListScenarios(ctx)
	if err != nil {
		return err
	}
	for _, s := range scenarios {
		for _, cid := range s.CharacterIDs {
			if cid == id {
				return apperrors.NewConflictError(fmt.Sprintf("character %s is used by scenario %s", id, s.ID), nil)
			}
		}
	}
	return r.kv.Delete(ctx, characterPrefix+id)
}

// ---- scenarios ----

// GetScenario 按 id 读取场景
func (r *Repository) GetScenario(ctx context.Context, id string) (*models.Scenario, error) {
	var s models.Scenario
	if err := r.getJSON(ctx, scenarioPrefix+id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListScenarios returns every scenario ordered by creation time.
func (r *Repository) ListScenarios(ctx context.Context) ([]models.Scenario, error) {
	ids, err := r.ids(ctx, scenarioPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]models.Scenario, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetScenario(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateScenario validates s, checks its participants exist and stores it
// with an empty memory.
func (r *Repository) CreateScenario(ctx context.Context, s *models.Scenario) error {
	if err := r.checkScenario(ctx, s); err != nil {
		return err
	}
	if s.ID == "" {
		s.ID = "scen_" + uuid.NewString()
	}
	s.Memory = models.MemoryStore{}
	s.CreatedAt = time.Now()
	s.LastUpdated = s.CreatedAt
	return r.setJSON(ctx, scenarioPrefix+s.ID, s)
}

// DirectScenario returns the one-to-one scenario of a character, creating
// it with default parameters when none exists. A scenario counts as the
// direct chat when its only participant is the character and it carries
// the character's name. created reports whether a new one was stored.
func (r *Repository) DirectScenario(ctx context.Context, characterID string) (*models.Scenario, bool, error) {
	character, err := r.GetCharacter(ctx, characterID)
	if err != nil {
		return nil, false, err
	}

	r.directMu.Lock()
	defer r.directMu.Unlock()

	scenarios, err := r.ListScenarios(ctx)
	if err != nil {
		return nil, false, err
	}
	for i := range scenarios {
		s := scenarios[i]
		if len(s.CharacterIDs) == 1 && s.CharacterIDs[0] == character.ID && s.Name == character.Name {
			return &s, false, nil
		}
	}

	s := &models.Scenario{
		ID:                "direct_" + uuid.NewString(),
		Name:              character.Name,
		Description:       fmt.Sprintf("Direct chat with %s", character.Name),
		CharacterIDs:      []string{character.ID},
		ChatParameters:    models.DefaultChatParameters(),
		ImageParameters:   models.DefaultImageParameters(),
		SystemInstruction: fmt.Sprintf("You are %s. Engage in a direct conversation with the user.", character.Name),
		Language:          models.LanguageEnglish,
	}
	if err := r.CreateScenario(ctx, s); err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// UpdateScenario stores edited settings and keeps the stored memory.
func (r *Repository) UpdateScenario(ctx context.Context, s *models.Scenario) error {
	current, err := r.GetScenario(ctx, s.ID)
	if err != nil {
		return err
	}
	if err := r.checkScenario(ctx, s); err != nil {
		return err
	}
	s.Memory = current.Memory
	s.CreatedAt = current.CreatedAt
	s.LastUpdated = time.Now()
	return r.setJSON(ctx, scenarioPrefix+s.ID, s)
}

// SaveScenario stores s as is. Sessions call it after memory changes.
func (r *Repository) SaveScenario(ctx context.Context, s *models.Scenario) error {
	return r.setJSON(ctx, scenarioPrefix+s.ID, s)
}

func (r *Repository) checkScenario(ctx context.Context, s *models.Scenario) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for _, id := range s.CharacterIDs {
		if _, err := r.GetCharacter(ctx, id); err != nil {
			if apperrors.IsNotFoundError(err) {
				return apperrors.NewValidationError(fmt.Sprintf("unknown character %s", id), err)
			}
			return err
		}
	}
	return nil
}

// DeleteScenario removes a scenario together with its message list.
func (r *Repository) DeleteScenario(ctx context.Context, id string) error {
	if _, err := r.GetScenario(ctx, id); err != nil {
		return err
	}
	if err := r.kv.Delete(ctx, messagesPrefix+id); err != nil {
		return err
	}
	return r.kv.Delete(ctx, scenarioPrefix+id)
}

// ---- messages ----

// GetMessages returns the stored message list; none stored yields an empty list.
func (r *Repository) GetMessages(ctx context.Context, scenarioID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.getJSON(ctx, messagesPrefix+scenarioID, &msgs)
	if apperrors.IsNotFoundError(err) {
		return []models.Message{}, nil
	}
	return msgs, err
}

// SaveMessages replaces the stored message list.
func (r *Repository) SaveMessages(ctx context.Context, scenarioID string, msgs []models.Message) error {
	if msgs == nil {
		msgs = []models.Message{}
	}
	return r.setJSON(ctx, messagesPrefix+scenarioID, msgs)
}
