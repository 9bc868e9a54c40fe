// internal/models/character.go
package models

import (
	"strings"
	"time"
)

// Character 表示一个可参与对话的角色
type Character struct {
	ID                string    `json:"id" yaml:"id"`
	Name              string    `json:"name" yaml:"name"`
	Avatar            string    `json:"avatar,omitempty" yaml:"avatar,omitempty"`
	Persona           string    `json:"persona" yaml:"persona"`
	SystemInstruction string    `json:"system_instruction,omitempty" yaml:"system_instruction,omitempty"`
	PreHistory        string    `json:"pre_history,omitempty" yaml:"pre_history,omitempty"`
	PostHistory       string    `json:"post_history,omitempty" yaml:"post_history,omitempty"`
	VisualDescription string    `json:"visual_description,omitempty" yaml:"visual_description,omitempty"` // 用于场景图像生成
	CreatedAt         time.Time `json:"created_at" yaml:"-"`
	LastUpdated       time.Time `json:"last_updated" yaml:"-"`
}

// Validate checks the fields a prompt cannot be built without.
func (c *Character) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errInvalid("character name is required")
	}
	return nil
}

// VisualHint returns the text used to describe the character to an image model.
func (c *Character) VisualHint() string {
	if c.VisualDescription != "" {
		return c.VisualDescription
	}
	return c.Persona
}
