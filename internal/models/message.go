// internal/models/message.go
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender 消息发送方
type Sender string

const (
	SenderUser      Sender = "user"
	SenderCharacter Sender = "character"
	SenderSystem    Sender = "system"
)

// MessageState 消息状态：占位 / 完成 / 失败
type MessageState string

const (
	StatePending MessageState = "pending"
	StateFinal   MessageState = "final"
	StateFailed  MessageState = "failed"
)

// MessageKind distinguishes text turns from scene images.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

// Message is one entry of a scenario's conversation log. Only the
// Pending -> Final transition mutates an existing message.
type Message struct {
	ID          string       `json:"id"`
	Seq         int64        `json:"seq"`
	Sender      Sender       `json:"sender"`
	CharacterID string       `json:"character_id,omitempty"`
	Text        string       `json:"text,omitempty"`
	ImageURL    string       `json:"image_url,omitempty"`
	Kind        MessageKind  `json:"kind"`
	State       MessageState `json:"state"`
	Timestamp   time.Time    `json:"timestamp"`
}

// NewMessageID returns a collision-free message id.
func NewMessageID() string {
	return uuid.NewString()
}

// NewUserMessage 创建一条已完成的用户消息
func NewUserMessage(text string) Message {
	return Message{
		ID:        NewMessageID(),
		Sender:    SenderUser,
		Text:      text,
		Kind:      KindText,
		State:     StateFinal,
		Timestamp: time.Now(),
	}
}

// NewCharacterMessage 创建一条已完成的角色消息
func NewCharacterMessage(characterID, text string) Message {
	return Message{
		ID:          NewMessageID(),
		Sender:      SenderCharacter,
		CharacterID: characterID,
		Text:        text,
		Kind:        KindText,
		State:       StateFinal,
		Timestamp:   time.Now(),
	}
}

// NewTextPlaceholder 创建角色回复占位消息
func NewTextPlaceholder(characterID string) Message {
	return Message{
		ID:          NewMessageID(),
		Sender:      SenderCharacter,
		CharacterID: characterID,
		Kind:        KindText,
		State:       StatePending,
		Timestamp:   time.Now(),
	}
}

// NewImagePlaceholder 创建场景图像占位消息
func NewImagePlaceholder() Message {
	return Message{
		ID:        NewMessageID(),
		Sender:    SenderSystem,
		Kind:      KindImage,
		State:     StatePending,
		Timestamp: time.Now(),
	}
}

// NewFailureNotice records a failed turn inline in the conversation.
func NewFailureNotice(characterID, notice string) Message {
	return Message{
		ID:          NewMessageID(),
		Sender:      SenderSystem,
		CharacterID: characterID,
		Text:        notice,
		Kind:        KindText,
		State:       StateFailed,
		Timestamp:   time.Now(),
	}
}

// IsPending reports whether the message is still a placeholder.
func (m Message) IsPending() bool {
	return m.State == StatePending
}

// Counted reports whether the message is part of the raw history that
// feeds the memory tiers: a finalized, non-empty text from the user or a
// character.
func (m Message) Counted() bool {
	if m.State != StateFinal || m.Kind != KindText {
		return false
	}
	if m.Sender != SenderUser && m.Sender != SenderCharacter {
		return false
	}
	return strings.TrimSpace(m.Text) != ""
}

// Speaker 返回用于转录文本的发言人名称
func (m Message) Speaker(names map[string]string) string {
	switch m.Sender {
	case SenderUser:
		return "User"
	case SenderCharacter:
		if name, ok := names[m.CharacterID]; ok && name != "" {
			return name
		}
		return "Character"
	default:
		return "System"
	}
}
