// internal/conversation/log.go
package conversation

import (
	"fmt"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/models"
)

// MessageLog is the ordered message list of one scenario. Append,
// Replace and Remove by id are the only mutations. It is not safe for
// concurrent use; the owning Session serializes access.
type MessageLog struct {
	msgs    []models.Message
	nextSeq int64
}

// NewMessageLog seeds a log with stored messages, keeping their order.
func NewMessageLog(history []models.Message) (*MessageLog, error) {
	l := &MessageLog{}
	for _, m := range history {
		if _, err := l.Append(m); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *MessageLog) find(id string) int {
	for i := range l.msgs {
		if l.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// Append adds m at the end and stamps its insertion sequence.
func (l *MessageLog) Append(m models.Message) (models.Message, error) {
	if m.ID == "" {
		return m, apperrors.NewValidationError("message id is required", nil)
	}
	if l.find(m.ID) >= 0 {
		return m, apperrors.NewConflictError(fmt.Sprintf("duplicate message id %s", m.ID), nil)
	}
	l.nextSeq++
	m.Seq = l.nextSeq
	l.msgs = append(l.msgs, m)
	return m, nil
}

// Replace swaps the message with the given id in place. Id and sequence
// of the original entry are kept.
func (l *MessageLog) Replace(id string, m models.Message) (models.Message, error) {
	i := l.find(id)
	if i < 0 {
		return m, apperrors.NewNotFoundError(fmt.Sprintf("message %s not found", id), nil)
	}
	m.ID = l.msgs[i].ID
	m.Seq = l.msgs[i].Seq
	l.msgs[i] = m
	return m, nil
}

// Remove deletes the message with the given id and reports whether it existed.
func (l *MessageLog) Remove(id string) bool {
	i := l.find(id)
	if i < 0 {
		return false
	}
	l.msgs = append(l.msgs[:i], l.msgs[i+1:]...)
	return true
}

// Get 按 id 查找消息
func (l *MessageLog) Get(id string) (models.Message, bool) {
	if i := l.find(id); i >= 0 {
		return l.msgs[i], true
	}
	return models.Message{}, false
}

// Len 消息数量
func (l *MessageLog) Len() int {
	return len(l.msgs)
}

// Snapshot returns a copy of all messages in insertion order.
func (l *MessageLog) Snapshot() []models.Message {
	out := make([]models.Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Counted returns the messages that feed the memory tiers, in order.
func (l *MessageLog) Counted() []models.Message {
	out := make([]models.Message, 0, len(l.msgs))
	for _, m := range l.msgs {
		if m.Counted() {
			out = append(out, m)
		}
	}
	return out
}

// Reset empties the log. Sequence numbers keep increasing.
func (l *MessageLog) Reset() {
	l.msgs = nil
}
