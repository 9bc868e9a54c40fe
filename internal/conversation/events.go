// internal/conversation/events.go
package conversation

import (
	"time"

	"github.com/Corphon/SceneChronicle/internal/models"
)

// EventType 会话事件类型
type EventType string

const (
	EventMessageAppended EventType = "message.appended"
	EventMessageReplaced EventType = "message.replaced"
	EventMessageRemoved  EventType = "message.removed"
	EventMemoryUpdated   EventType = "memory.updated"
	EventChatCleared     EventType = "chat.cleared"
)

// Event describes one change to a session's message log or memory.
type Event struct {
	Type       EventType           `json:"type"`
	ScenarioID string              `json:"scenario_id"`
	Message    *models.Message     `json:"message,omitempty"`
	MessageID  string              `json:"message_id,omitempty"`
	Memory     *models.MemoryStore `json:"memory,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
}

// Listener receives session events. OnEvent is called outside the
// session lock and must not block for long.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent calls f.
func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Listeners fans an event out to several listeners in order.
type Listeners []Listener

// OnEvent delivers e to every non-nil listener.
func (ls Listeners) OnEvent(e Event) {
	for _, l := range ls {
		if l != nil {
			l.OnEvent(e)
		}
	}
}

func messageEvent(t EventType, scenarioID string, m models.Message) Event {
	return Event{Type: t, ScenarioID: scenarioID, Message: &m, MessageID: m.ID, Timestamp: time.Now()}
}

func removedEvent(scenarioID, id string) Event {
	return Event{Type: EventMessageRemoved, ScenarioID: scenarioID, MessageID: id, Timestamp: time.Now()}
}

func memoryEvent(scenarioID string, mem models.MemoryStore) Event {
	return Event{Type: EventMemoryUpdated, ScenarioID: scenarioID, Memory: &mem, Timestamp: time.Now()}
}
