package core

import "time"

// MessageKind identifies the purpose of an inter-agent message.
type MessageKind string

const (
	KindRequest      MessageKind = "request"
	KindResponse     MessageKind = "response"
	KindNotification MessageKind = "notification"
	KindCoordination MessageKind = "coordination"
)

const (
	// Broadcast is the recipient of a message addressed to every agent.
	Broadcast = "broadcast"
	// CoordinatorID is the sender of messages originating from the coordination service.
	CoordinatorID = "coordination_system"
)

// Message is a communication unit between agents.
type Message struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Kind      MessageKind `json:"kind"`
	Content   any         `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Priority  int         `json:"priority"`
}

// NewMessage creates a message with a fresh ID and the current timestamp.
func NewMessage(from, to string, kind MessageKind, content any, priority int) Message {
	return Message{
		ID:        NewID(),
		From:      from,
		To:        to,
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
		Priority:  priority,
	}
}

// IsBroadcast reports whether m is addressed to every agent.
func (m Message) IsBroadcast() bool { return m.To == Broadcast }

// Ack is the reply an agent returns for a received message.
type Ack struct {
	Acknowledged bool   `json:"acknowledged"`
	Handled      bool   `json:"handled,omitempty"`
	Coordinated  bool   `json:"coordinated,omitempty"`
	Response     string `json:"response,omitempty"`
}
