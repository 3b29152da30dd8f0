// Package comms provides the in-process message bus that routes messages
// between agents registered for coordination.
package comms

import (
	"context"
	"errors"

	"github.com/GoCodeAlone/agentcore/core"
)

// ErrNoRecipient indicates a direct message addressed to an agent that has no
// subscription on the bus.
var ErrNoRecipient = errors.New("no recipient")

// Handler processes a message delivered to an agent and returns its ack.
type Handler func(ctx context.Context, msg core.Message) (core.Ack, error)

// Bus is the inter-agent communication backbone. Each agent subscribes one
// handler under its ID; direct messages reach that handler and broadcasts
// reach every handler except the sender's.
type Bus interface {
	// Deliver sends a direct message to msg.To and returns the recipient's ack.
	Deliver(ctx context.Context, msg core.Message) (core.Ack, error)

	// Publish sends msg to every subscriber other than msg.From. Delivery
	// continues past individual failures; the number of successful
	// deliveries is returned with the joined errors.
	Publish(ctx context.Context, msg core.Message) (int, error)

	// Subscribe registers the handler for agentID, replacing any previous one.
	// Returns an unsubscribe function.
	Subscribe(agentID string, handler Handler) (unsubscribe func())

	// History returns recent messages sent by, addressed to, or broadcast to agentID.
	History(agentID string, limit int) []core.Message
}
