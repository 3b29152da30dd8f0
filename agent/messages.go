package agent

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/agentcore/core"
)

// Receiver accepts direct messages.
type Receiver interface {
	ID() string
	ReceiveMessage(ctx context.Context, msg core.Message) (core.Ack, error)
}

// Communicate sends a notification carrying content. The message is always
// published on the outbound message stream; with a target it is also
// delivered directly and the target's ack is returned. Without a target the
// message is addressed to every agent.
func (a *Agent) Communicate(ctx context.Context, content any, target Receiver) (core.Message, core.Ack, error) {
	if err := a.requireUsable("communicate"); err != nil {
		return core.Message{}, core.Ack{}, err
	}
	if a.setStatusIf(core.StatusIdle, core.StatusCommunicating) {
		defer a.settle(core.StatusCommunicating)
	}

	to := core.Broadcast
	if target != nil {
		to = target.ID()
	}
	msg := core.NewMessage(a.id, to, core.KindNotification, content, 1)
	a.streams.Messages.publish(MessageEvent{AgentID: a.id, Outbound: true, Message: msg})
	a.logger.Info("message sent", "message_id", msg.ID, "to", to)

	if target == nil {
		return msg, core.Ack{}, nil
	}
	ack, err := target.ReceiveMessage(ctx, msg)
	if err != nil {
		return msg, core.Ack{}, fmt.Errorf("agent %s: deliver to %s: %w", a.id, to, err)
	}
	return msg, ack, nil
}

// ReceiveMessage handles an inbound message by kind. Requests are processed,
// coordination messages are marked coordinated and every other kind is
// acknowledged.
func (a *Agent) ReceiveMessage(_ context.Context, msg core.Message) (core.Ack, error) {
	if a.Status() == core.StatusTerminated {
		return core.Ack{}, fmt.Errorf("%w: agent %s is terminated", core.ErrInvalidState, a.id)
	}
	a.messagesReceived.Add(1)
	a.streams.Messages.publish(MessageEvent{AgentID: a.id, Message: msg})
	a.logger.Info("message received", "message_id", msg.ID, "from", msg.From, "kind", msg.Kind)

	switch msg.Kind {
	case core.KindRequest:
		return core.Ack{Acknowledged: true, Handled: true, Response: "Request processed"}, nil
	case core.KindCoordination:
		return core.Ack{Acknowledged: true, Coordinated: true}, nil
	}
	return core.Ack{Acknowledged: true}, nil
}

// SubscribeMessages streams every message the agent sends or receives.
func (a *Agent) SubscribeMessages() (<-chan MessageEvent, func()) {
	return a.streams.Messages.Subscribe()
}
