package relay

import (
	"context"

	"github.com/umbra-im/go-umbra/wire"
)

func (m *Manager) handleChatMessage(ctx context.Context, fromDID string, msg *wire.ChatMessage) {
	from := msg.FromDID
	if from == "" {
		from = fromDID
	}
	plaintext, err := m.engine.Decrypt(ctx, from, msg.Content)
	if err != nil {
		m.log.Warnf("decrypting message %s from %s: %v", msg.ID, from, err)
		return
	}
	in := &IncomingMessage{
		ID:             msg.ID,
		FromDID:        from,
		ConversationID: msg.ConversationID,
		ThreadID:       msg.ThreadID,
		Plaintext:      plaintext,
		Timestamp:      msg.Timestamp,
	}
	if err := m.engine.PersistIncomingMessage(ctx, in); err != nil {
		m.log.Warnf("persisting message %s: %v", msg.ID, err)
		return
	}

	// a thread reply never lands on the main timeline, so it is not double counted
	if msg.ThreadID != "" {
		m.broadcast(&ThreadReplyReceived{Message: in})
	} else {
		m.broadcast(&MessageReceived{Message: in})
	}

	// delivery receipts are automatic, not user gated
	receipt := &wire.MessageStatus{MessageID: msg.ID, Status: wire.StatusDelivered}
	if err := m.SendEnvelope(ctx, from, receipt); err != nil {
		m.log.Warnf("sending delivery receipt for %s: %v", msg.ID, err)
	}
}

func (m *Manager) handleMessageStatus(ctx context.Context, status *wire.MessageStatus) {
	// statuses apply as received; ordering is the sender's concern. The event reflects
	// what came off the wire, a storage failure is logged but does not mask it.
	if err := m.engine.UpdateMessageStatus(ctx, status.MessageID, status.Status); err != nil {
		m.log.Warnf("updating status for %s: %v", status.MessageID, err)
	}
	m.broadcast(&MessageStatusChanged{MessageID: status.MessageID, Status: status.Status})
}

func (m *Manager) handleTypingIndicator(fromDID string, ti *wire.TypingIndicator) {
	from := ti.FromDID
	if from == "" {
		from = fromDID
	}
	started, stopped := m.typing.update(ti.ConversationID, from, ti.IsTyping)
	if started {
		m.broadcast(&TypingStarted{ConversationID: ti.ConversationID, FromDID: from})
	}
	if stopped {
		m.broadcast(&TypingStopped{ConversationID: ti.ConversationID, FromDID: from})
	}
}
