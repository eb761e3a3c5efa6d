package relay

import (
	"context"

	"github.com/umbra-im/go-umbra/wire"
)

// dispatchEnvelope classifies one relayed payload and invokes exactly one handler. Both the
// live message path and the offline replay path come through here, so replayed traffic is
// observably identical to live traffic. Malformed payloads, unknown kinds and unsupported
// versions are logged and dropped; nothing here is fatal to the connection or the batch.
func (m *Manager) dispatchEnvelope(ctx context.Context, fromDID string, payload []byte) {
	env, err := wire.ParseEnvelope(payload)
	if err != nil {
		m.log.Warnf("dropping payload from %s: %v", fromDID, err)
		return
	}

	switch v := env.(type) {
	case *wire.FriendRequest:
		m.handleFriendRequest(ctx, v)
	case *wire.FriendResponse:
		m.handleFriendResponse(ctx, v)
	case *wire.FriendAcceptAck:
		m.handleFriendAcceptAck(v)
	case *wire.ChatMessage:
		m.handleChatMessage(ctx, fromDID, v)
	case *wire.MessageStatus:
		m.handleMessageStatus(ctx, v)
	case *wire.TypingIndicator:
		m.handleTypingIndicator(fromDID, v)
	case *wire.GroupInvite:
		m.handleGroupInvite(ctx, v)
	case *wire.GroupInviteAccept:
		m.handleGroupInviteAccept(ctx, v)
	case *wire.GroupInviteDecline:
		m.handleGroupInviteDecline(v)
	case *wire.GroupMessage:
		m.handleGroupMessage(ctx, v)
	case *wire.GroupKeyRotation:
		m.handleGroupKeyRotation(ctx, v)
	case *wire.GroupMemberRemoved:
		m.handleGroupMemberRemoved(v)
	case *wire.CallSignal:
		// call signaling is not interpreted here, it belongs to the call subsystem
		m.broadcast(&CallSignalReceived{FromDID: fromDID, SignalKind: v.SignalKind, Payload: v.Payload})
	}
}

func (m *Manager) handleAck(ctx context.Context, ack *wire.Ack) {
	id, ok := m.pending.pop()
	if !ok {
		m.log.Debugf("ack %s with no pending sends", ack.ID)
		return
	}
	if err := m.engine.UpdateMessageStatus(ctx, id, wire.StatusSent); err != nil {
		m.log.Warnf("updating status for %s: %v", id, err)
	}
	m.broadcast(&MessageStatusChanged{MessageID: id, Status: wire.StatusSent})
}
