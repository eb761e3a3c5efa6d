package relay

import (
	"context"

	"github.com/umbra-im/go-umbra/wire"
)

func (m *Manager) handleGroupInvite(ctx context.Context, invite *wire.GroupInvite) {
	in := &IncomingInvite{
		ID:        invite.ID,
		GroupID:   invite.GroupID,
		GroupName: invite.GroupName,
		FromDID:   invite.FromDID,
		Key:       invite.Key,
		Timestamp: invite.Timestamp,
	}
	if err := m.engine.PersistGroupInvite(ctx, in); err != nil {
		m.log.Warnf("persisting group invite %s: %v", invite.ID, err)
		return
	}
	m.broadcast(&InviteReceived{Invite: in})
}

func (m *Manager) handleGroupInviteAccept(ctx context.Context, accept *wire.GroupInviteAccept) {
	if err := m.engine.AddGroupMember(ctx, accept.GroupID, accept.MemberDID); err != nil {
		m.log.Warnf("adding member %s to group %s: %v", accept.MemberDID, accept.GroupID, err)
		return
	}
	m.broadcast(&InviteAccepted{GroupID: accept.GroupID, MemberDID: accept.MemberDID})
}

func (m *Manager) handleGroupInviteDecline(decline *wire.GroupInviteDecline) {
	m.broadcast(&InviteDeclined{GroupID: decline.GroupID, MemberDID: decline.MemberDID})
}

func (m *Manager) handleGroupMessage(ctx context.Context, msg *wire.GroupMessage) {
	// decrypt under the key version named in the payload, which may be older than the
	// newest one stored if the message predates a rotation we already applied
	plaintext, err := m.engine.DecryptGroupMessage(ctx, msg.GroupID, msg.KeyVersion, msg.Content)
	if err != nil {
		m.log.Warnf("decrypting group message %s: %v", msg.ID, err)
		return
	}
	in := &IncomingMessage{
		ID:        msg.ID,
		FromDID:   msg.FromDID,
		GroupID:   msg.GroupID,
		Plaintext: plaintext,
		Timestamp: msg.Timestamp,
	}
	if err := m.engine.PersistIncomingMessage(ctx, in); err != nil {
		m.log.Warnf("persisting group message %s: %v", msg.ID, err)
		return
	}
	m.broadcast(&GroupMessageReceived{Message: in})
}

func (m *Manager) handleGroupKeyRotation(ctx context.Context, rot *wire.GroupKeyRotation) {
	current, err := m.engine.GroupKeyVersion(ctx, rot.GroupID)
	if err != nil {
		m.log.Warnf("reading key version for group %s: %v", rot.GroupID, err)
		return
	}
	if rot.KeyVersion <= current {
		// duplicate or stale rotation
		m.log.Debugf("discarding rotation v%d for group %s, have v%d", rot.KeyVersion, rot.GroupID, current)
		return
	}
	if err := m.engine.ImportGroupKey(ctx, rot.GroupID, rot.KeyVersion, rot.Key); err != nil {
		m.log.Warnf("importing key v%d for group %s: %v", rot.KeyVersion, rot.GroupID, err)
		return
	}
	m.broadcast(&KeyRotated{GroupID: rot.GroupID, KeyVersion: rot.KeyVersion})
}

func (m *Manager) handleGroupMemberRemoved(removed *wire.GroupMemberRemoved) {
	// key material is untouched here; the paired rotation envelope handles that
	m.broadcast(&MemberRemoved{GroupID: removed.GroupID, MemberDID: removed.MemberDID})
}
