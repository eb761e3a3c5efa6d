package relay

import (
	"context"

	"github.com/umbra-im/go-umbra/wire"
	"golang.org/x/exp/maps"
)

// Friend acceptance is a two-phase handshake. Receiving an accepted friend_response means
// the peer said yes; the peer only considers the friendship synced once our
// friend_accept_ack reaches them, proving this side actually processed the acceptance.
// Acks stay queued until a send succeeds and are retried after every registration, so a
// socket failure mid-handshake heals on reconnect.

func (m *Manager) handleFriendRequest(ctx context.Context, req *wire.FriendRequest) {
	in := &IncomingRequest{
		ID:        req.ID,
		FromDID:   req.FromDID,
		Message:   req.Message,
		Keys:      req.Keys,
		Timestamp: req.Timestamp,
	}
	// persisted before the event so a UI refresh triggered by it already finds the request
	if err := m.engine.PersistIncomingRequest(ctx, in); err != nil {
		m.log.Warnf("persisting friend request %s: %v", req.ID, err)
		return
	}
	m.broadcast(&RequestReceived{Request: in})
}

func (m *Manager) handleFriendResponse(ctx context.Context, resp *wire.FriendResponse) {
	if !resp.Accepted {
		m.broadcast(&RequestRejected{RequestID: resp.RequestID, FromDID: resp.FromDID})
		return
	}

	m.friendLock.Lock()
	already := m.acceptedReqs[resp.RequestID]
	if !already {
		m.acceptedReqs[resp.RequestID] = true
	}
	m.friendLock.Unlock()
	if already {
		// same response seen live and again via offline replay
		m.log.Debugf("friend response %s already processed", resp.RequestID)
		return
	}

	if resp.Keys == nil {
		m.log.Warnf("friend response %s accepted without keys, dropping", resp.RequestID)
		return
	}
	if err := m.engine.AddFriend(ctx, resp.FromDID, *resp.Keys); err != nil {
		m.log.Warnf("adding friend %s: %v", resp.FromDID, err)
		m.friendLock.Lock()
		delete(m.acceptedReqs, resp.RequestID)
		m.friendLock.Unlock()
		return
	}
	m.broadcast(&RequestAccepted{RequestID: resp.RequestID, FromDID: resp.FromDID})

	m.queueAcceptAck(resp.FromDID, &wire.FriendAcceptAck{RequestID: resp.RequestID, FromDID: m.did})
	m.flushAcceptAcks(ctx)
}

func (m *Manager) handleFriendAcceptAck(ack *wire.FriendAcceptAck) {
	// terminal and side-effect free
	m.broadcast(&FriendSyncConfirmed{RequestID: ack.RequestID, FromDID: ack.FromDID})
}

func (m *Manager) queueAcceptAck(toDID string, ack *wire.FriendAcceptAck) {
	m.friendLock.Lock()
	defer m.friendLock.Unlock()
	m.ackQueue[ack.RequestID] = &acceptAck{toDID: toDID, ack: ack}
}

func (m *Manager) flushAcceptAcks(ctx context.Context) {
	m.friendLock.Lock()
	queued := make(map[string]*acceptAck, len(m.ackQueue))
	maps.Copy(queued, m.ackQueue)
	m.friendLock.Unlock()

	for id, qa := range queued {
		if err := m.SendEnvelope(ctx, qa.toDID, qa.ack); err != nil {
			m.log.Warnf("accept ack %s not sent, will retry after reconnect: %v", id, err)
			continue
		}
		m.friendLock.Lock()
		delete(m.ackQueue, id)
		m.friendLock.Unlock()
	}
}
