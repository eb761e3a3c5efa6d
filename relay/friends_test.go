package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/umbra-im/go-umbra/wire"
)

func isRequestAccepted(e interface{}) bool {
	_, ok := e.(*RequestAccepted)
	return ok
}

func TestFriendRequestPersistedBeforeEvent(t *testing.T) {
	require := require.New(t)
	h := newTestHarness(t)
	conn := h.connect()

	req := &wire.FriendRequest{
		ID:        "fr1",
		FromDID:   "did:key:alice",
		Message:   "hi there",
		Keys:      wire.FriendKeys{SigningKey: "sk", EncryptionKey: "ek"},
		Timestamp: 42,
	}
	h.deliver(conn, "did:key:alice", req)

	e := h.expectEvent(func(e interface{}) bool {
		_, ok := e.(*RequestReceived)
		return ok
	})
	in := e.(*RequestReceived).Request
	require.Equal("fr1", in.ID)
	require.Equal("hi there", in.Message)
	require.Equal("sk", in.Keys.SigningKey)

	h.engine.lock.Lock()
	_, persisted := h.engine.requests["fr1"]
	h.engine.lock.Unlock()
	require.True(persisted)
}

func TestDuplicateFriendRequestPersistsOnce(t *testing.T) {
	require := require.New(t)
	h := newTestHarness(t)
	conn := h.connect()

	req := &wire.FriendRequest{ID: "fr1", FromDID: "did:key:alice", Keys: wire.FriendKeys{SigningKey: "sk"}}
	h.deliver(conn, "did:key:alice", req)
	h.deliver(conn, "did:key:alice", req)

	h.expectEvent(func(e interface{}) bool {
		_, ok := e.(*RequestReceived)
		return ok
	})
	h.expectEvent(func(e interface{}) bool {
		_, ok := e.(*RequestReceived)
		return ok
	})
	h.engine.lock.Lock()
	count := len(h.engine.requests)
	h.engine.lock.Unlock()
	require.Equal(1, count)
}

func TestAcceptedFriendResponseAddsFriendAndConfirms(t *testing.T) {
	require := require.New(t)
	h := newTestHarness(t)
	conn := h.connect()

	h.deliver(conn, "did:key:bob", &wire.FriendResponse{
		RequestID: "fr1",
		FromDID:   "did:key:bob",
		Accepted:  true,
		Keys:      &wire.FriendKeys{SigningKey: "sk", EncryptionKey: "ek"},
	})

	e := h.expectEvent(isRequestAccepted)
	require.Equal("fr1", e.(*RequestAccepted).RequestID)
	require.Equal("did:key:bob", e.(*RequestAccepted).FromDID)

	toDID, env := h.expectSentEnvelope(conn)
	require.Equal("did:key:bob", toDID)
	ack, ok := env.(*wire.FriendAcceptAck)
	require.True(ok)
	require.Equal("fr1", ack.RequestID)
	require.Equal("did:key:self", ack.FromDID)

	h.engine.lock.Lock()
	keys, isFriend := h.engine.friends["did:key:bob"]
	h.engine.lock.Unlock()
	require.True(isFriend)
	require.Equal("sk", keys.SigningKey)
}

func TestReplayedFriendResponseHandledOnce(t *testing.T) {
	require := require.New(t)
	h := newTestHarness(t)
	conn := h.connect()

	resp := &wire.FriendResponse{
		RequestID: "fr1",
		FromDID:   "did:key:bob",
		Accepted:  true,
		Keys:      &wire.FriendKeys{SigningKey: "sk"},
	}
	h.deliver(conn, "did:key:bob", resp)
	h.expectEvent(isRequestAccepted)
	h.expectSentEnvelope(conn)

	// the same response again, as the offline queue would replay it
	conn.in <- offlineBatch(t, offlineEnvelope(t, "q1", "did:key:bob", resp))
	h.expectEvent(func(e interface{}) bool {
		_, ok := e.(*OfflineReplayed)
		return ok
	})

	h.expectNoEvent(isRequestAccepted)
	h.expectNoWrite(conn)
	h.engine.lock.Lock()
	adds := h.engine.friendAdds
	h.engine.lock.Unlock()
	require.Equal(1, adds)
}

func TestRejectedFriendResponse(t *testing.T) {
	require := require.New(t)
	h := newTestHarness(t)
	conn := h.connect()

	h.deliver(conn, "did:key:bob", &wire.FriendResponse{RequestID: "fr1", FromDID: "did:key:bob", Accepted: false})

	e := h.expectEvent(func(e interface{}) bool {
		_, ok := e.(*RequestRejected)
		return ok
	})
	require.Equal("fr1", e.(*RequestRejected).RequestID)
	h.expectNoWrite(conn)
	h.engine.lock.Lock()
	count := len(h.engine.friends)
	h.engine.lock.Unlock()
	require.Equal(0, count)
}

func TestAcceptedResponseWithoutKeysDropped(t *testing.T) {
	require := require.New(t)
	h := newTestHarness(t)
	conn := h.connect()

	h.deliver(conn, "did:key:bob", &wire.FriendResponse{RequestID: "fr1", FromDID: "did:key:bob", Accepted: true})

	h.expectNoEvent(isRequestAccepted)
	h.expectNoWrite(conn)
	h.engine.lock.Lock()
	count := len(h.engine.friends)
	h.engine.lock.Unlock()
	require.Equal(0, count)
}

func TestFriendAcceptAckConfirmsSync(t *testing.T) {
	require := require.New(t)
	h := newTestHarness(t)
	conn := h.connect()

	h.deliver(conn, "did:key:bob", &wire.FriendAcceptAck{RequestID: "fr1", FromDID: "did:key:bob"})

	e := h.expectEvent(func(e interface{}) bool {
		_, ok := e.(*FriendSyncConfirmed)
		return ok
	})
	require.Equal("fr1", e.(*FriendSyncConfirmed).RequestID)
	require.Equal("did:key:bob", e.(*FriendSyncConfirmed).FromDID)
}

func TestAcceptAckRetriedOnNextConnection(t *testing.T) {
	require := require.New(t)
	h := newTestHarness(t)
	conn := h.connect()

	// the acceptance lands but the confirmation cannot leave before the socket dies
	conn.failWrites.Store(true)
	h.deliver(conn, "did:key:bob", &wire.FriendResponse{
		RequestID: "fr1",
		FromDID:   "did:key:bob",
		Accepted:  true,
		Keys:      &wire.FriendKeys{SigningKey: "sk"},
	})
	h.expectEvent(isRequestAccepted)

	conn.serverClose()
	h.expectState(StateError)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.manager.Connect(context.Background(), "wss://relay.test")
	}()
	conn2 := h.nextConn()
	h.serveRegistration(conn2)
	select {
	case err := <-errCh:
		require.NoError(err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reconnect")
	}

	// the queued confirmation goes out before the offline fetch
	toDID, env := h.expectSentEnvelope(conn2)
	require.Equal("did:key:bob", toDID)
	ack, ok := env.(*wire.FriendAcceptAck)
	require.True(ok)
	require.Equal("fr1", ack.RequestID)
	h.expectWrite(conn2, wire.TypeFetchOffline)
}
