package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseServerMessageMessage(t *testing.T) {
	require := require.New(t)

	msg, err := ParseServerMessage([]byte(`{"type":"message","from_did":"did:key:alice","payload":"body","timestamp":1700000000}`))
	require.NoError(err)
	m, ok := msg.(*Message)
	require.True(ok)
	require.Equal("did:key:alice", m.FromDID)
	require.Equal("body", m.Payload)
	require.Equal(int64(1700000000), m.Timestamp)
}

func TestParseServerMessageOfflineBatch(t *testing.T) {
	require := require.New(t)

	msg, err := ParseServerMessage([]byte(`{"type":"offline_messages","messages":[{"id":"m1","from_did":"did:key:alice","payload":"p1","timestamp":5},{"id":"m2","from_did":"did:key:bob","payload":"p2","timestamp":6}]}`))
	require.NoError(err)
	batch, ok := msg.(*OfflineMessages)
	require.True(ok)
	require.Len(batch.Messages, 2)
	require.Equal("m1", batch.Messages[0].ID)
	require.Equal("did:key:bob", batch.Messages[1].FromDID)
}

func TestParseServerMessageUnknownType(t *testing.T) {
	require := require.New(t)

	_, err := ParseServerMessage([]byte(`{"type":"session_created","session_id":"s1"}`))
	unknown := &ErrUnknownType{}
	require.ErrorAs(err, &unknown)
	require.Equal("session_created", unknown.Type)
}

func TestParseServerMessageMissingType(t *testing.T) {
	require := require.New(t)

	_, err := ParseServerMessage([]byte(`{"hello":"world"}`))
	require.Error(err)
}

func TestEncodeRegister(t *testing.T) {
	require := require.New(t)

	b, err := EncodeRegister("did:key:alice")
	require.NoError(err)
	require.JSONEq(`{"type":"register","did":"did:key:alice"}`, string(b))
}

func TestEncodeSend(t *testing.T) {
	require := require.New(t)

	b, err := EncodeSend("did:key:bob", "ciphertext")
	require.NoError(err)
	require.JSONEq(`{"type":"send","to_did":"did:key:bob","payload":"ciphertext"}`, string(b))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	require := require.New(t)

	in := &ChatMessage{
		ID:             "m1",
		FromDID:        "did:key:alice",
		ConversationID: "c1",
		ThreadID:       "t1",
		Content:        "ciphertext",
		Timestamp:      1700000000,
	}
	b, err := EncodeEnvelope(in)
	require.NoError(err)

	env, err := ParseEnvelope(b)
	require.NoError(err)
	out, ok := env.(*ChatMessage)
	require.True(ok)
	require.Equal(in, out)
}

func TestParseEnvelopeUnknownKind(t *testing.T) {
	require := require.New(t)

	_, err := ParseEnvelope([]byte(`{"envelope":"sticker","version":1,"payload":{}}`))
	unknown := &ErrUnknownKind{}
	require.ErrorAs(err, &unknown)
	require.Equal("sticker", unknown.Kind)
}

func TestParseEnvelopeUnsupportedVersion(t *testing.T) {
	require := require.New(t)

	_, err := ParseEnvelope([]byte(`{"envelope":"chat_message","version":2,"payload":{"id":"m1"}}`))
	unsupported := &ErrUnsupportedVersion{}
	require.ErrorAs(err, &unsupported)
	require.Equal(int64(2), unsupported.Version)
}

func TestParseEnvelopeCallKindsOpaque(t *testing.T) {
	require := require.New(t)

	for _, kind := range []string{KindCallOffer, KindCallAnswer, KindCallIceCandidate, KindCallEnd, KindCallState} {
		env, err := ParseEnvelope([]byte(`{"envelope":"` + kind + `","version":1,"payload":{"sdp":"blob"}}`))
		require.NoError(err)
		cs, ok := env.(*CallSignal)
		require.True(ok)
		require.Equal(kind, cs.Kind())
		require.JSONEq(`{"sdp":"blob"}`, string(cs.Payload))
	}
}

func TestParseEnvelopeGroupKeyRotation(t *testing.T) {
	require := require.New(t)

	env, err := ParseEnvelope([]byte(`{"envelope":"group_key_rotation","version":1,"payload":{"group_id":"g1","key_version":3,"key":"material"}}`))
	require.NoError(err)
	rot, ok := env.(*GroupKeyRotation)
	require.True(ok)
	require.Equal("g1", rot.GroupID)
	require.Equal(uint32(3), rot.KeyVersion)
	require.Equal("material", rot.Key)
}

func TestParseEnvelopeGarbage(t *testing.T) {
	require := require.New(t)

	_, err := ParseEnvelope([]byte(`not json at all`))
	require.Error(err)
}
