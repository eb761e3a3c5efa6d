package wire

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// EnvelopeVersion is the only envelope version this client speaks.
const EnvelopeVersion = 1

const (
	KindFriendRequest      = "friend_request"
	KindFriendResponse     = "friend_response"
	KindFriendAcceptAck    = "friend_accept_ack"
	KindChatMessage        = "chat_message"
	KindMessageStatus      = "message_status"
	KindTypingIndicator    = "typing_indicator"
	KindGroupInvite        = "group_invite"
	KindGroupInviteAccept  = "group_invite_accept"
	KindGroupInviteDecline = "group_invite_decline"
	KindGroupMessage       = "group_message"
	KindGroupKeyRotation   = "group_key_rotation"
	KindGroupMemberRemoved = "group_member_removed"

	KindCallOffer        = "call_offer"
	KindCallAnswer       = "call_answer"
	KindCallIceCandidate = "call_ice_candidate"
	KindCallEnd          = "call_end"
	KindCallState        = "call_state"
)

// Message delivery statuses carried by message_status envelopes.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

type ErrUnknownKind struct {
	Kind string
}

func (e *ErrUnknownKind) Error() string {
	return fmt.Sprintf("wire: unknown envelope kind %q", e.Kind)
}

type ErrUnsupportedVersion struct {
	Version int64
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("wire: unsupported envelope version %d", e.Version)
}

// Envelope is implemented by every payload variant. The union is closed; the dispatcher
// switches over it exhaustively and new kinds are a compile-time decision.
type Envelope interface {
	Kind() string
}

// FriendKeys is the public key material exchanged during the friend handshake.
type FriendKeys struct {
	SigningKey    string `json:"signing_key"`
	EncryptionKey string `json:"encryption_key"`
}

type FriendRequest struct {
	ID        string     `json:"id"`
	FromDID   string     `json:"from_did"`
	Message   string     `json:"message,omitempty"`
	Keys      FriendKeys `json:"keys"`
	Timestamp int64      `json:"timestamp"`
}

type FriendResponse struct {
	RequestID string      `json:"request_id"`
	FromDID   string      `json:"from_did"`
	Accepted  bool        `json:"accepted"`
	Keys      *FriendKeys `json:"keys,omitempty"`
}

type FriendAcceptAck struct {
	RequestID string `json:"request_id"`
	FromDID   string `json:"from_did"`
}

type ChatMessage struct {
	ID             string `json:"id"`
	FromDID        string `json:"from_did"`
	ConversationID string `json:"conversation_id"`
	ThreadID       string `json:"thread_id,omitempty"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
}

type MessageStatus struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type TypingIndicator struct {
	ConversationID string `json:"conversation_id"`
	FromDID        string `json:"from_did"`
	IsTyping       bool   `json:"is_typing"`
}

type GroupInvite struct {
	ID        string `json:"id"`
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name"`
	FromDID   string `json:"from_did"`
	Key       string `json:"key,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type GroupInviteAccept struct {
	GroupID   string `json:"group_id"`
	MemberDID string `json:"member_did"`
}

type GroupInviteDecline struct {
	GroupID   string `json:"group_id"`
	MemberDID string `json:"member_did"`
}

type GroupMessage struct {
	ID         string `json:"id"`
	GroupID    string `json:"group_id"`
	FromDID    string `json:"from_did"`
	Content    string `json:"content"`
	KeyVersion uint32 `json:"key_version"`
	Timestamp  int64  `json:"timestamp"`
}

type GroupKeyRotation struct {
	GroupID    string `json:"group_id"`
	KeyVersion uint32 `json:"key_version"`
	Key        string `json:"key"`
}

type GroupMemberRemoved struct {
	GroupID   string `json:"group_id"`
	MemberDID string `json:"member_did"`
}

// CallSignal carries any of the call signaling kinds. The payload is not interpreted here;
// it is handed to the call subsystem as-is.
type CallSignal struct {
	SignalKind string
	Payload    json.RawMessage
}

func (*FriendRequest) Kind() string      { return KindFriendRequest }
func (*FriendResponse) Kind() string     { return KindFriendResponse }
func (*FriendAcceptAck) Kind() string    { return KindFriendAcceptAck }
func (*ChatMessage) Kind() string        { return KindChatMessage }
func (*MessageStatus) Kind() string      { return KindMessageStatus }
func (*TypingIndicator) Kind() string    { return KindTypingIndicator }
func (*GroupInvite) Kind() string        { return KindGroupInvite }
func (*GroupInviteAccept) Kind() string  { return KindGroupInviteAccept }
func (*GroupInviteDecline) Kind() string { return KindGroupInviteDecline }
func (*GroupMessage) Kind() string       { return KindGroupMessage }
func (*GroupKeyRotation) Kind() string   { return KindGroupKeyRotation }
func (*GroupMemberRemoved) Kind() string { return KindGroupMemberRemoved }
func (c *CallSignal) Kind() string       { return c.SignalKind }

func isCallKind(kind string) bool {
	switch kind {
	case KindCallOffer, KindCallAnswer, KindCallIceCandidate, KindCallEnd, KindCallState:
		return true
	}
	return false
}

type envelopeFrame struct {
	Envelope string          `json:"envelope"`
	Version  int64           `json:"version"`
	Payload  json.RawMessage `json:"payload"`
}

// ParseEnvelope decodes one relayed payload into its envelope variant. Unknown kinds return
// *ErrUnknownKind and versions other than EnvelopeVersion return *ErrUnsupportedVersion;
// both are expected to be dropped by the caller, not treated as fatal.
func ParseEnvelope(data []byte) (Envelope, error) {
	kind := gjson.GetBytes(data, "envelope")
	if !kind.Exists() {
		return nil, fmt.Errorf("wire: payload missing envelope field")
	}
	version := gjson.GetBytes(data, "version").Int()
	if version != EnvelopeVersion {
		return nil, &ErrUnsupportedVersion{Version: version}
	}

	frame := envelopeFrame{}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("wire: decoding envelope frame: %w", err)
	}

	if isCallKind(frame.Envelope) {
		return &CallSignal{SignalKind: frame.Envelope, Payload: frame.Payload}, nil
	}

	var env Envelope
	switch frame.Envelope {
	case KindFriendRequest:
		env = &FriendRequest{}
	case KindFriendResponse:
		env = &FriendResponse{}
	case KindFriendAcceptAck:
		env = &FriendAcceptAck{}
	case KindChatMessage:
		env = &ChatMessage{}
	case KindMessageStatus:
		env = &MessageStatus{}
	case KindTypingIndicator:
		env = &TypingIndicator{}
	case KindGroupInvite:
		env = &GroupInvite{}
	case KindGroupInviteAccept:
		env = &GroupInviteAccept{}
	case KindGroupInviteDecline:
		env = &GroupInviteDecline{}
	case KindGroupMessage:
		env = &GroupMessage{}
	case KindGroupKeyRotation:
		env = &GroupKeyRotation{}
	case KindGroupMemberRemoved:
		env = &GroupMemberRemoved{}
	default:
		return nil, &ErrUnknownKind{Kind: frame.Envelope}
	}
	if err := json.Unmarshal(frame.Payload, env); err != nil {
		return nil, fmt.Errorf("wire: decoding %s payload: %w", frame.Envelope, err)
	}
	return env, nil
}

// EncodeEnvelope wraps an envelope variant in the versioned frame used on the wire.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	var payload []byte
	var err error
	if cs, ok := env.(*CallSignal); ok {
		payload = cs.Payload
	} else {
		payload, err = json.Marshal(env)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(&envelopeFrame{
		Envelope: env.Kind(),
		Version:  EnvelopeVersion,
		Payload:  payload,
	})
}
