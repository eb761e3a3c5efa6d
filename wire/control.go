// This package defines the messages exchanged with an umbra relay. Control messages frame
// the connection itself; envelopes are the kind-tagged bodies carried inside relayed
// payloads. Everything is JSON with a discriminating field, matching the relay server.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

const (
	// client -> relay
	TypeRegister     = "register"
	TypeSend         = "send"
	TypeFetchOffline = "fetch_offline"
	TypePing         = "ping"

	// relay -> client
	TypeRegistered      = "registered"
	TypeMessage         = "message"
	TypeOfflineMessages = "offline_messages"
	TypeAck             = "ack"
	TypePong            = "pong"
	TypeError           = "error"
)

// ErrUnknownType is returned for control messages this client doesn't speak. The caller is
// expected to log and carry on.
type ErrUnknownType struct {
	Type string
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("wire: unknown control message type %q", e.Type)
}

type clientMessage struct {
	Type    string `json:"type"`
	DID     string `json:"did,omitempty"`
	ToDID   string `json:"to_did,omitempty"`
	Payload string `json:"payload,omitempty"`
}

func EncodeRegister(did string) ([]byte, error) {
	return json.Marshal(&clientMessage{Type: TypeRegister, DID: did})
}

func EncodeSend(toDID, payload string) ([]byte, error) {
	return json.Marshal(&clientMessage{Type: TypeSend, ToDID: toDID, Payload: payload})
}

func EncodeFetchOffline() ([]byte, error) {
	return json.Marshal(&clientMessage{Type: TypeFetchOffline})
}

func EncodePing() ([]byte, error) {
	return json.Marshal(&clientMessage{Type: TypePing})
}

// ServerMessage is implemented by every control message the relay can push. The set is
// closed; ParseServerMessage never fabricates variants.
type ServerMessage interface {
	serverMessage()
}

type Registered struct {
	DID string `json:"did"`
}

type Message struct {
	FromDID   string `json:"from_did"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

type OfflineMessage struct {
	ID        string `json:"id"`
	FromDID   string `json:"from_did"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

type OfflineMessages struct {
	Messages []OfflineMessage `json:"messages"`
}

// Ack carries an opaque relay-generated tag. It does not name the client's message id, so
// correlation with locally sent messages is positional.
type Ack struct {
	ID string `json:"id"`
}

type Pong struct{}

type ErrorMessage struct {
	Message string `json:"message"`
}

func (*Registered) serverMessage()      {}
func (*Message) serverMessage()         {}
func (*OfflineMessages) serverMessage() {}
func (*Ack) serverMessage()             {}
func (*Pong) serverMessage()            {}
func (*ErrorMessage) serverMessage()    {}

// ParseServerMessage decodes one relay control frame. Unknown types return *ErrUnknownType.
func ParseServerMessage(data []byte) (ServerMessage, error) {
	t := gjson.GetBytes(data, "type")
	if !t.Exists() {
		return nil, fmt.Errorf("wire: control message missing type field")
	}

	var msg ServerMessage
	switch t.String() {
	case TypeRegistered:
		msg = &Registered{}
	case TypeMessage:
		msg = &Message{}
	case TypeOfflineMessages:
		msg = &OfflineMessages{}
	case TypeAck:
		msg = &Ack{}
	case TypePong:
		return &Pong{}, nil
	case TypeError:
		msg = &ErrorMessage{}
	default:
		return nil, &ErrUnknownType{Type: t.String()}
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("wire: decoding %s: %w", t.String(), err)
	}
	return msg, nil
}
