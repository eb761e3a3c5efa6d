package relay

import "encoding/json"

// Connection states. A manager moves idle -> connecting -> registered -> connected and ends
// in closed or errored; a failed attempt goes back through errored.
const (
	StateIdle       = "idle"
	StateConnecting = "connecting"
	StateRegistered = "registered"
	StateConnected  = "connected"
	StateClosed     = "closed"
	StateError      = "error"
)

// An event indicating a change in connection state.
type StateUpdate struct {
	State string
	Err   string
}

// An event indicating a friend request was received and persisted.
type RequestReceived struct {
	Request *IncomingRequest
}

// An event indicating a peer accepted our friend request.
type RequestAccepted struct {
	RequestID string
	FromDID   string
}

// An event indicating a peer rejected our friend request.
type RequestRejected struct {
	RequestID string
	FromDID   string
}

// An event indicating the peer we accepted has completed their side of the handshake.
type FriendSyncConfirmed struct {
	RequestID string
	FromDID   string
}

// An event indicating a direct message arrived on the main timeline.
type MessageReceived struct {
	Message *IncomingMessage
}

// An event indicating a reply arrived for a thread rather than the main timeline.
type ThreadReplyReceived struct {
	Message *IncomingMessage
}

// An event indicating a message moved through sent, delivered or read.
type MessageStatusChanged struct {
	MessageID string
	Status    string
}

type TypingStarted struct {
	ConversationID string
	FromDID        string
}

type TypingStopped struct {
	ConversationID string
	FromDID        string
}

// An event indicating a group invite was received and persisted.
type InviteReceived struct {
	Invite *IncomingInvite
}

type InviteAccepted struct {
	GroupID   string
	MemberDID string
}

type InviteDeclined struct {
	GroupID   string
	MemberDID string
}

// An event indicating a group message was decrypted and persisted.
type GroupMessageReceived struct {
	Message *IncomingMessage
}

type KeyRotated struct {
	GroupID    string
	KeyVersion uint32
}

type MemberRemoved struct {
	GroupID   string
	MemberDID string
}

// An event carrying a call-signaling payload for the call subsystem, unchanged.
type CallSignalReceived struct {
	FromDID    string
	SignalKind string
	Payload    json.RawMessage
}

// An event indicating an offline batch finished replaying.
type OfflineReplayed struct {
	Count int
}
