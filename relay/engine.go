package relay

import (
	"context"

	"github.com/umbra-im/go-umbra/wire"
)

// IncomingMessage is a decrypted message handed to the crypto engine for persistence. For
// direct messages GroupID is empty; for group messages ConversationID is empty.
type IncomingMessage struct {
	ID             string
	FromDID        string
	ConversationID string
	GroupID        string
	ThreadID       string
	Plaintext      string
	Timestamp      int64
}

// IncomingRequest is a friend request pending a local decision.
type IncomingRequest struct {
	ID        string
	FromDID   string
	Message   string
	Keys      wire.FriendKeys
	Timestamp int64
}

// IncomingInvite is a group invite pending a local decision.
type IncomingInvite struct {
	ID        string
	GroupID   string
	GroupName string
	FromDID   string
	Key       string
	Timestamp int64
}

// CryptoEngine is the identity and storage side of the client. The protocol layer never
// touches key material or the local database itself; it calls through this interface and
// treats every error as recoverable for the envelope being handled.
//
// Persistence methods are required to be idempotent on their natural id: persisting the
// same message, request or invite twice stores it once. Offline replay depends on this.
type CryptoEngine interface {
	// Decrypt decrypts direct-message content from a peer.
	Decrypt(ctx context.Context, fromDID string, content string) (string, error)

	// PersistIncomingMessage stores a decrypted message.
	PersistIncomingMessage(ctx context.Context, msg *IncomingMessage) error

	// PersistIncomingRequest stores a friend request in pending status.
	PersistIncomingRequest(ctx context.Context, req *IncomingRequest) error

	// AddFriend records a peer as a friend using the keys carried in their response.
	AddFriend(ctx context.Context, did string, keys wire.FriendKeys) error

	// PersistGroupInvite stores a group invite in pending status.
	PersistGroupInvite(ctx context.Context, invite *IncomingInvite) error

	// UpdateMessageStatus sets the delivery status of a locally known message.
	UpdateMessageStatus(ctx context.Context, messageID, status string) error

	// GroupKeyVersion reports the newest key version stored for a group, zero if none.
	GroupKeyVersion(ctx context.Context, groupID string) (uint32, error)

	// ImportGroupKey stores new key material for a group at the given version.
	ImportGroupKey(ctx context.Context, groupID string, keyVersion uint32, key string) error

	// DecryptGroupMessage decrypts group content under the named key version, which is not
	// necessarily the newest one stored.
	DecryptGroupMessage(ctx context.Context, groupID string, keyVersion uint32, content string) (string, error)

	// AddGroupMember records a member as part of a group.
	AddGroupMember(ctx context.Context, groupID, memberDID string) error
}
