// This package provides a high-level interface to the umbra relay protocol client. It owns
// the relay connection for a single identity and exposes the commands a UI issues: sending
// messages, answering friend requests and driving group membership. Every protocol event is
// surfaced on a single updates channel.
//
// Encryption and local storage belong to the crypto engine supplied at construction; this
// layer moves ciphertext and protocol state, never key material.
package umbra

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/umbra-im/go-umbra/clock"
	"github.com/umbra-im/go-umbra/config"
	"github.com/umbra-im/go-umbra/ids"
	"github.com/umbra-im/go-umbra/relay"
	"github.com/umbra-im/go-umbra/wire"
	"go.uber.org/zap"
)

type Client struct {
	config     *config.Config
	log        *zap.SugaredLogger
	clock      clock.Clock
	did        string
	relay      *relay.Manager
	updates    chan interface{}
	sub        *relay.Subscription
	cancelFunc context.CancelFunc
	finished   sync.WaitGroup
	started    bool
	startLock  sync.Mutex
}

// NewClient makes a client for one identity. The did given here is registered on every
// connection the client opens.
func NewClient(c *config.Config, did string, engine relay.CryptoEngine) *Client {
	cl := clock.NewSystemClock()
	return &Client{
		config:  c,
		log:     c.Logger(""),
		clock:   cl,
		did:     did,
		relay:   relay.NewManager(c, cl, did, engine, nil),
		updates: make(chan interface{}, 100),
	}
}

// DID is the identity this client connects as.
func (c *Client) DID() string {
	return c.did
}

// Updates delivers relay events: state changes, received messages and requests, status
// transitions, typing indicators and call signals.
func (c *Client) Updates() chan interface{} {
	return c.updates
}

// ConnectionState reports the current relay connection state.
func (c *Client) ConnectionState() string {
	return c.relay.State()
}

// Connect opens the relay connection, registering this client's identity. Safe to call
// concurrently; only one socket is ever opened.
func (c *Client) Connect(ctx context.Context, url string) error {
	c.startLock.Lock()
	if !c.started {
		c.started = true
		c.sub = c.relay.Subscribe()
		updateCtx, cancelFunc := context.WithCancel(context.Background())
		c.cancelFunc = cancelFunc
		c.startUpdatePassing(updateCtx)
	}
	c.startLock.Unlock()
	return c.relay.Connect(ctx, url)
}

// Disconnect closes the relay connection but keeps the client usable for a later Connect.
func (c *Client) Disconnect() error {
	return c.relay.Disconnect()
}

// Shutdown disconnects and stops all client goroutines.
func (c *Client) Shutdown() error {
	errs := make([]string, 0)
	if err := c.relay.Shutdown(); err != nil {
		errs = append(errs, err.Error())
	}
	c.startLock.Lock()
	if c.started {
		c.cancelFunc()
		c.sub.Cancel()
		c.started = false
	}
	c.startLock.Unlock()
	c.finished.Wait()
	if len(errs) != 0 {
		return fmt.Errorf("error during shutdown: %s", strings.Join(errs, ", "))
	}
	return nil
}

func (c *Client) startUpdatePassing(ctx context.Context) {
	c.finished.Add(1)
	go func() {
		defer c.finished.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-c.sub.C:
				c.log.Debugf("passing update: %#v", e)
				select {
				case <-ctx.Done():
					return
				case c.updates <- e:
				}
			}
		}
	}()
}

// SendMessage transmits an encrypted direct message and returns its id. The content is
// ciphertext produced by the crypto engine; the relay ack later moves the message from
// sending to sent.
func (c *Client) SendMessage(ctx context.Context, toDID, conversationID, content string) (string, error) {
	return c.sendChat(ctx, toDID, conversationID, "", content)
}

// ReplyInThread transmits a direct message scoped to a thread, keeping it off the main
// timeline on the receiving side.
func (c *Client) ReplyInThread(ctx context.Context, toDID, conversationID, threadID, content string) (string, error) {
	return c.sendChat(ctx, toDID, conversationID, threadID, content)
}

func (c *Client) sendChat(ctx context.Context, toDID, conversationID, threadID, content string) (string, error) {
	msg := &wire.ChatMessage{
		ID:             ids.NewMessageID(),
		FromDID:        c.did,
		ConversationID: conversationID,
		ThreadID:       threadID,
		Content:        content,
		Timestamp:      int64(c.clock.CurrentTimeSec()),
	}
	if err := c.relay.SendChatMessage(ctx, toDID, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// SendGroupMessage fans an encrypted group message out to every member, one transmission
// and one ack registration per member. keyVersion names the group key the content was
// encrypted under.
func (c *Client) SendGroupMessage(ctx context.Context, groupID string, memberDIDs []string, content string, keyVersion uint32) (string, error) {
	msg := &wire.GroupMessage{
		ID:         ids.NewMessageID(),
		GroupID:    groupID,
		FromDID:    c.did,
		Content:    content,
		KeyVersion: keyVersion,
		Timestamp:  int64(c.clock.CurrentTimeSec()),
	}
	errs := make([]string, 0)
	for _, member := range memberDIDs {
		if err := c.relay.SendGroupMessage(ctx, member, msg); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", member, err))
		}
	}
	if len(errs) != 0 {
		return msg.ID, fmt.Errorf("sending group message: %s", strings.Join(errs, ", "))
	}
	return msg.ID, nil
}

// SendFriendRequest sends a friend request carrying this identity's public keys and
// returns the request id.
func (c *Client) SendFriendRequest(ctx context.Context, toDID, message string, keys wire.FriendKeys) (string, error) {
	req := &wire.FriendRequest{
		ID:        ids.NewMessageID(),
		FromDID:   c.did,
		Message:   message,
		Keys:      keys,
		Timestamp: int64(c.clock.CurrentTimeSec()),
	}
	if err := c.relay.SendEnvelope(ctx, toDID, req); err != nil {
		return "", err
	}
	return req.ID, nil
}

// RespondToFriendRequest answers a pending friend request. Accepting carries this
// identity's keys so the requester can add us; the friendship is only synced once their
// accept ack comes back.
func (c *Client) RespondToFriendRequest(ctx context.Context, toDID, requestID string, accept bool, keys *wire.FriendKeys) error {
	resp := &wire.FriendResponse{
		RequestID: requestID,
		FromDID:   c.did,
		Accepted:  accept,
		Keys:      keys,
	}
	return c.relay.SendEnvelope(ctx, toDID, resp)
}

// InviteToGroup sends a group invite and returns the invite id.
func (c *Client) InviteToGroup(ctx context.Context, toDID, groupID, groupName, key string) (string, error) {
	invite := &wire.GroupInvite{
		ID:        ids.NewMessageID(),
		GroupID:   groupID,
		GroupName: groupName,
		FromDID:   c.did,
		Key:       key,
		Timestamp: int64(c.clock.CurrentTimeSec()),
	}
	if err := c.relay.SendEnvelope(ctx, toDID, invite); err != nil {
		return "", err
	}
	return invite.ID, nil
}

// AcceptGroupInvite announces this identity joining a group to the inviter.
func (c *Client) AcceptGroupInvite(ctx context.Context, toDID, groupID string) error {
	return c.relay.SendEnvelope(ctx, toDID, &wire.GroupInviteAccept{GroupID: groupID, MemberDID: c.did})
}

// DeclineGroupInvite announces this identity declining a group invite.
func (c *Client) DeclineGroupInvite(ctx context.Context, toDID, groupID string) error {
	return c.relay.SendEnvelope(ctx, toDID, &wire.GroupInviteDecline{GroupID: groupID, MemberDID: c.did})
}

// AnnounceKeyRotation fans a new group key out to the remaining members. Receivers apply it
// only if keyVersion is newer than what they hold.
func (c *Client) AnnounceKeyRotation(ctx context.Context, groupID string, memberDIDs []string, keyVersion uint32, key string) error {
	rot := &wire.GroupKeyRotation{GroupID: groupID, KeyVersion: keyVersion, Key: key}
	errs := make([]string, 0)
	for _, member := range memberDIDs {
		if err := c.relay.SendEnvelope(ctx, member, rot); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", member, err))
		}
	}
	if len(errs) != 0 {
		return fmt.Errorf("announcing key rotation: %s", strings.Join(errs, ", "))
	}
	return nil
}

// AnnounceMemberRemoved tells the remaining members someone left the group. Pair it with
// AnnounceKeyRotation; removal itself never changes key material.
func (c *Client) AnnounceMemberRemoved(ctx context.Context, groupID, removedDID string, memberDIDs []string) error {
	removed := &wire.GroupMemberRemoved{GroupID: groupID, MemberDID: removedDID}
	errs := make([]string, 0)
	for _, member := range memberDIDs {
		if err := c.relay.SendEnvelope(ctx, member, removed); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", member, err))
		}
	}
	if len(errs) != 0 {
		return fmt.Errorf("announcing member removal: %s", strings.Join(errs, ", "))
	}
	return nil
}

// SendTypingIndicator reports this identity typing or not in a conversation. Peers infer a
// stop on their own after a quiet window, so senders only need to refresh while typing.
func (c *Client) SendTypingIndicator(ctx context.Context, toDID, conversationID string, isTyping bool) error {
	ti := &wire.TypingIndicator{ConversationID: conversationID, FromDID: c.did, IsTyping: isTyping}
	return c.relay.SendEnvelope(ctx, toDID, ti)
}

// SendReadReceipt marks a peer's message read on their side.
func (c *Client) SendReadReceipt(ctx context.Context, toDID, messageID string) error {
	return c.relay.SendEnvelope(ctx, toDID, &wire.MessageStatus{MessageID: messageID, Status: wire.StatusRead})
}

// PendingAckCount reports transmissions still awaiting a relay ack.
func (c *Client) PendingAckCount() int {
	return c.relay.PendingAckCount()
}
