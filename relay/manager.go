// This package implements the protocol client for an umbra relay. A Manager owns one
// WebSocket connection at a time, registers the caller's identity on it, routes every
// inbound envelope to a handler, tracks outbound acknowledgements and replays messages the
// relay queued while the client was offline.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/umbra-im/go-umbra/clock"
	"github.com/umbra-im/go-umbra/config"
	"github.com/umbra-im/go-umbra/wire"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("relay: not connected")

const reconnectBaseWait = 200 * time.Millisecond

// reconnectWait doubles the base per failed attempt and saturates at maxWait. Doubling
// stops as soon as the wait reaches maxWait, so large attempt counts cannot wrap the
// duration negative.
func reconnectWait(attempt int, maxWait time.Duration) time.Duration {
	wait := reconnectBaseWait
	for i := 0; i < attempt && wait < maxWait; i++ {
		wait *= 2
	}
	if wait > maxWait {
		wait = maxWait
	}
	return wait
}

// Conn is the subset of the WebSocket connection the manager uses. *websocket.Conn
// satisfies it; tests substitute a scripted implementation.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a connection to a relay URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

func websocketDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Subscription is a handle on the manager's event stream. Every subscriber sees every
// event; cancel it when done or the channel buffer eventually overflows and drops.
type Subscription struct {
	C  chan interface{}
	id int
	m  *Manager
}

func (s *Subscription) Cancel() {
	s.m.unsubscribe(s.id)
}

type acceptAck struct {
	toDID string
	ack   *wire.FriendAcceptAck
}

type Manager struct {
	config *config.Config
	log    *zap.SugaredLogger
	clock  clock.Clock
	did    string
	engine CryptoEngine
	dial   Dialer

	stateLock    sync.Mutex
	state        string
	conn         Conn
	connCancel   context.CancelFunc
	connecting   bool
	connectDone  chan struct{}
	connectErr   error
	url          string
	closing      bool
	closeCh      chan struct{}
	reconnecting bool

	writeLock sync.Mutex

	subLock sync.Mutex
	subs    map[int]chan interface{}
	nextSub int

	pending *pendingAcks
	typing  *typingTracker

	friendLock   sync.Mutex
	acceptedReqs map[string]bool
	ackQueue     map[string]*acceptAck

	finished sync.WaitGroup
}

// NewManager makes a relay manager for a fixed identity. The identity given here is the one
// registered on every connection; it never changes mid-session. A nil dialer uses the
// WebSocket dialer.
func NewManager(c *config.Config, cl clock.Clock, did string, engine CryptoEngine, dial Dialer) *Manager {
	if dial == nil {
		dial = websocketDialer
	}
	m := &Manager{
		config:       c,
		log:          c.Logger("relay/manager"),
		clock:        cl,
		did:          did,
		engine:       engine,
		dial:         dial,
		state:        StateIdle,
		closeCh:      make(chan struct{}),
		subs:         make(map[int]chan interface{}),
		pending:      newPendingAcks(),
		acceptedReqs: make(map[string]bool),
		ackQueue:     make(map[string]*acceptAck),
	}
	m.typing = newTypingTracker(cl, time.Duration(c.TypingTimeoutMs)*time.Millisecond, func(conversationID, fromDID string) {
		m.broadcast(&TypingStopped{ConversationID: conversationID, FromDID: fromDID})
	})
	return m
}

// DID is the identity this manager registers as.
func (m *Manager) DID() string {
	return m.did
}

func (m *Manager) State() string {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	return m.state
}

func (m *Manager) Subscribe() *Subscription {
	m.subLock.Lock()
	defer m.subLock.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan interface{}, 100)
	m.subs[id] = ch
	return &Subscription{C: ch, id: id, m: m}
}

func (m *Manager) unsubscribe(id int) {
	m.subLock.Lock()
	defer m.subLock.Unlock()
	delete(m.subs, id)
}

func (m *Manager) broadcast(e interface{}) {
	m.subLock.Lock()
	defer m.subLock.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- e:
		default:
			m.log.Warnf("dropping event %T for slow subscriber %d", e, id)
		}
	}
}

func (m *Manager) setStateLocked(state, errMsg string) {
	m.state = state
	m.broadcast(&StateUpdate{State: state, Err: errMsg})
}

func (m *Manager) setState(state, errMsg string) {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	m.setStateLocked(state, errMsg)
}

// Connect opens the relay connection and registers on it. If a connection is already open
// it returns immediately; if another Connect is in flight it waits for that attempt and
// returns its result rather than racing a second socket.
func (m *Manager) Connect(ctx context.Context, url string) error {
	m.stateLock.Lock()
	if m.conn != nil {
		m.stateLock.Unlock()
		return nil
	}
	if m.connecting {
		done := m.connectDone
		m.stateLock.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.stateLock.Lock()
		err := m.connectErr
		m.stateLock.Unlock()
		return err
	}
	m.connecting = true
	m.connectDone = make(chan struct{})
	if m.closing {
		m.closing = false
		m.closeCh = make(chan struct{})
	}
	m.url = url
	m.setStateLocked(StateConnecting, "")
	m.stateLock.Unlock()

	err := m.connect(ctx, url)

	m.stateLock.Lock()
	m.connecting = false
	m.connectErr = err
	close(m.connectDone)
	m.stateLock.Unlock()
	return err
}

func (m *Manager) connect(ctx context.Context, url string) error {
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(m.config.ConnectTimeoutMs)*time.Millisecond)
	defer cancel()

	m.log.Debugf("connecting to %s as %s", url, m.did)
	conn, err := m.dial(dialCtx, url)
	if err != nil {
		m.setState(StateError, err.Error())
		m.maybeReconnect()
		return fmt.Errorf("relay: dialing %s: %w", url, err)
	}

	reg, err := wire.EncodeRegister(m.did)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "register encode failed")
		m.setState(StateError, err.Error())
		return err
	}
	if err := conn.Write(dialCtx, websocket.MessageText, reg); err != nil {
		conn.Close(websocket.StatusInternalError, "register failed")
		m.setState(StateError, err.Error())
		m.maybeReconnect()
		return fmt.Errorf("relay: sending register: %w", err)
	}

	// Read until the relay confirms registration. The read loop isn't running yet so we
	// read directly here.
	for {
		_, data, err := conn.Read(dialCtx)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "registration read failed")
			m.setState(StateError, err.Error())
			m.maybeReconnect()
			return fmt.Errorf("relay: awaiting registration: %w", err)
		}
		msg, err := wire.ParseServerMessage(data)
		if err != nil {
			m.log.Debugf("dropping pre-registration frame: %v", err)
			continue
		}
		if e, ok := msg.(*wire.ErrorMessage); ok {
			conn.Close(websocket.StatusNormalClosure, "registration refused")
			m.setState(StateError, e.Message)
			return fmt.Errorf("relay: registration refused: %s", e.Message)
		}
		if _, ok := msg.(*wire.Registered); ok {
			break
		}
		m.log.Debugf("ignoring %T before registration", msg)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	m.stateLock.Lock()
	if m.closing {
		// disconnected while the handshake was in flight
		m.stateLock.Unlock()
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return ErrNotConnected
	}
	m.conn = conn
	m.connCancel = connCancel
	m.setStateLocked(StateRegistered, "")
	m.setStateLocked(StateConnected, "")
	m.stateLock.Unlock()

	m.finished.Add(1)
	go m.readLoop(connCtx, conn)
	if m.config.PingIntervalMs > 0 {
		m.finished.Add(1)
		go m.pinger(connCtx)
	}

	// Retry accept confirmations that never made it out, then ask for everything queued
	// while we were away. Replay is requested exactly once per connection.
	m.flushAcceptAcks(connCtx)
	m.requestOffline(connCtx)
	return nil
}

// Disconnect closes the socket and resets all connection-scoped state. Messages still
// awaiting an ack revert to unconfirmed; the queue does not survive the connection.
func (m *Manager) Disconnect() error {
	m.stateLock.Lock()
	wasClosing := m.closing
	m.closing = true
	conn := m.conn
	m.conn = nil
	cancel := m.connCancel
	m.connCancel = nil
	if !wasClosing {
		close(m.closeCh)
	}
	m.setStateLocked(StateClosed, "")
	m.stateLock.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			m.log.Debugf("error closing connection: %v", err)
		}
	}
	m.pending.reset()
	m.typing.reset()
	return nil
}

// Shutdown disconnects and waits for all goroutines to drain.
func (m *Manager) Shutdown() error {
	if err := m.Disconnect(); err != nil {
		return err
	}
	m.finished.Wait()
	return nil
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	defer m.finished.Done()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.handleReadError(conn, err)
			return
		}
		m.handleFrame(ctx, data)
	}
}

func (m *Manager) handleReadError(conn Conn, err error) {
	m.stateLock.Lock()
	if m.conn != conn {
		// a superseded socket's callback; the active connection already moved on
		m.stateLock.Unlock()
		return
	}
	m.conn = nil
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	closing := m.closing
	m.stateLock.Unlock()

	// connection-scoped state goes first so observers of the state change see it cleared
	m.pending.reset()
	m.typing.reset()

	if closing {
		m.setState(StateClosed, "")
		return
	}
	m.log.Warnf("connection error: %v", err)
	m.setState(StateError, err.Error())
	m.maybeReconnect()
}

func (m *Manager) handleFrame(ctx context.Context, data []byte) {
	msg, err := wire.ParseServerMessage(data)
	if err != nil {
		m.log.Debugf("dropping control frame: %v", err)
		return
	}
	switch v := msg.(type) {
	case *wire.Message:
		m.dispatchEnvelope(ctx, v.FromDID, []byte(v.Payload))
	case *wire.OfflineMessages:
		m.replayOffline(ctx, v)
	case *wire.Ack:
		m.handleAck(ctx, v)
	case *wire.Pong:
	case *wire.Registered:
		m.log.Debugf("duplicate registration confirmation for %s", v.DID)
	case *wire.ErrorMessage:
		m.log.Warnf("relay error: %s", v.Message)
	}
}

func (m *Manager) send(ctx context.Context, data []byte) error {
	return m.transmit(ctx, data, "")
}

// transmit writes one frame to the live connection. A non-empty id is registered for ack
// correlation inside the write critical section, so the pending queue order always matches
// transmission order even under concurrent senders.
func (m *Manager) transmit(ctx context.Context, data []byte, id string) error {
	m.stateLock.Lock()
	conn := m.conn
	m.stateLock.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(m.config.RequestTimeoutMs)*time.Millisecond)
	defer cancel()
	m.writeLock.Lock()
	defer m.writeLock.Unlock()
	if err := conn.Write(reqCtx, websocket.MessageText, data); err != nil {
		return err
	}
	if id != "" {
		m.pending.register(id)
	}
	return nil
}

func encodeSendFrame(toDID string, env wire.Envelope) ([]byte, error) {
	payload, err := wire.EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	return wire.EncodeSend(toDID, string(payload))
}

// SendEnvelope wraps an envelope for a peer and transmits it through the relay.
func (m *Manager) SendEnvelope(ctx context.Context, toDID string, env wire.Envelope) error {
	frame, err := encodeSendFrame(toDID, env)
	if err != nil {
		return err
	}
	return m.send(ctx, frame)
}

// SendChatMessage transmits a chat envelope and registers it for ack correlation.
func (m *Manager) SendChatMessage(ctx context.Context, toDID string, msg *wire.ChatMessage) error {
	frame, err := encodeSendFrame(toDID, msg)
	if err != nil {
		return err
	}
	return m.transmit(ctx, frame, msg.ID)
}

// SendGroupMessage transmits one copy of a group envelope. Fanning out to N members means
// calling this N times, producing N ack registrations.
func (m *Manager) SendGroupMessage(ctx context.Context, toDID string, msg *wire.GroupMessage) error {
	frame, err := encodeSendFrame(toDID, msg)
	if err != nil {
		return err
	}
	return m.transmit(ctx, frame, msg.ID)
}

// PendingAckCount reports how many transmissions are awaiting a relay ack.
func (m *Manager) PendingAckCount() int {
	return m.pending.count()
}

func (m *Manager) pinger(ctx context.Context) {
	defer m.finished.Done()
	ticker := time.NewTicker(time.Duration(m.config.PingIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping, err := wire.EncodePing()
			if err != nil {
				continue
			}
			if err := m.send(ctx, ping); err != nil {
				m.log.Debugf("ping failed: %v", err)
			}
		}
	}
}

func (m *Manager) maybeReconnect() {
	if !m.config.Reconnect {
		return
	}
	m.stateLock.Lock()
	if m.closing || m.conn != nil || m.reconnecting {
		m.stateLock.Unlock()
		return
	}
	m.reconnecting = true
	url := m.url
	closeCh := m.closeCh
	m.stateLock.Unlock()

	m.finished.Add(1)
	go func() {
		defer m.finished.Done()
		defer func() {
			m.stateLock.Lock()
			m.reconnecting = false
			m.stateLock.Unlock()
		}()
		maxWait := time.Duration(m.config.ReconnectMaxWaitMs) * time.Millisecond
		for i := 0; ; i++ {
			t := reconnectWait(i, maxWait)
			m.log.Debugf("reconnecting in %v", t)
			select {
			case <-closeCh:
				return
			case <-time.After(t):
			}
			m.stateLock.Lock()
			done := m.closing || m.conn != nil
			m.stateLock.Unlock()
			if done {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Duration(m.config.ConnectTimeoutMs)*time.Millisecond)
			err := m.Connect(ctx, url)
			cancel()
			if err == nil {
				return
			}
			m.log.Debugf("reconnect attempt %d failed: %v", i+1, err)
		}
	}()
}
