package relay

import (
	"context"

	"github.com/umbra-im/go-umbra/wire"
)

// requestOffline asks the relay for everything it queued while this identity was away. It
// is called once per connection, right after registration is confirmed.
func (m *Manager) requestOffline(ctx context.Context) {
	frame, err := wire.EncodeFetchOffline()
	if err != nil {
		m.log.Warnf("encoding offline fetch: %v", err)
		return
	}
	if err := m.send(ctx, frame); err != nil {
		m.log.Warnf("requesting offline messages: %v", err)
	}
}

// replayOffline feeds a queued batch through the same per-envelope handling as live
// traffic, in the order the relay returns it. Handlers are idempotent, so a message
// delivered live and again here has no extra effect.
func (m *Manager) replayOffline(ctx context.Context, batch *wire.OfflineMessages) {
	m.log.Debugf("replaying %d offline messages", len(batch.Messages))
	for i := range batch.Messages {
		om := &batch.Messages[i]
		m.dispatchEnvelope(ctx, om.FromDID, []byte(om.Payload))
	}
	m.broadcast(&OfflineReplayed{Count: len(batch.Messages)})
}
