package relay

import "sync"

// pendingAcks tracks locally sent message ids awaiting a relay ack. The relay acks sends in
// transmission order on a single connection, so correlation is positional: the oldest entry
// resolves on each ack. The queue is connection-scoped and cleared on disconnect.
type pendingAcks struct {
	lock sync.Mutex
	ids  []string
}

func newPendingAcks() *pendingAcks {
	return &pendingAcks{ids: make([]string, 0)}
}

// register appends one entry per physical transmission. A group message fanned out to N
// members registers N times.
func (p *pendingAcks) register(id string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.ids = append(p.ids, id)
}

func (p *pendingAcks) pop() (string, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if len(p.ids) == 0 {
		return "", false
	}
	id := p.ids[0]
	p.ids = p.ids[1:]
	return id, true
}

func (p *pendingAcks) reset() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.ids = p.ids[:0]
}

func (p *pendingAcks) count() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.ids)
}
