package relay

import (
	"sync"
	"time"

	"github.com/umbra-im/go-umbra/clock"
)

type typingKey struct {
	conversationID string
	fromDID        string
}

// typingTracker holds a timer per (conversation, sender). The wire protocol never sends a
// stop after silence, so each isTyping update resets the timer and expiry produces a
// synthetic stop through the expired callback.
type typingTracker struct {
	clock   clock.Clock
	window  time.Duration
	expired func(conversationID, fromDID string)

	lock   sync.Mutex
	timers map[typingKey]clock.Timer
}

func newTypingTracker(cl clock.Clock, window time.Duration, expired func(conversationID, fromDID string)) *typingTracker {
	return &typingTracker{
		clock:   cl,
		window:  window,
		expired: expired,
		timers:  make(map[typingKey]clock.Timer),
	}
}

// update applies one typing indicator. started is true when the sender newly became typing,
// stopped is true when an explicit false ended a tracked typing state.
func (t *typingTracker) update(conversationID, fromDID string, isTyping bool) (started, stopped bool) {
	key := typingKey{conversationID, fromDID}
	t.lock.Lock()
	defer t.lock.Unlock()

	timer, tracked := t.timers[key]
	if isTyping {
		if tracked {
			timer.Reset(t.window)
			return false, false
		}
		t.timers[key] = t.clock.AfterFunc(t.window, func() {
			t.expire(key)
		})
		return true, false
	}

	if !tracked {
		return false, false
	}
	timer.Stop()
	delete(t.timers, key)
	return false, true
}

func (t *typingTracker) expire(key typingKey) {
	t.lock.Lock()
	if _, ok := t.timers[key]; !ok {
		t.lock.Unlock()
		return
	}
	delete(t.timers, key)
	t.lock.Unlock()
	t.expired(key.conversationID, key.fromDID)
}

func (t *typingTracker) reset() {
	t.lock.Lock()
	defer t.lock.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}
