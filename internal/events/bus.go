// Package events implements the §6 outbound event surface: a
// lightweight typed pub/sub bus the playback core publishes telemetry
// and state-change notifications to, for whatever front-end
// subscribes (UI, CLI, a remote bridge).
package events

import "sync"

// Event type names match spec §6's outbound event taxonomy verbatim.
const (
	PlaybackState    = "playback:state"
	PrefetchStarted  = "prefetch:started"
	PrefetchComplete = "prefetch:complete"
	PrefetchFailed   = "prefetch:failed"
	RadioSelected    = "radio:selected"
	RadioExhausted   = "radio:exhausted"
	CacheInserted    = "cache:inserted"
	CacheEvicted     = "cache:evicted"
	CacheSpilled     = "cache:spilled"
)

type Handler func(data interface{})

type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish is a no-op on a nil *Bus so every publishing callsite can
// call bus.Publish(...) unconditionally without a nil guard.
func (b *Bus) Publish(eventType string, data interface{}) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]Handler{}, b.subscribers[eventType]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		go h(data)
	}
}
