// Package bus is the process-wide "patients changed" broadcast. A signal
// carries no payload: receivers re-derive what they show from the store or
// trigger a refresh. There is no queue and no replay, so a subscriber only
// sees signals published after it subscribed.
package bus

import (
	"sort"
	"sync"
)

// PatientsChanged is the signal name shared with other desk processes.
const PatientsChanged = "patientsChanged"

// Handler is called synchronously by Publish. Handlers that do I/O must hand
// the work off to their own goroutine.
type Handler func()

type Bus struct {
	mu       sync.RWMutex
	next     uint64
	subs     map[uint64]Handler
	outbound []Handler
}

func New() *Bus {
	return &Bus{subs: make(map[uint64]Handler)}
}

// Subscribe registers h and returns the function that removes it. Calling
// the returned function more than once is harmless.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish notifies every local subscriber, then every outbound relay.
func (b *Bus) Publish() {
	b.deliver()

	b.mu.RLock()
	relays := append([]Handler(nil), b.outbound...)
	b.mu.RUnlock()
	for _, r := range relays {
		r()
	}
}

// Subscribers returns how many handlers are registered.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// deliver runs local handlers in subscription order, outside the lock so a
// handler may subscribe or unsubscribe.
func (b *Bus) deliver() {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h()
	}
}

func (b *Bus) addOutbound(h Handler) {
	b.mu.Lock()
	b.outbound = append(b.outbound, h)
	b.mu.Unlock()
}
