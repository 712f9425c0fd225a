package backplane

import (
	"context"
	"sync"

	"studytracker/cmd/internal/relay"
)

// MemoryBus is an in-process backplane shared by several relays in one process.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[int]chan relay.Message
	next int
}

// NewMemoryBus constructs an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]chan relay.Message)}
}

// Backplane returns a relay.Backplane attached to the bus.
func (b *MemoryBus) Backplane() relay.Backplane {
	return &memoryBackplane{bus: b}
}

func (b *MemoryBus) publish(m relay.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- m:
		default:
			// At-most-once: a lagging subscriber loses the message.
		}
	}
}

func (b *MemoryBus) subscribe() (int, <-chan relay.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan relay.Message, 1024)
	b.subs[id] = ch
	return id, ch
}

func (b *MemoryBus) unsubscribe(id int) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

type memoryBackplane struct {
	bus *MemoryBus
}

func (p *memoryBackplane) Publish(ctx context.Context, m relay.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Payload = append([]byte(nil), m.Payload...)
	p.bus.publish(m)
	return nil
}

func (p *memoryBackplane) Subscribe(ctx context.Context, h func(relay.Message)) error {
	id, ch := p.bus.subscribe()
	defer p.bus.unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-ch:
			h(m)
		}
	}
}

func (p *memoryBackplane) Close() error { return nil }
