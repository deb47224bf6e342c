package notify

import (
	"context"
	"sync"

	"doccontrol/internal/model"
)

// Broker pushes freshly written notifications to live subscribers.
// Delivery is best effort; the inbox in the store stays authoritative.
type Broker interface {
	Publish(ctx context.Context, n model.Notification) error
	// Subscribe streams notifications for userID until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, userID string) (<-chan model.Notification, error)
}

const subscriberBuffer = 16

// MemoryBroker is an in-process Broker for single-instance deployments and tests.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.Notification]struct{}
}

// NewMemoryBroker creates an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[chan model.Notification]struct{})}
}

// Publish hands n to every subscriber of its recipient. Slow subscribers miss
// messages instead of blocking the publisher.
func (b *MemoryBroker) Publish(_ context.Context, n model.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[n.UserID] {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, userID string) (<-chan model.Notification, error) {
	ch := make(chan model.Notification, subscriberBuffer)

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan model.Notification]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[userID], ch)
		if len(b.subs[userID]) == 0 {
			delete(b.subs, userID)
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}
