package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/domain"
)

// DefaultRedeliverAfter is how long a delivery may stay unacknowledged
// before the subscriber gets it again.
const DefaultRedeliverAfter = 5 * time.Second

// EventBus delivers resolution events over a buffered channel. Deliveries
// that are not acknowledged within RedeliverAfter are handed out again, so a
// subscriber that failed to handle an event sees it once more. Nothing
// survives the process.
type EventBus struct {
	events chan domain.TaskResolvedEvent

	RedeliverAfter time.Duration
}

func NewEventBus(buffer int) *EventBus {
	return &EventBus{
		events:         make(chan domain.TaskResolvedEvent, buffer),
		RedeliverAfter: DefaultRedeliverAfter,
	}
}

func (b *EventBus) PublishTaskResolved(ctx context.Context, event domain.TaskResolvedEvent) error {
	select {
	case b.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type inFlight struct {
	event       domain.TaskResolvedEvent
	deliveredAt time.Time
}

// unacked tracks the deliveries of one subscription.
type unacked struct {
	mu      sync.Mutex
	seq     uint64
	pending map[uint64]inFlight
}

func (u *unacked) add(event domain.TaskResolvedEvent) uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.seq++
	u.pending[u.seq] = inFlight{event: event, deliveredAt: time.Now()}
	return u.seq
}

func (u *unacked) ack(id uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.pending, id)
}

// takeStale removes and returns, oldest first, the events delivered before
// cutoff.
func (u *unacked) takeStale(cutoff time.Time) []domain.TaskResolvedEvent {
	u.mu.Lock()
	defer u.mu.Unlock()

	var ids []uint64
	for id, f := range u.pending {
		if f.deliveredAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	events := make([]domain.TaskResolvedEvent, 0, len(ids))
	for _, id := range ids {
		events = append(events, u.pending[id].event)
		delete(u.pending, id)
	}
	return events
}

func (b *EventBus) SubscribeToResolutions(ctx context.Context) (<-chan ports.Delivery, error) {
	out := make(chan ports.Delivery)
	redeliverAfter := b.RedeliverAfter
	if redeliverAfter <= 0 {
		redeliverAfter = DefaultRedeliverAfter
	}

	go func() {
		defer close(out)

		u := &unacked{pending: make(map[uint64]inFlight)}
		deliver := func(event domain.TaskResolvedEvent) bool {
			id := u.add(event)
			d := ports.Delivery{
				Event: event,
				Ack: func(context.Context) error {
					u.ack(id)
					return nil
				},
			}
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		ticker := time.NewTicker(redeliverAfter / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-b.events:
				if !deliver(event) {
					return
				}
			case now := <-ticker.C:
				for _, event := range u.takeStale(now.Add(-redeliverAfter)) {
					if !deliver(event) {
						return
					}
				}
			}
		}
	}()
	return out, nil
}
