package memory

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of task refs.
type Queue struct {
	mu     sync.Mutex
	items  []string
	signal chan struct{}
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

func (q *Queue) Push(ctx context.Context, ref string) error {
	q.mu.Lock()
	q.items = append(q.items, ref)
	q.mu.Unlock()
	q.notify()
	return nil
}

func (q *Queue) Pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ref := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.notify()
			}
			return ref, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.signal:
		}
	}
}

// Len is the number of refs waiting to be popped.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
