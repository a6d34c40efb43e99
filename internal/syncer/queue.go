package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentworkforce/tasksync/internal/document"
	"github.com/agentworkforce/tasksync/internal/kvstore"
)

const (
	QueueKey             = "tasksync:pending-operations"
	DefaultQueueCapacity = 500
)

var ErrQueueFull = errors.New("offline queue is full")

// PendingOperation is a write intent captured while the remote could not be
// reached. Document is a deep copy taken when the write was attempted.
type PendingOperation struct {
	ID        string            `json:"id"`
	Label     string            `json:"operationLabel"`
	Timestamp time.Time         `json:"timestamp"`
	Document  document.Document `json:"documentSnapshot"`
}

type offlineQueueState struct {
	Items []PendingOperation `json:"items"`
}

// OfflineQueue is a durable FIFO of pending operations stored under a single
// key. Every mutation re-reads the stored list and writes it back in one
// kvstore.Update, so processes sharing the store see each other's entries.
// Depth and Snapshot report the list as of the last store access; Refresh
// reloads it.
type OfflineQueue struct {
	store    kvstore.Store
	key      string
	capacity int
	mu       sync.Mutex
	items    []PendingOperation
}

func NewOfflineQueue(ctx context.Context, store kvstore.Store, capacity int) (*OfflineQueue, error) {
	if store == nil {
		return nil, kvstore.ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &OfflineQueue{
		store:    store,
		key:      QueueKey,
		capacity: capacity,
		items:    []PendingOperation{},
	}
	if err := q.Refresh(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *OfflineQueue) Enqueue(ctx context.Context, op PendingOperation) error {
	op.Document = op.Document.Clone()
	return q.update(ctx, func(items []PendingOperation) ([]PendingOperation, error) {
		if len(items) >= q.capacity {
			return nil, ErrQueueFull
		}
		return append(items, op), nil
	})
}

// PopFront removes and returns the oldest operation. ok is false when the
// queue is empty.
func (q *OfflineQueue) PopFront(ctx context.Context) (op PendingOperation, ok bool, err error) {
	err = q.update(ctx, func(items []PendingOperation) ([]PendingOperation, error) {
		op, ok = PendingOperation{}, false
		if len(items) == 0 {
			return items, nil
		}
		op, ok = items[0], true
		return items[1:], nil
	})
	if err != nil {
		return PendingOperation{}, false, err
	}
	return op, ok, nil
}

// PushFront puts an operation back at the head, ahead of everything queued
// after it. Capacity is not enforced: the item was already counted.
func (q *OfflineQueue) PushFront(ctx context.Context, op PendingOperation) error {
	return q.update(ctx, func(items []PendingOperation) ([]PendingOperation, error) {
		return append([]PendingOperation{op}, items...), nil
	})
}

func (q *OfflineQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *OfflineQueue) Capacity() int {
	return q.capacity
}

func (q *OfflineQueue) Snapshot() []PendingOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingOperation, 0, len(q.items))
	for _, item := range q.items {
		item.Document = item.Document.Clone()
		out = append(out, item)
	}
	return out
}

func (q *OfflineQueue) Clear(ctx context.Context) error {
	return q.update(ctx, func([]PendingOperation) ([]PendingOperation, error) {
		return []PendingOperation{}, nil
	})
}

// Refresh reloads the list from the store without writing it.
func (q *OfflineQueue) Refresh(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, err := q.store.Get(ctx, q.key)
	if errors.Is(err, kvstore.ErrNotFound) {
		q.items = []PendingOperation{}
		return nil
	}
	if err != nil {
		return err
	}
	items, err := q.decode(data)
	if err != nil {
		return err
	}
	q.items = items
	return nil
}

// update runs edit against the stored list and persists the result. edit may
// run more than once and must not keep state between calls.
func (q *OfflineQueue) update(ctx context.Context, edit func(items []PendingOperation) ([]PendingOperation, error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var next []PendingOperation
	err := kvstore.Update(ctx, q.store, q.key, func(current []byte, found bool) ([]byte, error) {
		items := []PendingOperation{}
		if found {
			decoded, err := q.decode(current)
			if err != nil {
				return nil, err
			}
			items = decoded
		}
		edited, err := edit(items)
		if err != nil {
			return nil, err
		}
		next = edited
		return json.Marshal(offlineQueueState{Items: edited})
	})
	if err != nil {
		return err
	}
	q.items = append([]PendingOperation{}, next...)
	return nil
}

// decode keeps the newest capacity entries of an oversized list.
func (q *OfflineQueue) decode(data []byte) ([]PendingOperation, error) {
	var snapshot offlineQueueState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode offline queue: %w", err)
	}
	for i := range snapshot.Items {
		snapshot.Items[i].Document = snapshot.Items[i].Document.Normalize()
	}
	if len(snapshot.Items) > q.capacity {
		snapshot.Items = snapshot.Items[len(snapshot.Items)-q.capacity:]
	}
	return append([]PendingOperation{}, snapshot.Items...), nil
}
