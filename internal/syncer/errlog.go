package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentworkforce/tasksync/internal/kvstore"
	"github.com/agentworkforce/tasksync/internal/remote"
)

const (
	ErrorLogKey             = "tasksync:error-log"
	DefaultErrorLogCapacity = 50
)

type ErrorEntry struct {
	Time     time.Time   `json:"time"`
	Mode     remote.Mode `json:"mode"`
	Op       string      `json:"op"`
	Kind     remote.Kind `json:"kind"`
	Message  string      `json:"message"`
	Surfaced bool        `json:"surfaced"`
}

// ErrorLog keeps the most recent failures; the oldest entry is evicted once
// the cap is reached.
type ErrorLog struct {
	store    kvstore.Store
	capacity int
	mu       sync.Mutex
	entries  []ErrorEntry
}

func NewErrorLog(ctx context.Context, store kvstore.Store, capacity int) (*ErrorLog, error) {
	if store == nil {
		return nil, kvstore.ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = DefaultErrorLogCapacity
	}
	l := &ErrorLog{store: store, capacity: capacity, entries: []ErrorEntry{}}
	data, err := store.Get(ctx, ErrorLogKey)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return l, nil
	case err != nil:
		return nil, err
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		return nil, fmt.Errorf("decode error log: %w", err)
	}
	if len(l.entries) > capacity {
		l.entries = append([]ErrorEntry(nil), l.entries[len(l.entries)-capacity:]...)
	}
	return l, nil
}

func (l *ErrorLog) Record(ctx context.Context, entry ErrorEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if overflow := len(l.entries) - l.capacity; overflow > 0 {
		l.entries = append([]ErrorEntry(nil), l.entries[overflow:]...)
	}
	data, err := json.Marshal(l.entries)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, ErrorLogKey, data)
}

func (l *ErrorLog) Entries() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ErrorEntry(nil), l.entries...)
}

func (l *ErrorLog) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = []ErrorEntry{}
	return l.store.Delete(ctx, ErrorLogKey)
}
