package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/agentworkforce/tasksync/internal/document"
	"github.com/agentworkforce/tasksync/internal/kvstore"
	"github.com/agentworkforce/tasksync/internal/remote"
)

func TestOfflineQueueFIFOWithPushFront(t *testing.T) {
	ctx := context.Background()
	storage := kvstore.NewMemoryStore()
	queue, err := NewOfflineQueue(ctx, storage, 10)
	if err != nil {
		t.Fatalf("new queue failed: %v", err)
	}
	for _, label := range []string{"A", "B", "C"} {
		if err := queue.Enqueue(ctx, PendingOperation{ID: label, Label: label, Document: docWithTab("t1", label)}); err != nil {
			t.Fatalf("enqueue %s failed: %v", label, err)
		}
	}
	first, ok, err := queue.PopFront(ctx)
	if err != nil || !ok || first.Label != "A" {
		t.Fatalf("expected A first, got %+v ok=%t err=%v", first, ok, err)
	}
	if err := queue.PushFront(ctx, first); err != nil {
		t.Fatalf("push front failed: %v", err)
	}

	reloaded, err := NewOfflineQueue(ctx, storage, 10)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	var order []string
	for {
		op, ok, err := reloaded.PopFront(ctx)
		if err != nil {
			t.Fatalf("pop failed: %v", err)
		}
		if !ok {
			break
		}
		order = append(order, op.Label)
		if !document.Equal(op.Document, docWithTab("t1", op.Label)) {
			t.Fatalf("snapshot for %s did not survive persistence", op.Label)
		}
	}
	if fmt.Sprint(order) != "[A B C]" {
		t.Fatalf("expected FIFO order after re-insert and reload, got %v", order)
	}
}

func TestOfflineQueueSnapshotsAreDeepCopies(t *testing.T) {
	ctx := context.Background()
	queue, err := NewOfflineQueue(ctx, kvstore.NewMemoryStore(), 10)
	if err != nil {
		t.Fatalf("new queue failed: %v", err)
	}
	doc := docWithTab("t1", "before")
	if err := queue.Enqueue(ctx, PendingOperation{Label: "edit", Document: doc}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	doc.Tabs[0].Name = "after"
	if got := queue.Snapshot()[0].Document.Tabs[0].Name; got != "before" {
		t.Fatalf("expected queued snapshot isolated from later edits, got %q", got)
	}
}

func TestOfflineQueueCapacity(t *testing.T) {
	ctx := context.Background()
	storage := kvstore.NewMemoryStore()
	queue, err := NewOfflineQueue(ctx, storage, 2)
	if err != nil {
		t.Fatalf("new queue failed: %v", err)
	}
	_ = queue.Enqueue(ctx, PendingOperation{Label: "1"})
	_ = queue.Enqueue(ctx, PendingOperation{Label: "2"})
	if err := queue.Enqueue(ctx, PendingOperation{Label: "3"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	oversized := offlineQueueState{Items: []PendingOperation{{Label: "old"}, {Label: "mid"}, {Label: "new"}}}
	data, _ := json.Marshal(oversized)
	if err := storage.Set(ctx, QueueKey, data); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	trimmed, err := NewOfflineQueue(ctx, storage, 2)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if items := trimmed.Snapshot(); len(items) != 2 || items[0].Label != "mid" || items[1].Label != "new" {
		t.Fatalf("expected oldest entry dropped on overflow, got %+v", items)
	}
}

func TestOfflineQueueSharedStorageStaysConsistent(t *testing.T) {
	ctx := context.Background()
	storage, err := kvstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	daemon, err := NewOfflineQueue(ctx, storage, 10)
	if err != nil {
		t.Fatalf("new queue failed: %v", err)
	}
	cli, err := NewOfflineQueue(ctx, storage, 10)
	if err != nil {
		t.Fatalf("new queue failed: %v", err)
	}

	if err := daemon.Enqueue(ctx, PendingOperation{ID: "a", Label: "A"}); err != nil {
		t.Fatalf("enqueue A failed: %v", err)
	}
	if err := cli.Enqueue(ctx, PendingOperation{ID: "b", Label: "B"}); err != nil {
		t.Fatalf("enqueue B failed: %v", err)
	}
	if items := cli.Snapshot(); len(items) != 2 || items[0].Label != "A" {
		t.Fatalf("expected B appended behind A from the other handle, got %+v", items)
	}

	// The other handle drains A; the daemon's cached view still lists it.
	if op, ok, err := cli.PopFront(ctx); err != nil || !ok || op.Label != "A" {
		t.Fatalf("expected A, got %+v ok=%t err=%v", op, ok, err)
	}
	if depth := daemon.Depth(); depth != 1 {
		t.Fatalf("expected stale cached depth 1, got %d", depth)
	}
	op, ok, err := daemon.PopFront(ctx)
	if err != nil || !ok || op.Label != "B" {
		t.Fatalf("expected daemon to pop B from storage, got %+v ok=%t err=%v", op, ok, err)
	}
	if _, ok, _ := daemon.PopFront(ctx); ok {
		t.Fatalf("expected the queue to be drained")
	}
	if err := cli.Refresh(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if depth := cli.Depth(); depth != 0 {
		t.Fatalf("expected refreshed depth 0, got %d", depth)
	}
}

func TestErrorLogEvictsOldest(t *testing.T) {
	ctx := context.Background()
	storage := kvstore.NewMemoryStore()
	log, err := NewErrorLog(ctx, storage, 0)
	if err != nil {
		t.Fatalf("new error log failed: %v", err)
	}
	for i := 0; i < 60; i++ {
		if err := log.Record(ctx, ErrorEntry{Time: time.Unix(int64(i), 0), Mode: remote.ModeGitHub, Message: fmt.Sprintf("e%d", i)}); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	entries := log.Entries()
	if len(entries) != DefaultErrorLogCapacity {
		t.Fatalf("expected %d entries, got %d", DefaultErrorLogCapacity, len(entries))
	}
	if entries[0].Message != "e10" || entries[len(entries)-1].Message != "e59" {
		t.Fatalf("expected e10..e59, got %s..%s", entries[0].Message, entries[len(entries)-1].Message)
	}

	reloaded, err := NewErrorLog(ctx, storage, 0)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(reloaded.Entries()) != DefaultErrorLogCapacity {
		t.Fatalf("expected persisted error log")
	}
	if err := reloaded.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, err := storage.Get(ctx, ErrorLogKey); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("expected cleared error log to be removed, got %v", err)
	}
}

func TestModeSelectorPrefersLocalServer(t *testing.T) {
	github := newFakeStore(remote.ModeGitHub, true)
	local := newFakeStore(remote.ModeLocalServer, true)
	selector := NewModeSelector([]remote.Store{github, local}, nil)

	mode, store := selector.DetermineSyncMode(context.Background())
	if mode != remote.ModeLocalServer || store != local {
		t.Fatalf("expected local-server, got %s", mode)
	}
	if probes, _, _ := github.counts(); probes != 0 {
		t.Fatalf("expected probing to stop at the first available backend, github probed %d times", probes)
	}
	selector.DetermineSyncMode(context.Background())
	if probes, _, _ := local.counts(); probes != 1 {
		t.Fatalf("expected cached mode, local probed %d times", probes)
	}

	selector.Invalidate()
	local.available = false
	mode, _ = selector.DetermineSyncMode(context.Background())
	if mode != remote.ModeGitHub {
		t.Fatalf("expected github after local server goes away, got %s", mode)
	}
}

func TestModeSelectorFallsBackToLocalOnly(t *testing.T) {
	selector := NewModeSelector([]remote.Store{
		newFakeStore(remote.ModeDropbox, false),
		newFakeStore(remote.ModeGoogleDrive, false),
	}, nil)
	mode, store := selector.DetermineSyncMode(context.Background())
	if mode != remote.ModeLocalOnly || store != nil {
		t.Fatalf("expected local-only fallback, got %s", mode)
	}
	if _, _, ok := selector.Active(); !ok {
		t.Fatalf("expected fallback to be cached")
	}

	empty := NewModeSelector(nil, nil)
	if mode, _ := empty.DetermineSyncMode(context.Background()); mode != remote.ModeLocalOnly {
		t.Fatalf("expected local-only with nothing configured, got %s", mode)
	}
}

func TestModeSelectorSetStoresReselects(t *testing.T) {
	selector := NewModeSelector(nil, nil)
	if mode, _ := selector.DetermineSyncMode(context.Background()); mode != remote.ModeLocalOnly {
		t.Fatalf("expected local-only, got %s", mode)
	}
	selector.SetStores([]remote.Store{newFakeStore(remote.ModeDropbox, true)})
	if mode, _ := selector.DetermineSyncMode(context.Background()); mode != remote.ModeDropbox {
		t.Fatalf("expected dropbox after credentials change, got %s", mode)
	}
}

func TestOrchestratorProbeReselectsFromLocalOnly(t *testing.T) {
	store := newFakeStore(remote.ModeDropbox, false)
	o := newTestOrchestrator(t, kvstore.NewMemoryStore(), Options{}, store)
	if o.Probe(context.Background()) {
		t.Fatalf("expected probe to fail while the only backend is down")
	}
	store.available = true
	if !o.Probe(context.Background()) {
		t.Fatalf("expected probe to recover once the backend answers")
	}
	if mode := o.Mode(context.Background()); mode != remote.ModeDropbox {
		t.Fatalf("expected dropbox reselected, got %s", mode)
	}

	unconfigured := newTestOrchestrator(t, kvstore.NewMemoryStore(), Options{})
	if !unconfigured.Probe(context.Background()) {
		t.Fatalf("expected local-only with no backends to count as online")
	}
}
