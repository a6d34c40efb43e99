package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentworkforce/tasksync/internal/document"
	"github.com/agentworkforce/tasksync/internal/remote"
)

// fakeStore is an in-memory backend. With versioned set it behaves like a
// token-checking backend and rejects writes whose base is stale.
type fakeStore struct {
	mode remote.Mode

	mu          sync.Mutex
	available   bool
	versioned   bool
	doc         document.Document
	hasDoc      bool
	version     string
	versions    int
	probes      int
	fetches     int
	versionHits int
	writes      []remote.Write
	backups     []time.Time
	writeErrs   []error
	fetchErr    error
	writeStart  chan struct{}
	writeGate   chan struct{}
}

func newFakeStore(mode remote.Mode, available bool) *fakeStore {
	return &fakeStore{mode: mode, available: available, doc: document.New()}
}

func (f *fakeStore) Mode() remote.Mode {
	return f.mode
}

func (f *fakeStore) CheckAvailability(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.available
}

func (f *fakeStore) FetchData(context.Context) (remote.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return remote.Snapshot{}, f.fetchErr
	}
	snap := remote.Snapshot{Doc: f.doc.Clone()}
	if f.versioned {
		snap.Version = f.version
	}
	return snap, nil
}

func (f *fakeStore) UpdateData(ctx context.Context, w remote.Write) (remote.WriteResult, error) {
	if f.writeStart != nil {
		f.writeStart <- struct{}{}
	}
	if f.writeGate != nil {
		<-f.writeGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, w)
	if len(f.writeErrs) > 0 {
		err := f.writeErrs[0]
		f.writeErrs = f.writeErrs[1:]
		if err != nil {
			return remote.WriteResult{}, err
		}
	}
	if f.versioned && f.hasDoc && w.BaseVersion != f.version {
		return remote.WriteResult{}, &remote.Error{Kind: remote.KindVersionConflict, Mode: f.mode, Op: "update", StatusCode: 409}
	}
	f.setRemoteLocked(w.Doc)
	return remote.WriteResult{Persisted: true, Version: f.currentVersionLocked()}, nil
}

// setRemote simulates another writer changing the remote document.
func (f *fakeStore) setRemote(doc document.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setRemoteLocked(doc)
}

func (f *fakeStore) setRemoteLocked(doc document.Document) {
	f.doc = doc.Clone()
	f.hasDoc = true
	if f.versioned {
		f.versions++
		f.version = fmt.Sprintf("sha%d", f.versions)
	}
}

func (f *fakeStore) currentVersionLocked() string {
	if !f.versioned {
		return ""
	}
	return f.version
}

func (f *fakeStore) writeLabels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	labels := make([]string, 0, len(f.writes))
	for _, w := range f.writes {
		labels = append(labels, w.Label)
	}
	return labels
}

func (f *fakeStore) counts() (probes, fetches, writes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes, f.fetches, len(f.writes)
}

type versionedFake struct {
	*fakeStore
}

func newVersionedFake(mode remote.Mode) versionedFake {
	store := newFakeStore(mode, true)
	store.versioned = true
	return versionedFake{store}
}

func (f versionedFake) CurrentVersion(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versionHits++
	return f.version, nil
}

func (f versionedFake) WriteBackup(_ context.Context, _ document.Document, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backups = append(f.backups, at)
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func docWithTab(id, name string) document.Document {
	doc := document.New()
	doc.Tabs = []document.Tab{{ID: id, Name: name}}
	return doc
}
