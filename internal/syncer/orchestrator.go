// Package syncer owns the in-memory document and routes every read and
// write to the active backend, with conflict detection, an offline queue
// and a poll scheduler.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentworkforce/tasksync/internal/document"
	"github.com/agentworkforce/tasksync/internal/kvstore"
	"github.com/agentworkforce/tasksync/internal/remote"
	"github.com/google/uuid"
)

// ErrNoReachableBackend halts a replay when backends are configured but
// none of them answers.
var ErrNoReachableBackend = errors.New("no configured backend is reachable")

type Logger interface {
	Printf(format string, args ...any)
}

// Notifier receives user-facing failure messages.
type Notifier interface {
	Notify(message string)
}

type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) {
	f(message)
}

// Observer is called with a copy of the document whenever remote state
// replaces the in-memory one.
type Observer func(doc document.Document)

type Status string

const (
	StatusDone              Status = "done"
	StatusQueued            Status = "queued"
	StatusSkipped           Status = "skipped"
	StatusLocalOnly         Status = "local-only"
	StatusNotPersisted      Status = "not-persisted"
	StatusConflictRefetched Status = "conflict-refetched"
	StatusForced            Status = "forced"
	StatusFailed            Status = "failed"
)

// Outcome describes how one UpdateData call ended. Queued is also set on a
// failed write that was kept for replay.
type Outcome struct {
	Status   Status
	Mode     remote.Mode
	Version  string
	Queued   bool
	Conflict *Conflict
	Err      error
	Message  string
}

type Options struct {
	Selector          *ModeSelector
	Storage           kvstore.Store
	Resolver          ConflictResolver
	Notifier          Notifier
	Logger            Logger
	BackupBeforeWrite bool
	QueueCapacity     int
	ErrorLogCapacity  int
	Now               func() time.Time
}

type Orchestrator struct {
	selector *ModeSelector
	storage  kvstore.Store
	notifier Notifier
	logger   Logger
	queue    *OfflineQueue
	errors   *ErrorLog
	now      func() time.Time

	mu                sync.Mutex
	resolver          ConflictResolver
	backupBeforeWrite bool
	doc               document.Document
	version           string
	versionMode       remote.Mode
	lastSync          time.Time
	observers         []Observer

	online    atomic.Bool
	writing   atomic.Bool
	replaying atomic.Bool
}

func NewOrchestrator(ctx context.Context, opts Options) (*Orchestrator, error) {
	if opts.Storage == nil {
		return nil, errors.New("syncer: storage is required")
	}
	selector := opts.Selector
	if selector == nil {
		selector = NewModeSelector(nil, opts.Logger)
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = PolicyResolver(ResolutionRefetch)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	queue, err := NewOfflineQueue(ctx, opts.Storage, opts.QueueCapacity)
	if err != nil {
		return nil, err
	}
	errLog, err := NewErrorLog(ctx, opts.Storage, opts.ErrorLogCapacity)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		selector:          selector,
		storage:           opts.Storage,
		resolver:          resolver,
		notifier:          opts.Notifier,
		logger:            opts.Logger,
		backupBeforeWrite: opts.BackupBeforeWrite,
		queue:             queue,
		errors:            errLog,
		now:               now,
		doc:               document.New(),
	}
	o.online.Store(true)
	return o, nil
}

// Hydrate restores the local backup and replays any operations a previous
// process left queued.
func (o *Orchestrator) Hydrate(ctx context.Context) {
	backup, ok, err := LoadBackup(ctx, o.storage)
	if err != nil {
		o.logf("local backup unreadable, starting empty: %v", err)
	}
	if ok {
		o.mu.Lock()
		o.doc = backup.Document
		o.version = backup.Version
		o.versionMode = backup.Mode
		o.mu.Unlock()
	}
	if err := o.queue.Refresh(ctx); err != nil {
		o.logf("offline queue unreadable: %v", err)
	}
	if depth := o.queue.Depth(); depth > 0 {
		o.logf("offline queue holds %d pending operation(s) from a previous session", depth)
		if o.online.Load() {
			if _, err := o.ProcessQueue(ctx); err != nil {
				o.logf("offline queue replay halted: %v", err)
			}
		}
	}
}

// FetchData reads from the active backend. When the read fails the last
// known document is returned together with the error.
func (o *Orchestrator) FetchData(ctx context.Context) (document.Document, error) {
	mode, store := o.selector.DetermineSyncMode(ctx)
	if store == nil {
		return o.Document(), nil
	}
	snap, err := store.FetchData(ctx)
	if err != nil {
		o.recordError(ctx, mode, "fetch", err, true)
		return o.Document(), err
	}
	o.adopt(ctx, mode, snap, false)
	return snap.Doc.Clone(), nil
}

// UpdateData makes doc the current document and pushes it to the active
// backend. The local backup is written before any network attempt.
func (o *Orchestrator) UpdateData(ctx context.Context, doc document.Document, label string) Outcome {
	doc = doc.Clone().Normalize()
	o.setDocument(doc)
	o.saveBackup(ctx)

	if !o.online.Load() {
		return o.enqueue(ctx, doc, label)
	}
	if !o.writing.CompareAndSwap(false, true) {
		o.logf("write %q skipped: another write is in flight", label)
		return Outcome{Status: StatusSkipped}
	}
	defer o.writing.Store(false)
	outcome := o.write(ctx, doc, label, false)
	if outcome.Status == StatusLocalOnly && o.selector.HasCandidates() {
		// Backends are configured but none answered.
		o.online.Store(false)
		return o.enqueue(ctx, doc, label)
	}
	return outcome
}

func (o *Orchestrator) write(ctx context.Context, doc document.Document, label string, replay bool) Outcome {
	mode, store := o.selector.DetermineSyncMode(ctx)
	if store == nil {
		return Outcome{Status: StatusLocalOnly, Mode: remote.ModeLocalOnly}
	}
	base := o.versionFor(mode)

	versioned, isVersioned := store.(remote.VersionedStore)
	if isVersioned {
		current, err := versioned.CurrentVersion(ctx)
		if err != nil {
			return o.fail(ctx, mode, "version", err, doc, label, replay)
		}
		if base != "" && current != base {
			return o.resolveConflict(ctx, mode, versioned, doc, label, base, replay)
		}
		o.writeBackupCopy(ctx, store, doc)
	}

	result, err := store.UpdateData(ctx, remote.Write{Doc: doc, Label: label, BaseVersion: base})
	if err != nil {
		if isVersioned && errors.Is(err, remote.ErrVersionConflict) {
			return o.resolveConflict(ctx, mode, versioned, doc, label, base, replay)
		}
		return o.fail(ctx, mode, "update", err, doc, label, replay)
	}
	if !result.Persisted {
		return Outcome{Status: StatusNotPersisted, Mode: mode}
	}
	o.recordWrite(ctx, mode, result.Version)
	return Outcome{Status: StatusDone, Mode: mode, Version: result.Version}
}

// resolveConflict fetches the remote copy and lets the resolver decide. It
// never writes without an explicit force answer.
func (o *Orchestrator) resolveConflict(ctx context.Context, mode remote.Mode, store remote.VersionedStore, doc document.Document, label, localVersion string, replay bool) Outcome {
	snap, err := store.FetchData(ctx)
	if err != nil {
		return o.fail(ctx, mode, "conflict-fetch", err, doc, label, replay)
	}
	conflict := Conflict{
		Mode:          mode,
		Label:         label,
		Local:         doc.Clone(),
		Remote:        snap.Doc.Clone(),
		LocalVersion:  localVersion,
		RemoteVersion: snap.Version,
	}
	if replay {
		conflict.Pending = o.queue.Depth()
	}
	choice := o.conflictResolver().ResolveConflict(ctx, conflict)
	o.logf("version conflict on %s (local %q, remote %q): %s", mode, localVersion, snap.Version, choice)

	if choice == ResolutionForce {
		o.writeBackupCopy(ctx, store, doc)
		result, err := store.UpdateData(ctx, remote.Write{Doc: doc, Label: label, BaseVersion: snap.Version})
		if err != nil {
			return o.fail(ctx, mode, "force-update", err, doc, label, replay)
		}
		o.recordWrite(ctx, mode, result.Version)
		return Outcome{Status: StatusForced, Mode: mode, Version: result.Version, Conflict: &conflict}
	}

	conflictErr := &ConflictError{Conflict: conflict}
	o.recordError(ctx, mode, "update", conflictErr, true)
	o.adopt(ctx, mode, snap, true)
	return Outcome{
		Status:   StatusConflictRefetched,
		Mode:     mode,
		Version:  snap.Version,
		Conflict: &conflict,
		Err:      conflictErr,
		Message:  UserMessage(conflictErr),
	}
}

func (o *Orchestrator) fail(ctx context.Context, mode remote.Mode, op string, err error, doc document.Document, label string, replay bool) Outcome {
	o.recordError(ctx, mode, op, err, !replay)
	outcome := Outcome{Status: StatusFailed, Mode: mode, Err: err, Message: UserMessage(err)}
	if !replay && remote.KindOf(err) == remote.KindRemoteUnavailable {
		if queued := o.enqueue(ctx, doc, label); queued.Status == StatusQueued {
			outcome.Queued = true
		}
	}
	return outcome
}

func (o *Orchestrator) enqueue(ctx context.Context, doc document.Document, label string) Outcome {
	op := PendingOperation{
		ID:        uuid.NewString(),
		Label:     label,
		Timestamp: o.now().UTC(),
		Document:  doc,
	}
	if err := o.queue.Enqueue(ctx, op); err != nil {
		o.logf("offline queue rejected %q: %v", label, err)
		return Outcome{Status: StatusFailed, Mode: o.currentMode(), Err: err}
	}
	o.logf("queued %q for replay (%d pending)", label, o.queue.Depth())
	return Outcome{Status: StatusQueued, Mode: o.currentMode(), Queued: true}
}

// ProcessQueue replays pending operations oldest first. A failed replay, or
// one that found no reachable backend while backends are configured, goes
// back to the head of the queue and stops the run. A conflict the resolver
// answers with refetch adopts the remote copy and discards the rest of the
// queue, since every later entry is a snapshot built on the stale copy.
func (o *Orchestrator) ProcessQueue(ctx context.Context) (int, error) {
	if !o.replaying.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer o.replaying.Store(false)

	replayed := 0
	for o.online.Load() {
		op, ok, err := o.queue.PopFront(ctx)
		if err != nil {
			return replayed, err
		}
		if !ok {
			return replayed, nil
		}
		if !o.writing.CompareAndSwap(false, true) {
			return replayed, o.queue.PushFront(ctx, op)
		}
		previous := o.Document()
		o.setDocument(op.Document)
		o.saveBackup(ctx)
		outcome := o.write(ctx, op.Document, op.Label, true)
		o.writing.Store(false)

		switch {
		case outcome.Status == StatusFailed:
			o.restore(ctx, op, previous)
			o.logf("offline queue replay of %q failed, %d pending: %v", op.Label, o.queue.Depth(), outcome.Err)
			return replayed, outcome.Err
		case outcome.Status == StatusLocalOnly && o.selector.HasCandidates():
			o.restore(ctx, op, previous)
			o.online.Store(false)
			o.logf("offline queue replay of %q deferred, %d pending: %v", op.Label, o.queue.Depth(), ErrNoReachableBackend)
			return replayed, ErrNoReachableBackend
		case outcome.Status == StatusConflictRefetched:
			dropped := o.queue.Depth()
			if err := o.queue.Clear(ctx); err != nil {
				return replayed, err
			}
			o.logf("offline queue replay of %q conflicted; adopted %s copy and discarded %d later operation(s)", op.Label, outcome.Mode, dropped)
			if dropped > 0 {
				o.notify(fmt.Sprintf("%d queued change(s) were discarded because %s changed remotely.", dropped+1, DisplayName(outcome.Mode)))
			}
			return replayed, outcome.Err
		}
		replayed++
		o.logf("offline queue replayed %q (%s)", op.Label, outcome.Status)
	}
	return replayed, nil
}

// restore puts op back at the head of the queue and reinstates the document
// that was current before the replay attempt.
func (o *Orchestrator) restore(ctx context.Context, op PendingOperation, previous document.Document) {
	if err := o.queue.PushFront(ctx, op); err != nil {
		o.logf("offline queue: could not restore %q: %v", op.Label, err)
	}
	o.setDocument(previous)
	o.saveBackup(ctx)
}

// CheckRemote looks for a remote change and adopts it wholesale. It does
// nothing while offline or while a write is in flight. The queue is re-read
// first so entries queued by other processes are replayed too.
func (o *Orchestrator) CheckRemote(ctx context.Context) (bool, error) {
	if !o.online.Load() || o.writing.Load() {
		return false, nil
	}
	if err := o.queue.Refresh(ctx); err != nil {
		o.logf("offline queue unreadable: %v", err)
	}
	if o.queue.Depth() > 0 {
		if _, err := o.ProcessQueue(ctx); err != nil {
			return false, err
		}
		if o.queue.Depth() > 0 {
			return false, nil
		}
	}

	mode, store := o.selector.DetermineSyncMode(ctx)
	if store == nil {
		return false, nil
	}

	if versioned, ok := store.(remote.VersionedStore); ok {
		current, err := versioned.CurrentVersion(ctx)
		if err != nil {
			o.recordError(ctx, mode, "poll", err, false)
			return false, err
		}
		// A missing remote file is not a change worth adopting.
		if current == "" || current == o.versionFor(mode) {
			o.markSynced()
			return false, nil
		}
	}

	snap, err := store.FetchData(ctx)
	if err != nil {
		o.recordError(ctx, mode, "poll", err, false)
		return false, err
	}
	if o.writing.Load() {
		return false, nil
	}
	if snap.Version == "" && document.Equal(snap.Doc, o.Document()) {
		o.markSynced()
		return false, nil
	}
	o.adopt(ctx, mode, snap, true)
	return true, nil
}

// Probe reports whether the active backend answers. With no backend
// configured the process is always considered online. A local-only fallback
// with candidates configured re-runs selection so a backend that comes back
// is picked up again.
func (o *Orchestrator) Probe(ctx context.Context) bool {
	_, store := o.selector.DetermineSyncMode(ctx)
	if store == nil {
		if !o.selector.HasCandidates() {
			return true
		}
		o.selector.Invalidate()
		if _, store = o.selector.DetermineSyncMode(ctx); store == nil {
			return false
		}
		return true
	}
	return store.CheckAvailability(ctx)
}

// SetOnline records a connectivity transition. Going online replays the
// offline queue.
func (o *Orchestrator) SetOnline(ctx context.Context, online bool) {
	previous := o.online.Swap(online)
	if previous == online {
		return
	}
	o.logf("connectivity changed: online=%t", online)
	if online {
		if _, err := o.ProcessQueue(ctx); err != nil {
			o.logf("offline queue replay halted: %v", err)
		}
	}
}

// InvalidateMode forces mode selection to run again on the next call.
func (o *Orchestrator) InvalidateMode() {
	o.selector.Invalidate()
}

func (o *Orchestrator) SetStores(stores []remote.Store) {
	o.selector.SetStores(stores)
}

// SetResolver replaces the conflict resolver used by later writes.
func (o *Orchestrator) SetResolver(resolver ConflictResolver) {
	if resolver == nil {
		resolver = PolicyResolver(ResolutionRefetch)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resolver = resolver
}

func (o *Orchestrator) SetBackupBeforeWrite(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.backupBeforeWrite = enabled
}

func (o *Orchestrator) conflictResolver() ConflictResolver {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resolver
}

func (o *Orchestrator) Subscribe(observer Observer) {
	if observer == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, observer)
}

func (o *Orchestrator) Document() document.Document {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.doc.Clone()
}

func (o *Orchestrator) Version() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.version
}

func (o *Orchestrator) LastSync() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSync
}

func (o *Orchestrator) Mode(ctx context.Context) remote.Mode {
	mode, _ := o.selector.DetermineSyncMode(ctx)
	return mode
}

func (o *Orchestrator) Online() bool {
	return o.online.Load()
}

func (o *Orchestrator) Writing() bool {
	return o.writing.Load()
}

func (o *Orchestrator) PendingOperations() []PendingOperation {
	return o.queue.Snapshot()
}

func (o *Orchestrator) QueueCapacity() int {
	return o.queue.Capacity()
}

func (o *Orchestrator) ClearQueue(ctx context.Context) error {
	return o.queue.Clear(ctx)
}

func (o *Orchestrator) Errors() []ErrorEntry {
	return o.errors.Entries()
}

func (o *Orchestrator) ClearErrors(ctx context.Context) error {
	return o.errors.Clear(ctx)
}

func (o *Orchestrator) setDocument(doc document.Document) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.doc = doc.Clone()
}

// adopt replaces the in-memory document and token with a remote snapshot.
func (o *Orchestrator) adopt(ctx context.Context, mode remote.Mode, snap remote.Snapshot, notify bool) {
	doc := snap.Doc.Clone().Normalize()
	o.mu.Lock()
	o.doc = doc
	o.version = snap.Version
	o.versionMode = mode
	o.lastSync = o.now()
	observers := append([]Observer(nil), o.observers...)
	o.mu.Unlock()

	o.saveBackup(ctx)
	if !notify {
		return
	}
	for _, observer := range observers {
		observer(doc.Clone())
	}
}

func (o *Orchestrator) recordWrite(ctx context.Context, mode remote.Mode, version string) {
	o.mu.Lock()
	o.version = version
	o.versionMode = mode
	o.lastSync = o.now()
	o.mu.Unlock()
	o.saveBackup(ctx)
}

func (o *Orchestrator) markSynced() {
	o.mu.Lock()
	o.lastSync = o.now()
	o.mu.Unlock()
}

// versionFor returns the known token, or "" when it belongs to another mode.
func (o *Orchestrator) versionFor(mode remote.Mode) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.versionMode != mode {
		return ""
	}
	return o.version
}

func (o *Orchestrator) currentMode() remote.Mode {
	mode, _, ok := o.selector.Active()
	if !ok {
		return ""
	}
	return mode
}

func (o *Orchestrator) saveBackup(ctx context.Context) {
	o.mu.Lock()
	backup := Backup{Document: o.doc.Clone(), Version: o.version, Mode: o.versionMode, SavedAt: o.now()}
	o.mu.Unlock()
	if err := SaveBackup(ctx, o.storage, backup); err != nil {
		o.logf("local backup failed: %v", err)
	}
}

func (o *Orchestrator) writeBackupCopy(ctx context.Context, store remote.Store, doc document.Document) {
	o.mu.Lock()
	enabled := o.backupBeforeWrite
	o.mu.Unlock()
	if !enabled {
		return
	}
	writer, ok := store.(remote.BackupWriter)
	if !ok {
		return
	}
	if err := writer.WriteBackup(ctx, doc, o.now()); err != nil {
		o.recordError(ctx, store.Mode(), "backup", err, false)
	}
}

func (o *Orchestrator) recordError(ctx context.Context, mode remote.Mode, op string, err error, surface bool) {
	message := UserMessage(err)
	surfaced := surface && message != ""
	entry := ErrorEntry{
		Time:     o.now().UTC(),
		Mode:     mode,
		Op:       op,
		Kind:     remote.KindOf(err),
		Message:  strings.TrimSpace(err.Error()),
		Surfaced: surfaced,
	}
	if logErr := o.errors.Record(ctx, entry); logErr != nil {
		o.logf("error log write failed: %v", logErr)
	}
	o.logf("%s %s failed: %v", mode, op, err)
	if surfaced {
		o.notify(message)
	}
}

func (o *Orchestrator) notify(message string) {
	if o.notifier != nil {
		o.notifier.Notify(message)
	}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger == nil {
		return
	}
	o.logger.Printf(format, args...)
}
