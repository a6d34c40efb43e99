package syncer

import (
	"context"
	"sort"
	"sync"

	"github.com/agentworkforce/tasksync/internal/remote"
)

// ModeSelector picks the one active backend. The choice is cached until
// Invalidate or SetStores is called.
type ModeSelector struct {
	logger Logger

	probeMu sync.Mutex

	mu         sync.Mutex
	stores     []remote.Store
	resolved   bool
	mode       remote.Mode
	active     remote.Store
	generation uint64
}

func NewModeSelector(stores []remote.Store, logger Logger) *ModeSelector {
	s := &ModeSelector{logger: logger}
	s.stores = sortStores(stores)
	return s
}

func sortStores(stores []remote.Store) []remote.Store {
	out := make([]remote.Store, 0, len(stores))
	for _, store := range stores {
		if store != nil {
			out = append(out, store)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return remote.Priority(out[i].Mode()) < remote.Priority(out[j].Mode())
	})
	return out
}

// DetermineSyncMode returns the cached mode, probing candidates in priority
// order on first use. The store is nil for local-only.
func (s *ModeSelector) DetermineSyncMode(ctx context.Context) (remote.Mode, remote.Store) {
	if mode, store, ok := s.Active(); ok {
		return mode, store
	}

	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	if mode, store, ok := s.Active(); ok {
		return mode, store
	}

	s.mu.Lock()
	candidates := append([]remote.Store(nil), s.stores...)
	generation := s.generation
	s.mu.Unlock()

	mode, chosen := remote.ModeLocalOnly, remote.Store(nil)
	for _, store := range candidates {
		if store.CheckAvailability(ctx) {
			mode, chosen = store.Mode(), store
			break
		}
		s.logf("sync mode probe: %s unavailable", store.Mode())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if generation == s.generation {
		s.resolved = true
		s.mode = mode
		s.active = chosen
	}
	s.logf("sync mode selected: %s", mode)
	return mode, chosen
}

func (s *ModeSelector) Active() (remote.Mode, remote.Store, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, s.active, s.resolved
}

// Invalidate drops the cached choice; the next call re-probes.
func (s *ModeSelector) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = false
	s.mode = ""
	s.active = nil
	s.generation++
}

// SetStores replaces the candidate backends, e.g. after credentials change.
func (s *ModeSelector) SetStores(stores []remote.Store) {
	sorted := sortStores(stores)
	s.mu.Lock()
	s.stores = sorted
	s.mu.Unlock()
	s.Invalidate()
}

func (s *ModeSelector) HasCandidates() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stores) > 0
}

func (s *ModeSelector) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
