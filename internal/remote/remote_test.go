package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuildStoresFollowsProbeOrderAndSkipsUnconfigured(t *testing.T) {
	stores, err := BuildStores(context.Background(), Options{
		GitHub:      &GitHubConfig{Token: "t", Owner: "o", Repo: "r"},
		LocalServer: &LocalServerConfig{BaseURL: "http://127.0.0.1:8787"},
		Dropbox:     &DropboxConfig{},
	})
	if err != nil {
		t.Fatalf("build stores failed: %v", err)
	}
	if len(stores) != 2 {
		t.Fatalf("expected local server and github only, got %d stores", len(stores))
	}
	if stores[0].Mode() != ModeLocalServer || stores[1].Mode() != ModeGitHub {
		t.Fatalf("expected local-server before github, got %s, %s", stores[0].Mode(), stores[1].Mode())
	}
	if _, ok := stores[1].(VersionedStore); !ok {
		t.Fatalf("expected github adapter to be version-aware")
	}
	if _, ok := stores[1].(BackupWriter); !ok {
		t.Fatalf("expected github adapter to write backups")
	}
	if _, ok := stores[0].(ChangeNotifier); !ok {
		t.Fatalf("expected local server adapter to push changes")
	}
}

func TestNewRejectsLocalOnly(t *testing.T) {
	if _, err := New(context.Background(), ModeLocalOnly, Options{}); err == nil {
		t.Fatalf("expected local-only to have no remote store")
	}
	if _, err := New(context.Background(), ModeDropbox, Options{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured for missing dropbox options, got %v", err)
	}
}

func TestPriorityMatchesModes(t *testing.T) {
	sorted := append([]Mode(nil), Modes...)
	sort.SliceStable(sorted, func(i, j int) bool { return Priority(sorted[i]) < Priority(sorted[j]) })
	for i := range Modes {
		if sorted[i] != Modes[i] {
			t.Fatalf("expected Modes to be listed in priority order, got %v", sorted)
		}
	}
	if Priority(ModeLocalOnly) <= Priority(ModeGitHub) {
		t.Fatalf("local-only must sort after every remote mode")
	}
	for _, mode := range append(Modes, ModeLocalOnly) {
		parsed, err := ParseMode(string(mode))
		if err != nil || parsed != mode {
			t.Fatalf("parse %s: got %s, %v", mode, parsed, err)
		}
	}
	if _, err := ParseMode("ftp"); err == nil {
		t.Fatalf("expected unknown mode to fail")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{err: nil, want: ""},
		{err: context.DeadlineExceeded, want: KindRemoteUnavailable},
		{err: fmt.Errorf("wrapped: %w", context.Canceled), want: KindRemoteUnavailable},
		{err: fmt.Errorf("save: %w", &Error{Kind: KindVersionConflict, Mode: ModeGitHub, Op: "update"}), want: KindVersionConflict},
		{err: ErrNotConfigured, want: KindNotConfigured},
		{err: errors.New("boom"), want: KindUnknown},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v): expected %q, got %q", tc.err, tc.want, got)
		}
	}
}

func TestKindForStatus(t *testing.T) {
	cases := map[int]Kind{
		http.StatusUnauthorized:        KindAuthFailure,
		http.StatusForbidden:           KindAuthFailure,
		http.StatusNotFound:            KindNotFound,
		http.StatusConflict:            KindVersionConflict,
		http.StatusPreconditionFailed:  KindVersionConflict,
		http.StatusTooManyRequests:     KindRemoteUnavailable,
		http.StatusServiceUnavailable:  KindRemoteUnavailable,
		http.StatusBadRequest:          KindUnknown,
		http.StatusUnprocessableEntity: KindUnknown,
	}
	for status, want := range cases {
		if got := kindForStatus(status); got != want {
			t.Fatalf("status %d: expected %s, got %s", status, want, got)
		}
	}
}

func TestErrorIsMatchesOnlyItsSentinel(t *testing.T) {
	err := &Error{Kind: KindAuthFailure, Mode: ModeDropbox, Op: "fetch", StatusCode: 401, Message: "expired"}
	if !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected auth sentinel match")
	}
	if errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("did not expect unavailable sentinel match")
	}
	if got, want := err.Error(), "dropbox fetch: authentication failed (http 401): expired"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestErrorMessageKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("a", maxErrorMessageLen-1) + "é tail"
	got := errorMessage([]byte(body))
	if !utf8.ValidString(got) {
		t.Fatalf("expected valid UTF-8, got %q", got)
	}
	if got != strings.Repeat("a", maxErrorMessageLen-1) {
		t.Fatalf("expected cut before the split rune, got %q", got)
	}
	if short := errorMessage([]byte("  plain failure ")); short != "plain failure" {
		t.Fatalf("expected short body kept, got %q", short)
	}
}
