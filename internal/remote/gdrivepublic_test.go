package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/tasksync/internal/document"
)

func TestGoogleDrivePublicCachesForFiveSeconds(t *testing.T) {
	var calls int32
	payload, _ := document.Encode(sampleDoc())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/drive/v3/files/public-file" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("key") != "api-key" || r.URL.Query().Get("alt") != "media" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store, err := NewGoogleDrivePublic(GoogleDrivePublicConfig{
		FileID:     "public-file",
		APIKey:     "api-key",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new public drive failed: %v", err)
	}

	first, err := store.FetchData(context.Background())
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if !document.Equal(first.Doc, sampleDoc()) {
		t.Fatalf("unexpected document: %s", document.Diff(sampleDoc(), first.Doc))
	}
	now = now.Add(4 * time.Second)
	if _, err := store.FetchData(context.Background()); err != nil {
		t.Fatalf("cached fetch failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected cached read inside the window, got %d requests", got)
	}
	now = now.Add(2 * time.Second)
	if _, err := store.FetchData(context.Background()); err != nil {
		t.Fatalf("refetch failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected a new request after the window, got %d requests", got)
	}
}

func TestGoogleDrivePublicCacheIsolatesCallers(t *testing.T) {
	payload, _ := document.Encode(sampleDoc())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	store, err := NewGoogleDrivePublic(GoogleDrivePublicConfig{FileID: "f", APIKey: "k", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new public drive failed: %v", err)
	}
	first, _ := store.FetchData(context.Background())
	first.Doc.Tabs[0].Name = "mutated"
	second, _ := store.FetchData(context.Background())
	if second.Doc.Tabs[0].Name != "List" {
		t.Fatalf("expected cache to be isolated from caller mutation, got %q", second.Doc.Tabs[0].Name)
	}
}

func TestGoogleDrivePublicIsReadOnly(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	store, err := NewGoogleDrivePublic(GoogleDrivePublicConfig{FileID: "f", APIKey: "k", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new public drive failed: %v", err)
	}
	result, err := store.UpdateData(context.Background(), Write{Doc: sampleDoc(), Label: "edit"})
	if err != nil {
		t.Fatalf("read-only write must not fail, got %v", err)
	}
	if result.Persisted {
		t.Fatalf("read-only write must report not persisted")
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("read-only write must not touch the network")
	}
}

func TestGoogleDrivePublicRejectsHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<!DOCTYPE html><html><title>Google Drive - Virus scan warning</title></html>"))
	}))
	defer server.Close()

	store, err := NewGoogleDrivePublic(GoogleDrivePublicConfig{FileID: "f", APIKey: "k", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new public drive failed: %v", err)
	}
	_, err = store.FetchData(context.Background())
	if !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected invalid data, got %v", err)
	}
	if errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("invalid data must be distinguishable from unavailability")
	}
	if store.CheckAvailability(context.Background()) {
		t.Fatalf("expected probe to fail on html content")
	}
}
