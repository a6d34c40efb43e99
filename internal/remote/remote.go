// Package remote defines the uniform contract every sync backend satisfies
// and the adapters that implement it.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/agentworkforce/tasksync/internal/document"
)

// Mode identifies a sync backend.
type Mode string

const (
	ModeLocalServer       Mode = "local-server"
	ModeDropbox           Mode = "dropbox"
	ModeGoogleDrive       Mode = "google-drive"
	ModeGoogleDrivePublic Mode = "google-drive-public"
	ModeGitHub            Mode = "github"
	ModeLocalOnly         Mode = "local-only"
)

// Modes lists every remote mode in probe order, lowest latency and least
// configuration first.
var Modes = []Mode{
	ModeLocalServer,
	ModeDropbox,
	ModeGoogleDrivePublic,
	ModeGoogleDrive,
	ModeGitHub,
}

// Priority orders modes for the selector; lower probes first. local-only
// sorts last because it is the fallback, never a probe target.
func Priority(mode Mode) int {
	switch mode {
	case ModeLocalServer:
		return 0
	case ModeDropbox:
		return 1
	case ModeGoogleDrivePublic:
		return 2
	case ModeGoogleDrive:
		return 3
	case ModeGitHub:
		return 4
	case ModeLocalOnly:
		return 100
	default:
		return 1000
	}
}

func ParseMode(raw string) (Mode, error) {
	mode := Mode(raw)
	switch mode {
	case ModeLocalServer, ModeDropbox, ModeGoogleDrive, ModeGoogleDrivePublic, ModeGitHub, ModeLocalOnly:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q", raw)
	}
}

// Snapshot is a fetched document and the version token that identifies it.
// Version is empty for backends without native versioning.
type Snapshot struct {
	Doc     document.Document
	Version string
}

type Write struct {
	Doc   document.Document
	Label string
	// BaseVersion is the token the write expects the remote to hold.
	BaseVersion string
}

type WriteResult struct {
	// Persisted is false when the backend accepted the call but did not
	// store anything (read-only backends).
	Persisted bool
	Version   string
}

type Store interface {
	Mode() Mode
	// CheckAvailability never fails and never mutates remote state.
	CheckAvailability(ctx context.Context) bool
	// FetchData returns an empty document when the remote has no data yet.
	FetchData(ctx context.Context) (Snapshot, error)
	UpdateData(ctx context.Context, w Write) (WriteResult, error)
}

// VersionedStore is implemented by backends with native version tokens.
// UpdateData on these fails with ErrVersionConflict when BaseVersion is stale.
type VersionedStore interface {
	Store
	// CurrentVersion returns "" when no remote document exists yet.
	CurrentVersion(ctx context.Context) (string, error)
}

// BackupWriter stores a timestamped full copy next to the live document.
type BackupWriter interface {
	WriteBackup(ctx context.Context, doc document.Document, at time.Time) error
}

// ChangeNotifier pushes a signal whenever the remote document may have
// changed. WatchChanges blocks until ctx ends or the feed breaks.
type ChangeNotifier interface {
	WatchChanges(ctx context.Context, onChange func()) error
}
