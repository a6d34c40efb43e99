package syncer

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentworkforce/tasksync/internal/document"
	"github.com/agentworkforce/tasksync/internal/remote"
)

// Resolution is the caller's answer to a version conflict. No field-level
// merge exists: the caller either takes the remote copy or overwrites it.
type Resolution int

const (
	// ResolutionRefetch adopts the remote document; local edits must be
	// re-applied by hand.
	ResolutionRefetch Resolution = iota
	// ResolutionForce overwrites the remote with the local document using
	// the remote's current token.
	ResolutionForce
)

func (r Resolution) String() string {
	switch r {
	case ResolutionForce:
		return "force"
	default:
		return "refetch"
	}
}

func ParseResolution(raw string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "refetch":
		return ResolutionRefetch, nil
	case "force":
		return ResolutionForce, nil
	default:
		return ResolutionRefetch, fmt.Errorf("unknown conflict policy %q", raw)
	}
}

type Conflict struct {
	Mode          remote.Mode
	Label         string
	Local         document.Document
	Remote        document.Document
	LocalVersion  string
	RemoteVersion string
	// Pending counts the queued operations behind this one during a replay.
	// A refetch answer discards them along with this one.
	Pending       int
}

type ConflictResolver interface {
	ResolveConflict(ctx context.Context, conflict Conflict) Resolution
}

type ResolverFunc func(ctx context.Context, conflict Conflict) Resolution

func (f ResolverFunc) ResolveConflict(ctx context.Context, conflict Conflict) Resolution {
	return f(ctx, conflict)
}

// PolicyResolver answers every conflict the same way. It is the resolver for
// non-interactive callers.
type PolicyResolver Resolution

func (p PolicyResolver) ResolveConflict(context.Context, Conflict) Resolution {
	return Resolution(p)
}

// ConflictError reports a conflict that ended with the remote copy adopted.
type ConflictError struct {
	Conflict Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s changed remotely (local %q, remote %q)", e.Conflict.Mode, e.Conflict.LocalVersion, e.Conflict.RemoteVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == remote.ErrVersionConflict
}
