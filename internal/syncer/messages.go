package syncer

import (
	"errors"
	"fmt"

	"github.com/agentworkforce/tasksync/internal/remote"
)

// UserMessage renders err for a person. It returns "" for failures that are
// expected and should stay silent, such as a backend that is not configured.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	name := "the sync backend"
	var remoteErr *remote.Error
	if errors.As(err, &remoteErr) && remoteErr.Mode != "" {
		name = DisplayName(remoteErr.Mode)
	}
	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		name = DisplayName(conflictErr.Conflict.Mode)
	}

	switch remote.KindOf(err) {
	case remote.KindNotConfigured, remote.KindNotFound:
		return ""
	case remote.KindRemoteUnavailable:
		return fmt.Sprintf("Cannot reach %s. Changes are kept locally and will sync when it is reachable again.", name)
	case remote.KindAuthFailure:
		return fmt.Sprintf("The saved credentials were rejected by %s. Update them with \"tasksync credentials set\".", name)
	case remote.KindInvalidData:
		return fmt.Sprintf("The data on %s is not a valid tracker document. The remote copy may be corrupt.", name)
	case remote.KindVersionConflict:
		return fmt.Sprintf("The copy on %s changed since it was last loaded. The remote version was loaded; re-apply your change.", name)
	default:
		return fmt.Sprintf("Sync with %s failed: %v", name, err)
	}
}

func DisplayName(mode remote.Mode) string {
	switch mode {
	case remote.ModeLocalServer:
		return "the local server"
	case remote.ModeDropbox:
		return "Dropbox"
	case remote.ModeGoogleDrive:
		return "Google Drive"
	case remote.ModeGoogleDrivePublic:
		return "the public Google Drive file"
	case remote.ModeGitHub:
		return "GitHub"
	case remote.ModeLocalOnly:
		return "local storage"
	default:
		return string(mode)
	}
}
