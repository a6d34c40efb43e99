package remote

import (
	"context"
	"errors"
	"fmt"
)

// Options carries the configuration of every backend. A nil entry means the
// backend is not configured.
type Options struct {
	LocalServer       *LocalServerConfig
	Dropbox           *DropboxConfig
	GoogleDrive       *GoogleDriveConfig
	GoogleDrivePublic *GoogleDrivePublicConfig
	GitHub            *GitHubConfig
}

// New builds the adapter for one mode. It fails with ErrNotConfigured when
// the mode has no usable configuration.
func New(ctx context.Context, mode Mode, opts Options) (Store, error) {
	switch mode {
	case ModeLocalServer:
		if opts.LocalServer == nil {
			return nil, notConfigured(mode)
		}
		return wrapStore(NewLocalServer(*opts.LocalServer))
	case ModeDropbox:
		if opts.Dropbox == nil {
			return nil, notConfigured(mode)
		}
		return wrapStore(NewDropbox(*opts.Dropbox))
	case ModeGoogleDrive:
		if opts.GoogleDrive == nil {
			return nil, notConfigured(mode)
		}
		return wrapStore(NewGoogleDrive(ctx, *opts.GoogleDrive))
	case ModeGoogleDrivePublic:
		if opts.GoogleDrivePublic == nil {
			return nil, notConfigured(mode)
		}
		return wrapStore(NewGoogleDrivePublic(*opts.GoogleDrivePublic))
	case ModeGitHub:
		if opts.GitHub == nil {
			return nil, notConfigured(mode)
		}
		return wrapStore(NewGitHub(*opts.GitHub))
	case ModeLocalOnly:
		return nil, fmt.Errorf("%s has no remote store", mode)
	default:
		return nil, fmt.Errorf("unknown sync mode %q", mode)
	}
}

// BuildStores returns an adapter for every configured backend, in probe
// order. Backends without configuration are skipped.
func BuildStores(ctx context.Context, opts Options) ([]Store, error) {
	stores := make([]Store, 0, len(Modes))
	for _, mode := range Modes {
		store, err := New(ctx, mode, opts)
		if errors.Is(err, ErrNotConfigured) {
			continue
		}
		if err != nil {
			return nil, err
		}
		stores = append(stores, store)
	}
	return stores, nil
}

func notConfigured(mode Mode) error {
	return newError(mode, "configure", KindNotConfigured, nil)
}

func wrapStore[S Store](store S, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return store, nil
}
