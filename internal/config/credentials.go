package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentworkforce/tasksync/internal/remote"
	"gopkg.in/yaml.v3"
)

// SaveCredentials replaces the credentials block for the backends set in
// update, leaving other backends and every other setting in the file alone.
func SaveCredentials(path string, update Credentials) error {
	return rewriteCredentials(path, func(creds *Credentials) {
		if update.LocalServer != nil {
			creds.LocalServer = update.LocalServer
		}
		if update.Dropbox != nil {
			creds.Dropbox = update.Dropbox
		}
		if update.GoogleDrive != nil {
			creds.GoogleDrive = update.GoogleDrive
		}
		if update.GoogleDrivePublic != nil {
			creds.GoogleDrivePublic = update.GoogleDrivePublic
		}
		if update.GitHub != nil {
			creds.GitHub = update.GitHub
		}
	})
}

// ClearCredentials removes the block for mode, or every block when mode is
// empty.
func ClearCredentials(path string, mode remote.Mode) error {
	return rewriteCredentials(path, func(creds *Credentials) {
		switch mode {
		case "":
			*creds = Credentials{}
		case remote.ModeLocalServer:
			creds.LocalServer = nil
		case remote.ModeDropbox:
			creds.Dropbox = nil
		case remote.ModeGoogleDrive:
			creds.GoogleDrive = nil
		case remote.ModeGoogleDrivePublic:
			creds.GoogleDrivePublic = nil
		case remote.ModeGitHub:
			creds.GitHub = nil
		}
	})
}

func rewriteCredentials(path string, edit func(*Credentials)) error {
	raw := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	case os.IsNotExist(err):
	default:
		return err
	}

	var creds Credentials
	if section, ok := raw["credentials"]; ok {
		encoded, err := yaml.Marshal(section)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(encoded, &creds); err != nil {
			return fmt.Errorf("parse credentials in %s: %w", path, err)
		}
	}
	edit(&creds)
	if creds == (Credentials{}) {
		delete(raw, "credentials")
	} else {
		raw["credentials"] = creds
	}

	out, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
