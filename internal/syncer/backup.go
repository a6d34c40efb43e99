package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentworkforce/tasksync/internal/document"
	"github.com/agentworkforce/tasksync/internal/kvstore"
	"github.com/agentworkforce/tasksync/internal/remote"
)

const BackupKey = "tasksync:document-backup"

// Backup is the last known document, kept locally so a restart without
// connectivity still has data.
type Backup struct {
	Document document.Document
	Version  string
	Mode     remote.Mode
	SavedAt  time.Time
}

type backupRecord struct {
	Document json.RawMessage `json:"document"`
	Version  string          `json:"version,omitempty"`
	Mode     remote.Mode     `json:"mode,omitempty"`
	SavedAt  time.Time       `json:"savedAt"`
}

func LoadBackup(ctx context.Context, store kvstore.Store) (Backup, bool, error) {
	data, err := store.Get(ctx, BackupKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Backup{}, false, nil
		}
		return Backup{}, false, err
	}
	var record backupRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return Backup{}, false, fmt.Errorf("decode backup: %w", err)
	}
	doc, err := document.Decode(record.Document)
	if err != nil {
		return Backup{}, false, fmt.Errorf("decode backup document: %w", err)
	}
	return Backup{Document: doc, Version: record.Version, Mode: record.Mode, SavedAt: record.SavedAt}, true, nil
}

func SaveBackup(ctx context.Context, store kvstore.Store, backup Backup) error {
	doc, err := document.Encode(backup.Document)
	if err != nil {
		return err
	}
	data, err := json.Marshal(backupRecord{
		Document: doc,
		Version:  backup.Version,
		Mode:     backup.Mode,
		SavedAt:  backup.SavedAt.UTC(),
	})
	if err != nil {
		return err
	}
	return store.Set(ctx, BackupKey, data)
}
