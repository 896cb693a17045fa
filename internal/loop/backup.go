package loop

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// BackupSet holds the pre-modification content of every file the session has
// touched. Backups are lazy: a file is captured the first time a fix wants
// to change it, and never again, so a rollback always restores the state
// from before the session started editing.
type BackupSet struct {
	root  string
	files map[string][]byte // rel path -> original content; nil = did not exist
}

func NewBackupSet(projectRoot string) *BackupSet {
	return &BackupSet{root: projectRoot, files: map[string][]byte{}}
}

// Record captures the file's current content unless already captured.
func (b *BackupSet) Record(rel string) error {
	if _, done := b.files[rel]; done {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(b.root, filepath.FromSlash(rel)))
	if err != nil {
		if os.IsNotExist(err) {
			b.files[rel] = nil
			return nil
		}
		return fmt.Errorf("backup %s: %w", rel, err)
	}
	b.files[rel] = data
	return nil
}

// Len reports how many files are captured.
func (b *BackupSet) Len() int { return len(b.files) }

// RestoreAll puts every captured file back to its original content. Files
// that did not exist before the session are deleted. Restoration continues
// past individual failures; the first error is returned after the sweep.
func (b *BackupSet) RestoreAll() (int, error) {
	var firstErr error
	restored := 0
	for rel, data := range b.files {
		abs := filepath.Join(b.root, filepath.FromSlash(rel))
		var err error
		if data == nil {
			err = os.Remove(abs)
			if os.IsNotExist(err) {
				err = nil
			}
		} else {
			err = os.WriteFile(abs, data, 0o644)
		}
		if err != nil {
			log.Error().Err(err).Str("file", rel).Msg("rollback: restore failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("restore %s: %w", rel, err)
			}
			continue
		}
		restored++
	}
	return restored, firstErr
}
