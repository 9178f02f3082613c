package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFilePath is used when no HISTORY_FILE is configured.
const DefaultFilePath = "tmp/medi_analyst_history.json"

// FileBackend stores the value of a key in one JSON file.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultFilePath
	}
	return &FileBackend{path: path}
}

func (b *FileBackend) Load(_ context.Context, _ string) ([]byte, bool, error) {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Save writes through a temp file and renames it over the target.
func (b *FileBackend) Save(_ context.Context, _ string, value []byte) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, b.path)
}

func (b *FileBackend) Close() error { return nil }
