package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

// FileStore keeps the latest snapshot in a JSON file so a detached worker can
// be observed from other processes. Writes replace the file atomically.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Write(ctx context.Context, snapshot domain.ProgressSnapshot) error {
	_ = ctx

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create progress directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create progress temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close progress temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace progress file: %w", err)
	}
	return nil
}

func (s *FileStore) Read(ctx context.Context) (domain.ProgressSnapshot, error) {
	_ = ctx

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ProgressSnapshot{}, domain.ErrNoProgress
		}
		return domain.ProgressSnapshot{}, fmt.Errorf("read progress: %w", err)
	}
	return decode(data)
}

func (s *FileStore) Clear(ctx context.Context) error {
	_ = ctx

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove progress file: %w", err)
	}
	return nil
}

func decode(data []byte) (domain.ProgressSnapshot, error) {
	var snapshot domain.ProgressSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("decode progress: %w", err)
	}
	return snapshot, nil
}
