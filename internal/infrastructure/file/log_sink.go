package file

import (
	"fmt"
	"os"
	"path/filepath"
)

// OpenLogSink opens path for appending, creating it and its directory when
// missing. Writes from concurrent jobs interleave by line.
func OpenLogSink(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log sink %s: %w", path, err)
	}
	return f, nil
}
