package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// LocalSource resolves import paths against a base directory.
type LocalSource struct {
	BaseDir string
}

func NewLocalSource(baseDir string) *LocalSource {
	if baseDir == "" {
		baseDir = "."
	}
	return &LocalSource{BaseDir: baseDir}
}

func (s *LocalSource) Resolve(sourcePath string) string {
	if filepath.IsAbs(sourcePath) {
		return sourcePath
	}
	return filepath.Join(s.BaseDir, sourcePath)
}

// Open returns the file together with its size in bytes.
func (s *LocalSource) Open(ctx context.Context, sourcePath string) (io.ReadCloser, int64, error) {
	_ = ctx

	path := s.Resolve(sourcePath)
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", path, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, fmt.Errorf("open file %s: is a directory", path)
	}
	return file, info.Size(), nil
}

// CountingReader counts bytes read through it. Count is safe to call from
// another goroutine.
type CountingReader struct {
	r io.Reader
	n atomic.Int64
}

func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{r: r}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *CountingReader) Count() int64 {
	return c.n.Load()
}
