// Package local archives models on the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes archived models below a base directory. All access goes
// through an os.Root so object paths cannot escape it.
type BlobStore struct {
	baseDir string
	root    *os.Root
}

// New opens the base directory, creating it when missing, and checks that
// it is writable.
func New(cfg Config) (*BlobStore, error) {
	baseDir := strings.TrimSpace(cfg.BaseDir)
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	root, err := os.OpenRoot(baseDir)
	if err != nil {
		return nil, fmt.Errorf("open base directory: %w", err)
	}
	const probe = ".writable_test"
	if err := root.WriteFile(probe, []byte("test"), 0o600); err != nil {
		_ = root.Close()
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := root.Remove(probe); err != nil {
		_ = root.Close()
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}
	return &BlobStore{baseDir: baseDir, root: root}, nil
}

// PutObject writes data to path below the base directory and returns a
// file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	rel := filepath.Clean(filepath.FromSlash(path))
	if dir := filepath.Dir(rel); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("failed to create parent directories: %w", err)
		}
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	if err := s.root.WriteFile(rel, byteData, 0o600); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return "file://" + filepath.Join(s.baseDir, rel), nil
}

// Close releases the base directory handle.
func (s *BlobStore) Close() error {
	if s == nil || s.root == nil {
		return nil
	}
	return s.root.Close()
}
