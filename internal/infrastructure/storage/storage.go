// Package storage keeps rendered report artifacts on the local filesystem
// or in an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/erp/arledger/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Store persists artifact bytes under a key and returns where they went
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// New builds the store selected by cfg.Backend. Local artifacts are written
// under outputDir.
func New(ctx context.Context, cfg config.StorageConfig, outputDir string, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case config.StorageS3:
		s, err := NewS3Store(&cfg, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case config.StorageLocal, "":
		return NewLocalStore(outputDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// LocalStore writes artifacts into a directory
type LocalStore struct {
	root string
}

// NewLocalStore creates the directory if needed
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Put writes data to root/key and returns the file path
func (s *LocalStore) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}

func (s *LocalStore) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("storage key is required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage key %q escapes the output directory", key)
	}
	return filepath.Join(s.root, clean), nil
}
