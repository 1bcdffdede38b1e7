package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore は UPLOAD_DIR に保存し、/uploads 配下のURLを返す
type LocalStore struct {
	dir       string
	publicURL string
}

func NewLocalStore(dir, publicURL string) *LocalStore {
	return &LocalStore{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}
}

func (s *LocalStore) Put(ctx context.Context, key string, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + key)[1:]
	if clean == "" || strings.Contains(clean, "..") {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}

	full := filepath.Join(s.dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: create dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return s.publicURL + "/" + filepath.ToSlash(clean), nil
}
