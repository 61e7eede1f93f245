package settlement

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"auction-house/internal/biddingerrors"
)

// Storage keeps generated documents by key
type Storage interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// PublicURL returns a direct download link, or "" when documents are only served through the API
	PublicURL(key string) string
}

// LocalStorage keeps documents in a directory on disk
type LocalStorage struct {
	dir string
}

func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("settlement: create document dir %s: %w", dir, err)
	}
	return &LocalStorage{dir: dir}, nil
}

func (l *LocalStorage) path(key string) (string, error) {
	clean := filepath.Base(key)
	if clean != key || strings.HasPrefix(clean, ".") {
		return "", fmt.Errorf("settlement: invalid document key %q", key)
	}
	return filepath.Join(l.dir, clean), nil
}

func (l *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	p, err := l.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("settlement: stat %s: %w", key, err)
	}
	return true, nil
}

// Put writes through a temporary file so readers never see a partial document
func (l *LocalStorage) Put(_ context.Context, key string, body []byte, _ string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(l.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("settlement: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("settlement: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settlement: close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("settlement: store %s: %w", key, err)
	}
	return nil
}

func (l *LocalStorage) Get(_ context.Context, key string) ([]byte, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("settlement: %s: %w", key, biddingerrors.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("settlement: read %s: %w", key, err)
	}
	return body, nil
}

func (l *LocalStorage) PublicURL(string) string {
	return ""
}
