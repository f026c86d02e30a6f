// Package blob stores message attachments. The core only needs a reference
// back; content is never inspected after the upload filter.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"duochat/internal/model"
)

// Store puts and reads attachment objects by key ("images/<name>", "uploads/<name>").
type Store interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// ValidKey rejects keys that could escape the store root.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	clean := path.Clean(key)
	return clean == key && !strings.HasPrefix(clean, "..")
}

// Dir keeps objects on the local filesystem under Root.
type Dir struct {
	Root string
}

// NewDir returns a filesystem store rooted at root.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

// Put writes r to key, creating parent directories. A partial file is removed on error.
func (d *Dir) Put(_ context.Context, key, _ string, r io.Reader, _ int64) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: invalid key %q", model.ErrValidation, key)
	}
	p := filepath.Join(d.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(p)
		return fmt.Errorf("failed to write file: %w", err)
	}
	return f.Close()
}

// Open returns the object and a content type guessed from its extension.
func (d *Dir) Open(_ context.Context, key string) (io.ReadCloser, string, error) {
	if !ValidKey(key) {
		return nil, "", fmt.Errorf("%w: invalid key %q", model.ErrNotFound, key)
	}
	f, err := os.Open(filepath.Join(d.Root, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", model.ErrNotFound, key)
		}
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, contentType, nil
}
