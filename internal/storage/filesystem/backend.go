// Package filesystem implements storage.Backend on a local directory. Objects
// live at <dataRoot>/objects/<container>/<name> and are exposed under
// publicBaseURL, which the local server maps to the objects directory.
// Uploads in progress are staged in <dataRoot>/staging, outside that tree.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"upload-files-skill/internal/storage"
)

const (
	objectsDir = "objects"
	stagingDir = "staging"
)

// Backend stores objects as files below root.
type Backend struct {
	root          string
	staging       string
	publicBaseURL string
}

// New creates a filesystem backend keeping its files below dataRoot.
func New(dataRoot, publicBaseURL string) (*Backend, error) {
	if strings.TrimSpace(dataRoot) == "" {
		return nil, fmt.Errorf("filesystem: root must not be empty")
	}
	if strings.TrimSpace(publicBaseURL) == "" {
		return nil, fmt.Errorf("filesystem: public base url must not be empty")
	}
	abs, err := filepath.Abs(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("filesystem: resolve root: %w", err)
	}
	return &Backend{
		root:          filepath.Join(abs, objectsDir),
		staging:       filepath.Join(abs, stagingDir),
		publicBaseURL: publicBaseURL,
	}, nil
}

// Root returns the absolute directory committed objects live in. It holds
// nothing else.
func (b *Backend) Root() string {
	return b.root
}

// OpenWriter stages the object in a temp file outside Root. Close renames it
// into place, so readers never observe a partial object and the last
// committed writer wins.
func (b *Backend) OpenWriter(_ context.Context, container, name string) (storage.Writer, error) {
	dest, err := b.objectPath(container, name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("filesystem: create parent dir: %w", err)
	}
	if err := os.MkdirAll(b.staging, 0o700); err != nil {
		return nil, fmt.Errorf("filesystem: create staging dir: %w", err)
	}
	tmp, err := os.CreateTemp(b.staging, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("filesystem: create temp file: %w", err)
	}
	return &fileWriter{
		file: tmp,
		dest: dest,
		url:  storage.PublicURL(b.publicBaseURL, container, name),
	}, nil
}

// objectPath converts container and name into a path below root.
func (b *Backend) objectPath(container, name string) (string, error) {
	if err := storage.ValidateKey(container, name); err != nil {
		return "", err
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: absolute name is forbidden: %s", storage.ErrInvalidKey, name)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal is forbidden: %s", storage.ErrInvalidKey, name)
	}
	containerDir := filepath.Join(b.root, container)
	joined := filepath.Join(containerDir, clean)
	if !strings.HasPrefix(joined, containerDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes container: %s", storage.ErrInvalidKey, name)
	}
	return joined, nil
}

type fileWriter struct {
	file *os.File
	dest string
	url  string
	done bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

func (w *fileWriter) Close() error {
	if w.done {
		return fmt.Errorf("filesystem: writer already closed")
	}
	w.done = true
	tmp := w.file.Name()
	if err := w.file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("filesystem: close temp file: %w", err)
	}
	if err := os.Rename(tmp, w.dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("filesystem: commit object: %w", err)
	}
	return nil
}

func (w *fileWriter) Abort(_ error) {
	if w.done {
		return
	}
	w.done = true
	_ = w.file.Close()
	_ = os.Remove(w.file.Name())
}

func (w *fileWriter) URL() string {
	return w.url
}
