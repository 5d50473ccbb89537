// Package storage defines the object storage contract used by the relay and
// the helpers shared by its backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

const (
	// MaxObjectBytes is the default max accepted object size.
	MaxObjectBytes int64 = 200 * 1024 * 1024

	maxNameLength = 1024
)

var (
	// ErrInvalidKey indicates a container or object name the backend refuses.
	ErrInvalidKey = errors.New("invalid object key")
	// ErrObjectTooLarge indicates the payload exceeds the configured max size.
	ErrObjectTooLarge = errors.New("object too large")
)

// Writer is a write stream to a single object. Close commits the object;
// Abort discards everything written so far. Exactly one of them must be called.
type Writer interface {
	io.Writer
	Close() error
	Abort(cause error)
	// URL returns the public address of the object once committed.
	URL() string
}

// Backend opens write streams against named objects.
type Backend interface {
	OpenWriter(ctx context.Context, container, name string) (Writer, error)
}

// ValidateKey rejects empty names, control characters and oversized keys.
func ValidateKey(container, name string) error {
	if strings.TrimSpace(container) == "" {
		return fmt.Errorf("%w: container is required", ErrInvalidKey)
	}
	if strings.ContainsAny(container, "/\\") {
		return fmt.Errorf("%w: container %q must not contain separators", ErrInvalidKey, container)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: object name is required", ErrInvalidKey)
	}
	if len(container)+len(name) > maxNameLength {
		return fmt.Errorf("%w: key longer than %d bytes", ErrInvalidKey, maxNameLength)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: object name contains control characters", ErrInvalidKey)
		}
	}
	return nil
}

// PublicURL joins base, container and name, escaping each name segment.
func PublicURL(base, container, name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(container) + "/" + strings.Join(segments, "/")
}
