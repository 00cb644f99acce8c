// Package storage persists generated artifacts and resolves the opaque handles the
// orchestration core passes around.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/post-studio/internal/generation"
)

// ErrNotFound is returned by Get when no object exists for a handle.
var ErrNotFound = errors.New("artifact not found")

// Store saves immutable artifacts and loads them back by handle.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (generation.Handle, error)
	Get(ctx context.Context, handle generation.Handle) (Object, error)
}

// Object is a stored artifact.
type Object struct {
	Key          string
	ContentType  string
	Data         []byte
	LastModified time.Time
}

// Location is a parsed handle of the form <scheme>://<bucket>/<key>.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

// Handle formats the location back into a handle.
func (l Location) Handle() generation.Handle {
	return generation.Handle(fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Key))
}

// ParseHandle splits a handle into its location parts.
func ParseHandle(h generation.Handle) (Location, error) {
	scheme, rest, ok := strings.Cut(string(h), "://")
	if !ok || scheme == "" {
		return Location{}, fmt.Errorf("invalid artifact handle %q: missing scheme", h)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return Location{}, fmt.Errorf("invalid artifact handle %q: expected %s://<bucket>/<key>", h, scheme)
	}
	return Location{Scheme: scheme, Bucket: bucket, Key: key}, nil
}

// extensions maps the image types the generators produce to file extensions.
var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// newKey returns a fresh object key for contentType.
func newKey(contentType string) string {
	ext, ok := extensions[contentType]
	if !ok {
		ext = ".bin"
	}
	return time.Now().UTC().Format("2006/01/02") + "/" + uuid.NewString() + ext
}
