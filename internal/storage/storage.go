package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/storefront/apiserver/config"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// Object is an opened stored object. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Storage stores uploaded product images on an ObjectStorage backend.
type Storage struct {
	backend ObjectStorage
	now     func() time.Time
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend, now: time.Now}
}

// WithClock returns a copy of s that names keys using now.
func (s *Storage) WithClock(now func() time.Time) *Storage {
	return &Storage{backend: s.backend, now: now}
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// SaveImage stores r under a generated key and returns the key.
// ext must include the leading dot.
func (s *Storage) SaveImage(ctx context.Context, ext string, r io.Reader, size int64, contentType string) (string, error) {
	key := ImageKey(s.now(), ext)
	if err := s.backend.Put(ctx, key, r, size, contentType); err != nil {
		return "", fmt.Errorf("store image %s: %w", key, err)
	}
	return key, nil
}

// Open opens a stored object. Keys containing path separators are never
// looked up.
func (s *Storage) Open(ctx context.Context, key string) (Object, error) {
	if !ValidKey(key) {
		return Object{}, ErrObjectNotFound
	}
	return s.backend.Open(ctx, key)
}

// Delete removes an object from the configured bucket.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return ErrObjectNotFound
	}
	return s.backend.Delete(ctx, key)
}

// DeleteURLPath removes the object a public /uploads/ path points at.
// Paths outside /uploads/ are left alone.
func (s *Storage) DeleteURLPath(ctx context.Context, urlPath string) error {
	key, ok := KeyFromURLPath(urlPath)
	if !ok {
		return nil
	}
	return s.Delete(ctx, key)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

// ImageKey names an uploaded image after its upload time in milliseconds.
func ImageKey(at time.Time, ext string) string {
	return fmt.Sprintf("image-%d%s", at.UnixMilli(), strings.ToLower(ext))
}

// URLPath is the public path an object is served under.
func URLPath(key string) string {
	return "/uploads/" + key
}

// KeyFromURLPath is the inverse of URLPath.
func KeyFromURLPath(urlPath string) (string, bool) {
	key, ok := strings.CutPrefix(urlPath, URLPath(""))
	if !ok || !ValidKey(key) {
		return "", false
	}
	return key, true
}

// ValidKey reports whether key is a plain object name.
func ValidKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return path.Base(key) == key && !strings.Contains(key, "\\")
}

// New builds the Storage for the configured backend: "minio", "gcs" or "memory".
func New(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "minio":
		backend, err = NewMinioClient(cfg.Minio)
	case "gcs":
		backend, err = NewGCSClient(ctx, cfg.GCS)
	case "memory":
		backend = NewMemoryStorage("memory")
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewStorage(backend), nil
}
