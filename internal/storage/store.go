package storage

import (
	"context"
	"fmt"
	"io"
	"os"
)

// ArchiveStore mirrors committed retrieval files to durable storage.
// Keys are slash-separated paths relative to the landing root.
type ArchiveStore interface {
	// Put writes the contents of r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// ArchiveConfig configures the archive backend.
type ArchiveConfig struct {
	Backend string // "" | "none" | "local" | "gcs" | "s3"

	// Local filesystem
	LocalDir string

	// GCS and S3
	Bucket string

	// S3 (also works for B2, R2, MinIO)
	Endpoint string // custom endpoint for B2/MinIO/R2
	Region   string

	// Common
	Prefix      string // path prefix within bucket or local dir
	Compression string // "" | "none" | "zstd"
}

// NewArchiveStore creates an archive backend based on configuration.
// It returns a nil store when archiving is disabled.
func NewArchiveStore(cfg ArchiveConfig) (ArchiveStore, error) {
	var (
		store ArchiveStore
		err   error
	)

	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		store, err = NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for gcs backend")
		}
		store, err = NewGCSStore(cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for s3 backend")
		}
		store, err = NewS3Store(cfg.Bucket, cfg.Prefix, cfg.Endpoint, cfg.Region)
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	switch cfg.Compression {
	case "", "none":
		return store, nil
	case "zstd":
		return NewZstdStore(store), nil
	default:
		store.Close()
		return nil, fmt.Errorf("unknown archive compression: %s", cfg.Compression)
	}
}

// PublishFile copies the local file at path into store under key.
func PublishFile(ctx context.Context, store ArchiveStore, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if err := store.Put(ctx, key, f); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}
