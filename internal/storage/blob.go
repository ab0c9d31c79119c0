package storage

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BlobStore mirrors files into a gocloud.dev bucket.
type BlobStore struct {
	bucket *blob.Bucket
	scheme string
	name   string
	prefix string
}

// NewBlobStore wraps an opened bucket. scheme and name are only used to
// build URIs.
func NewBlobStore(bucket *blob.Bucket, scheme, name, prefix string) *BlobStore {
	return &BlobStore{
		bucket: bucket,
		scheme: scheme,
		name:   name,
		prefix: prefix,
	}
}

// Put streams r into the bucket. A failed copy aborts the upload.
func (s *BlobStore) Put(ctx context.Context, key string, r io.Reader) error {
	path := s.prefix + key

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, path, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", path, err)
	}

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("write data to %s: %w", path, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", path, err)
	}

	return nil
}

// Exists checks if a key is present in the bucket.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, s.prefix+key)
}

// Delete removes a key from the bucket.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, s.prefix+key)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// URI returns scheme://bucket/prefix+key.
func (s *BlobStore) URI(key string) string {
	return fmt.Sprintf("%s://%s/%s%s", s.scheme, s.name, s.prefix, key)
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
