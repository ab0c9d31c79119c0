package storage

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
)

// NewGCSStore opens a Google Cloud Storage bucket as an archive.
func NewGCSStore(bucketName, prefix string) (*BlobStore, error) {
	ctx := context.Background()

	bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", bucketName))
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", bucketName, err)
	}

	return NewBlobStore(bucket, "gs", bucketName, prefix), nil
}
