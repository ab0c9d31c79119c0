package storage

import (
	"context"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdStore compresses objects on the way into the wrapped store and stores
// them under key + ".zst".
type ZstdStore struct {
	ArchiveStore
}

// NewZstdStore wraps store.
func NewZstdStore(store ArchiveStore) *ZstdStore {
	return &ZstdStore{ArchiveStore: store}
}

// Put compresses r while streaming it to the wrapped store.
func (s *ZstdStore) Put(ctx context.Context, key string, r io.Reader) error {
	pr, pw := io.Pipe()
	defer pr.Close()

	go func() {
		enc, err := zstd.NewWriter(pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(enc, r); err != nil {
			enc.Close()
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(enc.Close())
	}()

	return s.ArchiveStore.Put(ctx, key+".zst", pr)
}

func (s *ZstdStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.ArchiveStore.Exists(ctx, key+".zst")
}

func (s *ZstdStore) Delete(ctx context.Context, key string) error {
	return s.ArchiveStore.Delete(ctx, key+".zst")
}

func (s *ZstdStore) URI(key string) string {
	return s.ArchiveStore.URI(key + ".zst")
}
