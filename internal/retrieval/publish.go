package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/withObsrvr/forecast-retriever/internal/audit"
	"github.com/withObsrvr/forecast-retriever/internal/catalog"
	"github.com/withObsrvr/forecast-retriever/internal/metrics"
	"github.com/withObsrvr/forecast-retriever/internal/storage"
)

// Publisher runs after a successful commit. Its failure does not undo the
// commit.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, t *storage.Ticket, row storage.IndexRow) error
}

// ArchivePublisher mirrors the data file and query sidecar of each commit
// into an archive store, keyed by their index paths.
type ArchivePublisher struct {
	store   storage.ArchiveStore
	backend string
	metrics *metrics.Metrics
}

// NewArchivePublisher wraps store. backend only labels metrics.
func NewArchivePublisher(store storage.ArchiveStore, backend string, m *metrics.Metrics) *ArchivePublisher {
	return &ArchivePublisher{store: store, backend: backend, metrics: m}
}

func (p *ArchivePublisher) Name() string { return "archive" }

func (p *ArchivePublisher) Publish(ctx context.Context, t *storage.Ticket, row storage.IndexRow) error {
	files := []struct{ key, path string }{
		{row.DataFile, t.DataPath},
		{row.QueryFile, t.QueryPath},
	}
	for _, f := range files {
		if err := storage.PublishFile(ctx, p.store, f.key, f.path); err != nil {
			p.metrics.IncArchiveErrors(p.backend)
			return err
		}
	}
	return nil
}

// CatalogPublisher records each commit in a catalog database.
type CatalogPublisher struct {
	writer  catalog.Writer
	archive storage.ArchiveStore // optional, for the archive URI
	metrics *metrics.Metrics
}

// NewCatalogPublisher wraps w. archive may be nil.
func NewCatalogPublisher(w catalog.Writer, archive storage.ArchiveStore, m *metrics.Metrics) *CatalogPublisher {
	return &CatalogPublisher{writer: w, archive: archive, metrics: m}
}

func (p *CatalogPublisher) Name() string { return "catalog" }

func (p *CatalogPublisher) Publish(ctx context.Context, t *storage.Ticket, row storage.IndexRow) error {
	size, sum, err := catalog.FileDigest(t.DataPath)
	if err != nil {
		p.metrics.IncCatalogErrors()
		return fmt.Errorf("digest %s: %w", filepath.Base(t.DataPath), err)
	}

	rec := catalog.Record{IndexRow: row, DataSize: size, Checksum: sum}
	if p.archive != nil {
		rec.ArchiveURI = p.archive.URI(row.DataFile)
	}

	if err := p.writer.RecordRetrieval(ctx, rec); err != nil {
		p.metrics.IncCatalogErrors()
		return err
	}
	return nil
}

// AuditPublisher appends each commit to the audit chain, with the digest of
// every file it wrote. A cost file is listed only if one was saved.
type AuditPublisher struct {
	emitter audit.Emitter
	metrics *metrics.Metrics
}

func NewAuditPublisher(e audit.Emitter, m *metrics.Metrics) *AuditPublisher {
	return &AuditPublisher{emitter: e, metrics: m}
}

func (p *AuditPublisher) Name() string { return "audit" }

func (p *AuditPublisher) Publish(ctx context.Context, t *storage.Ticket, row storage.IndexRow) error {
	evt := &audit.Event{
		Retrieval: audit.RetrievalInfo{
			EntryID:       row.EntryID,
			RetrievalID:   row.RetrievalID,
			QueryID:       row.QueryID,
			Model:         row.Model,
			Level:         row.Level,
			RetrievalMode: row.RetrievalMode,
			Issued:        row.Issued,
		},
	}

	files := []struct{ rel, path string }{
		{row.DataFile, t.DataPath},
		{row.QueryFile, t.QueryPath},
		{row.CostCheckFile, t.CostPath},
	}
	for _, f := range files {
		size, sum, err := catalog.FileDigest(f.path)
		if errors.Is(err, os.ErrNotExist) && f.path == t.CostPath {
			continue
		}
		if err != nil {
			p.metrics.IncAuditEvent("failed")
			return err
		}
		evt.Files = append(evt.Files, audit.FileInfo{Path: f.rel, Checksum: sum, ByteSize: size})
	}

	if err := p.emitter.Emit(ctx, evt); err != nil {
		p.metrics.IncAuditEvent("failed")
		return err
	}
	p.metrics.IncAuditEvent("emitted")
	return nil
}
