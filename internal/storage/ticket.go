package storage

import (
	"fmt"

	"github.com/withObsrvr/forecast-retriever/internal/query"
)

// Ticket reserves the storage locations of one in-flight retrieval. It is
// created by Manager.Allocate and consumed by exactly one Manager.Finalize.
type Ticket struct {
	Meta      RetrievalMeta
	DataPath  string // reserved, not yet existing
	QueryPath string // shared by every retrieval of the same query
	CostPath  string
	Timestamp int64 // allocation time, unix seconds

	finalized bool
}

// ID distinguishes two allocations of the same RetrievalMeta.
func (t *Ticket) ID() string {
	return query.ShortHash(fmt.Sprintf("%s_%d_%s_%s", t.Meta.ID(), t.Timestamp, t.DataPath, t.QueryPath))
}
