package storage

import (
	"fmt"
	"strings"

	"github.com/withObsrvr/forecast-retriever/internal/query"
	"github.com/withObsrvr/forecast-retriever/internal/request"
)

// RetrievalMeta is the canonical description of one retrieval. Two
// retrievals with identical parameters, issuance included, share an ID.
type RetrievalMeta struct {
	Model           string
	Level           string
	RetrievalMode   string
	Format          string
	Variables       []string
	IssueHours      []string
	Lookback        int
	StepGranularity int
	Issued          string // "YYYY-MM-DD HH:00"
	Area            string
	Grid            string
}

// NewRetrievalMeta describes req as built from settings.
func NewRetrievalMeta(s request.Settings, req request.Request) RetrievalMeta {
	f := req.Fields()
	format := s.Format
	if format == "" {
		format = f.Format
	}
	return RetrievalMeta{
		Model:           s.Model,
		Level:           s.Level,
		RetrievalMode:   s.RetrievalMode,
		Format:          format,
		Variables:       append([]string(nil), s.Variables...),
		IssueHours:      append([]string(nil), s.IssueHours...),
		Lookback:        s.Lookback,
		StepGranularity: s.StepGranularity,
		Issued:          f.Issued(),
		Area:            f.Area,
		Grid:            f.Grid,
	}
}

// ID hashes every field in declaration order.
func (m RetrievalMeta) ID() string {
	return query.ShortHash(fmt.Sprintf("%s_%s_%s_%s_%s_%s_%d_%d_%s_%s_%s",
		m.Model, m.Level, m.RetrievalMode, m.Format,
		strings.Join(m.Variables, ","), strings.Join(m.IssueHours, ","),
		m.Lookback, m.StepGranularity, m.Issued, m.Area, m.Grid))
}

// issuedSlug is the issuance as used in file names.
func (m RetrievalMeta) issuedSlug() string {
	return strings.ReplaceAll(m.Issued, "/", "_")
}
