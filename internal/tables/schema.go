package tables

import (
	"time"
)

// RetrievalRow is one committed retrieval in the exported index table.
type RetrievalRow struct {
	// Identity
	EntryID     string `parquet:"entry_id"`
	RetrievalID string `parquet:"retrieval_id"`
	QueryID     string `parquet:"query_id"`

	// Request parameters
	Model           string   `parquet:"model"`
	Level           string   `parquet:"level"`
	RetrievalMode   string   `parquet:"retrieval_mode"`
	Format          string   `parquet:"format"`
	Variables       []string `parquet:"variables"`
	IssueHours      []string `parquet:"issue_hours"`
	LookbackHours   int32    `parquet:"lookback_hours"`
	StepGranularity int32    `parquet:"step_granularity"`
	Area            string   `parquet:"area"`
	Grid            string   `parquet:"grid"`

	// Temporal fields
	Issued      time.Time `parquet:"issued,timestamp(millisecond)"`
	RetrievedAt time.Time `parquet:"retrieved_at,timestamp(millisecond)"`

	// Files, relative to the landing root
	DataFile      string `parquet:"data_file"`
	QueryFile     string `parquet:"query_file"`
	CostCheckFile string `parquet:"cost_check_file"`

	SchemaVersion string `parquet:"schema_version"`
}

// TableName returns the canonical table name.
func (RetrievalRow) TableName() string {
	return "retrievals"
}

// ExportConfig configures parquet output generation.
type ExportConfig struct {
	Compression string // "snappy" | "zstd" | "none"
}

// DefaultExportConfig returns sensible defaults.
func DefaultExportConfig() ExportConfig {
	return ExportConfig{Compression: "snappy"}
}

// SchemaVersion is written into every row. Bump it on breaking changes.
const SchemaVersion = "1.0.0"
