package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// IndexFile is the index file name under the landing root.
const IndexFile = "index.csv"

// IndexColumns is the header of a newly created index.
var IndexColumns = []string{
	"data_file",
	"query_file",
	"cost_check_file",
	"retrieval_id",
	"entry_id",
	"query_id",
	"model",
	"level",
	"retrieval_mode",
	"format",
	"issued",
	"issue_hours",
	"lookback_hours",
	"step_granularity",
	"variables",
	"area",
	"grid",
	"timestamp",
}

// IndexRow is one committed retrieval. Paths are relative to the landing root.
type IndexRow struct {
	DataFile        string
	QueryFile       string
	CostCheckFile   string
	RetrievalID     string
	EntryID         string
	QueryID         string
	Model           string
	Level           string
	RetrievalMode   string
	Format          string
	Issued          string
	IssueHours      []string
	LookbackHours   int
	StepGranularity int
	Variables       []string
	Area            string
	Grid            string
	Timestamp       int64
}

// Values flattens the row; list fields are comma-joined.
func (r IndexRow) Values() map[string]string {
	return map[string]string{
		"data_file":        r.DataFile,
		"query_file":       r.QueryFile,
		"cost_check_file":  r.CostCheckFile,
		"retrieval_id":     r.RetrievalID,
		"entry_id":         r.EntryID,
		"query_id":         r.QueryID,
		"model":            r.Model,
		"level":            r.Level,
		"retrieval_mode":   r.RetrievalMode,
		"format":           r.Format,
		"issued":           r.Issued,
		"issue_hours":      strings.Join(r.IssueHours, ","),
		"lookback_hours":   strconv.Itoa(r.LookbackHours),
		"step_granularity": strconv.Itoa(r.StepGranularity),
		"variables":        strings.Join(r.Variables, ","),
		"area":             r.Area,
		"grid":             r.Grid,
		"timestamp":        strconv.FormatInt(r.Timestamp, 10),
	}
}

func indexRowFromValues(v map[string]string) (IndexRow, error) {
	row := IndexRow{
		DataFile:      v["data_file"],
		QueryFile:     v["query_file"],
		CostCheckFile: v["cost_check_file"],
		RetrievalID:   v["retrieval_id"],
		EntryID:       v["entry_id"],
		QueryID:       v["query_id"],
		Model:         v["model"],
		Level:         v["level"],
		RetrievalMode: v["retrieval_mode"],
		Format:        v["format"],
		Issued:        v["issued"],
		IssueHours:    splitList(v["issue_hours"]),
		Variables:     splitList(v["variables"]),
		Area:          v["area"],
		Grid:          v["grid"],
	}

	var err error
	if row.LookbackHours, err = atoiOrZero(v["lookback_hours"]); err != nil {
		return IndexRow{}, fmt.Errorf("lookback_hours: %w", err)
	}
	if row.StepGranularity, err = atoiOrZero(v["step_granularity"]); err != nil {
		return IndexRow{}, fmt.Errorf("step_granularity: %w", err)
	}
	if ts := strings.TrimSpace(v["timestamp"]); ts != "" {
		if row.Timestamp, err = strconv.ParseInt(ts, 10, 64); err != nil {
			return IndexRow{}, fmt.Errorf("timestamp: %w", err)
		}
	}
	return row, nil
}

// Index is the append-only record of committed retrievals.
type Index struct {
	table *Table
}

// NewIndex opens the index at path. The file is created on first append.
func NewIndex(path string) *Index {
	return &Index{table: NewTable(path, IndexColumns)}
}

// Path returns the index file path.
func (ix *Index) Path() string {
	return ix.table.Path()
}

// Append adds one row. Concurrent appends are serialized.
func (ix *Index) Append(row IndexRow) error {
	return ix.table.Append(row.Values())
}

// Rows returns every row in file order. A missing index yields ErrTableNotFound.
func (ix *Index) Rows() ([]IndexRow, error) {
	values, err := ix.table.ReadAll()
	if err != nil {
		return nil, err
	}

	rows := make([]IndexRow, 0, len(values))
	for i, v := range values {
		row, err := indexRowFromValues(v)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", ix.Path(), i+1, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func atoiOrZero(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
