package storage

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrTableNotFound is returned when reading a table whose file does not exist.
var ErrTableNotFound = errors.New("table not found")

// Table is an append-only CSV file with a header row. Appends are
// serialized per Table value; share one Table between writers of a file.
type Table struct {
	path    string
	columns []string
	mu      sync.Mutex
}

// NewTable returns a table at path. columns is the header written when the
// file is created.
func NewTable(path string, columns []string) *Table {
	return &Table{path: path, columns: columns}
}

// Path returns the table file path.
func (t *Table) Path() string {
	return t.path
}

// Append writes one row. The values are laid out in the order of the
// existing header; columns unknown to the file are dropped and missing ones
// are left empty.
func (t *Table) Append(values map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("create table directory: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open table %s: %w", t.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat table %s: %w", t.path, err)
	}

	header := t.columns
	needsHeader := info.Size() == 0
	if !needsHeader {
		existing, err := csv.NewReader(bufio.NewReader(f)).Read()
		if err != nil && err != io.EOF {
			return fmt.Errorf("read header of %s: %w", t.path, err)
		}
		if len(existing) > 0 {
			header = existing
		} else {
			needsHeader = true
		}

		if err := ensureTrailingNewline(f, info.Size()); err != nil {
			return fmt.Errorf("prepare %s for append: %w", t.path, err)
		}
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek end of %s: %w", t.path, err)
	}

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	record := make([]string, len(header))
	for i, col := range header {
		record[i] = values[col]
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("write row: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", t.path, err)
	}
	return nil
}

// ReadAll returns every row keyed by column name.
func (t *Table) ReadAll() ([]map[string]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, t.path)
		}
		return nil, fmt.Errorf("open table %s: %w", t.path, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", t.path, err)
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", t.path, err)
		}

		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func ensureTrailingNewline(f *os.File, size int64) error {
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	_, err := f.Write([]byte("\n"))
	return err
}
