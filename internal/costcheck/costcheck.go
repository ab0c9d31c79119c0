// Package costcheck reads the cost estimates the provider returns for a
// request and folds them into a report.
package costcheck

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FilePattern matches cost files under the landing root's cost directory.
const FilePattern = "ecmwf_cost_*.txt"

// Field is one key=value; line. Int is set when the value is an integer.
type Field struct {
	Key   string
	Value string
	Int   int64
	IsInt bool
}

// Estimate is a parsed cost file. Fields keep file order.
type Estimate struct {
	File     string
	Modified time.Time
	Fields   []Field
}

// Get returns the value of key.
func (e Estimate) Get(key string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Parse reads key=value; lines. Lines without "=" or without the trailing
// semicolon are ignored; a repeated key keeps the last value.
func Parse(r io.Reader) ([]Field, error) {
	var fields []Field
	seen := make(map[string]int)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.Contains(line, "=") || !strings.HasSuffix(line, ";") {
			continue
		}
		key, val, _ := strings.Cut(strings.TrimSuffix(line, ";"), "=")
		f := Field{Key: strings.TrimSpace(key), Value: strings.TrimSpace(val)}
		if n, err := strconv.ParseInt(f.Value, 10, 64); err == nil {
			f.Int, f.IsInt = n, true
		}

		if i, ok := seen[f.Key]; ok {
			fields[i] = f
			continue
		}
		seen[f.Key] = len(fields)
		fields = append(fields, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read cost file: %w", err)
	}
	return fields, nil
}

// ParseFile parses the cost file at path.
func ParseFile(path string) (Estimate, error) {
	f, err := os.Open(path)
	if err != nil {
		return Estimate{}, fmt.Errorf("open cost file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Estimate{}, fmt.Errorf("stat cost file: %w", err)
	}

	fields, err := Parse(f)
	if err != nil {
		return Estimate{}, fmt.Errorf("%s: %w", path, err)
	}
	return Estimate{File: path, Modified: info.ModTime(), Fields: fields}, nil
}

// Collect parses every cost file in dir, oldest first. A missing directory
// yields no estimates.
func Collect(dir string) ([]Estimate, error) {
	paths, err := filepath.Glob(filepath.Join(dir, FilePattern))
	if err != nil {
		return nil, fmt.Errorf("list cost files: %w", err)
	}

	estimates := make([]Estimate, 0, len(paths))
	for _, p := range paths {
		e, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		estimates = append(estimates, e)
	}

	sort.SliceStable(estimates, func(i, j int) bool {
		if estimates[i].Modified.Equal(estimates[j].Modified) {
			return estimates[i].File < estimates[j].File
		}
		return estimates[i].Modified.Before(estimates[j].Modified)
	})
	return estimates, nil
}

// Total sums the integer values of key.
func Total(estimates []Estimate, key string) int64 {
	var sum int64
	for _, e := range estimates {
		if f, ok := e.Get(key); ok && f.IsInt {
			sum += f.Int
		}
	}
	return sum
}

// WriteReport writes one CSV row per estimate. The header is file and
// modified followed by every key in order of first appearance.
func WriteReport(w io.Writer, estimates []Estimate) error {
	header := []string{"file", "modified"}
	seen := make(map[string]bool)
	for _, e := range estimates {
		for _, f := range e.Fields {
			if !seen[f.Key] {
				seen[f.Key] = true
				header = append(header, f.Key)
			}
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	for _, e := range estimates {
		record := make([]string, len(header))
		record[0] = filepath.Base(e.File)
		record[1] = strconv.FormatInt(e.Modified.Unix(), 10)
		for i, key := range header[2:] {
			if f, ok := e.Get(key); ok {
				record[i+2] = f.Value
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write report row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
