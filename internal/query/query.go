// Package query models a user query: a time range and the geographic points
// forecasts are retrieved for.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrEmptyQuery is returned when a query file carries no points.
var ErrEmptyQuery = errors.New("query has no points")

// Point is a latitude/longitude pair. It is encoded as a two-element array.
type Point struct {
	Lat float64
	Lon float64
}

// MarshalJSON encodes the point as [lat, lon].
func (p Point) MarshalJSON() ([]byte, error) {
	return []byte("[" + FormatFloat(p.Lat) + "," + FormatFloat(p.Lon) + "]"), nil
}

// UnmarshalJSON decodes a [lat, lon] array.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode point: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("decode point: want [lat, lon], got %d values", len(pair))
	}
	p.Lat, p.Lon = pair[0], pair[1]
	return nil
}

// TimeRange is the inclusive span of issuance dates a query covers.
// Start <= End is the caller's responsibility.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Query is immutable once constructed; mutators return copies.
type Query struct {
	TimeRange TimeRange
	Points    []Point
	Name      string
}

// ID returns the first 16 hex characters of the SHA-256 over the start, end
// and ordered point coordinates.
func (q Query) ID() string {
	var b strings.Builder
	b.WriteString(FormatTime(q.TimeRange.Start))
	b.WriteString("_")
	b.WriteString(FormatTime(q.TimeRange.End))
	b.WriteString("_")
	for i, p := range q.Points {
		if i > 0 {
			b.WriteString("_")
		}
		b.WriteString(FormatFloat(p.Lat))
		b.WriteString("_")
		b.WriteString(FormatFloat(p.Lon))
	}
	return ShortHash(b.String())
}

// ShortHash returns the first 16 hex characters of sha256(s).
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// Lats returns the point latitudes in order.
func (q Query) Lats() []float64 {
	out := make([]float64, len(q.Points))
	for i, p := range q.Points {
		out[i] = p.Lat
	}
	return out
}

// Lons returns the point longitudes in order.
func (q Query) Lons() []float64 {
	out := make([]float64, len(q.Points))
	for i, p := range q.Points {
		out[i] = p.Lon
	}
	return out
}

// WithTimeRange returns a copy of q covering [start, end].
func (q Query) WithTimeRange(start, end time.Time) Query {
	points := make([]Point, len(q.Points))
	copy(points, q.Points)
	return Query{
		TimeRange: TimeRange{Start: start, End: end},
		Points:    points,
		Name:      q.Name,
	}
}

// Days steps one day at a time from the start, keeping its time of day,
// while the step does not pass the end. A final day whose time of day falls
// after the end is not included.
func (q Query) Days() []time.Time {
	var days []time.Time
	for d := q.TimeRange.Start; !d.After(q.TimeRange.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (q Query) String() string {
	return fmt.Sprintf("Query(%s to %s, points=%d)",
		FormatTime(q.TimeRange.Start), FormatTime(q.TimeRange.End), len(q.Points))
}

type timeRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type fileJSON struct {
	TimeRange timeRangeJSON `json:"time_range"`
	Points    []Point       `json:"points"`
	Name      string        `json:"name,omitempty"`
}

type sidecarJSON struct {
	ID        string        `json:"id"`
	TimeRange timeRangeJSON `json:"time_range"`
	Points    []Point       `json:"points"`
}

// Parse decodes a query document. An "id" field, as written in sidecars, is
// ignored: the identity is always recomputed.
func Parse(data []byte) (Query, error) {
	var doc fileJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return Query{}, fmt.Errorf("decode query: %w", err)
	}

	start, err := ParseTime(doc.TimeRange.Start)
	if err != nil {
		return Query{}, fmt.Errorf("time_range.start: %w", err)
	}
	end, err := ParseTime(doc.TimeRange.End)
	if err != nil {
		return Query{}, fmt.Errorf("time_range.end: %w", err)
	}
	if len(doc.Points) == 0 {
		return Query{}, ErrEmptyQuery
	}

	return Query{
		TimeRange: TimeRange{Start: start, End: end},
		Points:    doc.Points,
		Name:      doc.Name,
	}, nil
}

// Load reads and parses the query file at path.
func Load(path string) (Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Query{}, fmt.Errorf("read query file: %w", err)
	}
	q, err := Parse(data)
	if err != nil {
		return Query{}, fmt.Errorf("%s: %w", path, err)
	}
	return q, nil
}

// Sidecar returns the pretty-printed document persisted next to committed
// retrievals: {"id", "time_range", "points"}.
func (q Query) Sidecar() ([]byte, error) {
	doc := sidecarJSON{
		ID: q.ID(),
		TimeRange: timeRangeJSON{
			Start: FormatTime(q.TimeRange.Start),
			End:   FormatTime(q.TimeRange.End),
		},
		Points: q.Points,
	}
	return json.MarshalIndent(doc, "", "    ")
}
