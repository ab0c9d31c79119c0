package costcheck

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	in := strings.Join([]string{
		"size=1234;",
		"  number_of_fields = 24 ;",
		"comment without separator",
		"unterminated=5",
		"cost_type=online;",
		"size=99;",
	}, "\n")

	fields, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, fields, 3)

	assert.Equal(t, Field{Key: "size", Value: "99", Int: 99, IsInt: true}, fields[0])
	assert.Equal(t, "number_of_fields", fields[1].Key)
	assert.True(t, fields[1].IsInt)
	assert.Equal(t, int64(24), fields[1].Int)
	assert.Equal(t, Field{Key: "cost_type", Value: "online"}, fields[2])
}

func writeCost(t *testing.T, dir, name, body string, mod time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	require.NoError(t, os.Chtimes(path, mod, mod))
	return path
}

func TestCollectOrdersByModification(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	writeCost(t, dir, "ecmwf_cost_hres_surface_b.txt", "size=20;\n", base.Add(time.Hour))
	writeCost(t, dir, "ecmwf_cost_hres_surface_a.txt", "size=10;\nfields=2;\n", base.Add(2*time.Hour))
	writeCost(t, dir, "ecmwf_cost_hres_surface_c.txt", "size=5;\n", base)
	writeCost(t, dir, "unrelated.txt", "size=1000;\n", base)

	estimates, err := Collect(dir)
	require.NoError(t, err)
	require.Len(t, estimates, 3)

	assert.Equal(t, "ecmwf_cost_hres_surface_c.txt", filepath.Base(estimates[0].File))
	assert.Equal(t, "ecmwf_cost_hres_surface_b.txt", filepath.Base(estimates[1].File))
	assert.Equal(t, "ecmwf_cost_hres_surface_a.txt", filepath.Base(estimates[2].File))
	assert.Equal(t, int64(35), Total(estimates, "size"))
	assert.Equal(t, int64(2), Total(estimates, "fields"))
}

func TestCollectMissingDirectory(t *testing.T) {
	estimates, err := Collect(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, estimates)
}

func TestWriteReport(t *testing.T) {
	mod := time.Unix(1700000000, 0)
	estimates := []Estimate{
		{File: "/x/ecmwf_cost_1.txt", Modified: mod, Fields: []Field{{Key: "size", Value: "10"}}},
		{File: "/x/ecmwf_cost_2.txt", Modified: mod, Fields: []Field{{Key: "fields", Value: "3"}, {Key: "size", Value: "20"}}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, estimates))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"file", "modified", "size", "fields"},
		{"ecmwf_cost_1.txt", "1700000000", "10", ""},
		{"ecmwf_cost_2.txt", "1700000000", "20", "3"},
	}, records)
}
