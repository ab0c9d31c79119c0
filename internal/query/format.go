package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatFloat renders v using the shortest round-trip representation, always
// carrying a fractional part ("10.0", "19.900000000000002") and switching to
// exponent form outside [1e-4, 1e16). Identity hashes and request areas are
// built from this text, so it must stay stable across releases.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}

	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// FormatTime renders t as an ISO-8601 timestamp. UTC times carry no offset,
// other locations carry "+HH:MM". Microseconds are printed only when non-zero.
func FormatTime(t time.Time) string {
	s := t.Format("2006-01-02T15:04:05")
	if us := t.Nanosecond() / 1000; us != 0 {
		s += fmt.Sprintf(".%06d", us)
	}
	if t.Location() != time.UTC {
		s += t.Format("-07:00")
	}
	return s
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime accepts the ISO-8601 shapes found in query files. Values without
// an offset are read as UTC and render without one. An explicit offset, "Z"
// included, is kept in a fixed zone so it renders as "+HH:MM".
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if strings.Contains(layout, "Z07:00") {
			_, offset := t.Zone()
			t = t.In(time.FixedZone("", offset))
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("parse time %q: unsupported ISO-8601 layout", s)
}
