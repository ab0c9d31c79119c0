package query

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoPoints is returned when a bounding box is requested for an empty point set.
var ErrNoPoints = errors.New("no points")

// BoundingBox is an axis-aligned box in degrees.
type BoundingBox struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// Area returns the box as "north/west/south/east".
func (b BoundingBox) Area() string {
	return fmt.Sprintf("%s/%s/%s/%s",
		FormatFloat(b.LatMax), FormatFloat(b.LonMin),
		FormatFloat(b.LatMin), FormatFloat(b.LonMax))
}

// SnappedBoundingBox returns the smallest box enclosing points whose edges
// lie on multiples of res. Lower edges snap down, upper edges snap one cell up.
func SnappedBoundingBox(points []Point, res float64) (BoundingBox, error) {
	if len(points) == 0 {
		return BoundingBox{}, ErrNoPoints
	}
	if res <= 0 {
		return BoundingBox{}, fmt.Errorf("resolution must be positive, got %v", res)
	}

	latMin, latMax := points[0].Lat, points[0].Lat
	lonMin, lonMax := points[0].Lon, points[0].Lon
	for _, p := range points[1:] {
		latMin = math.Min(latMin, p.Lat)
		latMax = math.Max(latMax, p.Lat)
		lonMin = math.Min(lonMin, p.Lon)
		lonMax = math.Max(lonMax, p.Lon)
	}

	return BoundingBox{
		LatMin: snapDown(latMin, res),
		LatMax: snapUp(latMax, res),
		LonMin: snapDown(lonMin, res),
		LonMax: snapUp(lonMax, res),
	}, nil
}

func snapDown(v, res float64) float64 {
	return floorDiv(v, res) * res
}

func snapUp(v, res float64) float64 {
	return floorDiv(v+res, res) * res
}

// floorDiv is floor division computed from the exact remainder rather than
// from the rounded quotient, so 10.0 / 0.1 floors to 99 (0.1 is slightly
// above one tenth in binary).
func floorDiv(a, b float64) float64 {
	mod := math.Mod(a, b)
	div := (a - mod) / b
	if mod != 0 {
		if (b < 0) != (mod < 0) {
			div -= 1
		}
	}
	if div == 0 {
		return math.Copysign(0, a/b)
	}
	fl := math.Floor(div)
	if div-fl > 0.5 {
		fl += 1
	}
	return fl
}
