// Package geofence holds the named polygonal boundaries that gate
// location-tagged attendance actions.
package geofence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound  = errors.New("geofence not found")
	ErrNameTaken = errors.New("a geofence with this name already exists")
	// ErrUndefined means no geofence exists at all; containment fails closed.
	ErrUndefined = errors.New("no geofence is defined")
	ErrOutside   = errors.New("location is outside every geofence")
)

// InvalidError describes why a geofence definition was rejected.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string { return "invalid geofence: " + e.Reason }

// Point is a WGS84 coordinate. It travels on the wire as a [latitude, longitude] pair.
type Point struct {
	Lat float64
	Lon float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lat, p.Lon})
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var pair []float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("coordinate must be a [latitude, longitude] pair, got %d values", len(pair))
	}
	p.Lat, p.Lon = pair[0], pair[1]
	return nil
}

// Polygon is an ordered vertex ring. The closing edge back to the first vertex is implicit.
type Polygon []Point

// Contains reports whether pt lies inside the ring using ray casting along
// the longitude axis. Edges are half-open: points on the southern or western
// boundary count as inside, points on the northern or eastern boundary do not.
func (p Polygon) Contains(pt Point) bool {
	inside := false
	n := len(p)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p[i], p[j]
		if (a.Lat > pt.Lat) != (b.Lat > pt.Lat) {
			x := (b.Lon-a.Lon)*(pt.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if pt.Lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

// Geofence is a named boundary made of one or more polygons. Holes are not modeled.
type Geofence struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Polygons []Polygon `json:"coordinates"`
}

// Contains reports whether pt is inside any of the geofence's polygons.
func (g Geofence) Contains(pt Point) bool {
	for _, poly := range g.Polygons {
		if poly.Contains(pt) {
			return true
		}
	}
	return false
}

// Validate checks a geofence definition before it is stored.
func Validate(name string, polygons []Polygon) error {
	if strings.TrimSpace(name) == "" {
		return &InvalidError{Reason: "name is required"}
	}
	if len(polygons) == 0 {
		return &InvalidError{Reason: "at least one polygon is required"}
	}
	for i, poly := range polygons {
		if len(poly) < 3 {
			return &InvalidError{Reason: fmt.Sprintf("polygon %d has %d vertices, need at least 3", i, len(poly))}
		}
		for _, v := range poly {
			if err := validatePoint(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidatePoint rejects coordinates outside the WGS84 range.
func ValidatePoint(p Point) error {
	return validatePoint(p)
}

func validatePoint(p Point) error {
	if p.Lat < -90 || p.Lat > 90 {
		return &InvalidError{Reason: fmt.Sprintf("latitude %v out of range", p.Lat)}
	}
	if p.Lon < -180 || p.Lon > 180 {
		return &InvalidError{Reason: fmt.Sprintf("longitude %v out of range", p.Lon)}
	}
	return nil
}
