package model

import (
	"fmt"
	"math"
	"time"
)

// Shape is the geometry of a measurement point on the board photo.
type Shape string

const (
	ShapeCircle    Shape = "circle"
	ShapeRectangle Shape = "rectangle"
)

// DefaultPointSize is used for radius/width/height when the caller does not
// specify dimensions.
const DefaultPointSize = 20

// ValidationError describes an invalid point or project field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Point is one measurement point marked on the board photograph.
//
// A circle is defined by X, Y and Radius; a rectangle by X, Y, Width and
// Height (centered on X, Y). ReferenceValue holds the reading taken from the
// known-good board, CompareValue the reading from the board under test. Both
// are nil until an acquisition (or the user) writes them.
type Point struct {
	ID int `json:"id"`

	X int `json:"x"`
	Y int `json:"y"`

	Shape  Shape `json:"shape"`
	Radius int   `json:"radius,omitempty"`
	Width  int   `json:"width,omitempty"`
	Height int   `json:"height,omitempty"`

	ReferenceValue *float64 `json:"reference_value,omitempty"`
	CompareValue   *float64 `json:"compare_value,omitempty"`

	Name          string `json:"name,omitempty"`
	Description   string `json:"description,omitempty"`
	ComponentType string `json:"component_type,omitempty"`
	ExpectedValue string `json:"expected_value,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	MeasuredAt *time.Time `json:"measured_at,omitempty"`
}

// Validate checks geometry invariants. imgW/imgH are the pixel dimensions of
// the board photo; pass 0, 0 to skip the bounds check (no image attached yet).
func (p *Point) Validate(imgW, imgH int) error {
	switch p.Shape {
	case ShapeCircle:
		if p.Radius <= 0 {
			return &ValidationError{Field: "radius", Reason: fmt.Sprintf("must be positive, got %d", p.Radius)}
		}
		if p.Width != 0 || p.Height != 0 {
			return &ValidationError{Field: "shape", Reason: "circle must not carry width/height"}
		}
	case ShapeRectangle:
		if p.Width <= 0 {
			return &ValidationError{Field: "width", Reason: fmt.Sprintf("must be positive, got %d", p.Width)}
		}
		if p.Height <= 0 {
			return &ValidationError{Field: "height", Reason: fmt.Sprintf("must be positive, got %d", p.Height)}
		}
		if p.Radius != 0 {
			return &ValidationError{Field: "shape", Reason: "rectangle must not carry a radius"}
		}
	default:
		return &ValidationError{Field: "shape", Reason: fmt.Sprintf("unknown shape %q", p.Shape)}
	}

	if imgW > 0 && imgH > 0 {
		if p.X < 0 || p.X >= imgW || p.Y < 0 || p.Y >= imgH {
			return &ValidationError{
				Field:  "coordinates",
				Reason: fmt.Sprintf("(%d, %d) outside image bounds %dx%d", p.X, p.Y, imgW, imgH),
			}
		}
	}

	return nil
}

// IsMeasured reports whether both readings have been taken.
func (p *Point) IsMeasured() bool {
	return p.ReferenceValue != nil && p.CompareValue != nil
}

func (p *Point) HasReference() bool { return p.ReferenceValue != nil }
func (p *Point) HasCompare() bool   { return p.CompareValue != nil }

// ClearMeasurements drops both stored readings.
func (p *Point) ClearMeasurements() {
	p.ReferenceValue = nil
	p.CompareValue = nil
	p.MeasuredAt = nil
}

// Center returns the pixel coordinates of the point center.
func (p *Point) Center() (int, int) { return p.X, p.Y }

// Area returns the marked area in square pixels.
func (p *Point) Area() float64 {
	switch p.Shape {
	case ShapeCircle:
		return math.Pi * float64(p.Radius) * float64(p.Radius)
	case ShapeRectangle:
		return float64(p.Width) * float64(p.Height)
	}
	return 0
}

// Contains reports whether the pixel (px, py) falls inside the marked shape.
func (p *Point) Contains(px, py int) bool {
	switch p.Shape {
	case ShapeCircle:
		dx, dy := float64(px-p.X), float64(py-p.Y)
		return math.Hypot(dx, dy) <= float64(p.Radius)
	case ShapeRectangle:
		hw, hh := p.Width/2, p.Height/2
		return px >= p.X-hw && px <= p.X+hw && py >= p.Y-hh && py <= p.Y+hh
	}
	return false
}

// DisplayName returns a short human-readable label for tables and logs.
func (p *Point) DisplayName() string {
	if p.Name != "" {
		return fmt.Sprintf("#%d: %s", p.ID, p.Name)
	}
	return fmt.Sprintf("#%d", p.ID)
}

// SizeText describes the dimensions, e.g. "r=20px" or "30x40px".
func (p *Point) SizeText() string {
	if p.Shape == ShapeCircle {
		return fmt.Sprintf("r=%dpx", p.Radius)
	}
	return fmt.Sprintf("%dx%dpx", p.Width, p.Height)
}

// Clone returns a deep copy of the point.
func (p *Point) Clone() *Point {
	q := *p
	if p.ReferenceValue != nil {
		v := *p.ReferenceValue
		q.ReferenceValue = &v
	}
	if p.CompareValue != nil {
		v := *p.CompareValue
		q.CompareValue = &v
	}
	if p.MeasuredAt != nil {
		t := *p.MeasuredAt
		q.MeasuredAt = &t
	}
	return &q
}

func (p *Point) String() string {
	return fmt.Sprintf("Point(id=%d, x=%d, y=%d, shape=%s)", p.ID, p.X, p.Y, p.Shape)
}
