package model

import (
	"testing"
)

func TestPointValidate(t *testing.T) {
	tests := []struct {
		name    string
		point   Point
		imgW    int
		imgH    int
		wantErr bool
	}{
		{
			name:  "valid circle",
			point: Point{X: 10, Y: 10, Shape: ShapeCircle, Radius: 5},
			imgW:  100, imgH: 100,
		},
		{
			name:  "valid rectangle",
			point: Point{X: 10, Y: 10, Shape: ShapeRectangle, Width: 8, Height: 4},
			imgW:  100, imgH: 100,
		},
		{
			name:    "zero radius",
			point:   Point{X: 10, Y: 10, Shape: ShapeCircle, Radius: 0},
			wantErr: true,
		},
		{
			name:    "negative radius",
			point:   Point{X: 10, Y: 10, Shape: ShapeCircle, Radius: -3},
			wantErr: true,
		},
		{
			name:    "zero width",
			point:   Point{X: 10, Y: 10, Shape: ShapeRectangle, Width: 0, Height: 4},
			wantErr: true,
		},
		{
			name:    "negative height",
			point:   Point{X: 10, Y: 10, Shape: ShapeRectangle, Width: 4, Height: -1},
			wantErr: true,
		},
		{
			name:    "circle carrying rectangle fields",
			point:   Point{X: 10, Y: 10, Shape: ShapeCircle, Radius: 5, Width: 4},
			wantErr: true,
		},
		{
			name:    "rectangle carrying radius",
			point:   Point{X: 10, Y: 10, Shape: ShapeRectangle, Width: 4, Height: 4, Radius: 2},
			wantErr: true,
		},
		{
			name:    "unknown shape",
			point:   Point{X: 10, Y: 10, Shape: "triangle", Radius: 5},
			wantErr: true,
		},
		{
			name:    "outside image bounds",
			point:   Point{X: 120, Y: 10, Shape: ShapeCircle, Radius: 5},
			imgW:    100, imgH: 100,
			wantErr: true,
		},
		{
			name:    "negative coordinates",
			point:   Point{X: -1, Y: 10, Shape: ShapeCircle, Radius: 5},
			imgW:    100, imgH: 100,
			wantErr: true,
		},
		{
			name:  "bounds check skipped without image",
			point: Point{X: 5000, Y: 5000, Shape: ShapeCircle, Radius: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.point.Validate(tt.imgW, tt.imgH)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr = %t", err, tt.wantErr)
			}
		})
	}
}

func TestPointContains(t *testing.T) {
	circle := Point{X: 50, Y: 50, Shape: ShapeCircle, Radius: 10}
	if !circle.Contains(55, 50) {
		t.Error("point inside circle not detected")
	}
	if circle.Contains(70, 50) {
		t.Error("point outside circle detected as inside")
	}

	rect := Point{X: 50, Y: 50, Shape: ShapeRectangle, Width: 20, Height: 10}
	if !rect.Contains(58, 53) {
		t.Error("point inside rectangle not detected")
	}
	if rect.Contains(50, 60) {
		t.Error("point outside rectangle detected as inside")
	}
}

func TestPointClone(t *testing.T) {
	v := 1.5
	p := Point{ID: 3, X: 1, Y: 2, Shape: ShapeCircle, Radius: 4, ReferenceValue: &v}
	q := p.Clone()

	*q.ReferenceValue = 9.9
	q.X = 42

	if *p.ReferenceValue != 1.5 || p.X != 1 {
		t.Errorf("clone shares state with original: %+v", p)
	}
}
