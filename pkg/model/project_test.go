package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProject(t *testing.T) {
	p, err := NewProject("placa-01", "XR-500")
	require.NoError(t, err)
	assert.Equal(t, "placa-01", p.Name())
	assert.Equal(t, DefaultTolerancePercent, p.TolerancePercent())
	assert.True(t, p.IsFullyFunctional())
	assert.Equal(t, 0, p.PointCount())

	_, err = NewProject("", "XR-500")
	assert.Error(t, err)
}

func TestProjectAddPoint(t *testing.T) {
	p, err := NewProject("placa-01", "XR-500")
	require.NoError(t, err)
	require.NoError(t, p.SetImage([]byte{0x1}, 640, 480))

	id1, err := p.AddPoint(&Point{X: 10, Y: 10, Shape: ShapeCircle, Radius: 5})
	require.NoError(t, err)
	id2, err := p.AddPoint(&Point{X: 20, Y: 20, Shape: ShapeRectangle, Width: 4, Height: 4})
	require.NoError(t, err)

	assert.Equal(t, 1, id1)
	assert.Equal(t, 2, id2)
	assert.Equal(t, []int{1, 2}, p.PointIDs())

	// Out-of-bounds coordinates are rejected.
	_, err = p.AddPoint(&Point{X: 700, Y: 10, Shape: ShapeCircle, Radius: 5})
	assert.Error(t, err)
	assert.Equal(t, 2, p.PointCount())
}

func TestProjectDefaultPointSize(t *testing.T) {
	p, err := NewProject("placa-01", "XR-500")
	require.NoError(t, err)

	id, err := p.AddPoint(&Point{X: 10, Y: 10, Shape: ShapeCircle})
	require.NoError(t, err)
	assert.Equal(t, DefaultPointSize, p.Point(id).Radius)

	id, err = p.AddPoint(&Point{X: 10, Y: 10, Shape: ShapeRectangle})
	require.NoError(t, err)
	pt := p.Point(id)
	assert.Equal(t, DefaultPointSize, pt.Width)
	assert.Equal(t, DefaultPointSize, pt.Height)
}

func TestProjectRemovePointKeepsOrderAndIDs(t *testing.T) {
	p, _ := NewProject("placa-01", "XR-500")
	for i := 0; i < 3; i++ {
		_, err := p.AddPoint(&Point{X: i, Y: i, Shape: ShapeCircle, Radius: 5})
		require.NoError(t, err)
	}

	require.NoError(t, p.RemovePoint(2))
	assert.Equal(t, []int{1, 3}, p.PointIDs())

	// IDs are never reused.
	id, err := p.AddPoint(&Point{X: 9, Y: 9, Shape: ShapeCircle, Radius: 5})
	require.NoError(t, err)
	assert.Equal(t, 4, id)

	assert.Error(t, p.RemovePoint(99))
}

func TestProjectUpdatePointRollsBackInvalidGeometry(t *testing.T) {
	p, _ := NewProject("placa-01", "XR-500")
	id, err := p.AddPoint(&Point{X: 10, Y: 10, Shape: ShapeCircle, Radius: 5})
	require.NoError(t, err)

	err = p.UpdatePoint(id, func(pt *Point) { pt.Radius = -1 })
	require.Error(t, err)
	assert.Equal(t, 5, p.Point(id).Radius)

	require.NoError(t, p.UpdatePoint(id, func(pt *Point) { pt.Radius = 8 }))
	assert.Equal(t, 8, p.Point(id).Radius)
}

func TestProjectSetValue(t *testing.T) {
	p, _ := NewProject("placa-01", "XR-500")
	id, err := p.AddPoint(&Point{X: 10, Y: 10, Shape: ShapeCircle, Radius: 5})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, p.SetValue(id, RoleReference, 3.3, now))
	require.NoError(t, p.SetValue(id, RoleTest, 3.4, now))

	pt := p.Point(id)
	require.NotNil(t, pt.ReferenceValue)
	require.NotNil(t, pt.CompareValue)
	assert.Equal(t, 3.3, *pt.ReferenceValue)
	assert.Equal(t, 3.4, *pt.CompareValue)
	assert.True(t, pt.IsMeasured())
	assert.True(t, p.AllMeasured())

	assert.Error(t, p.SetValue(id, Role("bogus"), 1, now))
	assert.Error(t, p.SetValue(77, RoleReference, 1, now))
}

func TestProjectTolerance(t *testing.T) {
	p, _ := NewProject("placa-01", "XR-500")
	assert.Error(t, p.SetTolerancePercent(0))
	assert.Error(t, p.SetTolerancePercent(-1))
	require.NoError(t, p.SetTolerancePercent(2.5))
	assert.Equal(t, 2.5, p.TolerancePercent())
}

func TestProjectFindAt(t *testing.T) {
	p, _ := NewProject("placa-01", "XR-500")
	_, err := p.AddPoint(&Point{X: 50, Y: 50, Shape: ShapeCircle, Radius: 10})
	require.NoError(t, err)

	hit := p.FindAt(62, 50, 5)
	require.NotNil(t, hit)
	assert.Equal(t, 1, hit.ID)

	assert.Nil(t, p.FindAt(80, 80, 0))
}

func TestRestoreRejectsDuplicateIDs(t *testing.T) {
	now := time.Now()
	pts := []*Point{
		{ID: 1, X: 1, Y: 1, Shape: ShapeCircle, Radius: 3},
		{ID: 1, X: 2, Y: 2, Shape: ShapeCircle, Radius: 3},
	}
	_, err := Restore("placa", "XR", "", true, 5, pts, nil, 0, 0, now, now)
	assert.Error(t, err)
}

func TestRestoreRejectsTooManyPoints(t *testing.T) {
	now := time.Now()
	pts := make([]*Point, 0, MaxPoints+1)
	for i := 0; i < MaxPoints+1; i++ {
		pts = append(pts, &Point{ID: i + 1, X: i, Y: i, Shape: ShapeCircle, Radius: 3})
	}
	_, err := Restore("placa", "XR", "", true, 5, pts, nil, 0, 0, now, now)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "points", verr.Field)
}
