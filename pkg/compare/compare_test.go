package compare

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multimetro/mip/pkg/model"
)

// buildProject creates a project with one point per (ref, cmp) pair. A nil
// entry leaves the reading unset.
func buildProject(t *testing.T, tolerance float64, pairs [][2]*float64) *model.Project {
	t.Helper()

	p, err := model.NewProject("placa", "XR-500")
	require.NoError(t, err)
	require.NoError(t, p.SetTolerancePercent(tolerance))

	now := time.Now()
	for i, pair := range pairs {
		id, err := p.AddPoint(&model.Point{X: i, Y: i, Shape: model.ShapeCircle, Radius: 5})
		require.NoError(t, err)
		if pair[0] != nil {
			require.NoError(t, p.SetValue(id, model.RoleReference, *pair[0], now))
		}
		if pair[1] != nil {
			require.NoError(t, p.SetValue(id, model.RoleTest, *pair[1], now))
		}
	}
	return p
}

func f(v float64) *float64 { return &v }

func TestComputeWithinTolerance(t *testing.T) {
	p := buildProject(t, 5, [][2]*float64{{f(10.0), f(10.4)}})
	r := Compute(p, Options{})

	require.Len(t, r.Entries, 1)
	e := r.Entries[0]
	assert.Equal(t, StatusOK, e.Status)
	require.NotNil(t, e.DiffPercent)
	assert.InDelta(t, 4.0, *e.DiffPercent, 1e-9)
	assert.True(t, r.OverallPass)
}

func TestComputeDivergent(t *testing.T) {
	p := buildProject(t, 5, [][2]*float64{{f(10.0), f(11.0)}})
	r := Compute(p, Options{})

	e := r.Entries[0]
	assert.Equal(t, StatusDivergent, e.Status)
	require.NotNil(t, e.DiffPercent)
	assert.InDelta(t, 10.0, *e.DiffPercent, 1e-9)
	assert.False(t, r.OverallPass)
}

func TestComputeZeroReference(t *testing.T) {
	// Both zero: OK regardless of tolerance.
	p := buildProject(t, 0.001, [][2]*float64{{f(0.0), f(0.0)}})
	r := Compute(p, Options{})
	e := r.Entries[0]
	assert.Equal(t, StatusOK, e.Status)
	require.NotNil(t, e.DiffPercent)
	assert.Equal(t, 0.0, *e.DiffPercent)

	// Zero reference with a nonzero reading diverges regardless of tolerance,
	// and the percent difference is undefined.
	p = buildProject(t, 1e9, [][2]*float64{{f(0.0), f(0.5)}})
	r = Compute(p, Options{})
	e = r.Entries[0]
	assert.Equal(t, StatusDivergent, e.Status)
	assert.Nil(t, e.DiffPercent)
	assert.False(t, r.OverallPass)
}

func TestComputeIncomplete(t *testing.T) {
	p := buildProject(t, 5, [][2]*float64{
		{f(10.0), f(10.1)},
		{f(10.0), nil},
	})

	r := Compute(p, Options{})
	assert.Equal(t, StatusIncomplete, r.Entries[1].Status)
	assert.Nil(t, r.Entries[1].DiffPercent)
	assert.True(t, r.OverallPass, "incomplete points must not fail a non-strict report")
	assert.Equal(t, Summary{OK: 1, Incomplete: 1}, r.Summary)

	strict := Compute(p, Options{Strict: true})
	assert.False(t, strict.OverallPass)
}

func TestComputePreservesPointOrder(t *testing.T) {
	p := buildProject(t, 5, [][2]*float64{
		{f(1.0), f(1.0)},
		{f(2.0), f(2.0)},
		{f(3.0), f(3.0)},
	})
	require.NoError(t, p.RemovePoint(2))

	r := Compute(p, Options{})
	require.Len(t, r.Entries, 2)
	assert.Equal(t, 1, r.Entries[0].PointID)
	assert.Equal(t, 3, r.Entries[1].PointID)
}

func TestComputeDoesNotMutateProject(t *testing.T) {
	p := buildProject(t, 5, [][2]*float64{{f(10.0), f(11.0)}})
	before := p.ModifiedAt()
	_ = Compute(p, Options{})
	assert.Equal(t, before, p.ModifiedAt())
}
