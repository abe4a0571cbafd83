// Package compare computes per-point divergence between the reference board
// readings and the test board readings of a project.
package compare

import (
	"math"

	"github.com/multimetro/mip/pkg/model"
)

// Status classifies one point in a report.
type Status string

const (
	// StatusOK means the difference is within tolerance.
	StatusOK Status = "OK"
	// StatusDivergent means the difference exceeds tolerance.
	StatusDivergent Status = "DIVERGENT"
	// StatusIncomplete means at least one reading is missing.
	StatusIncomplete Status = "INCOMPLETE"
)

// Entry is the comparison result for one point, in project point order.
// DiffPercent is nil when it is undefined: either a reading is missing, or
// the reference reading is zero while the test reading is not.
type Entry struct {
	PointID        int      `json:"point_id"`
	ReferenceValue *float64 `json:"reference_value,omitempty"`
	CompareValue   *float64 `json:"compare_value,omitempty"`
	DiffPercent    *float64 `json:"diff_percent,omitempty"`
	Status         Status   `json:"status"`
}

// Summary counts entries per status.
type Summary struct {
	OK         int `json:"ok"`
	Divergent  int `json:"divergent"`
	Incomplete int `json:"incomplete"`
}

// Report is the comparison result for a whole project. It is immutable once
// computed and safe to share across goroutines.
type Report struct {
	TolerancePercent float64 `json:"tolerance_percent"`
	Strict           bool    `json:"strict"`
	Entries          []Entry `json:"entries"`
	Summary          Summary `json:"summary"`
	OverallPass      bool    `json:"overall_pass"`
}

// Options tunes a computation.
type Options struct {
	// Strict makes Incomplete points fail OverallPass as well.
	Strict bool
}

// zeroEps mirrors the device resolution: readings below it count as zero.
const zeroEps = 1e-9

// Compute builds a report from the current readings of p. It never mutates
// the project and may be called concurrently from multiple readers.
func Compute(p *model.Project, opts Options) *Report {
	tolerance := p.TolerancePercent()

	r := &Report{
		TolerancePercent: tolerance,
		Strict:           opts.Strict,
		OverallPass:      true,
	}

	for _, pt := range p.Points() {
		e := Entry{
			PointID:        pt.ID,
			ReferenceValue: pt.ReferenceValue,
			CompareValue:   pt.CompareValue,
		}

		switch {
		case pt.ReferenceValue == nil || pt.CompareValue == nil:
			e.Status = StatusIncomplete
			r.Summary.Incomplete++
			if opts.Strict {
				r.OverallPass = false
			}

		case math.Abs(*pt.ReferenceValue) < zeroEps:
			// A zero reference only matches a zero reading; the percent
			// difference is undefined otherwise.
			if math.Abs(*pt.CompareValue) < zeroEps {
				zero := 0.0
				e.DiffPercent = &zero
				e.Status = StatusOK
				r.Summary.OK++
			} else {
				e.Status = StatusDivergent
				r.Summary.Divergent++
				r.OverallPass = false
			}

		default:
			diff := math.Abs(*pt.CompareValue-*pt.ReferenceValue) / math.Abs(*pt.ReferenceValue) * 100
			e.DiffPercent = &diff
			if diff > tolerance {
				e.Status = StatusDivergent
				r.Summary.Divergent++
				r.OverallPass = false
			} else {
				e.Status = StatusOK
				r.Summary.OK++
			}
		}

		r.Entries = append(r.Entries, e)
	}

	return r
}
