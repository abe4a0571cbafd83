package workflow

import (
	"github.com/multimetro/mip/pkg/model"
)

// Point mutations are only legal while marking or editing; tolerance and
// board metadata may change in any state except MEDIÇÃO. Every successful
// mutation invalidates the cached comparison report.

func (c *Controller) guardPointMutation() (*model.Project, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateMarking && c.state != StateEditing {
		return nil, &StateError{From: c.state, Reason: "points can only be changed in marcação or edição"}
	}
	return c.project, nil
}

func (c *Controller) guardProjectMutation() (*model.Project, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateInitial {
		return nil, &StateError{From: c.state, Reason: "no project open"}
	}
	if c.state == StateMeasuring {
		return nil, &StateError{From: c.state, Reason: "project is locked during medição"}
	}
	return c.project, nil
}

func (c *Controller) invalidateReport() {
	c.mu.Lock()
	c.report = nil
	c.mu.Unlock()
}

// AddPoint marks a new point and returns its assigned ID.
func (c *Controller) AddPoint(pt *model.Point) (int, error) {
	p, err := c.guardPointMutation()
	if err != nil {
		return 0, err
	}
	id, err := p.AddPoint(pt)
	if err != nil {
		return 0, err
	}
	c.invalidateReport()
	return id, nil
}

// RemovePoint unmarks a point.
func (c *Controller) RemovePoint(id int) error {
	p, err := c.guardPointMutation()
	if err != nil {
		return err
	}
	if err := p.RemovePoint(id); err != nil {
		return err
	}
	c.invalidateReport()
	return nil
}

// UpdatePoint edits a point's geometry or annotations.
func (c *Controller) UpdatePoint(id int, fn func(*model.Point)) error {
	p, err := c.guardPointMutation()
	if err != nil {
		return err
	}
	if err := p.UpdatePoint(id, fn); err != nil {
		return err
	}
	c.invalidateReport()
	return nil
}

// SetTolerance changes the divergence threshold.
func (c *Controller) SetTolerance(percent float64) error {
	p, err := c.guardProjectMutation()
	if err != nil {
		return err
	}
	if err := p.SetTolerancePercent(percent); err != nil {
		return err
	}
	c.invalidateReport()
	return nil
}

// SetImage attaches the board photograph. Only legal in EDIÇÃO so existing
// point coordinates cannot be orphaned mid-marking.
func (c *Controller) SetImage(data []byte, w, h int) error {
	c.mu.Lock()
	if c.state != StateEditing {
		err := &StateError{From: c.state, Reason: "the board photo can only be changed in edição"}
		c.mu.Unlock()
		return err
	}
	p := c.project
	c.mu.Unlock()

	if err := p.SetImage(data, w, h); err != nil {
		return err
	}
	c.invalidateReport()
	return nil
}
