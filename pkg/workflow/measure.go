package workflow

import (
	"context"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/multimetro/mip/pkg/meter"
	"github.com/multimetro/mip/pkg/model"
)

// MeasuredPoint is the payload of EventPointMeasured.
type MeasuredPoint struct {
	PointID int           `json:"point_id"`
	Role    model.Role    `json:"role"`
	Reading meter.Reading `json:"reading"`
}

// MeasurePoint acquires one reading for the given point and role and stores
// it on the point. Only legal in MEDIÇÃO. A failed or canceled acquisition
// leaves the stored value untouched.
func (c *Controller) MeasurePoint(ctx context.Context, id int, role model.Role) (meter.Reading, error) {
	if !model.ValidRole(role) {
		return meter.Reading{}, &model.ValidationError{Field: "role", Reason: "must be reference or test"}
	}

	c.mu.Lock()
	if c.state != StateMeasuring {
		err := &StateError{From: c.state, Reason: "measuring is only allowed in medição"}
		c.mu.Unlock()
		return meter.Reading{}, err
	}
	if c.acquirer == nil {
		err := &StateError{From: c.state, Reason: "no measurement device attached"}
		c.mu.Unlock()
		return meter.Reading{}, err
	}
	p := c.project
	acq := c.acquirer
	c.mu.Unlock()

	if p.Point(id) == nil {
		return meter.Reading{}, &model.ValidationError{Field: "point", Reason: "unknown point id"}
	}

	c.bumpProgress(role, func(rp *RoleProgress) { rp.Attempted++ })

	// The exchange blocks while the worker owns the channel; the controller
	// lock is NOT held so status queries stay responsive.
	rd, err := acq.Acquire(ctx, id)
	if err != nil {
		c.bumpProgress(role, func(rp *RoleProgress) { rp.Failed++ })
		return meter.Reading{}, err
	}

	// The workflow may have moved on (close, cancel-all) while the exchange
	// was in flight; in that case the reading is discarded, never stored.
	c.mu.Lock()
	if c.state != StateMeasuring || c.project != p {
		st := c.state
		c.mu.Unlock()
		c.bumpProgress(role, func(rp *RoleProgress) { rp.Failed++ })
		return meter.Reading{}, &StateError{From: st, Reason: "measuring was interrupted"}
	}
	c.mu.Unlock()

	if err := p.SetValue(id, role, rd.Value, rd.At); err != nil {
		return meter.Reading{}, err
	}
	c.bumpProgress(role, func(rp *RoleProgress) { rp.Succeeded++ })

	logrus.WithFields(logrus.Fields{
		"pointID": id,
		"role":    role,
		"value":   rd.Value,
		"unit":    rd.Unit,
	}).Info("reading stored")

	c.notify(EventPointMeasured, MeasuredPoint{PointID: id, Role: role, Reading: rd})
	return rd, nil
}

// MeasureAll acquires every point in project order for the given role. It
// stops at the first failure and returns the number of readings stored.
func (c *Controller) MeasureAll(ctx context.Context, role model.Role) (int, error) {
	c.mu.Lock()
	if c.state != StateMeasuring {
		err := &StateError{From: c.state, Reason: "measuring is only allowed in medição"}
		c.mu.Unlock()
		return 0, err
	}
	p := c.project
	c.mu.Unlock()

	done := 0
	for _, id := range p.PointIDs() {
		if _, err := c.MeasurePoint(ctx, id, role); err != nil {
			return done, pkgerrors.Wrapf(err, "point %d", id)
		}
		done++
	}
	return done, nil
}

func (c *Controller) bumpProgress(role model.Role, fn func(*RoleProgress)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if role == model.RoleReference {
		fn(&c.progress.Reference)
	} else {
		fn(&c.progress.Test)
	}
}

func (c *Controller) notify(event string, data any) {
	if c.Notify != nil {
		c.Notify(event, data)
	}
}
