// Package workflow implements the finite-state controller that drives the
// edit → mark → measure → compare lifecycle of one board project.
package workflow

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/multimetro/mip/pkg/compare"
	"github.com/multimetro/mip/pkg/meter"
	"github.com/multimetro/mip/pkg/model"
)

// Event names published through the Notify callback.
const (
	EventStateChanged  = "state.changed"
	EventPointMeasured = "point.measured"
)

// NotifyFunc receives controller events (state changes, readings stored).
type NotifyFunc func(event string, data any)

// Transition records one executed state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// maxHistory bounds the transition history kept for the status API.
const maxHistory = 50

// RoleProgress counts acquisition outcomes for one role since MEDIÇÃO was
// last entered. Resetting the counters never clears stored point values.
type RoleProgress struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Progress is the per-role acquisition progress.
type Progress struct {
	Reference RoleProgress `json:"reference"`
	Test      RoleProgress `json:"test"`
}

// Controller is the single writer of the workflow state. Every collaborator
// (model, codec, comparison engine, acquirer) is state-agnostic and invoked
// only under the controller's transition guards.
type Controller struct {
	// Notify, when set, is called outside the controller lock for every
	// published event.
	Notify NotifyFunc

	// Strict makes incomplete points fail the overall comparison verdict.
	Strict bool

	mu       sync.Mutex
	state    State
	previous State
	history  []Transition

	project  *model.Project
	acquirer *meter.Acquirer

	report   *compare.Report
	progress Progress
}

// transitions lists every allowed state change. Guards for the conditional
// edges live in checkGuard.
var transitions = map[State][]State{
	StateInitial:   {StateEditing},
	StateEditing:   {StateMarking, StateInitial},
	StateMarking:   {StateMeasuring, StateEditing, StateInitial},
	StateMeasuring: {StateComparing, StateMarking, StateInitial},
	StateComparing: {StateEditing, StateMeasuring, StateInitial},
}

// NewController returns a controller in the INICIAL state. The acquirer may
// be nil when no device is attached; measuring then fails with a StateError.
func NewController(acquirer *meter.Acquirer) *Controller {
	return &Controller{
		state:    StateInitial,
		acquirer: acquirer,
	}
}

// State returns the current workflow state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Previous returns the state before the last transition, or "" if none.
func (c *Controller) Previous() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previous
}

// CanGoBack reports whether the previous state can be returned to from the
// current one.
func (c *Controller) CanGoBack() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previous != "" && allowed(c.state, c.previous)
}

// History returns up to the last n executed transitions, newest last.
func (c *Controller) History(n int) []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > len(c.history) {
		n = len(c.history)
	}
	out := make([]Transition, n)
	copy(out, c.history[len(c.history)-n:])
	return out
}

// Project returns the open project, or nil in INICIAL.
func (c *Controller) Project() *model.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project
}

// Progress returns the acquisition counters since MEDIÇÃO was last entered.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// CreateProject creates an empty project and enters EDIÇÃO.
func (c *Controller) CreateProject(name, boardModel string) (*model.Project, error) {
	p, err := model.NewProject(name, boardModel)
	if err != nil {
		return nil, err
	}
	if err := c.attachProject(p); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadProject attaches a project loaded from a container and enters EDIÇÃO.
func (c *Controller) LoadProject(p *model.Project) error {
	if p == nil {
		return &model.ValidationError{Field: "project", Reason: "must not be nil"}
	}
	return c.attachProject(p)
}

func (c *Controller) attachProject(p *model.Project) error {
	c.mu.Lock()
	if c.state != StateInitial {
		err := &StateError{From: c.state, To: StateEditing, Reason: "a project is already open"}
		c.mu.Unlock()
		return err
	}
	c.project = p
	c.transitionLocked(StateEditing)
	c.mu.Unlock()

	c.notify(EventStateChanged, Transition{From: StateInitial, To: StateEditing, At: time.Now()})
	return nil
}

// CloseProject discards the open project and returns to INICIAL. It is
// allowed from any state; closing with no project open is a no-op.
func (c *Controller) CloseProject() {
	c.mu.Lock()
	if c.state == StateInitial {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.project = nil
	c.report = nil
	c.progress = Progress{}
	c.transitionLocked(StateInitial)
	c.mu.Unlock()

	c.notify(EventStateChanged, Transition{From: from, To: StateInitial, At: time.Now()})
}

// TransitionTo requests a state change. Transitions not in the table, or
// whose guard fails, return a StateError and leave everything unchanged.
func (c *Controller) TransitionTo(to State) error {
	if to == StateInitial {
		c.CloseProject()
		return nil
	}

	c.mu.Lock()
	from := c.state

	if !to.Valid() {
		c.mu.Unlock()
		return &StateError{From: from, To: to, Reason: "unknown state"}
	}
	if from == to {
		c.mu.Unlock()
		return nil
	}
	if !allowed(from, to) {
		c.mu.Unlock()
		return &StateError{From: from, To: to}
	}
	if err := c.checkGuardLocked(from, to); err != nil {
		c.mu.Unlock()
		return err
	}

	// Guard passed: apply entry/exit effects, then flip the state.
	switch to {
	case StateMeasuring:
		c.progress = Progress{}
	case StateComparing:
		c.report = compare.Compute(c.project, compare.Options{Strict: c.Strict})
	}
	if from == StateComparing {
		c.report = nil
	}
	c.transitionLocked(to)
	c.mu.Unlock()

	c.notify(EventStateChanged, Transition{From: from, To: to, At: time.Now()})
	return nil
}

func allowed(from, to State) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func (c *Controller) checkGuardLocked(from, to State) error {
	switch {
	case from == StateInitial && to == StateEditing:
		if c.project == nil {
			return &StateError{From: from, To: to, Reason: "no project open"}
		}
	case to == StateMeasuring && from == StateMarking:
		if c.project.PointCount() == 0 {
			return &StateError{From: from, To: to, Reason: "at least one point is required"}
		}
	case to == StateComparing && from == StateMeasuring:
		if !c.project.AllMeasured() {
			return &StateError{From: from, To: to, Reason: "not all points are measured in both roles"}
		}
	}
	return nil
}

// transitionLocked flips the state and records history. Callers hold c.mu.
func (c *Controller) transitionLocked(to State) {
	from := c.state
	c.previous = from
	c.state = to
	c.history = append(c.history, Transition{From: from, To: to, At: time.Now()})
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
	logrus.WithFields(logrus.Fields{"from": from, "to": to}).Info("workflow state changed")
}

// StartMarking enters MARCAÇÃO.
func (c *Controller) StartMarking() error { return c.TransitionTo(StateMarking) }

// StartMeasuring enters MEDIÇÃO, resetting acquisition progress counters.
func (c *Controller) StartMeasuring() error { return c.TransitionTo(StateMeasuring) }

// FinishMeasuring enters COMPARAÇÃO, computing and caching the report.
func (c *Controller) FinishMeasuring() error { return c.TransitionTo(StateComparing) }

// Edit leaves COMPARAÇÃO (or MARCAÇÃO) back to EDIÇÃO, invalidating any
// cached report.
func (c *Controller) Edit() error { return c.TransitionTo(StateEditing) }

// SetStrict changes the comparison strictness. Takes effect on the next
// report computation; an already cached report is left untouched.
func (c *Controller) SetStrict(b bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Strict = b
}

// Report returns the cached comparison report, or nil if none is valid.
func (c *Controller) Report() *compare.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

// RefreshReport recomputes the report. Only valid in COMPARAÇÃO.
func (c *Controller) RefreshReport() (*compare.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateComparing {
		return nil, &StateError{From: c.state, Reason: "report is only available in comparação"}
	}
	c.report = compare.Compute(c.project, compare.Options{Strict: c.Strict})
	return c.report, nil
}
