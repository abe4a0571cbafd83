package model

import (
	"fmt"
	"sync"
	"time"
)

const (
	// SchemaVersion is the current MIP container schema.
	SchemaVersion = 1

	// MaxPoints caps the number of points per project.
	MaxPoints = 1000

	// DefaultTolerancePercent is the divergence threshold applied to new
	// projects.
	DefaultTolerancePercent = 5.0
)

// Role selects which point field an acquisition writes.
type Role string

const (
	// RoleReference acquires from the known-good board.
	RoleReference Role = "reference"
	// RoleTest acquires from the board under inspection.
	RoleTest Role = "test"
)

// ValidRole reports whether r is a known acquisition role.
func ValidRole(r Role) bool { return r == RoleReference || r == RoleTest }

// Project aggregates the board photo, its measurement points and the
// comparison tolerance for one board validation session.
//
// All methods are safe for concurrent use. The project is single-writer by
// policy: the workflow controller serializes mutations, readers may run
// concurrently.
type Project struct {
	mu sync.RWMutex

	name              string
	boardModel        string
	description       string
	isFullyFunctional bool
	tolerancePercent  float64

	points []*Point
	byID   map[int]*Point
	nextID int

	image      []byte
	imgW, imgH int

	createdAt  time.Time
	modifiedAt time.Time
}

// NewProject creates an empty project with the default tolerance.
func NewProject(name, boardModel string) (*Project, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	now := time.Now()
	return &Project{
		name:              name,
		boardModel:        boardModel,
		isFullyFunctional: true,
		tolerancePercent:  DefaultTolerancePercent,
		byID:              map[int]*Point{},
		nextID:            1,
		createdAt:         now,
		modifiedAt:        now,
	}, nil
}

func (p *Project) Name() string       { p.mu.RLock(); defer p.mu.RUnlock(); return p.name }
func (p *Project) BoardModel() string { p.mu.RLock(); defer p.mu.RUnlock(); return p.boardModel }
func (p *Project) Description() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.description
}
func (p *Project) IsFullyFunctional() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isFullyFunctional
}
func (p *Project) TolerancePercent() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tolerancePercent
}
func (p *Project) CreatedAt() time.Time  { p.mu.RLock(); defer p.mu.RUnlock(); return p.createdAt }
func (p *Project) ModifiedAt() time.Time { p.mu.RLock(); defer p.mu.RUnlock(); return p.modifiedAt }

func (p *Project) SetBoardModel(m string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boardModel = m
	p.touch()
}

func (p *Project) SetDescription(d string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.description = d
	p.touch()
}

func (p *Project) SetFullyFunctional(b bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isFullyFunctional = b
	p.touch()
}

// SetTolerancePercent updates the divergence threshold. It must be positive.
func (p *Project) SetTolerancePercent(t float64) error {
	if t <= 0 {
		return &ValidationError{Field: "tolerance_percent", Reason: fmt.Sprintf("must be positive, got %g", t)}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tolerancePercent = t
	p.touch()
	return nil
}

// SetImage attaches the board photograph. The project owns the bytes; w and h
// are the pixel dimensions used for coordinate-bounds validation.
func (p *Project) SetImage(data []byte, w, h int) error {
	if len(data) > 0 && (w <= 0 || h <= 0) {
		return &ValidationError{Field: "image", Reason: "pixel dimensions must be positive"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.image = data
	p.imgW, p.imgH = w, h
	p.touch()
	return nil
}

// Image returns the board photo bytes and its pixel dimensions.
func (p *Project) Image() ([]byte, int, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.image, p.imgW, p.imgH
}

// AddPoint validates pt against the project and appends it, assigning the
// next free ID. It returns the assigned ID.
func (p *Project) AddPoint(pt *Point) (int, error) {
	if pt == nil {
		return 0, &ValidationError{Field: "point", Reason: "must not be nil"}
	}

	// Fill in the original default size so callers can omit dimensions.
	if pt.Shape == ShapeCircle && pt.Radius == 0 {
		pt.Radius = DefaultPointSize
	}
	if pt.Shape == ShapeRectangle {
		if pt.Width == 0 {
			pt.Width = DefaultPointSize
		}
		if pt.Height == 0 {
			pt.Height = DefaultPointSize
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.points) >= MaxPoints {
		return 0, &ValidationError{Field: "points", Reason: fmt.Sprintf("limit of %d points reached", MaxPoints)}
	}
	if err := pt.Validate(p.imgW, p.imgH); err != nil {
		return 0, err
	}

	pt.ID = p.nextID
	p.nextID++

	now := time.Now()
	if pt.CreatedAt.IsZero() {
		pt.CreatedAt = now
	}
	pt.UpdatedAt = now

	p.points = append(p.points, pt)
	p.byID[pt.ID] = pt
	p.touch()

	return pt.ID, nil
}

// RemovePoint deletes the point with the given ID, preserving the order of
// the remaining points.
func (p *Project) RemovePoint(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byID[id]; !ok {
		return &ValidationError{Field: "point", Reason: fmt.Sprintf("no point with id %d", id)}
	}
	delete(p.byID, id)
	for i, pt := range p.points {
		if pt.ID == id {
			p.points = append(p.points[:i], p.points[i+1:]...)
			break
		}
	}
	p.touch()
	return nil
}

// UpdatePoint applies fn to the point with the given ID. The update is
// rejected (and rolled back) if the resulting geometry is invalid.
func (p *Project) UpdatePoint(id int, fn func(*Point)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pt, ok := p.byID[id]
	if !ok {
		return &ValidationError{Field: "point", Reason: fmt.Sprintf("no point with id %d", id)}
	}

	saved := pt.Clone()
	fn(pt)
	pt.ID = saved.ID // the ID is immutable
	if err := pt.Validate(p.imgW, p.imgH); err != nil {
		*pt = *saved
		return err
	}

	pt.UpdatedAt = time.Now()
	p.touch()
	return nil
}

// SetValue stores an acquired reading on the point field selected by role.
func (p *Project) SetValue(id int, role Role, value float64, at time.Time) error {
	if !ValidRole(role) {
		return &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pt, ok := p.byID[id]
	if !ok {
		return &ValidationError{Field: "point", Reason: fmt.Sprintf("no point with id %d", id)}
	}

	v := value
	if role == RoleReference {
		pt.ReferenceValue = &v
	} else {
		pt.CompareValue = &v
	}
	t := at
	pt.MeasuredAt = &t
	pt.UpdatedAt = at
	p.touch()
	return nil
}

// Point returns a copy of the point with the given ID, or nil.
func (p *Project) Point(id int) *Point {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pt, ok := p.byID[id]; ok {
		return pt.Clone()
	}
	return nil
}

// Points returns copies of all points in insertion order.
func (p *Project) Points() []*Point {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Point, 0, len(p.points))
	for _, pt := range p.points {
		out = append(out, pt.Clone())
	}
	return out
}

// PointIDs returns all point IDs in insertion order.
func (p *Project) PointIDs() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]int, 0, len(p.points))
	for _, pt := range p.points {
		ids = append(ids, pt.ID)
	}
	return ids
}

// PointCount returns the number of marked points.
func (p *Project) PointCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.points)
}

// FindAt returns a copy of the topmost point whose shape contains (x, y),
// growing circles/rectangles by slop pixels to ease clicking, or nil.
func (p *Project) FindAt(x, y, slop int) *Point {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := len(p.points) - 1; i >= 0; i-- {
		pt := p.points[i]
		grown := pt.Clone()
		if grown.Shape == ShapeCircle {
			grown.Radius += slop
		} else {
			grown.Width += 2 * slop
			grown.Height += 2 * slop
		}
		if grown.Contains(x, y) {
			return pt.Clone()
		}
	}
	return nil
}

// Stats summarizes measurement progress for the status API.
type Stats struct {
	Total      int `json:"total"`
	Measured   int `json:"measured"`
	Unmeasured int `json:"unmeasured"`
}

// Stats returns measurement progress counters.
func (p *Project) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := Stats{Total: len(p.points)}
	for _, pt := range p.points {
		if pt.IsMeasured() {
			s.Measured++
		}
	}
	s.Unmeasured = s.Total - s.Measured
	return s
}

// AllMeasured reports whether every point carries both readings. An empty
// project is not considered measured.
func (p *Project) AllMeasured() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.points) == 0 {
		return false
	}
	for _, pt := range p.points {
		if !pt.IsMeasured() {
			return false
		}
	}
	return true
}

// touch must be called with the write lock held.
func (p *Project) touch() { p.modifiedAt = time.Now() }

// Restore rebuilds a project from persisted fields. It is used by the
// container codec and trusts its input except for basic field validation.
func Restore(name, boardModel, description string, fullyFunctional bool, tolerance float64,
	points []*Point, image []byte, imgW, imgH int, createdAt, modifiedAt time.Time) (*Project, error) {

	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if tolerance <= 0 {
		return nil, &ValidationError{Field: "tolerance_percent", Reason: "must be positive"}
	}
	if len(points) > MaxPoints {
		return nil, &ValidationError{Field: "points", Reason: fmt.Sprintf("limit of %d points exceeded", MaxPoints)}
	}

	p := &Project{
		name:              name,
		boardModel:        boardModel,
		description:       description,
		isFullyFunctional: fullyFunctional,
		tolerancePercent:  tolerance,
		byID:              map[int]*Point{},
		nextID:            1,
		image:             image,
		imgW:              imgW,
		imgH:              imgH,
		createdAt:         createdAt,
		modifiedAt:        modifiedAt,
	}

	for _, pt := range points {
		if err := pt.Validate(imgW, imgH); err != nil {
			return nil, err
		}
		if _, dup := p.byID[pt.ID]; dup {
			return nil, &ValidationError{Field: "point", Reason: fmt.Sprintf("duplicate id %d", pt.ID)}
		}
		p.points = append(p.points, pt)
		p.byID[pt.ID] = pt
		if pt.ID >= p.nextID {
			p.nextID = pt.ID + 1
		}
	}

	return p, nil
}
