// Package workspace is the aggregate root of a measurement session: the
// calibration, the ordered particles and their labels. It owns derived
// heights and keeps them consistent with calibration and positions.
package workspace

import (
	"crypto/rand"
	"fmt"
	"math"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vxco/phase/internal/calibration"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/height"
	"github.com/vxco/phase/internal/layout"
)

// FormatVersion is the current .phw format version.
const FormatVersion = 1

// DefaultName is given to workspaces that were never named.
const DefaultName = "Untitled Workspace"

// DefaultLabelOffset places a new label directly above its particle.
var DefaultLabelOffset = layout.Point{X: 0, Y: -40}

// Label is the annotation box attached to one particle.
type Label struct {
	// Offset is the displacement from the particle to the label box centre.
	Offset layout.Point
	// ManuallyPositioned labels are never moved by an ordinary layout pass.
	ManuallyPositioned bool
	// Degraded is set when the last layout pass could not place the label
	// without overlap. Not persisted.
	Degraded bool
}

// Particle is a clicked point with its derived height.
type Particle struct {
	ID         string
	Number     int
	Position   layout.Point
	CustomName string
	Notes      string
	Label      Label

	result height.Result
}

// Name returns the custom name, or "P<number>" when none is set.
func (p *Particle) Name() string {
	if p.CustomName != "" {
		return p.CustomName
	}
	return fmt.Sprintf("P%d", p.Number)
}

// Height returns the derived height pipeline result.
func (p *Particle) Height() height.Result {
	return p.result
}

// LabelText is what the label box displays, e.g. "P1 · 37.50 µm".
func (p *Particle) LabelText(precision int) string {
	return fmt.Sprintf("%s · %.*f %s", p.Name(), precision, p.result.Height, p.result.Unit.Symbol())
}

// Workspace holds one document.
type Workspace struct {
	Name           string
	ImageReference string

	cal        calibration.Calibration
	particles  []*Particle
	index      map[string]*Particle
	nextNumber int
}

// New returns an empty workspace.
func New() *Workspace {
	return &Workspace{
		Name:       DefaultName,
		cal:        calibration.New(),
		index:      make(map[string]*Particle),
		nextNumber: 1,
	}
}

// Calibration returns a copy of the current calibration.
func (w *Workspace) Calibration() calibration.Calibration {
	return w.cal
}

// SetCalibration replaces the calibration and recomputes every height. On
// error nothing changes.
func (w *Workspace) SetCalibration(cal calibration.Calibration) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	if len(w.particles) > 0 && !cal.IsComplete() {
		return errors.NewIncompleteCalibration(cal.Missing())
	}

	results := make([]height.Result, len(w.particles))
	for i, p := range w.particles {
		r, err := height.Compute(p.Position.Y, cal)
		if err != nil {
			return err
		}
		results[i] = r
	}

	w.cal = cal
	for i, p := range w.particles {
		p.result = results[i]
	}
	return nil
}

// Recompute refreshes every derived height from the current calibration.
func (w *Workspace) Recompute() error {
	return w.SetCalibration(w.cal)
}

// AddParticle creates a particle at pos with a default label offset.
func (w *Workspace) AddParticle(pos layout.Point) (*Particle, error) {
	if err := checkPoint("position", pos); err != nil {
		return nil, err
	}
	r, err := height.Compute(pos.Y, w.cal)
	if err != nil {
		return nil, err
	}

	p := &Particle{
		ID:       newID(),
		Number:   w.nextNumber,
		Position: pos,
		Label:    Label{Offset: DefaultLabelOffset},
		result:   r,
	}
	w.nextNumber++
	w.particles = append(w.particles, p)
	w.index[p.ID] = p
	return p, nil
}

// RemoveParticle deletes a particle and its label.
func (w *Workspace) RemoveParticle(id string) error {
	if _, ok := w.index[id]; !ok {
		return errors.NewNotFound(id)
	}
	delete(w.index, id)
	for i, p := range w.particles {
		if p.ID == id {
			w.particles = append(w.particles[:i], w.particles[i+1:]...)
			break
		}
	}
	return nil
}

// Rename sets the custom name. An empty name restores the default.
func (w *Workspace) Rename(id, name string) error {
	p, ok := w.index[id]
	if !ok {
		return errors.NewNotFound(id)
	}
	p.CustomName = name
	return nil
}

// SetNotes replaces a particle's notes.
func (w *Workspace) SetNotes(id, text string) error {
	p, ok := w.index[id]
	if !ok {
		return errors.NewNotFound(id)
	}
	p.Notes = text
	return nil
}

// MoveParticle relocates a particle and recomputes its height. The label
// becomes automatic again.
func (w *Workspace) MoveParticle(id string, pos layout.Point) error {
	p, ok := w.index[id]
	if !ok {
		return errors.NewNotFound(id)
	}
	if err := checkPoint("position", pos); err != nil {
		return err
	}
	r, err := height.Compute(pos.Y, w.cal)
	if err != nil {
		return err
	}
	p.Position = pos
	p.result = r
	p.Label.ManuallyPositioned = false
	return nil
}

// MoveLabel pins a label at offset.
func (w *Workspace) MoveLabel(id string, offset layout.Point) error {
	p, ok := w.index[id]
	if !ok {
		return errors.NewNotFound(id)
	}
	if err := checkPoint("label offset", offset); err != nil {
		return err
	}
	p.Label.Offset = offset
	p.Label.ManuallyPositioned = true
	p.Label.Degraded = false
	return nil
}

// checkPoint rejects NaN and infinite coordinates, which the document
// format cannot hold.
func checkPoint(what string, pt layout.Point) error {
	if math.IsNaN(pt.X) || math.IsInf(pt.X, 0) || math.IsNaN(pt.Y) || math.IsInf(pt.Y, 0) {
		return errors.NewInvalidRequest(fmt.Sprintf("%s must be finite, got (%v, %v)", what, pt.X, pt.Y))
	}
	return nil
}

// Particle looks a particle up by id.
func (w *Workspace) Particle(id string) (*Particle, bool) {
	p, ok := w.index[id]
	return p, ok
}

// Particles returns the particles in creation order. The slice is a copy;
// the particles are not.
func (w *Workspace) Particles() []*Particle {
	out := make([]*Particle, len(w.particles))
	copy(out, w.particles)
	return out
}

// Len returns the particle count.
func (w *Workspace) Len() int {
	return len(w.particles)
}

// NextNumber is the number the next particle will get.
func (w *Workspace) NextNumber() int {
	return w.nextNumber
}

func newID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
