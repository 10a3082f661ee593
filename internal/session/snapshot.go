package session

import (
	"github.com/vxco/phase/internal/calibration"
	"github.com/vxco/phase/internal/height"
	"github.com/vxco/phase/internal/layout"
	"github.com/vxco/phase/internal/validation"
)

// Snapshot is an immutable copy of the session state for rendering.
type Snapshot struct {
	Name                string               `json:"name"`
	ImageReference      string               `json:"image_reference"`
	Generation          uint64               `json:"generation"`
	Dirty               bool                 `json:"dirty"`
	Calibration         calibration.State    `json:"calibration"`
	CalibrationComplete bool                 `json:"calibration_complete"`
	Missing             []string             `json:"missing,omitempty"`
	Bounds              *layout.Rect         `json:"bounds,omitempty"`
	Particles           []ParticleView       `json:"particles"`
	Findings            []validation.Finding `json:"findings"`
	Summary             validation.Summary   `json:"summary"`
}

// ParticleView is one particle with everything needed to draw it.
type ParticleView struct {
	ID         string        `json:"id"`
	Number     int           `json:"number"`
	Name       string        `json:"name"`
	CustomName string        `json:"custom_name,omitempty"`
	Notes      string        `json:"notes,omitempty"`
	Position   layout.Point  `json:"position"`
	Height     height.Result `json:"height"`
	Label      LabelView     `json:"label"`
}

// LabelView is a placed label box and its connector line.
type LabelView struct {
	Text               string       `json:"text"`
	Offset             layout.Point `json:"offset"`
	Box                layout.Rect  `json:"box"`
	ManuallyPositioned bool         `json:"manually_positioned"`
	Degraded           bool         `json:"degraded"`
	ConnectorFrom      layout.Point `json:"connector_from"`
	ConnectorTo        layout.Point `json:"connector_to"`
}

// Snapshot copies the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal := s.ws.Calibration()
	snap := Snapshot{
		Name:                s.ws.Name,
		ImageReference:      s.ws.ImageReference,
		Generation:          s.generation,
		Dirty:               s.generation != s.saved,
		Calibration:         cal.State(),
		CalibrationComplete: cal.IsComplete(),
		Missing:             cal.Missing(),
		Findings:            append([]validation.Finding{}, s.findings...),
	}
	if s.bounds != nil {
		b := *s.bounds
		snap.Bounds = &b
	}

	particles := s.ws.Particles()
	snap.Particles = make([]ParticleView, 0, len(particles))
	samples := make([]validation.Sample, 0, len(particles))
	for _, p := range particles {
		box := s.labelBox(p)
		snap.Particles = append(snap.Particles, ParticleView{
			ID:         p.ID,
			Number:     p.Number,
			Name:       p.Name(),
			CustomName: p.CustomName,
			Notes:      p.Notes,
			Position:   p.Position,
			Height:     p.Height(),
			Label: LabelView{
				Text:               p.LabelText(labelPrecision),
				Offset:             p.Label.Offset,
				Box:                box,
				ManuallyPositioned: p.Label.ManuallyPositioned,
				Degraded:           p.Label.Degraded,
				ConnectorFrom:      p.Position,
				ConnectorTo:        layout.ConnectorEnd(p.Position, box),
			},
		})
		samples = append(samples, validation.Sample{ID: p.ID, Height: p.Height().Height, RelativePosition: p.Height().RelativePosition})
	}
	snap.Summary = validation.Summarize(samples, snap.Findings)
	return snap
}

// Particle returns the view of a single particle.
func (s *Session) Particle(id string) (ParticleView, bool) {
	snap := s.Snapshot()
	for _, p := range snap.Particles {
		if p.ID == id {
			return p, true
		}
	}
	return ParticleView{}, false
}
