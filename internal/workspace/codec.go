package workspace

import (
	"encoding/json"
	"fmt"

	"github.com/vxco/phase/internal/calibration"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/layout"
)

// On-disk shapes. Pointers distinguish a missing field from a zero value.
type fileWorkspace struct {
	FormatVersion  *int               `json:"format_version"`
	Name           string             `json:"name"`
	ImageReference string             `json:"image_reference"`
	Calibration    *calibration.State `json:"calibration"`
	NextNumber     int                `json:"next_number"`
	Particles      []fileParticle     `json:"particles"`
}

type fileParticle struct {
	ID         string        `json:"id"`
	Number     int           `json:"number"`
	PositionPx *layout.Point `json:"position_px"`
	CustomName string        `json:"custom_name"`
	Notes      string        `json:"notes"`
	Label      *fileLabel    `json:"label"`
}

type fileLabel struct {
	Offset             *layout.Point `json:"offset"`
	ManuallyPositioned bool          `json:"manually_positioned"`
}

// Marshal encodes the workspace as a .phw document. Derived heights and
// degraded flags are not written; they are recomputed on load.
func Marshal(w *Workspace) ([]byte, error) {
	version := FormatVersion
	state := w.cal.State()
	doc := fileWorkspace{
		FormatVersion:  &version,
		Name:           w.Name,
		ImageReference: w.ImageReference,
		Calibration:    &state,
		NextNumber:     w.nextNumber,
		Particles:      make([]fileParticle, 0, len(w.particles)),
	}
	for _, p := range w.particles {
		pos := p.Position
		off := p.Label.Offset
		doc.Particles = append(doc.Particles, fileParticle{
			ID:         p.ID,
			Number:     p.Number,
			PositionPx: &pos,
			CustomName: p.CustomName,
			Notes:      p.Notes,
			Label:      &fileLabel{Offset: &off, ManuallyPositioned: p.Label.ManuallyPositioned},
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return append(data, '\n'), nil
}

// Unmarshal decodes a .phw document. Any structural problem is reported as
// CORRUPT_WORKSPACE and no partial workspace is returned. Unknown fields are
// ignored.
func Unmarshal(data []byte) (*Workspace, error) {
	var doc fileWorkspace
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapCorruptWorkspace("invalid workspace document", err)
	}

	if doc.FormatVersion == nil {
		return nil, errors.NewCorruptWorkspace("missing format_version")
	}
	if *doc.FormatVersion < 1 || *doc.FormatVersion > FormatVersion {
		return nil, errors.NewCorruptWorkspace(
			fmt.Sprintf("unsupported format_version %d (this build reads up to %d)", *doc.FormatVersion, FormatVersion))
	}
	if doc.Calibration == nil {
		return nil, errors.NewCorruptWorkspace("missing calibration")
	}

	cal, err := calibration.FromState(*doc.Calibration)
	if err != nil {
		return nil, errors.WrapCorruptWorkspace("invalid calibration", err)
	}
	if len(doc.Particles) > 0 && !cal.IsComplete() {
		return nil, errors.NewCorruptWorkspace(
			fmt.Sprintf("particles present but calibration is missing %v", cal.Missing()))
	}

	w := New()
	if doc.Name != "" {
		w.Name = doc.Name
	}
	w.ImageReference = doc.ImageReference
	w.cal = cal

	maxNumber := 0
	used := make(map[int]bool, len(doc.Particles))
	var unnumbered []*Particle
	for i, fp := range doc.Particles {
		if fp.ID == "" {
			return nil, errors.NewCorruptWorkspace(fmt.Sprintf("particle %d: missing id", i))
		}
		if _, dup := w.index[fp.ID]; dup {
			return nil, errors.NewCorruptWorkspace(fmt.Sprintf("duplicate particle id %s", fp.ID))
		}
		if fp.PositionPx == nil {
			return nil, errors.NewCorruptWorkspace(fmt.Sprintf("particle %s: missing position_px", fp.ID))
		}
		if fp.Label == nil || fp.Label.Offset == nil {
			return nil, errors.NewCorruptWorkspace(fmt.Sprintf("particle %s: missing label", fp.ID))
		}

		if fp.Number > 0 {
			if used[fp.Number] {
				return nil, errors.NewCorruptWorkspace(fmt.Sprintf("duplicate particle number %d", fp.Number))
			}
			used[fp.Number] = true
			if fp.Number > maxNumber {
				maxNumber = fp.Number
			}
		}

		p := &Particle{
			ID:         fp.ID,
			Number:     fp.Number,
			Position:   *fp.PositionPx,
			CustomName: fp.CustomName,
			Notes:      fp.Notes,
			Label: Label{
				Offset:             *fp.Label.Offset,
				ManuallyPositioned: fp.Label.ManuallyPositioned,
			},
		}
		if p.Number <= 0 {
			unnumbered = append(unnumbered, p)
		}
		w.particles = append(w.particles, p)
		w.index[p.ID] = p
	}

	// Particles without a number take the next free ones in document order.
	for _, p := range unnumbered {
		maxNumber++
		p.Number = maxNumber
	}

	w.nextNumber = doc.NextNumber
	if w.nextNumber <= maxNumber {
		w.nextNumber = maxNumber + 1
	}

	if err := w.Recompute(); err != nil {
		return nil, errors.WrapCorruptWorkspace("cannot compute heights", err)
	}
	return w, nil
}
