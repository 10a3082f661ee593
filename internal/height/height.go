// Package height turns a pixel y coordinate into a physical height above the
// capillary floor. Compute is pure: identical inputs give bit-identical
// results.
package height

import (
	"math"

	"github.com/vxco/phase/internal/calibration"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/units"
)

// DegenerateCos is the smallest |cos(tilt)| the angle correction accepts.
const DegenerateCos = 1e-9

// Result carries every stage of the pipeline so display code never has to
// recompute. All heights are in Unit, the capillary height's unit.
type Result struct {
	RelativePosition  float64    `json:"relative_position"`
	BasicHeight       float64    `json:"basic_height"`
	CompensatedHeight float64    `json:"compensated_height"`
	Height            float64    `json:"height"`
	Unit              units.Unit `json:"unit"`
}

// Quantity returns the final height with its unit.
func (r Result) Quantity() units.Quantity {
	return units.Q(r.Height, r.Unit)
}

// Compute runs relative position, scaling, optional wall compensation and
// optional tilt correction, in that order.
func Compute(y float64, cal calibration.Calibration) (Result, error) {
	if !cal.IsComplete() {
		return Result{}, errors.NewIncompleteCalibration(cal.Missing())
	}
	capHeight, _ := cal.Height()
	rel, _ := cal.RelativePosition(y)

	r := Result{
		RelativePosition: rel,
		BasicHeight:      capHeight.Value * rel,
		Unit:             capHeight.Unit,
	}

	r.CompensatedHeight = r.BasicHeight
	if cal.WallThicknessEnabled() {
		wall := cal.WallThickness().In(capHeight.Unit)
		effective := capHeight.Value - 2*wall
		r.CompensatedHeight = rel*effective + wall
	}

	r.Height = r.CompensatedHeight
	if cal.AngleCorrectionEnabled() {
		deg := cal.TiltAngle()
		cos := math.Cos(deg * math.Pi / 180)
		if math.Abs(cos) < DegenerateCos {
			return Result{}, errors.NewDegenerateAngle(deg)
		}
		r.Height = r.CompensatedHeight / cos
	}

	return r, nil
}
