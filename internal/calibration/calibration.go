// Package calibration holds the capillary geometry a measurement is made
// against: the ceiling and floor lines in pixel space, the physical capillary
// height, optional wall-thickness compensation and optional tilt correction.
//
// Every setter validates its input and leaves the model untouched on error,
// so a Calibration value is always internally consistent.
package calibration

import (
	"fmt"
	"math"

	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/units"
)

// MaxTiltDegrees is the exclusive bound on |tilt|; cos(90°) = 0 makes the
// angle correction undefined.
const MaxTiltDegrees = 90.0

// Edge selects one of the two boundary lines.
type Edge string

const (
	Ceiling Edge = "ceiling"
	Floor   Edge = "floor"
)

// Calibration is a value type; copy it to stage edits.
type Calibration struct {
	ceilingY    float64
	floorY      float64
	boundarySet bool

	height    units.Quantity
	heightSet bool

	wall        units.Quantity
	wallEnabled bool

	tiltDegrees  float64
	angleEnabled bool
}

// New returns an empty, incomplete calibration.
func New() Calibration {
	return Calibration{wall: units.Q(0, units.Default)}
}

// SetBoundary sets the ceiling and floor lines (image space, y grows downward).
func (c *Calibration) SetBoundary(ceilingY, floorY float64) error {
	if !finite(ceilingY) || !finite(floorY) {
		return errors.NewInvalidCalibration("boundary", "ceiling and floor must be finite numbers")
	}
	if ceilingY >= floorY {
		return errors.NewInvalidCalibration("boundary",
			fmt.Sprintf("ceiling (y=%g) must be above floor (y=%g)", ceilingY, floorY))
	}
	c.ceilingY = ceilingY
	c.floorY = floorY
	c.boundarySet = true
	return nil
}

// NudgeBoundary moves one edge by deltaPx, keeping the boundary ordered.
func (c *Calibration) NudgeBoundary(edge Edge, deltaPx float64) error {
	if !c.boundarySet {
		return errors.NewIncompleteCalibration([]string{"boundary"})
	}
	switch edge {
	case Ceiling:
		return c.SetBoundary(c.ceilingY+deltaPx, c.floorY)
	case Floor:
		return c.SetBoundary(c.ceilingY, c.floorY+deltaPx)
	default:
		return errors.NewInvalidCalibration("edge", fmt.Sprintf("unknown edge %q", edge))
	}
}

// SetHeight sets the physical capillary height.
func (c *Calibration) SetHeight(q units.Quantity) error {
	if !q.Unit.Valid() {
		return errors.NewInvalidCalibration("capillary_height", fmt.Sprintf("unknown unit %q", q.Unit))
	}
	if !finite(q.Value) || q.Value <= 0 {
		return errors.NewInvalidCalibration("capillary_height", "must be greater than zero")
	}
	if c.wallEnabled && !wallFits(c.wall, q) {
		return errors.NewInvalidCalibration("capillary_height",
			fmt.Sprintf("must exceed twice the wall thickness (%s)", c.wall))
	}
	c.height = q
	c.heightSet = true
	return nil
}

// SetWallThickness sets the wall thickness used when compensation is enabled.
func (c *Calibration) SetWallThickness(q units.Quantity) error {
	if !q.Unit.Valid() {
		return errors.NewInvalidCalibration("wall_thickness", fmt.Sprintf("unknown unit %q", q.Unit))
	}
	if !finite(q.Value) || q.Value < 0 {
		return errors.NewInvalidCalibration("wall_thickness", "must not be negative")
	}
	if c.wallEnabled && c.heightSet && !wallFits(q, c.height) {
		return errors.NewInvalidCalibration("wall_thickness",
			fmt.Sprintf("twice the wall thickness must be less than the capillary height (%s)", c.height))
	}
	c.wall = q
	return nil
}

// EnableWallThickness toggles wall-thickness compensation.
func (c *Calibration) EnableWallThickness(on bool) error {
	if on && c.heightSet && !wallFits(c.wall, c.height) {
		return errors.NewInvalidCalibration("wall_thickness_enabled",
			fmt.Sprintf("wall thickness %s is too large for capillary height %s", c.wall, c.height))
	}
	c.wallEnabled = on
	return nil
}

// SetTiltAngle sets the capillary tilt in degrees, exclusive of ±90.
func (c *Calibration) SetTiltAngle(degrees float64) error {
	if !finite(degrees) || math.Abs(degrees) >= MaxTiltDegrees {
		return errors.NewInvalidCalibration("tilt_angle_degrees",
			fmt.Sprintf("must be strictly between -%g and %g", MaxTiltDegrees, MaxTiltDegrees))
	}
	c.tiltDegrees = degrees
	return nil
}

// ResetAngle sets the tilt back to 0°.
func (c *Calibration) ResetAngle() {
	c.tiltDegrees = 0
}

// EnableAngleCorrection toggles tilt correction.
func (c *Calibration) EnableAngleCorrection(on bool) {
	c.angleEnabled = on
}

// IsComplete reports whether boundary and height are both set.
func (c Calibration) IsComplete() bool {
	return c.boundarySet && c.heightSet
}

// Missing lists what is still required before heights can be computed.
func (c Calibration) Missing() []string {
	var missing []string
	if !c.boundarySet {
		missing = append(missing, "boundary")
	}
	if !c.heightSet {
		missing = append(missing, "capillary_height")
	}
	return missing
}

// Boundary returns the ceiling and floor lines, and whether they are set.
func (c Calibration) Boundary() (ceilingY, floorY float64, ok bool) {
	return c.ceilingY, c.floorY, c.boundarySet
}

// Height returns the capillary height, and whether it is set.
func (c Calibration) Height() (units.Quantity, bool) {
	return c.height, c.heightSet
}

// WallThickness returns the configured wall thickness (which may be disabled).
func (c Calibration) WallThickness() units.Quantity {
	return c.wall
}

// WallThicknessEnabled reports whether wall compensation is on.
func (c Calibration) WallThicknessEnabled() bool {
	return c.wallEnabled
}

// TiltAngle returns the tilt in degrees (which may be disabled).
func (c Calibration) TiltAngle() float64 {
	return c.tiltDegrees
}

// AngleCorrectionEnabled reports whether tilt correction is on.
func (c Calibration) AngleCorrectionEnabled() bool {
	return c.angleEnabled
}

// RelativePosition returns where y sits between floor (0) and ceiling (1).
// It is not clamped. ok is false while the boundary is unset.
func (c Calibration) RelativePosition(y float64) (rel float64, ok bool) {
	if !c.boundarySet {
		return 0, false
	}
	return (c.floorY - y) / (c.floorY - c.ceilingY), true
}

// wallFits reports whether 2×wall < height, comparing in the height's unit.
func wallFits(wall, height units.Quantity) bool {
	return 2*wall.In(height.Unit) < height.Value
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate re-checks every invariant across the whole model.
func (c Calibration) Validate() error {
	_, err := FromState(c.State())
	return err
}
