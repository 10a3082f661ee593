package calibration

import (
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/units"
)

// State is the plain-data view of a Calibration used for persistence and
// snapshots. Nil pointers mean "not set".
type State struct {
	CeilingY               *float64        `json:"ceiling_y"`
	FloorY                 *float64        `json:"floor_y"`
	CapillaryHeight        *units.Quantity `json:"capillary_height"`
	WallThickness          units.Quantity  `json:"wall_thickness"`
	WallThicknessEnabled   bool            `json:"wall_thickness_enabled"`
	TiltAngleDegrees       float64         `json:"tilt_angle_degrees"`
	AngleCorrectionEnabled bool            `json:"angle_correction_enabled"`
}

// State returns the current values.
func (c Calibration) State() State {
	s := State{
		WallThickness:          c.wall,
		WallThicknessEnabled:   c.wallEnabled,
		TiltAngleDegrees:       c.tiltDegrees,
		AngleCorrectionEnabled: c.angleEnabled,
	}
	if c.boundarySet {
		ceil, floor := c.ceilingY, c.floorY
		s.CeilingY = &ceil
		s.FloorY = &floor
	}
	if c.heightSet {
		h := c.height
		s.CapillaryHeight = &h
	}
	return s
}

// FromState rebuilds a Calibration, running every setter so a state that
// could not have been produced through the setters is rejected.
func FromState(s State) (Calibration, error) {
	c := New()

	switch {
	case s.CeilingY != nil && s.FloorY != nil:
		if err := c.SetBoundary(*s.CeilingY, *s.FloorY); err != nil {
			return Calibration{}, err
		}
	case s.CeilingY != nil || s.FloorY != nil:
		return Calibration{}, errors.NewInvalidCalibration("boundary", "ceiling and floor must be set together")
	}

	if s.CapillaryHeight != nil {
		if err := c.SetHeight(*s.CapillaryHeight); err != nil {
			return Calibration{}, err
		}
	}

	wall := s.WallThickness
	if wall.Unit == "" {
		wall.Unit = units.Default
	}
	if err := c.SetWallThickness(wall); err != nil {
		return Calibration{}, err
	}
	if err := c.EnableWallThickness(s.WallThicknessEnabled); err != nil {
		return Calibration{}, err
	}

	if err := c.SetTiltAngle(s.TiltAngleDegrees); err != nil {
		return Calibration{}, err
	}
	c.EnableAngleCorrection(s.AngleCorrectionEnabled)

	return c, nil
}
