package session

import (
	"context"

	"github.com/vxco/phase/internal/calibration"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/units"
)

// Nudge moves one boundary edge by Delta pixels.
type Nudge struct {
	Edge  calibration.Edge `json:"edge"`
	Delta float64          `json:"delta"`
}

// CalibrationUpdate lists calibration changes. Nil fields are left alone.
// All fields are applied together or not at all.
type CalibrationUpdate struct {
	CeilingY               *float64        `json:"ceiling_y,omitempty"`
	FloorY                 *float64        `json:"floor_y,omitempty"`
	Nudge                  *Nudge          `json:"nudge,omitempty"`
	CapillaryHeight        *units.Quantity `json:"capillary_height,omitempty"`
	WallThickness          *units.Quantity `json:"wall_thickness,omitempty"`
	WallThicknessEnabled   *bool           `json:"wall_thickness_enabled,omitempty"`
	TiltAngleDegrees       *float64        `json:"tilt_angle_degrees,omitempty"`
	AngleCorrectionEnabled *bool           `json:"angle_correction_enabled,omitempty"`
	ResetAngle             bool            `json:"reset_angle,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u CalibrationUpdate) IsEmpty() bool {
	return u == CalibrationUpdate{}
}

// UpdateCalibration applies u to a copy of the calibration. On success every
// height is recomputed and automatic labels get a full layout pass; on error
// nothing changes.
func (s *Session) UpdateCalibration(u CalibrationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := applyUpdate(s.ws.Calibration(), u)
	if err != nil {
		return err
	}
	if err := s.ws.SetCalibration(cal); err != nil {
		return err
	}
	s.apply(s.arranger.Arrange(context.Background(), s.fullRequest()))
	s.commit()
	return nil
}

func applyUpdate(c calibration.Calibration, u CalibrationUpdate) (calibration.Calibration, error) {
	if u.CeilingY != nil || u.FloorY != nil {
		ceil, floor, ok := c.Boundary()
		if !ok && (u.CeilingY == nil || u.FloorY == nil) {
			return c, errors.NewInvalidCalibration("boundary", "ceiling and floor must be set together the first time")
		}
		if u.CeilingY != nil {
			ceil = *u.CeilingY
		}
		if u.FloorY != nil {
			floor = *u.FloorY
		}
		if err := c.SetBoundary(ceil, floor); err != nil {
			return c, err
		}
	}
	if u.Nudge != nil {
		if err := c.NudgeBoundary(u.Nudge.Edge, u.Nudge.Delta); err != nil {
			return c, err
		}
	}

	// Wall and height are checked against each other, so compensation is
	// switched off while either changes and restored last.
	wantWall := c.WallThicknessEnabled()
	if u.WallThicknessEnabled != nil {
		wantWall = *u.WallThicknessEnabled
	}
	if err := c.EnableWallThickness(false); err != nil {
		return c, err
	}
	if u.WallThickness != nil {
		if err := c.SetWallThickness(*u.WallThickness); err != nil {
			return c, err
		}
	}
	if u.CapillaryHeight != nil {
		if err := c.SetHeight(*u.CapillaryHeight); err != nil {
			return c, err
		}
	}
	if err := c.EnableWallThickness(wantWall); err != nil {
		return c, err
	}

	if u.ResetAngle {
		c.ResetAngle()
	}
	if u.TiltAngleDegrees != nil {
		if err := c.SetTiltAngle(*u.TiltAngleDegrees); err != nil {
			return c, err
		}
	}
	if u.AngleCorrectionEnabled != nil {
		c.EnableAngleCorrection(*u.AngleCorrectionEnabled)
	}
	return c, nil
}
