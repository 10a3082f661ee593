package calibration

import (
	"math"
	"strings"
	"testing"

	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/units"
)

func complete(t *testing.T) Calibration {
	t.Helper()
	c := New()
	if err := c.SetBoundary(0, 100); err != nil {
		t.Fatalf("SetBoundary() error = %v", err)
	}
	if err := c.SetHeight(units.Q(50, units.Micrometer)); err != nil {
		t.Fatalf("SetHeight() error = %v", err)
	}
	return c
}

func TestSetBoundary(t *testing.T) {
	tests := []struct {
		name    string
		ceiling float64
		floor   float64
		wantErr bool
	}{
		{"ordered", 10, 200, false},
		{"negative ceiling", -5, 5, false},
		{"equal", 50, 50, true},
		{"inverted", 200, 10, true},
		{"nan", math.NaN(), 10, true},
		{"inf floor", 0, math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			err := c.SetBoundary(tt.ceiling, tt.floor)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrInvalidCalibration) {
					t.Fatalf("SetBoundary() error = %v, want INVALID_CALIBRATION", err)
				}
				if _, _, ok := c.Boundary(); ok {
					t.Error("boundary should stay unset after a rejected update")
				}
				return
			}
			if err != nil {
				t.Fatalf("SetBoundary() error = %v", err)
			}
			ceil, floor, ok := c.Boundary()
			if !ok || ceil != tt.ceiling || floor != tt.floor {
				t.Errorf("Boundary() = %v, %v, %v", ceil, floor, ok)
			}
		})
	}
}

func TestSetBoundary_RejectedKeepsPrevious(t *testing.T) {
	c := complete(t)
	if err := c.SetBoundary(100, 0); err == nil {
		t.Fatal("expected error")
	}
	ceil, floor, _ := c.Boundary()
	if ceil != 0 || floor != 100 {
		t.Errorf("Boundary() = %v, %v, want 0, 100", ceil, floor)
	}
}

func TestSetHeight(t *testing.T) {
	tests := []struct {
		name    string
		q       units.Quantity
		wantErr bool
	}{
		{"micrometers", units.Q(50, units.Micrometer), false},
		{"millimeters", units.Q(0.05, units.Millimeter), false},
		{"zero", units.Q(0, units.Micrometer), true},
		{"negative", units.Q(-1, units.Micrometer), true},
		{"bad unit", units.Quantity{Value: 5, Unit: "ft"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			err := c.SetHeight(tt.q)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetHeight() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errors.ErrInvalidCalibration) {
				t.Errorf("error code = %v, want INVALID_CALIBRATION", err)
			}
		})
	}
}

func TestWallThicknessInvariant(t *testing.T) {
	c := complete(t)

	if err := c.SetWallThickness(units.Q(-1, units.Micrometer)); err == nil {
		t.Error("negative wall thickness should be rejected")
	}

	// Disabled compensation does not check against the height.
	if err := c.SetWallThickness(units.Q(30, units.Micrometer)); err != nil {
		t.Fatalf("SetWallThickness() error = %v", err)
	}
	if err := c.EnableWallThickness(true); !errors.Is(err, errors.ErrInvalidCalibration) {
		t.Fatalf("EnableWallThickness() error = %v, want INVALID_CALIBRATION", err)
	}
	if c.WallThicknessEnabled() {
		t.Error("compensation should stay disabled")
	}

	if err := c.SetWallThickness(units.Q(2, units.Micrometer)); err != nil {
		t.Fatalf("SetWallThickness() error = %v", err)
	}
	if err := c.EnableWallThickness(true); err != nil {
		t.Fatalf("EnableWallThickness() error = %v", err)
	}

	// 2 × 25 µm == 50 µm is not strictly less.
	if err := c.SetWallThickness(units.Q(25, units.Micrometer)); err == nil {
		t.Error("2×wall == height should be rejected while enabled")
	}
	if err := c.SetHeight(units.Q(4, units.Micrometer)); err == nil {
		t.Error("height not exceeding 2×wall should be rejected while enabled")
	}
	h, _ := c.Height()
	if h.Value != 50 {
		t.Errorf("height = %v, want unchanged 50", h)
	}
}

func TestWallThicknessInvariant_MixedUnits(t *testing.T) {
	c := New()
	if err := c.SetHeight(units.Q(0.05, units.Millimeter)); err != nil {
		t.Fatalf("SetHeight() error = %v", err)
	}
	if err := c.SetWallThickness(units.Q(20, units.Micrometer)); err != nil {
		t.Fatalf("SetWallThickness() error = %v", err)
	}
	if err := c.EnableWallThickness(true); err != nil {
		t.Fatalf("40 µm < 0.05 mm should be accepted: %v", err)
	}
	if err := c.SetWallThickness(units.Q(0.03, units.Millimeter)); err == nil {
		t.Error("0.06 mm >= 0.05 mm should be rejected")
	}
}

func TestSetTiltAngle(t *testing.T) {
	c := New()
	for _, deg := range []float64{0, 30, -30, 89.999} {
		if err := c.SetTiltAngle(deg); err != nil {
			t.Errorf("SetTiltAngle(%v) error = %v", deg, err)
		}
	}
	for _, deg := range []float64{90, -90, 120, math.NaN()} {
		if err := c.SetTiltAngle(deg); !errors.Is(err, errors.ErrInvalidCalibration) {
			t.Errorf("SetTiltAngle(%v) error = %v, want INVALID_CALIBRATION", deg, err)
		}
	}

	c.ResetAngle()
	if c.TiltAngle() != 0 {
		t.Errorf("TiltAngle() = %v after reset", c.TiltAngle())
	}
}

func TestNudgeBoundary(t *testing.T) {
	c := New()
	if err := c.NudgeBoundary(Ceiling, 1); !errors.Is(err, errors.ErrIncompleteCalibration) {
		t.Fatalf("NudgeBoundary() on unset boundary error = %v", err)
	}

	c = complete(t)
	if err := c.NudgeBoundary(Ceiling, 5); err != nil {
		t.Fatalf("NudgeBoundary() error = %v", err)
	}
	if err := c.NudgeBoundary(Floor, -10); err != nil {
		t.Fatalf("NudgeBoundary() error = %v", err)
	}
	ceil, floor, _ := c.Boundary()
	if ceil != 5 || floor != 90 {
		t.Errorf("Boundary() = %v, %v, want 5, 90", ceil, floor)
	}

	if err := c.NudgeBoundary(Ceiling, 85); err == nil {
		t.Error("nudging the ceiling onto the floor should be rejected")
	}
	if err := c.NudgeBoundary("side", 1); err == nil {
		t.Error("unknown edge should be rejected")
	}
}

func TestMissing(t *testing.T) {
	c := New()
	if c.IsComplete() {
		t.Fatal("new calibration should be incomplete")
	}
	if got := strings.Join(c.Missing(), ","); got != "boundary,capillary_height" {
		t.Errorf("Missing() = %q", got)
	}

	c = complete(t)
	if !c.IsComplete() || len(c.Missing()) != 0 {
		t.Errorf("IsComplete() = %v, Missing() = %v", c.IsComplete(), c.Missing())
	}
}

func TestRelativePosition(t *testing.T) {
	c := complete(t)
	tests := []struct {
		y    float64
		want float64
	}{
		{0, 1},
		{100, 0},
		{25, 0.75},
		{-50, 1.5},
		{150, -0.5},
	}
	for _, tt := range tests {
		got, ok := c.RelativePosition(tt.y)
		if !ok || got != tt.want {
			t.Errorf("RelativePosition(%v) = %v, %v, want %v", tt.y, got, ok, tt.want)
		}
	}
}

func TestStateRoundTrip(t *testing.T) {
	c := complete(t)
	if err := c.SetWallThickness(units.Q(2, units.Micrometer)); err != nil {
		t.Fatal(err)
	}
	if err := c.EnableWallThickness(true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetTiltAngle(30); err != nil {
		t.Fatal(err)
	}
	c.EnableAngleCorrection(true)

	back, err := FromState(c.State())
	if err != nil {
		t.Fatalf("FromState() error = %v", err)
	}
	if back != c {
		t.Errorf("FromState(State()) = %+v, want %+v", back, c)
	}
	if err := back.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestFromState_Rejects(t *testing.T) {
	ceil, floor := 100.0, 0.0
	if _, err := FromState(State{CeilingY: &ceil, FloorY: &floor}); err == nil {
		t.Error("inverted boundary should be rejected")
	}
	if _, err := FromState(State{CeilingY: &ceil}); err == nil {
		t.Error("half a boundary should be rejected")
	}

	h := units.Q(10, units.Micrometer)
	s := State{
		CapillaryHeight:      &h,
		WallThickness:        units.Q(6, units.Micrometer),
		WallThicknessEnabled: true,
	}
	if _, err := FromState(s); err == nil {
		t.Error("wall invariant violation should be rejected")
	}

	if _, err := FromState(State{TiltAngleDegrees: 95}); err == nil {
		t.Error("tilt out of range should be rejected")
	}
}
