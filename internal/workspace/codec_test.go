package workspace

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/vxco/phase/internal/calibration"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/layout"
	"github.com/vxco/phase/internal/units"
)

func fullyCalibrated(t *testing.T) *Workspace {
	t.Helper()
	cal := calibration.New()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(cal.SetBoundary(12.25, 412.75))
	must(cal.SetHeight(units.Q(0.05, units.Millimeter)))
	must(cal.SetWallThickness(units.Q(2, units.Micrometer)))
	must(cal.EnableWallThickness(true))
	must(cal.SetTiltAngle(17.3))
	cal.EnableAngleCorrection(true)

	w := New()
	w.Name = "run 7"
	w.ImageReference = "images/run7.tif"
	must(w.SetCalibration(cal))
	return w
}

func TestRoundTrip(t *testing.T) {
	w := fullyCalibrated(t)
	a, _ := w.AddParticle(layout.Point{X: 101.1, Y: 200.3})
	b, _ := w.AddParticle(layout.Point{X: 140.7, Y: 33.9})
	c, _ := w.AddParticle(layout.Point{X: 12, Y: 500})
	if err := w.Rename(b.ID, "cluster"); err != nil {
		t.Fatal(err)
	}
	if err := w.SetNotes(a.ID, "**fast**"); err != nil {
		t.Fatal(err)
	}
	if err := w.MoveLabel(c.ID, layout.Point{X: 33.3, Y: -71.7}); err != nil {
		t.Fatal(err)
	}
	if err := w.RemoveParticle(a.ID); err != nil {
		t.Fatal(err)
	}

	data, err := Marshal(w)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if back.Name != w.Name || back.ImageReference != w.ImageReference {
		t.Errorf("header = %q/%q", back.Name, back.ImageReference)
	}
	if back.Calibration() != w.Calibration() {
		t.Errorf("calibration = %+v, want %+v", back.Calibration(), w.Calibration())
	}
	if back.NextNumber() != 4 {
		t.Errorf("NextNumber() = %d, want 4", back.NextNumber())
	}

	orig, got := w.Particles(), back.Particles()
	if len(got) != len(orig) {
		t.Fatalf("particles = %d, want %d", len(got), len(orig))
	}
	for i := range orig {
		o, g := orig[i], got[i]
		if g.ID != o.ID || g.Number != o.Number || g.Position != o.Position ||
			g.CustomName != o.CustomName || g.Notes != o.Notes || g.Label != o.Label {
			t.Errorf("particle %d = %+v, want %+v", i, g, o)
		}
		if math.Float64bits(g.Height().Height) != math.Float64bits(o.Height().Height) {
			t.Errorf("particle %d height %v, want bit-identical %v", i, g.Height().Height, o.Height().Height)
		}
	}
}

func TestMarshal_OmitsDerived(t *testing.T) {
	w := fullyCalibrated(t)
	_, _ = w.AddParticle(layout.Point{Y: 100})
	data, err := Marshal(w)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, key := range []string{`"height"`, `"degraded"`} {
		if strings.Contains(s, key) {
			t.Errorf("document contains %s:\n%s", key, s)
		}
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatal(err)
	}
	if generic["format_version"] != float64(1) {
		t.Errorf("format_version = %v", generic["format_version"])
	}
}

func TestUnmarshal_EmptyUncalibrated(t *testing.T) {
	w, err := Unmarshal([]byte(`{"format_version": 1, "calibration": {}}`))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if w.Name != DefaultName || w.Len() != 0 || w.Calibration().IsComplete() {
		t.Errorf("workspace = %+v", w)
	}
}

func TestUnmarshal_IgnoresUnknownFields(t *testing.T) {
	doc := `{"format_version": 1, "theme": "dark",
		"calibration": {"ceiling_y": 0, "floor_y": 100, "capillary_height": {"value": 50, "unit": "um"}},
		"particles": [{"id": "a", "number": 1, "position_px": {"x": 1, "y": 25}, "colour": "red",
		               "label": {"offset": {"x": 0, "y": -40}}}]}`
	w, err := Unmarshal([]byte(doc))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	p, ok := w.Particle("a")
	if !ok || p.Height().Height != 37.5 {
		t.Errorf("particle = %+v", p)
	}
	if w.NextNumber() != 2 {
		t.Errorf("NextNumber() = %d, want 2", w.NextNumber())
	}
}

func TestUnmarshal_FillsMissingNumbers(t *testing.T) {
	doc := `{"format_version": 1,
		"calibration": {"ceiling_y": 0, "floor_y": 100, "capillary_height": {"value": 50, "unit": "um"}},
		"particles": [
			{"id": "a", "position_px": {"x": 1, "y": 25}, "label": {"offset": {"x": 0, "y": -40}}},
			{"id": "b", "number": 1, "position_px": {"x": 2, "y": 25}, "label": {"offset": {"x": 0, "y": -40}}},
			{"id": "c", "position_px": {"x": 3, "y": 25}, "label": {"offset": {"x": 0, "y": -40}}}]}`
	w, err := Unmarshal([]byte(doc))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	want := map[string]string{"a": "P2", "b": "P1", "c": "P3"}
	for id, name := range want {
		p, _ := w.Particle(id)
		if p.Name() != name {
			t.Errorf("particle %s name = %q, want %q", id, p.Name(), name)
		}
	}
	if w.NextNumber() != 4 {
		t.Errorf("NextNumber() = %d, want 4", w.NextNumber())
	}
}

func TestUnmarshal_Corrupt(t *testing.T) {
	cal := `"calibration": {"ceiling_y": 0, "floor_y": 100, "capillary_height": {"value": 50, "unit": "um"}}`
	particle := func(fields string) string {
		return `{"format_version": 1, ` + cal + `, "particles": [` + fields + `]}`
	}

	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"format_version": 1,`},
		{"missing version", `{` + cal + `}`},
		{"future version", `{"format_version": 2, ` + cal + `}`},
		{"missing calibration", `{"format_version": 1}`},
		{"inverted boundary", `{"format_version": 1, "calibration": {"ceiling_y": 100, "floor_y": 0}}`},
		{"bad height", `{"format_version": 1, "calibration": {"capillary_height": {"value": -1, "unit": "um"}}}`},
		{"bad unit", `{"format_version": 1, "calibration": {"capillary_height": {"value": 1, "unit": "ft"}}}`},
		{"tilt out of range", `{"format_version": 1, "calibration": {"tilt_angle_degrees": 90}}`},
		{"missing id", particle(`{"position_px": {"x": 1, "y": 1}, "label": {"offset": {"x": 0, "y": 0}}}`)},
		{"missing position", particle(`{"id": "a", "label": {"offset": {"x": 0, "y": 0}}}`)},
		{"missing label", particle(`{"id": "a", "position_px": {"x": 1, "y": 1}}`)},
		{"duplicate id", particle(`{"id": "a", "position_px": {"x": 1, "y": 1}, "label": {"offset": {"x": 0, "y": 0}}},` +
			`{"id": "a", "position_px": {"x": 2, "y": 2}, "label": {"offset": {"x": 0, "y": 0}}}`)},
		{"duplicate number", particle(`{"id": "a", "number": 1, "position_px": {"x": 1, "y": 1}, "label": {"offset": {"x": 0, "y": 0}}},` +
			`{"id": "b", "number": 1, "position_px": {"x": 2, "y": 2}, "label": {"offset": {"x": 0, "y": 0}}}`)},
		{"particles without calibration", `{"format_version": 1, "calibration": {}, "particles": [` +
			`{"id": "a", "position_px": {"x": 1, "y": 1}, "label": {"offset": {"x": 0, "y": 0}}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := Unmarshal([]byte(tt.doc))
			if !errors.Is(err, errors.ErrCorruptWorkspace) {
				t.Fatalf("Unmarshal() error = %v, want CORRUPT_WORKSPACE", err)
			}
			if w != nil {
				t.Error("no partial workspace should be returned")
			}
		})
	}
}
