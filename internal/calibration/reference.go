package calibration

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/vxco/phase/internal/units"
)

// Reference is one device preset. Wall thickness and inner width are in
// micrometers, magnet distance in millimeters.
type Reference struct {
	WallThickness  *float64 `json:"wall_thickness,omitempty" yaml:"wall_thickness,omitempty"`
	MagnetDistance *float64 `json:"magnet_distance,omitempty" yaml:"magnet_distance,omitempty"`
	InnerWidth     *float64 `json:"inner_width,omitempty" yaml:"inner_width,omitempty"`
}

// Catalogue maps device type to version to preset.
type Catalogue map[string]map[string]Reference

// LoadReferences parses a catalogue document of the form
// {"device": {"version": {"wall_thickness": .., "magnet_distance": .., "inner_width": ..}}}.
func LoadReferences(r io.Reader) (Catalogue, error) {
	var cat Catalogue
	if err := json.NewDecoder(r).Decode(&cat); err != nil {
		return nil, fmt.Errorf("parse reference catalogue: %w", err)
	}
	if cat == nil {
		cat = Catalogue{}
	}
	return cat, nil
}

// LoadReferencesYAML parses the same catalogue shape written as YAML.
func LoadReferencesYAML(r io.Reader) (Catalogue, error) {
	var cat Catalogue
	if err := yaml.NewDecoder(r).Decode(&cat); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse reference catalogue: %w", err)
	}
	if cat == nil {
		cat = Catalogue{}
	}
	return cat, nil
}

// Devices returns the device types in sorted order.
func (c Catalogue) Devices() []string {
	out := make([]string, 0, len(c))
	for d := range c {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Versions returns the versions of a device in sorted order.
func (c Catalogue) Versions(device string) []string {
	versions := c[device]
	out := make([]string, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Lookup finds a preset.
func (c Catalogue) Lookup(device, version string) (Reference, bool) {
	versions, ok := c[device]
	if !ok {
		return Reference{}, false
	}
	ref, ok := versions[version]
	return ref, ok
}

// WallThicknessQuantity returns the preset's wall thickness, if it has one.
func (r Reference) WallThicknessQuantity() (units.Quantity, bool) {
	if r.WallThickness == nil {
		return units.Quantity{}, false
	}
	return units.Q(*r.WallThickness, units.Micrometer), true
}

// InnerHeight derives the capillary inner height from the preset's magnet
// distance minus both walls, in micrometers.
func (r Reference) InnerHeight() (units.Quantity, bool) {
	if r.MagnetDistance == nil {
		return units.Quantity{}, false
	}
	inner := units.Q(*r.MagnetDistance, units.Millimeter).In(units.Micrometer)
	if r.WallThickness != nil {
		inner -= 2 * *r.WallThickness
	}
	if inner <= 0 {
		return units.Quantity{}, false
	}
	return units.Q(inner, units.Micrometer), true
}
