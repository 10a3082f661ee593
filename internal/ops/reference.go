package ops

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vxco/phase/internal/calibration"
	"github.com/vxco/phase/internal/config"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/units"
)

// ReferenceEntry is one flattened catalogue row.
type ReferenceEntry struct {
	Device         string          `json:"device"`
	Version        string          `json:"version"`
	WallThickness  *units.Quantity `json:"wall_thickness,omitempty"`
	MagnetDistance *float64        `json:"magnet_distance_mm,omitempty"`
	InnerWidth     *float64        `json:"inner_width_um,omitempty"`
	InnerHeight    *units.Quantity `json:"inner_height,omitempty"`
}

// LoadReferenceFile reads a height reference catalogue from disk, as YAML
// for .yaml and .yml files and JSON otherwise.
func LoadReferenceFile(path string, cfg *config.Config) (calibration.Catalogue, error) {
	if err := ValidatePath(path, PathCheckRead, KindReference, cfg); err != nil {
		return nil, err
	}
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	load := calibration.LoadReferences
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		load = calibration.LoadReferencesYAML
	}
	cat, err := load(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return cat, nil
}

// ListReferences flattens a catalogue in device then version order.
func ListReferences(cat calibration.Catalogue) []ReferenceEntry {
	var out []ReferenceEntry
	for _, device := range cat.Devices() {
		for _, version := range cat.Versions(device) {
			ref, _ := cat.Lookup(device, version)
			out = append(out, referenceEntry(device, version, ref))
		}
	}
	return out
}

// LookupReference finds one preset, as INVALID_REQUEST when absent.
func LookupReference(cat calibration.Catalogue, device, version string) (calibration.Reference, error) {
	ref, ok := cat.Lookup(device, version)
	if !ok {
		return calibration.Reference{}, errors.NewInvalidRequest(
			fmt.Sprintf("no reference for device %q version %q", device, version))
	}
	return ref, nil
}

func referenceEntry(device, version string, ref calibration.Reference) ReferenceEntry {
	e := ReferenceEntry{
		Device:         device,
		Version:        version,
		MagnetDistance: ref.MagnetDistance,
		InnerWidth:     ref.InnerWidth,
	}
	if q, ok := ref.WallThicknessQuantity(); ok {
		e.WallThickness = &q
	}
	if q, ok := ref.InnerHeight(); ok {
		e.InnerHeight = &q
	}
	return e
}
