// Package units provides unit-tagged physical lengths and parsing of
// user-entered quantities such as "50um", "0.05 mm" or "50000nm".
package units

import (
	"fmt"
	"strconv"
	"strings"
)

// Unit identifies the physical unit of a length.
type Unit string

const (
	Micrometer Unit = "um"
	Millimeter Unit = "mm"
	Nanometer  Unit = "nm"
	Picometer  Unit = "pm"
)

// Default is the unit assumed when a quantity is entered without one.
const Default = Micrometer

// perMicrometer holds how many micrometers one unit is.
var perMicrometer = map[Unit]float64{
	Micrometer: 1,
	Millimeter: 1000,
	Nanometer:  1e-3,
	Picometer:  1e-6,
}

// aliases maps accepted spellings (lowercased) to units. Both the micro sign
// (U+00B5) and the Greek mu (U+03BC) are accepted.
var aliases = map[string]Unit{
	"um": Micrometer, "µm": Micrometer, "μm": Micrometer, "u": Micrometer, "micron": Micrometer, "microns": Micrometer,
	"mm": Millimeter,
	"nm": Nanometer,
	"pm": Picometer,
}

// ParseUnit resolves a unit spelling. An empty string yields Default.
func ParseUnit(s string) (Unit, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Default, nil
	}
	if u, ok := aliases[s]; ok {
		return u, nil
	}
	return "", fmt.Errorf("unknown unit %q (use um, mm, nm or pm)", s)
}

// Valid reports whether u is one of the supported units.
func (u Unit) Valid() bool {
	_, ok := perMicrometer[u]
	return ok
}

// Symbol returns the display symbol, e.g. "µm".
func (u Unit) Symbol() string {
	if u == Micrometer {
		return "µm"
	}
	return string(u)
}

// MarshalText implements encoding.TextMarshaler.
func (u Unit) MarshalText() ([]byte, error) {
	if !u.Valid() {
		return nil, fmt.Errorf("invalid unit %q", string(u))
	}
	return []byte(u), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and accepts every alias.
func (u *Unit) UnmarshalText(text []byte) error {
	parsed, err := ParseUnit(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Quantity is a length value tagged with its unit.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

// Q is shorthand for Quantity{Value: v, Unit: u}.
func Q(v float64, u Unit) Quantity {
	return Quantity{Value: v, Unit: u}
}

// In returns the value converted to target. Same-unit conversion returns the
// stored value untouched so results stay bit-identical.
func (q Quantity) In(target Unit) float64 {
	if q.Unit == target {
		return q.Value
	}
	from, ok := perMicrometer[q.Unit]
	if !ok {
		from = 1
	}
	to, ok := perMicrometer[target]
	if !ok {
		to = 1
	}
	return q.Value * from / to
}

// IsZero reports whether the quantity is unset.
func (q Quantity) IsZero() bool {
	return q.Value == 0 && q.Unit == ""
}

// String formats the quantity with its display symbol, e.g. "50 µm".
func (q Quantity) String() string {
	return strconv.FormatFloat(q.Value, 'f', -1, 64) + " " + q.Unit.Symbol()
}
