// Package covjson decodes CoverageJSON documents into typed coverages with
// orb geometries and per-parameter value ranges. The decoder is a pure
// transformation: no I/O, no shared state, safe to run concurrently for
// independent documents.
package covjson

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
)

// DomainType tags the geometric shape of a coverage's domain.
type DomainType string

const (
	DomainPoint           DomainType = "Point"
	DomainPointSeries     DomainType = "PointSeries"
	DomainVerticalProfile DomainType = "VerticalProfile"
	DomainMultiPoint      DomainType = "MultiPoint"
	DomainGrid            DomainType = "Grid"
	DomainTrajectory      DomainType = "Trajectory"
	DomainPolygon         DomainType = "Polygon"
	DomainMultiPolygon    DomainType = "MultiPolygon"
)

var knownDomainTypes = map[DomainType]bool{
	DomainPoint:           true,
	DomainPointSeries:     true,
	DomainVerticalProfile: true,
	DomainMultiPoint:      true,
	DomainGrid:            true,
	DomainTrajectory:      true,
	DomainPolygon:         true,
	DomainMultiPolygon:    true,
}

// Tuple is one entry of a composite axis: a coordinate bundle whose members
// are named by the axis's coordinate list.
type Tuple struct {
	X, Y float64
	Z    *float64
	T    string
}

// Axis is a named, ordered sequence of coordinate or dimension values.
// Exactly one of Values, TimeValues, Tuples or Polygons is populated,
// depending on the axis kind.
type Axis struct {
	Name    string
	Regular bool

	Values     []float64
	TimeValues []string

	// Composite axes only.
	DataType    string
	Coordinates []string
	Tuples      []Tuple
	Polygons    []orb.Polygon
}

// Size returns the number of entries along the axis.
func (a *Axis) Size() int {
	switch {
	case a.Tuples != nil:
		return len(a.Tuples)
	case a.Polygons != nil:
		return len(a.Polygons)
	case a.TimeValues != nil:
		return len(a.TimeValues)
	default:
		return len(a.Values)
	}
}

// Value is one range entry. Missing marks the source null sentinel; it is
// never coerced to zero.
type Value struct {
	V       float64
	Missing bool
}

// Interface returns the value as a GeoJSON property: nil for no data.
func (v Value) Interface() interface{} {
	if v.Missing {
		return nil
	}
	return v.V
}

// Range is a parameter's flat value array plus the axes it is declared over,
// in declared order. The value count always equals the product of those axis
// sizes; Decode rejects anything else.
type Range struct {
	Param     string
	DataType  string
	AxisNames []string
	Values    []Value
}

// Parameter is the metadata a CoverageJSON document carries per parameter.
type Parameter struct {
	ID       string
	Label    string
	Unit     string
	DataType string
	// CategoryEncoding maps category ids to stored numeric values for
	// categorical parameters.
	CategoryEncoding map[string]float64
}

// Coverage is one decoded coverage: domain type, ordered axes, referencing
// and parameter ranges.
type Coverage struct {
	DomainType DomainType
	Axes       []*Axis
	CRS        string
	Parameters map[string]Parameter
	Ranges     []Range
	Warnings   []Warning
}

// Axis returns the named axis, or nil.
func (c *Coverage) Axis(name string) *Axis {
	for _, a := range c.Axes {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Range returns the named parameter's range, or nil.
func (c *Coverage) Range(param string) *Range {
	for i := range c.Ranges {
		if c.Ranges[i].Param == param {
			return &c.Ranges[i]
		}
	}
	return nil
}

// Result is the outcome of a decode. A single Coverage document yields one
// coverage; a CoverageCollection yields its members in order, with
// structurally invalid members excluded and reported in Errors.
type Result struct {
	Coverages []*Coverage
	Errors    []*MemberError
}

// labelText extracts a label encoded as a bare string or an i18n object.
func labelText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err == nil {
		if v, ok := m["en"]; ok {
			return v
		}
		for _, v := range m {
			return v
		}
	}
	return ""
}

func convertParameter(id string, raw rawParameter) Parameter {
	p := Parameter{
		ID:               id,
		Label:            labelText(raw.ObservedProperty.Label),
		DataType:         raw.DataType,
		CategoryEncoding: raw.CategoryEncoding,
	}
	var unit struct {
		Label  json.RawMessage `json:"label"`
		Symbol json.RawMessage `json:"symbol"`
	}
	if err := json.Unmarshal(raw.Unit, &unit); err == nil {
		var sym string
		if err := json.Unmarshal(unit.Symbol, &sym); err == nil {
			p.Unit = sym
		} else {
			var obj struct {
				Value string `json:"value"`
			}
			if json.Unmarshal(unit.Symbol, &obj) == nil {
				p.Unit = obj.Value
			}
		}
		if p.Unit == "" {
			p.Unit = labelText(unit.Label)
		}
	}
	if len(raw.ObservedProperty.Categories) > 0 && p.DataType == "" {
		p.DataType = "categorical"
	}
	return p
}

func axisNames(axes []*Axis) []string {
	names := make([]string, len(axes))
	for i, a := range axes {
		names[i] = a.Name
	}
	return names
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}
