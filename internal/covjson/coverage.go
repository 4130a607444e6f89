package covjson

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// at returns the range value addressed by the given per-axis indices,
// row-major in the range's declared axis order. Axes absent from idx read
// index 0.
func (r *Range) at(cov *Coverage, idx map[string]int) Value {
	pos := 0
	stride := 1
	for i := len(r.AxisNames) - 1; i >= 0; i-- {
		name := r.AxisNames[i]
		pos += idx[name] * stride
		stride *= cov.Axis(name).Size()
	}
	return r.Values[pos]
}

// dependsOn reports whether the range is declared over the named axis.
func (r *Range) dependsOn(name string) bool {
	for _, n := range r.AxisNames {
		if n == name {
			return true
		}
	}
	return false
}

// Features projects the coverage into GeoJSON features for vector-style
// consumption. Grids expand to one feature per cell per outer-dimension
// combination; use Gridded for the array form instead.
func (c *Coverage) Features() ([]*geojson.Feature, error) {
	switch c.DomainType {
	case DomainPoint:
		return c.pointFeatures()
	case DomainPointSeries:
		return c.seriesFeatures("t")
	case DomainVerticalProfile:
		return c.seriesFeatures("z")
	case DomainMultiPoint, DomainTrajectory:
		return c.compositeFeatures()
	case DomainPolygon, DomainMultiPolygon:
		return c.polygonFeatures()
	case DomainGrid:
		return c.gridFeatures()
	}
	return nil, &UnsupportedDomainTypeError{DomainType: string(c.DomainType)}
}

func (c *Coverage) domainPoint() orb.Point {
	return orb.Point{c.Axis("x").Values[0], c.Axis("y").Values[0]}
}

func (c *Coverage) pointFeatures() ([]*geojson.Feature, error) {
	f := geojson.NewFeature(c.domainPoint())
	if z := c.Axis("z"); z != nil && len(z.Values) == 1 {
		f.Properties["z"] = z.Values[0]
	}
	for i := range c.Ranges {
		r := &c.Ranges[i]
		f.Properties[r.Param] = r.at(c, nil).Interface()
	}
	return []*geojson.Feature{f}, nil
}

// seriesFeatures handles PointSeries (along t) and VerticalProfile (along z):
// a single point geometry with one attribute row per axis value.
func (c *Coverage) seriesFeatures(along string) ([]*geojson.Feature, error) {
	axis := c.Axis(along)
	pt := c.domainPoint()

	features := make([]*geojson.Feature, 0, axis.Size())
	for i := 0; i < axis.Size(); i++ {
		f := geojson.NewFeature(pt)
		if axis.TimeValues != nil {
			f.Properties[along] = axis.TimeValues[i]
		} else {
			f.Properties[along] = axis.Values[i]
		}
		idx := map[string]int{along: i}
		for j := range c.Ranges {
			r := &c.Ranges[j]
			f.Properties[r.Param] = r.at(c, idx).Interface()
		}
		features = append(features, f)
	}
	return features, nil
}

// compositeFeatures handles MultiPoint and Trajectory: one feature per
// composite tuple, with values varying along the shared composite axis.
func (c *Coverage) compositeFeatures() ([]*geojson.Feature, error) {
	comp := c.Axis("composite")
	features := make([]*geojson.Feature, 0, len(comp.Tuples))
	for i, tuple := range comp.Tuples {
		f := geojson.NewFeature(orb.Point{tuple.X, tuple.Y})
		if tuple.Z != nil {
			f.Properties["z"] = *tuple.Z
		}
		if tuple.T != "" {
			f.Properties["t"] = tuple.T
		}
		idx := map[string]int{"composite": i}
		for j := range c.Ranges {
			r := &c.Ranges[j]
			f.Properties[r.Param] = r.at(c, idx).Interface()
		}
		features = append(features, f)
	}
	return features, nil
}

func (c *Coverage) polygonFeatures() ([]*geojson.Feature, error) {
	comp := c.Axis("composite")
	features := make([]*geojson.Feature, 0, len(comp.Polygons))
	for i, poly := range comp.Polygons {
		f := geojson.NewFeature(poly)
		idx := map[string]int{"composite": i}
		for j := range c.Ranges {
			r := &c.Ranges[j]
			f.Properties[r.Param] = r.at(c, idx).Interface()
		}
		features = append(features, f)
	}
	return features, nil
}

// Line assembles a trajectory's vertices into a single orb.LineString.
func (c *Coverage) Line() (orb.LineString, error) {
	if c.DomainType != DomainTrajectory {
		return nil, fmt.Errorf("Line: domain type is %s, not Trajectory", c.DomainType)
	}
	comp := c.Axis("composite")
	line := make(orb.LineString, len(comp.Tuples))
	for i, tuple := range comp.Tuples {
		line[i] = orb.Point{tuple.X, tuple.Y}
	}
	return line, nil
}

// GridSlice is one 2D layer of a grid coverage for one parameter: the values
// at a fixed combination of the non-spatial dimensions. Values is indexed
// [y][x] following the y and x axis value order.
type GridSlice struct {
	Param string
	// Key names the fixed outer dimensions, e.g. "t_2026-01-01T00:00:00Z_z_850".
	// Empty for a plain 2D grid.
	Key    string
	T      string
	Z      *float64
	Bound  orb.Bound
	Values [][]Value
}

// Gridded reshapes a grid parameter into 2D slices, strictly honoring the
// range's declared axis order. The document is free to declare axes in any
// order; the strides come from that declaration, never from an assumed
// (t, z, y, x) layout.
func (c *Coverage) Gridded(param string) ([]GridSlice, error) {
	if c.DomainType != DomainGrid {
		return nil, fmt.Errorf("Gridded: domain type is %s, not Grid", c.DomainType)
	}
	r := c.Range(param)
	if r == nil {
		return nil, fmt.Errorf("Gridded: no range for parameter %q", param)
	}
	if !r.dependsOn("x") || !r.dependsOn("y") {
		return nil, &DomainAxisError{
			DomainType: string(c.DomainType),
			Axes:       r.AxisNames,
			Reason:     fmt.Sprintf("range %q is not declared over x and y", param),
		}
	}

	x, y := c.Axis("x"), c.Axis("y")
	bound := gridBound(x.Values, y.Values)

	// Outer dimensions: every range axis except x and y, in declared order.
	var outer []*Axis
	for _, name := range r.AxisNames {
		if name == "x" || name == "y" {
			continue
		}
		outer = append(outer, c.Axis(name))
	}

	var slices []GridSlice
	counters := make([]int, len(outer))
	for {
		slice := GridSlice{Param: param, Bound: bound}
		idx := make(map[string]int, len(outer)+2)
		var keyParts []string
		for i, ax := range outer {
			idx[ax.Name] = counters[i]
			var label string
			if ax.TimeValues != nil {
				label = ax.TimeValues[counters[i]]
			} else {
				label = formatFloat(ax.Values[counters[i]])
			}
			keyParts = append(keyParts, ax.Name+"_"+label)
			switch ax.Name {
			case "t":
				slice.T = label
			case "z":
				z := ax.Values[counters[i]]
				slice.Z = &z
			}
		}
		slice.Key = strings.Join(keyParts, "_")

		slice.Values = make([][]Value, y.Size())
		for yi := 0; yi < y.Size(); yi++ {
			row := make([]Value, x.Size())
			idx["y"] = yi
			for xi := 0; xi < x.Size(); xi++ {
				idx["x"] = xi
				row[xi] = r.at(c, idx)
			}
			slice.Values[yi] = row
		}
		slices = append(slices, slice)

		if !advance(counters, outer) {
			break
		}
	}
	return slices, nil
}

// advance increments a mixed-radix counter over the outer axes; false when
// the counter wraps past the last combination.
func advance(counters []int, outer []*Axis) bool {
	for i := len(counters) - 1; i >= 0; i-- {
		counters[i]++
		if counters[i] < outer[i].Size() {
			return true
		}
		counters[i] = 0
	}
	return false
}

func (c *Coverage) gridFeatures() ([]*geojson.Feature, error) {
	x, y := c.Axis("x"), c.Axis("y")

	var features []*geojson.Feature
	for i := range c.Ranges {
		r := &c.Ranges[i]
		slices, err := c.Gridded(r.Param)
		if err != nil {
			return nil, err
		}
		for _, slice := range slices {
			for yi := range slice.Values {
				for xi := range slice.Values[yi] {
					f := geojson.NewFeature(orb.Point{x.Values[xi], y.Values[yi]})
					if slice.T != "" {
						f.Properties["t"] = slice.T
					}
					if slice.Z != nil {
						f.Properties["z"] = *slice.Z
					}
					f.Properties[r.Param] = slice.Values[yi][xi].Interface()
					features = append(features, f)
				}
			}
		}
	}
	return features, nil
}

// gridBound returns the bound of the cell centers.
func gridBound(xs, ys []float64) orb.Bound {
	minX, maxX := minMax(xs)
	minY, maxY := minMax(ys)
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

func minMax(vs []float64) (float64, float64) {
	min, max := vs[0], vs[0]
	for _, v := range vs[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
