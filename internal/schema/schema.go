// Package schema models OGC API EDR capability documents: collections,
// their query kinds, parameters, instances and custom dimensions. Parsing is
// a pure transformation of an already-fetched document; fetching belongs to
// pkg/edrclient.
package schema

import (
	"time"

	"github.com/paulmach/orb"
)

// DataType classifies a parameter's values.
type DataType string

const (
	TypeInteger     DataType = "integer"
	TypeFloat       DataType = "float"
	TypeCategorical DataType = "categorical"
)

// Parameter describes one queryable variable of a collection.
type Parameter struct {
	ID       string
	Label    string
	Unit     string
	DataType DataType
}

// TemporalExtent is the time coverage of a collection. Either end of the
// interval may be open (nil). Values lists the discrete steps when the
// service declares them.
type TemporalExtent struct {
	Start  *time.Time
	End    *time.Time
	Values []time.Time
}

// Contains reports whether t falls inside the extent. Open ends match
// everything on their side.
func (te *TemporalExtent) Contains(t time.Time) bool {
	if te.Start != nil && t.Before(*te.Start) {
		return false
	}
	if te.End != nil && t.After(*te.End) {
		return false
	}
	return true
}

// CustomDimension is a service-defined axis beyond x/y/z/t, for example an
// ensemble member number. Selections are validated against Values when the
// dimension enumerates them, or against Interval for numeric ranges.
type CustomDimension struct {
	Name     string
	Values   []string
	Interval *[2]float64
	// MinMaxRange selections pick a min/max pair instead of listed values.
	MinMaxRange bool
}

// HasValue reports whether v is a legal single value for the dimension.
func (cd *CustomDimension) HasValue(v string) bool {
	for _, have := range cd.Values {
		if have == v {
			return true
		}
	}
	return false
}

// Collection is an immutable capability snapshot of one EDR collection.
// Replaced wholesale on re-fetch, never mutated.
type Collection struct {
	ID    string
	Title string

	Bounds     orb.Bound
	SpatialCRS string

	Temporal       *TemporalExtent
	VerticalLevels []string

	SupportedQueries []string
	OutputFormats    []string
	OutputCRSs       []string
	// WithinUnits are the radius units the service accepts for radius queries.
	WithinUnits []string

	Parameters       []Parameter
	CustomDimensions []CustomDimension

	Instances []*Instance
}

// Instance is a named sub-capability of a collection, narrowing its extents
// or dimensions. Detail carries the instance's own collection-shaped limits.
type Instance struct {
	ID     string
	Detail *Collection
}

// SupportsQuery reports whether the collection advertises the named query
// route in its data_queries.
func (c *Collection) SupportsQuery(kind string) bool {
	for _, q := range c.SupportedQueries {
		if q == kind {
			return true
		}
	}
	return false
}

// Parameter returns the parameter with the given id, or nil.
func (c *Collection) Parameter(id string) *Parameter {
	for i := range c.Parameters {
		if c.Parameters[i].ID == id {
			return &c.Parameters[i]
		}
	}
	return nil
}

// CustomDimension returns the declared dimension with the given name, or nil.
func (c *Collection) CustomDimension(name string) *CustomDimension {
	for i := range c.CustomDimensions {
		if c.CustomDimensions[i].Name == name {
			return &c.CustomDimensions[i]
		}
	}
	return nil
}

// Instance returns the instance with the given id, or nil.
func (c *Collection) Instance(id string) *Instance {
	for _, inst := range c.Instances {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

// HasVerticalLevel reports whether the level is one of the declared values.
func (c *Collection) HasVerticalLevel(level string) bool {
	for _, l := range c.VerticalLevels {
		if l == level {
			return true
		}
	}
	return false
}

// HasOutputFormat reports whether the format is advertised by the collection.
func (c *Collection) HasOutputFormat(f string) bool {
	for _, have := range c.OutputFormats {
		if have == f {
			return true
		}
	}
	return false
}

// HasOutputCRS reports whether the CRS is advertised by the collection.
func (c *Collection) HasOutputCRS(crs string) bool {
	for _, have := range c.OutputCRSs {
		if have == crs {
			return true
		}
	}
	return false
}
