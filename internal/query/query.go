// Package query builds validated EDR data-query descriptors from a
// collection's capabilities and user inputs, and encodes them into HTTP
// request descriptors for an external transport to execute.
package query

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-edr/internal/wkt"
)

// Kind is one of the eight EDR data query kinds. Values match the route
// segment the service expects.
type Kind string

const (
	Position   Kind = "position"
	Radius     Kind = "radius"
	Area       Kind = "area"
	Cube       Kind = "cube"
	Corridor   Kind = "corridor"
	Trajectory Kind = "trajectory"
	Locations  Kind = "locations"
	Items      Kind = "items"
)

// Geometry is the spatial payload of a query. Each query kind accepts
// exactly one payload shape; Build enforces the pairing.
type Geometry interface {
	queryKind() Kind
}

// PointGeometry is the single point of a position query.
type PointGeometry struct {
	Point orb.Point
}

func (PointGeometry) queryKind() Kind { return Position }

// RadiusGeometry is a center point with a radius in service-declared units.
type RadiusGeometry struct {
	Center orb.Point
	Radius float64
	Units  string
}

func (RadiusGeometry) queryKind() Kind { return Radius }

// AreaGeometry is the polygon of an area query.
type AreaGeometry struct {
	Polygon orb.Polygon
}

func (AreaGeometry) queryKind() Kind { return Area }

// CubeGeometry is a bounding box; the vertical slab comes from the query's
// vertical selection.
type CubeGeometry struct {
	Bound orb.Bound
}

func (CubeGeometry) queryKind() Kind { return Cube }

// CorridorGeometry is a line string swept by a width and height. The line's
// dimensionality decides whether vertical and temporal extents come from the
// geometry or stay user-selectable.
type CorridorGeometry struct {
	Line        wkt.LineString
	Width       float64
	WidthUnits  string
	Height      float64
	HeightUnits string
	// Optional sample counts along each axis; zero means server default.
	ResolutionX int
	ResolutionY int
	ResolutionZ int
}

func (CorridorGeometry) queryKind() Kind { return Corridor }

// TrajectoryGeometry is the line string of a trajectory query, dimensionality
// rules as for corridors.
type TrajectoryGeometry struct {
	Line wkt.LineString
}

func (TrajectoryGeometry) queryKind() Kind { return Trajectory }

// LocationGeometry selects a service-listed location by id.
type LocationGeometry struct {
	ID string
}

func (LocationGeometry) queryKind() Kind { return Locations }

// ItemGeometry selects a service-listed item by id.
type ItemGeometry struct {
	ID string
}

func (ItemGeometry) queryKind() Kind { return Items }

// TemporalSelection is an instant or a closed interval. Nil pointer fields
// distinguish the two: Instant set means instant, Start/End set means
// interval.
type TemporalSelection struct {
	Instant *time.Time
	Start   *time.Time
	End     *time.Time
}

// VerticalSelection picks discrete levels, or a min/max slab when
// MinMaxRange is set (levels then contribute their first and last entries).
type VerticalSelection struct {
	Levels      []string
	MinMaxRange bool
}

// DimensionSelection is the chosen value(s) for one custom dimension: either
// listed Values or a numeric Min/Max pair for range-cardinality dimensions.
type DimensionSelection struct {
	Values []string
	Min    *float64
	Max    *float64
}

// Inputs is everything the user chose for a query. Build validates it
// against the collection's capabilities.
type Inputs struct {
	Geometry   Geometry
	Temporal   *TemporalSelection
	Vertical   *VerticalSelection
	Dimensions map[string]DimensionSelection
	// Parameters subsets the output; empty means all.
	Parameters   []string
	OutputFormat string
	OutputCRS    string
	// ForcePOST requests a POST body even under the size threshold.
	ForcePOST bool
	// POSTThreshold overrides the coords length above which Encode switches
	// to POST; zero means MaxGETCoords.
	POSTThreshold int
}

// Descriptor is a validated query ready for encoding. Construct it through
// Build; a hand-built descriptor skips validation.
type Descriptor struct {
	Kind         Kind
	CollectionID string
	InstanceID   string

	Geometry   Geometry
	Temporal   *TemporalSelection
	Vertical   *VerticalSelection
	Dimensions map[string]DimensionSelection
	Parameters []string

	OutputFormat  string
	OutputCRS     string
	ForcePOST     bool
	POSTThreshold int
}
