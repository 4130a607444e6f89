package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	orbwkt "github.com/paulmach/orb/encoding/wkt"

	"github.com/joeblew999/plat-edr/internal/schema"
	"github.com/joeblew999/plat-edr/internal/wkt"
)

// SavedDimension is one persisted custom dimension selection.
type SavedDimension struct {
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
	Min    *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max    *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// SavedQuery is a replayable record of a built query. Geometry is stored in
// its wire encoding (WKT / bbox string), so a record is exactly what the
// service saw. Records are structurally valid by construction; Replay only
// checks freshness against current capabilities.
type SavedQuery struct {
	Name    string    `json:"name" yaml:"name"`
	Created time.Time `json:"created" yaml:"created"`

	ServerURL    string `json:"serverUrl" yaml:"serverUrl"`
	CollectionID string `json:"collectionId" yaml:"collectionId"`
	InstanceID   string `json:"instanceId,omitempty" yaml:"instanceId,omitempty"`
	Kind         Kind   `json:"kind" yaml:"kind"`

	Coords      string  `json:"coords,omitempty" yaml:"coords,omitempty"`
	BBox        string  `json:"bbox,omitempty" yaml:"bbox,omitempty"`
	Radius      float64 `json:"radius,omitempty" yaml:"radius,omitempty"`
	RadiusUnits string  `json:"radiusUnits,omitempty" yaml:"radiusUnits,omitempty"`
	Width       float64 `json:"width,omitempty" yaml:"width,omitempty"`
	WidthUnits  string  `json:"widthUnits,omitempty" yaml:"widthUnits,omitempty"`
	Height      float64 `json:"height,omitempty" yaml:"height,omitempty"`
	HeightUnits string  `json:"heightUnits,omitempty" yaml:"heightUnits,omitempty"`
	ResolutionX int     `json:"resolutionX,omitempty" yaml:"resolutionX,omitempty"`
	ResolutionY int     `json:"resolutionY,omitempty" yaml:"resolutionY,omitempty"`
	ResolutionZ int     `json:"resolutionZ,omitempty" yaml:"resolutionZ,omitempty"`
	LocationID  string  `json:"locationId,omitempty" yaml:"locationId,omitempty"`
	ItemID      string  `json:"itemId,omitempty" yaml:"itemId,omitempty"`

	TemporalInstant string `json:"temporalInstant,omitempty" yaml:"temporalInstant,omitempty"`
	TemporalStart   string `json:"temporalStart,omitempty" yaml:"temporalStart,omitempty"`
	TemporalEnd     string `json:"temporalEnd,omitempty" yaml:"temporalEnd,omitempty"`

	VerticalLevels []string `json:"verticalLevels,omitempty" yaml:"verticalLevels,omitempty"`
	VerticalRange  bool     `json:"verticalRange,omitempty" yaml:"verticalRange,omitempty"`

	Dimensions map[string]SavedDimension `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Parameters []string                  `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	OutputFormat  string `json:"outputFormat,omitempty" yaml:"outputFormat,omitempty"`
	OutputCRS     string `json:"outputCrs,omitempty" yaml:"outputCrs,omitempty"`
	ForcePOST     bool   `json:"forcePost,omitempty" yaml:"forcePost,omitempty"`
	POSTThreshold int    `json:"postThreshold,omitempty" yaml:"postThreshold,omitempty"`
}

// NewSavedQuery flattens a descriptor into a persistable record.
func NewSavedQuery(name, serverURL string, d *Descriptor) *SavedQuery {
	sq := &SavedQuery{
		Name:          name,
		Created:       time.Now().UTC().Truncate(time.Second),
		ServerURL:     serverURL,
		CollectionID:  d.CollectionID,
		InstanceID:    d.InstanceID,
		Kind:          d.Kind,
		Parameters:    append([]string(nil), d.Parameters...),
		OutputFormat:  d.OutputFormat,
		OutputCRS:     d.OutputCRS,
		ForcePOST:     d.ForcePOST,
		POSTThreshold: d.POSTThreshold,
	}

	switch g := d.Geometry.(type) {
	case PointGeometry:
		sq.Coords = orbwkt.MarshalString(g.Point)
	case RadiusGeometry:
		sq.Coords = orbwkt.MarshalString(g.Center)
		sq.Radius = g.Radius
		sq.RadiusUnits = g.Units
	case AreaGeometry:
		sq.Coords = orbwkt.MarshalString(g.Polygon)
	case CubeGeometry:
		sq.BBox = formatBBox(g.Bound)
	case CorridorGeometry:
		sq.Coords = wkt.FormatLineString(g.Line)
		sq.Width, sq.WidthUnits = g.Width, g.WidthUnits
		sq.Height, sq.HeightUnits = g.Height, g.HeightUnits
		sq.ResolutionX, sq.ResolutionY, sq.ResolutionZ = g.ResolutionX, g.ResolutionY, g.ResolutionZ
	case TrajectoryGeometry:
		sq.Coords = wkt.FormatLineString(g.Line)
	case LocationGeometry:
		sq.LocationID = g.ID
	case ItemGeometry:
		sq.ItemID = g.ID
	}

	if d.Temporal != nil {
		if d.Temporal.Instant != nil {
			sq.TemporalInstant = d.Temporal.Instant.UTC().Format(rfc3339)
		} else {
			sq.TemporalStart = d.Temporal.Start.UTC().Format(rfc3339)
			sq.TemporalEnd = d.Temporal.End.UTC().Format(rfc3339)
		}
	}
	if d.Vertical != nil {
		sq.VerticalLevels = append([]string(nil), d.Vertical.Levels...)
		sq.VerticalRange = d.Vertical.MinMaxRange
	}
	if len(d.Dimensions) > 0 {
		sq.Dimensions = make(map[string]SavedDimension, len(d.Dimensions))
		for name, sel := range d.Dimensions {
			sq.Dimensions[name] = SavedDimension{Values: sel.Values, Min: sel.Min, Max: sel.Max}
		}
	}
	return sq
}

// Marshal serializes the record for the persistence collaborator.
func (sq *SavedQuery) Marshal() ([]byte, error) {
	return json.Marshal(sq)
}

// UnmarshalSavedQuery deserializes a record.
func UnmarshalSavedQuery(raw []byte) (*SavedQuery, error) {
	var sq SavedQuery
	if err := json.Unmarshal(raw, &sq); err != nil {
		return nil, fmt.Errorf("saved query: %w", err)
	}
	if sq.CollectionID == "" || sq.Kind == "" {
		return nil, fmt.Errorf("saved query: missing collection id or kind")
	}
	return &sq, nil
}

// Descriptor rebuilds the query descriptor from the record. Errors here mean
// the record bytes were damaged, not that capabilities moved on.
func (sq *SavedQuery) Descriptor() (*Descriptor, error) {
	d := &Descriptor{
		Kind:          sq.Kind,
		CollectionID:  sq.CollectionID,
		InstanceID:    sq.InstanceID,
		Parameters:    append([]string(nil), sq.Parameters...),
		OutputFormat:  sq.OutputFormat,
		OutputCRS:     sq.OutputCRS,
		ForcePOST:     sq.ForcePOST,
		POSTThreshold: sq.POSTThreshold,
	}

	var err error
	if d.Geometry, err = sq.geometry(); err != nil {
		return nil, err
	}

	if sq.TemporalInstant != "" {
		t, err := time.Parse(rfc3339, sq.TemporalInstant)
		if err != nil {
			return nil, fmt.Errorf("saved query: %w", err)
		}
		d.Temporal = &TemporalSelection{Instant: &t}
	} else if sq.TemporalStart != "" {
		start, err := time.Parse(rfc3339, sq.TemporalStart)
		if err != nil {
			return nil, fmt.Errorf("saved query: %w", err)
		}
		end, err := time.Parse(rfc3339, sq.TemporalEnd)
		if err != nil {
			return nil, fmt.Errorf("saved query: %w", err)
		}
		d.Temporal = &TemporalSelection{Start: &start, End: &end}
	}

	if len(sq.VerticalLevels) > 0 {
		d.Vertical = &VerticalSelection{Levels: sq.VerticalLevels, MinMaxRange: sq.VerticalRange}
	}
	if len(sq.Dimensions) > 0 {
		d.Dimensions = make(map[string]DimensionSelection, len(sq.Dimensions))
		for name, sel := range sq.Dimensions {
			d.Dimensions[name] = DimensionSelection{Values: sel.Values, Min: sel.Min, Max: sel.Max}
		}
	}
	return d, nil
}

func (sq *SavedQuery) geometry() (Geometry, error) {
	switch sq.Kind {
	case Position:
		pt, err := wkt.ParsePoint(sq.Coords)
		if err != nil {
			return nil, err
		}
		return PointGeometry{Point: pt}, nil
	case Radius:
		pt, err := wkt.ParsePoint(sq.Coords)
		if err != nil {
			return nil, err
		}
		return RadiusGeometry{Center: pt, Radius: sq.Radius, Units: sq.RadiusUnits}, nil
	case Area:
		poly, err := orbwkt.UnmarshalPolygon(sq.Coords)
		if err != nil {
			return nil, fmt.Errorf("saved query: %w", err)
		}
		return AreaGeometry{Polygon: poly}, nil
	case Cube:
		bound, err := parseBBox(sq.BBox)
		if err != nil {
			return nil, err
		}
		return CubeGeometry{Bound: bound}, nil
	case Corridor:
		line, err := wkt.ParseLineString(sq.Coords)
		if err != nil {
			return nil, err
		}
		return CorridorGeometry{
			Line:  line,
			Width: sq.Width, WidthUnits: sq.WidthUnits,
			Height: sq.Height, HeightUnits: sq.HeightUnits,
			ResolutionX: sq.ResolutionX, ResolutionY: sq.ResolutionY, ResolutionZ: sq.ResolutionZ,
		}, nil
	case Trajectory:
		line, err := wkt.ParseLineString(sq.Coords)
		if err != nil {
			return nil, err
		}
		return TrajectoryGeometry{Line: line}, nil
	case Locations:
		return LocationGeometry{ID: sq.LocationID}, nil
	case Items:
		return ItemGeometry{ID: sq.ItemID}, nil
	}
	return nil, fmt.Errorf("saved query: unknown kind %q", sq.Kind)
}

func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("saved query: bbox %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("saved query: bbox %q: %w", s, err)
		}
		vals[i] = v
	}
	return orb.Bound{Min: orb.Point{vals[0], vals[1]}, Max: orb.Point{vals[2], vals[3]}}, nil
}

// StaleField marks one record field that no longer matches the collection's
// current capabilities. The record still replays; the caller decides whether
// to prune the field or submit anyway.
type StaleField struct {
	Field  string
	Value  string
	Reason string
}

// Replay rebuilds the descriptor and checks it for freshness against the
// current capabilities. Capability drift comes back as per-field staleness,
// never as a rejection of the whole record.
func (sq *SavedQuery) Replay(col *schema.Collection) (*Descriptor, []StaleField, error) {
	d, err := sq.Descriptor()
	if err != nil {
		return nil, nil, err
	}
	if col == nil {
		return d, nil, nil
	}

	var stale []StaleField
	mark := func(field, value, reason string) {
		stale = append(stale, StaleField{Field: field, Value: value, Reason: reason})
	}

	if !col.SupportsQuery(string(d.Kind)) {
		mark("kind", string(d.Kind), "query kind no longer offered")
	}
	for _, id := range d.Parameters {
		if col.Parameter(id) == nil {
			mark("parameter-name", id, "parameter no longer declared")
		}
	}
	if d.Vertical != nil {
		for _, level := range d.Vertical.Levels {
			if !col.HasVerticalLevel(level) {
				mark("z", level, "vertical level no longer declared")
			}
		}
	}
	for _, name := range sortedDimNames(d.Dimensions) {
		decl := col.CustomDimension(name)
		if decl == nil {
			mark(name, "", "custom dimension no longer declared")
			continue
		}
		sel := d.Dimensions[name]
		if sel.Min != nil && sel.Max != nil && decl.Interval != nil &&
			(*sel.Min < decl.Interval[0] || *sel.Max > decl.Interval[1]) {
			mark(name, fmt.Sprintf("%g/%g", *sel.Min, *sel.Max), "range outside declared interval")
		}
		for _, v := range sel.Values {
			if !decl.HasValue(v) {
				mark(name, v, "dimension value no longer declared")
			}
		}
	}
	if d.OutputFormat != "" && !col.HasOutputFormat(d.OutputFormat) {
		mark("f", d.OutputFormat, "output format no longer offered")
	}
	if d.OutputCRS != "" && !col.HasOutputCRS(d.OutputCRS) {
		mark("crs", d.OutputCRS, "output CRS no longer offered")
	}
	return d, stale, nil
}
