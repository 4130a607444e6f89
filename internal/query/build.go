package query

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/joeblew999/plat-edr/internal/schema"
	"github.com/joeblew999/plat-edr/internal/wkt"
)

const rfc3339 = time.RFC3339

// Validation failure kinds, one per rule, so callers can render a precise
// message. Build wraps them with detail; match with errors.Is.
var (
	ErrUnsupportedQueryKind      = errors.New("query kind not supported by collection")
	ErrGeometryKindMismatch      = errors.New("geometry payload does not match query kind")
	ErrExtentConflict            = errors.New("extent is derived from geometry and cannot be user-set")
	ErrTemporalOutOfRange        = errors.New("temporal selection outside collection extent")
	ErrVerticalLevelNotSupported = errors.New("vertical level not declared by collection")
	ErrDimensionValueInvalid     = errors.New("custom dimension selection invalid")
	ErrUnknownParameter          = errors.New("parameter not declared by collection")
	ErrUnsupportedOutputFormat   = errors.New("output format not supported by collection")
	ErrUnsupportedCRS            = errors.New("output CRS not supported by collection")
)

// Build validates the inputs against the collection (or instance override)
// capabilities and returns a descriptor. Rules run in a fixed order and the
// first failure wins, so a caller always sees the most structural problem.
func Build(col *schema.Collection, inst *schema.Instance, kind Kind, in Inputs) (*Descriptor, error) {
	caps := col
	if inst != nil && inst.Detail != nil {
		caps = override(col, inst.Detail)
	}

	// 1. Query kind supported.
	if !col.SupportsQuery(string(kind)) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedQueryKind, kind)
	}

	// 2. Geometry payload shape matches kind.
	if in.Geometry == nil {
		return nil, fmt.Errorf("%w: %s query has no geometry", ErrGeometryKindMismatch, kind)
	}
	if in.Geometry.queryKind() != kind {
		return nil, fmt.Errorf("%w: %s query given %s payload", ErrGeometryKindMismatch, kind, in.Geometry.queryKind())
	}
	if err := validateGeometry(caps, in.Geometry); err != nil {
		return nil, err
	}

	// 3. Corridor/trajectory: geometry-derived extents exclude user-set ones.
	if line, ok := queryLine(in.Geometry); ok {
		if line.Dim.HasZ() && in.Vertical != nil {
			return nil, fmt.Errorf("%w: vertical extent comes from the line's z ordinates", ErrExtentConflict)
		}
		if line.Dim.HasM() && in.Temporal != nil {
			return nil, fmt.Errorf("%w: temporal extent comes from the line's m ordinates", ErrExtentConflict)
		}
	}

	// 4. Temporal selection inside the collection extent.
	if err := validateTemporal(caps, in.Temporal); err != nil {
		return nil, err
	}

	// 5. Vertical levels declared.
	if in.Vertical != nil {
		if len(in.Vertical.Levels) == 0 {
			return nil, fmt.Errorf("%w: empty level selection", ErrVerticalLevelNotSupported)
		}
		for _, level := range in.Vertical.Levels {
			if !caps.HasVerticalLevel(level) {
				return nil, fmt.Errorf("%w: %q", ErrVerticalLevelNotSupported, level)
			}
		}
	}

	// 6. Custom dimension selections.
	for _, name := range sortedDimNames(in.Dimensions) {
		if err := validateDimension(caps, name, in.Dimensions[name]); err != nil {
			return nil, err
		}
	}

	// 7. Parameter subset.
	for _, id := range in.Parameters {
		if caps.Parameter(id) == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownParameter, id)
		}
	}

	// 8. Output format and CRS.
	if in.OutputFormat != "" && !caps.HasOutputFormat(in.OutputFormat) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOutputFormat, in.OutputFormat)
	}
	if in.OutputCRS != "" && !caps.HasOutputCRS(in.OutputCRS) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCRS, in.OutputCRS)
	}

	params := append([]string(nil), in.Parameters...)
	sort.Strings(params)

	d := &Descriptor{
		Kind:          kind,
		CollectionID:  col.ID,
		Geometry:      in.Geometry,
		Temporal:      in.Temporal,
		Vertical:      in.Vertical,
		Dimensions:    in.Dimensions,
		Parameters:    params,
		OutputFormat:  in.OutputFormat,
		OutputCRS:     in.OutputCRS,
		ForcePOST:     in.ForcePOST,
		POSTThreshold: in.POSTThreshold,
	}
	if inst != nil {
		d.InstanceID = inst.ID
	}
	return d, nil
}

// override layers an instance's narrowed capabilities over its parent
// collection. The instance wins wherever it declares anything.
func override(col, inst *schema.Collection) *schema.Collection {
	merged := *col
	if inst.Temporal != nil {
		merged.Temporal = inst.Temporal
	}
	if len(inst.VerticalLevels) > 0 {
		merged.VerticalLevels = inst.VerticalLevels
	}
	if len(inst.CustomDimensions) > 0 {
		merged.CustomDimensions = inst.CustomDimensions
	}
	if len(inst.Parameters) > 0 {
		merged.Parameters = inst.Parameters
	}
	if len(inst.OutputFormats) > 0 {
		merged.OutputFormats = inst.OutputFormats
	}
	if len(inst.OutputCRSs) > 0 {
		merged.OutputCRSs = inst.OutputCRSs
	}
	return &merged
}

func validateGeometry(caps *schema.Collection, g Geometry) error {
	switch geom := g.(type) {
	case RadiusGeometry:
		if geom.Radius <= 0 {
			return fmt.Errorf("%w: radius must be positive", ErrGeometryKindMismatch)
		}
		if geom.Units == "" {
			return fmt.Errorf("%w: radius units missing", ErrGeometryKindMismatch)
		}
		if len(caps.WithinUnits) > 0 && !contains(caps.WithinUnits, geom.Units) {
			return fmt.Errorf("%w: radius units %q not offered by service", ErrGeometryKindMismatch, geom.Units)
		}
	case AreaGeometry:
		if len(geom.Polygon) == 0 || len(geom.Polygon[0]) < 4 {
			return fmt.Errorf("%w: area polygon needs a closed exterior ring", ErrGeometryKindMismatch)
		}
	case CorridorGeometry:
		if len(geom.Line.Coords) < 2 {
			return fmt.Errorf("%w: corridor line needs at least 2 points", ErrGeometryKindMismatch)
		}
		if geom.Width <= 0 || geom.Height <= 0 {
			return fmt.Errorf("%w: corridor width and height must be positive", ErrGeometryKindMismatch)
		}
		if geom.WidthUnits == "" || geom.HeightUnits == "" {
			return fmt.Errorf("%w: corridor width and height units missing", ErrGeometryKindMismatch)
		}
	case TrajectoryGeometry:
		if len(geom.Line.Coords) < 2 {
			return fmt.Errorf("%w: trajectory line needs at least 2 points", ErrGeometryKindMismatch)
		}
	case LocationGeometry:
		if geom.ID == "" {
			return fmt.Errorf("%w: location id missing", ErrGeometryKindMismatch)
		}
	case ItemGeometry:
		if geom.ID == "" {
			return fmt.Errorf("%w: item id missing", ErrGeometryKindMismatch)
		}
	}
	return nil
}

// queryLine extracts the line string of corridor and trajectory payloads.
func queryLine(g Geometry) (wkt.LineString, bool) {
	switch geom := g.(type) {
	case CorridorGeometry:
		return geom.Line, true
	case TrajectoryGeometry:
		return geom.Line, true
	}
	return wkt.LineString{}, false
}

func validateTemporal(caps *schema.Collection, sel *TemporalSelection) error {
	if sel == nil {
		return nil
	}
	if sel.Instant == nil && (sel.Start == nil || sel.End == nil) {
		return fmt.Errorf("%w: selection is neither instant nor closed interval", ErrTemporalOutOfRange)
	}
	if sel.Instant != nil {
		if caps.Temporal != nil && !caps.Temporal.Contains(*sel.Instant) {
			return fmt.Errorf("%w: %s", ErrTemporalOutOfRange, sel.Instant.Format(rfc3339))
		}
		return nil
	}
	if sel.Start.After(*sel.End) {
		return fmt.Errorf("%w: interval start after end", ErrTemporalOutOfRange)
	}
	if caps.Temporal != nil {
		if !caps.Temporal.Contains(*sel.Start) || !caps.Temporal.Contains(*sel.End) {
			return fmt.Errorf("%w: interval %s/%s", ErrTemporalOutOfRange,
				sel.Start.Format(rfc3339), sel.End.Format(rfc3339))
		}
	}
	return nil
}

func validateDimension(caps *schema.Collection, name string, sel DimensionSelection) error {
	decl := caps.CustomDimension(name)
	if decl == nil {
		return fmt.Errorf("%w: dimension %q not declared", ErrDimensionValueInvalid, name)
	}
	if decl.MinMaxRange {
		if sel.Min == nil || sel.Max == nil {
			return fmt.Errorf("%w: dimension %q takes a min/max range", ErrDimensionValueInvalid, name)
		}
		if *sel.Min > *sel.Max {
			return fmt.Errorf("%w: dimension %q min above max", ErrDimensionValueInvalid, name)
		}
		if decl.Interval != nil && (*sel.Min < decl.Interval[0] || *sel.Max > decl.Interval[1]) {
			return fmt.Errorf("%w: dimension %q range outside %g..%g", ErrDimensionValueInvalid,
				name, decl.Interval[0], decl.Interval[1])
		}
		return nil
	}
	if len(sel.Values) == 0 {
		return fmt.Errorf("%w: dimension %q needs at least one value", ErrDimensionValueInvalid, name)
	}
	for _, v := range sel.Values {
		if !decl.HasValue(v) {
			return fmt.Errorf("%w: dimension %q value %q", ErrDimensionValueInvalid, name, v)
		}
	}
	return nil
}

func sortedDimNames(dims map[string]DimensionSelection) []string {
	names := make([]string, 0, len(dims))
	for name := range dims {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
