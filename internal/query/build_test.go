package query

import (
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-edr/internal/schema"
	"github.com/joeblew999/plat-edr/internal/wkt"
)

func testCollection() *schema.Collection {
	start, _ := time.Parse(time.RFC3339, "2026-01-01T00:00:00Z")
	end, _ := time.Parse(time.RFC3339, "2026-01-10T00:00:00Z")
	return &schema.Collection{
		ID:     "gfs",
		Bounds: orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}},
		Temporal: &schema.TemporalExtent{
			Start: &start,
			End:   &end,
		},
		VerticalLevels: []string{"1000", "850", "500"},
		SupportedQueries: []string{
			"area", "corridor", "cube", "items", "locations", "position", "radius", "trajectory",
		},
		OutputFormats: []string{"CoverageJSON"},
		OutputCRSs:    []string{"CRS84", "EPSG:4326"},
		WithinUnits:   []string{"km", "mi"},
		Parameters: []schema.Parameter{
			{ID: "Temperature", DataType: schema.TypeFloat},
			{ID: "Wind_Speed", DataType: schema.TypeFloat},
		},
		CustomDimensions: []schema.CustomDimension{
			{Name: "member", Values: []string{"1", "2", "3"}},
			{Name: "percentile", Interval: &[2]float64{0, 100}, MinMaxRange: true},
		},
	}
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func mustLine(t *testing.T, s string) wkt.LineString {
	t.Helper()
	line, err := wkt.ParseLineString(s)
	if err != nil {
		t.Fatal(err)
	}
	return line
}

func TestBuildPosition(t *testing.T) {
	col := testCollection()
	d, err := Build(col, nil, Position, Inputs{
		Geometry:     PointGeometry{Point: orb.Point{-3.5, 51.2}},
		Temporal:     &TemporalSelection{Instant: ts("2026-01-02T00:00:00Z")},
		Parameters:   []string{"Wind_Speed", "Temperature"},
		OutputFormat: "CoverageJSON",
		OutputCRS:    "CRS84",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if d.Kind != Position || d.CollectionID != "gfs" {
		t.Errorf("descriptor = %+v", d)
	}
	if _, ok := d.Geometry.(PointGeometry); !ok {
		t.Errorf("geometry type = %T, want PointGeometry", d.Geometry)
	}
	// Parameter subset comes out sorted for deterministic encoding.
	if d.Parameters[0] != "Temperature" || d.Parameters[1] != "Wind_Speed" {
		t.Errorf("parameters = %v", d.Parameters)
	}
}

func TestBuildEveryKindShape(t *testing.T) {
	col := testCollection()
	cases := []struct {
		kind Kind
		geom Geometry
	}{
		{Position, PointGeometry{Point: orb.Point{1, 2}}},
		{Radius, RadiusGeometry{Center: orb.Point{1, 2}, Radius: 15, Units: "km"}},
		{Area, AreaGeometry{Polygon: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}},
		{Cube, CubeGeometry{Bound: orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}}},
		{Corridor, CorridorGeometry{
			Line:  wkt.LineString{Dim: wkt.XY, Coords: [][]float64{{0, 0}, {1, 1}}},
			Width: 10, WidthUnits: "km", Height: 100, HeightUnits: "m",
		}},
		{Trajectory, TrajectoryGeometry{Line: wkt.LineString{Dim: wkt.XY, Coords: [][]float64{{0, 0}, {1, 1}}}}},
		{Locations, LocationGeometry{ID: "EGLL"}},
		{Items, ItemGeometry{ID: "item-1"}},
	}
	for _, tc := range cases {
		d, err := Build(col, nil, tc.kind, Inputs{Geometry: tc.geom})
		if err != nil {
			t.Errorf("%s: %v", tc.kind, err)
			continue
		}
		if d.Geometry.queryKind() != tc.kind {
			t.Errorf("%s: geometry kind %s", tc.kind, d.Geometry.queryKind())
		}
	}
}

func TestBuildRuleFailures(t *testing.T) {
	col := testCollection()
	point := PointGeometry{Point: orb.Point{1, 2}}

	noTrajectory := testCollection()
	noTrajectory.SupportedQueries = []string{"position"}

	cases := []struct {
		name string
		col  *schema.Collection
		kind Kind
		in   Inputs
		want error
	}{
		{
			"unsupported kind", noTrajectory, Trajectory,
			Inputs{Geometry: TrajectoryGeometry{Line: wkt.LineString{Dim: wkt.XY, Coords: [][]float64{{0, 0}, {1, 1}}}}},
			ErrUnsupportedQueryKind,
		},
		{
			"geometry mismatch", col, Position,
			Inputs{Geometry: AreaGeometry{Polygon: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}},
			ErrGeometryKindMismatch,
		},
		{
			"missing geometry", col, Position,
			Inputs{},
			ErrGeometryKindMismatch,
		},
		{
			"radius without units", col, Radius,
			Inputs{Geometry: RadiusGeometry{Center: orb.Point{1, 2}, Radius: 5}},
			ErrGeometryKindMismatch,
		},
		{
			"locations without id", col, Locations,
			Inputs{Geometry: LocationGeometry{}},
			ErrGeometryKindMismatch,
		},
		{
			"temporal from after to", col, Position,
			Inputs{Geometry: point, Temporal: &TemporalSelection{
				Start: ts("2026-01-05T00:00:00Z"), End: ts("2026-01-02T00:00:00Z"),
			}},
			ErrTemporalOutOfRange,
		},
		{
			"temporal outside extent", col, Position,
			Inputs{Geometry: point, Temporal: &TemporalSelection{Instant: ts("2027-06-01T00:00:00Z")}},
			ErrTemporalOutOfRange,
		},
		{
			"vertical level unknown", col, Position,
			Inputs{Geometry: point, Vertical: &VerticalSelection{Levels: []string{"925"}}},
			ErrVerticalLevelNotSupported,
		},
		{
			"dimension undeclared", col, Position,
			Inputs{Geometry: point, Dimensions: map[string]DimensionSelection{
				"ensemble": {Values: []string{"1"}},
			}},
			ErrDimensionValueInvalid,
		},
		{
			"dimension value invalid", col, Position,
			Inputs{Geometry: point, Dimensions: map[string]DimensionSelection{
				"member": {Values: []string{"7"}},
			}},
			ErrDimensionValueInvalid,
		},
		{
			"dimension range outside interval", col, Position,
			Inputs{Geometry: point, Dimensions: map[string]DimensionSelection{
				"percentile": {Min: f(10), Max: f(150)},
			}},
			ErrDimensionValueInvalid,
		},
		{
			"unknown parameter", col, Position,
			Inputs{Geometry: point, Parameters: []string{"Humidity"}},
			ErrUnknownParameter,
		},
		{
			"unsupported format", col, Position,
			Inputs{Geometry: point, OutputFormat: "NetCDF"},
			ErrUnsupportedOutputFormat,
		},
		{
			"unsupported crs", col, Position,
			Inputs{Geometry: point, OutputCRS: "EPSG:3857"},
			ErrUnsupportedCRS,
		},
	}
	for _, tc := range cases {
		_, err := Build(tc.col, nil, tc.kind, tc.in)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func f(v float64) *float64 { return &v }

func TestBuildLineDimensionalityRules(t *testing.T) {
	col := testCollection()

	line2d := mustLine(t, "LINESTRING (0 0, 1 1)")
	lineZ := mustLine(t, "LINESTRING Z (0 0 850, 1 1 500)")
	lineM := mustLine(t, "LINESTRING M (0 0 100, 1 1 200)")
	lineZM := mustLine(t, "LINESTRING ZM (0 0 850 100, 1 1 500 200)")

	vertical := &VerticalSelection{Levels: []string{"850"}}
	temporal := &TemporalSelection{Instant: ts("2026-01-02T00:00:00Z")}

	// 2D: both extents stay user-selectable.
	if _, err := Build(col, nil, Trajectory, Inputs{
		Geometry: TrajectoryGeometry{Line: line2d}, Vertical: vertical, Temporal: temporal,
	}); err != nil {
		t.Errorf("2D line: %v", err)
	}

	// Z in the geometry locks the vertical selector.
	if _, err := Build(col, nil, Trajectory, Inputs{
		Geometry: TrajectoryGeometry{Line: lineZ}, Vertical: vertical,
	}); !errors.Is(err, ErrExtentConflict) {
		t.Errorf("Z line with vertical selection: err = %v, want ErrExtentConflict", err)
	}
	if _, err := Build(col, nil, Trajectory, Inputs{
		Geometry: TrajectoryGeometry{Line: lineZ}, Temporal: temporal,
	}); err != nil {
		t.Errorf("Z line with temporal selection: %v", err)
	}

	// M locks the temporal selector, vertical stays available.
	if _, err := Build(col, nil, Trajectory, Inputs{
		Geometry: TrajectoryGeometry{Line: lineM}, Temporal: temporal,
	}); !errors.Is(err, ErrExtentConflict) {
		t.Errorf("M line with temporal selection: err = %v, want ErrExtentConflict", err)
	}
	if _, err := Build(col, nil, Trajectory, Inputs{
		Geometry: TrajectoryGeometry{Line: lineM}, Vertical: vertical,
	}); err != nil {
		t.Errorf("M line with vertical selection: %v", err)
	}

	// ZM locks both.
	if _, err := Build(col, nil, Trajectory, Inputs{
		Geometry: TrajectoryGeometry{Line: lineZM}, Vertical: vertical,
	}); !errors.Is(err, ErrExtentConflict) {
		t.Error("ZM line must reject vertical selection")
	}
	if _, err := Build(col, nil, Trajectory, Inputs{
		Geometry: TrajectoryGeometry{Line: lineZM}, Temporal: temporal,
	}); !errors.Is(err, ErrExtentConflict) {
		t.Error("ZM line must reject temporal selection")
	}

	// Same rules apply to corridors.
	if _, err := Build(col, nil, Corridor, Inputs{
		Geometry: CorridorGeometry{Line: lineZ, Width: 5, WidthUnits: "km", Height: 100, HeightUnits: "m"},
		Vertical: vertical,
	}); !errors.Is(err, ErrExtentConflict) {
		t.Error("corridor Z line must reject vertical selection")
	}
}

func TestBuildInstanceOverride(t *testing.T) {
	col := testCollection()
	inst := &schema.Instance{
		ID: "2026-01-05T00",
		Detail: &schema.Collection{
			ID:             "gfs",
			VerticalLevels: []string{"850"},
		},
	}

	point := PointGeometry{Point: orb.Point{1, 2}}
	// 500 is valid for the collection but narrowed away by the instance.
	_, err := Build(col, inst, Position, Inputs{
		Geometry: point,
		Vertical: &VerticalSelection{Levels: []string{"500"}},
	})
	if !errors.Is(err, ErrVerticalLevelNotSupported) {
		t.Errorf("err = %v, want ErrVerticalLevelNotSupported", err)
	}

	d, err := Build(col, inst, Position, Inputs{
		Geometry: point,
		Vertical: &VerticalSelection{Levels: []string{"850"}},
	})
	if err != nil {
		t.Fatalf("Build with instance: %v", err)
	}
	if d.InstanceID != "2026-01-05T00" {
		t.Errorf("instance id = %q", d.InstanceID)
	}
}
