package query

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-edr/internal/schema"
	"github.com/joeblew999/plat-edr/internal/wkt"
)

func TestSavedQueryRoundTrip(t *testing.T) {
	col := testCollection()
	d, err := Build(col, nil, Corridor, Inputs{
		Geometry: CorridorGeometry{
			Line:  mustLine(t, "LINESTRING (0 0, 1 1, 2 0)"),
			Width: 10, WidthUnits: "km",
			Height: 500, HeightUnits: "m",
		},
		Temporal:   &TemporalSelection{Start: ts("2026-01-02T00:00:00Z"), End: ts("2026-01-03T00:00:00Z")},
		Vertical:   &VerticalSelection{Levels: []string{"850", "500"}},
		Dimensions: map[string]DimensionSelection{"member": {Values: []string{"2"}}},
		Parameters: []string{"Temperature"},
		OutputCRS:  "CRS84",
	})
	if err != nil {
		t.Fatal(err)
	}

	record := NewSavedQuery("channel corridor", "https://edr.example.com", d)
	raw, err := record.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := UnmarshalSavedQuery(raw)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Name != "channel corridor" || loaded.ServerURL != "https://edr.example.com" {
		t.Errorf("metadata = %+v", loaded)
	}
	if !loaded.Created.Equal(record.Created) {
		t.Errorf("created = %v, want %v", loaded.Created, record.Created)
	}

	// The rebuilt descriptor re-validates cleanly and encodes identically.
	rebuilt, stale, err := loaded.Replay(col)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("stale = %+v, want none", stale)
	}
	wantReq, err := d.Encode("https://edr.example.com")
	if err != nil {
		t.Fatal(err)
	}
	gotReq, err := rebuilt.Encode("https://edr.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if gotReq.URL != wantReq.URL || gotReq.Method != wantReq.Method {
		t.Errorf("replayed request =\n%s\nwant\n%s", gotReq.URL, wantReq.URL)
	}

	if _, err := Build(col, nil, rebuilt.Kind, Inputs{
		Geometry:   rebuilt.Geometry,
		Temporal:   rebuilt.Temporal,
		Vertical:   rebuilt.Vertical,
		Dimensions: rebuilt.Dimensions,
		Parameters: rebuilt.Parameters,
		OutputCRS:  rebuilt.OutputCRS,
	}); err != nil {
		t.Errorf("rebuilt descriptor fails validation: %v", err)
	}
}

func TestSavedQueryGeometryKinds(t *testing.T) {
	cases := []*Descriptor{
		{Kind: Position, CollectionID: "c", Geometry: PointGeometry{Point: orb.Point{1, 2}}},
		{Kind: Radius, CollectionID: "c", Geometry: RadiusGeometry{Center: orb.Point{1, 2}, Radius: 5, Units: "km"}},
		{Kind: Area, CollectionID: "c", Geometry: AreaGeometry{Polygon: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}},
		{Kind: Cube, CollectionID: "c", Geometry: CubeGeometry{Bound: orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 2}}}},
		{Kind: Trajectory, CollectionID: "c", Geometry: TrajectoryGeometry{
			Line: wkt.LineString{Dim: wkt.XYZM, Coords: [][]float64{{0, 0, 1, 2}, {1, 1, 3, 4}}},
		}},
		{Kind: Locations, CollectionID: "c", Geometry: LocationGeometry{ID: "L1"}},
		{Kind: Items, CollectionID: "c", Geometry: ItemGeometry{ID: "I1"}},
	}
	for _, d := range cases {
		record := NewSavedQuery("t", "https://s", d)
		raw, err := record.Marshal()
		if err != nil {
			t.Fatalf("%s: %v", d.Kind, err)
		}
		loaded, err := UnmarshalSavedQuery(raw)
		if err != nil {
			t.Fatalf("%s: %v", d.Kind, err)
		}
		rebuilt, err := loaded.Descriptor()
		if err != nil {
			t.Fatalf("%s: %v", d.Kind, err)
		}
		want, err := d.Encode("https://s")
		if err != nil {
			t.Fatalf("%s: %v", d.Kind, err)
		}
		got, err := rebuilt.Encode("https://s")
		if err != nil {
			t.Fatalf("%s: %v", d.Kind, err)
		}
		if got.URL != want.URL {
			t.Errorf("%s: %s != %s", d.Kind, got.URL, want.URL)
		}
	}
}

func TestSavedQueryStaleFields(t *testing.T) {
	col := testCollection()
	d, err := Build(col, nil, Position, Inputs{
		Geometry: PointGeometry{Point: orb.Point{1, 2}},
		Vertical: &VerticalSelection{Levels: []string{"850"}},
		Dimensions: map[string]DimensionSelection{
			"member":     {Values: []string{"3"}},
			"percentile": {Min: f(10), Max: f(90)},
		},
		Parameters:   []string{"Wind_Speed"},
		OutputFormat: "CoverageJSON",
	})
	if err != nil {
		t.Fatal(err)
	}
	record := NewSavedQuery("obs point", "https://edr.example.com", d)

	// Capabilities move on: the parameter, level and dimension value vanish,
	// and the percentile interval narrows below the saved range.
	refreshed := testCollection()
	refreshed.Parameters = []schema.Parameter{{ID: "Temperature", DataType: schema.TypeFloat}}
	refreshed.VerticalLevels = []string{"1000"}
	refreshed.CustomDimensions = []schema.CustomDimension{
		{Name: "member", Values: []string{"1"}},
		{Name: "percentile", Interval: &[2]float64{0, 50}, MinMaxRange: true},
	}

	rebuilt, stale, err := record.Replay(refreshed)
	if err != nil {
		t.Fatalf("Replay must not reject a stale record: %v", err)
	}
	if rebuilt == nil {
		t.Fatal("descriptor missing")
	}
	if len(stale) != 4 {
		t.Fatalf("stale = %+v, want 4 entries", stale)
	}
	fields := map[string]bool{}
	for _, s := range stale {
		fields[s.Field] = true
	}
	for _, want := range []string{"parameter-name", "z", "member", "percentile"} {
		if !fields[want] {
			t.Errorf("missing stale flag for %s: %+v", want, stale)
		}
	}
	for _, s := range stale {
		if s.Field == "percentile" && s.Value != "10/90" {
			t.Errorf("percentile stale value = %q, want 10/90", s.Value)
		}
	}
}

func TestUnmarshalSavedQueryDamaged(t *testing.T) {
	if _, err := UnmarshalSavedQuery([]byte(`{`)); err == nil {
		t.Error("truncated JSON should fail")
	}
	if _, err := UnmarshalSavedQuery([]byte(`{"name": "x"}`)); err == nil {
		t.Error("record without collection/kind should fail")
	}
	record := &SavedQuery{CollectionID: "c", Kind: Position, Coords: "POINT (bad)"}
	if _, err := record.Descriptor(); err == nil {
		t.Error("unparseable coords should fail Descriptor()")
	}
}
