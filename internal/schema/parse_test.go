package schema

import (
	"errors"
	"testing"
	"time"
)

const sampleCollection = `{
	"id": "gfs",
	"title": "GFS model output",
	"extent": {
		"spatial": {"bbox": [[-180, -90, 180, 90]], "crs": "CRS84"},
		"temporal": {
			"interval": [["2026-01-01T00:00:00Z", "2026-01-03T00:00:00Z"]],
			"values": ["2026-01-01T00:00:00Z", "2026-01-02T00:00:00Z"]
		},
		"vertical": {"values": ["850", "500", "250"]},
		"custom": [
			{"id": "member", "values": ["1", "2", "3"]},
			{"id": "percentile", "interval": [[0, 100]], "range": true}
		]
	},
	"data_queries": {
		"position": {"link": {"variables": {"output_formats": ["CoverageJSON"], "crs_details": [{"crs": "CRS84"}]}}},
		"radius": {"link": {"variables": {"within_units": ["km", "mi"]}}},
		"cube": {"link": {"variables": {}}}
	},
	"crs": ["CRS84", "EPSG:4326"],
	"output_formats": ["CoverageJSON", "GeoJSON"],
	"parameter_names": {
		"Temperature": {
			"data-type": "float",
			"unit": {"symbol": {"value": "K"}},
			"observedProperty": {"label": {"en": "Air temperature"}}
		},
		"Cloud_Cover": {
			"data-type": "integer",
			"unit": {"symbol": "%"},
			"observedProperty": {"label": "Cloud cover"}
		}
	},
	"links": [{"href": "ignored"}]
}`

func TestParseCollection(t *testing.T) {
	col, err := ParseCollection([]byte(sampleCollection))
	if err != nil {
		t.Fatalf("ParseCollection: %v", err)
	}

	if col.ID != "gfs" || col.Title != "GFS model output" {
		t.Errorf("id/title = %q/%q", col.ID, col.Title)
	}
	if col.Bounds.Min[0] != -180 || col.Bounds.Max[1] != 90 {
		t.Errorf("bounds = %v", col.Bounds)
	}

	want := []string{"cube", "position", "radius"}
	if len(col.SupportedQueries) != len(want) {
		t.Fatalf("queries = %v, want %v", col.SupportedQueries, want)
	}
	for i, q := range want {
		if col.SupportedQueries[i] != q {
			t.Errorf("queries[%d] = %q, want %q", i, col.SupportedQueries[i], q)
		}
	}
	if !col.SupportsQuery("radius") || col.SupportsQuery("trajectory") {
		t.Error("SupportsQuery mismatch")
	}

	if col.Temporal == nil {
		t.Fatal("missing temporal extent")
	}
	mid, _ := time.Parse(time.RFC3339, "2026-01-02T12:00:00Z")
	if !col.Temporal.Contains(mid) {
		t.Error("temporal extent should contain mid value")
	}
	late, _ := time.Parse(time.RFC3339, "2026-02-01T00:00:00Z")
	if col.Temporal.Contains(late) {
		t.Error("temporal extent should not contain late value")
	}
	if len(col.Temporal.Values) != 2 {
		t.Errorf("temporal values = %v", col.Temporal.Values)
	}

	if !col.HasVerticalLevel("500") || col.HasVerticalLevel("1000") {
		t.Error("vertical level lookup mismatch")
	}

	member := col.CustomDimension("member")
	if member == nil || !member.HasValue("2") || member.HasValue("9") || member.MinMaxRange {
		t.Errorf("member dimension = %+v", member)
	}
	pct := col.CustomDimension("percentile")
	if pct == nil || !pct.MinMaxRange || pct.Interval == nil || pct.Interval[1] != 100 {
		t.Errorf("percentile dimension = %+v", pct)
	}

	// Parameters come out sorted by id.
	if len(col.Parameters) != 2 || col.Parameters[0].ID != "Cloud_Cover" || col.Parameters[1].ID != "Temperature" {
		t.Fatalf("parameters = %+v", col.Parameters)
	}
	temp := col.Parameter("Temperature")
	if temp == nil || temp.Label != "Air temperature" || temp.Unit != "K" || temp.DataType != TypeFloat {
		t.Errorf("Temperature = %+v", temp)
	}
	cc := col.Parameter("Cloud_Cover")
	if cc == nil || cc.DataType != TypeInteger || cc.Unit != "%" {
		t.Errorf("Cloud_Cover = %+v", cc)
	}

	if len(col.WithinUnits) != 2 || col.WithinUnits[0] != "km" {
		t.Errorf("within units = %v", col.WithinUnits)
	}
	if !col.HasOutputFormat("CoverageJSON") || !col.HasOutputCRS("EPSG:4326") {
		t.Error("output format/CRS lookup mismatch")
	}
}

func TestParseCollectionMergesPerKindFormats(t *testing.T) {
	// No top-level output_formats: the per-kind lists union in sorted kind
	// order, identically on every parse.
	const doc = `{
		"id": "x",
		"extent": {"spatial": {"bbox": [[0, 0, 1, 1]]}},
		"data_queries": {
			"position": {"link": {"variables": {"output_formats": ["CoverageJSON"]}}},
			"cube": {"link": {"variables": {"output_formats": ["GeoTIFF", "CoverageJSON"]}}}
		}
	}`

	first, err := ParseCollection([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"GeoTIFF", "CoverageJSON"}
	if len(first.OutputFormats) != len(want) {
		t.Fatalf("output formats = %v, want %v", first.OutputFormats, want)
	}
	for i, f := range want {
		if first.OutputFormats[i] != f {
			t.Fatalf("output formats = %v, want %v", first.OutputFormats, want)
		}
	}

	for i := 0; i < 50; i++ {
		col, err := ParseCollection([]byte(doc))
		if err != nil {
			t.Fatal(err)
		}
		for j := range want {
			if col.OutputFormats[j] != first.OutputFormats[j] {
				t.Fatalf("parse %d: output formats = %v, want %v", i, col.OutputFormats, first.OutputFormats)
			}
		}
	}
}

func TestParseCollectionMissingFields(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"no id", `{"extent": {"spatial": {"bbox": [[0,0,1,1]]}}, "data_queries": {"position": {}}}`},
		{"no bbox", `{"id": "x", "extent": {"spatial": {}}, "data_queries": {"position": {}}}`},
		{"no queries", `{"id": "x", "extent": {"spatial": {"bbox": [[0,0,1,1]]}}}`},
		{"not json", `{`},
	}
	for _, tc := range cases {
		_, err := ParseCollection([]byte(tc.doc))
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		var se *SchemaError
		if !errors.As(err, &se) {
			t.Errorf("%s: error type %T, want *SchemaError", tc.name, err)
		}
	}
}

func TestParseCollections(t *testing.T) {
	doc := `{"collections": [` + sampleCollection + `]}`
	cols, err := ParseCollections([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 1 || cols[0].ID != "gfs" {
		t.Fatalf("collections = %v", cols)
	}

	if _, err := ParseCollections([]byte(`{}`)); err == nil {
		t.Error("missing collections key should fail")
	}
}

func TestParseInstances(t *testing.T) {
	doc := `{"instances": [{
		"id": "2026-01-01T00",
		"extent": {"spatial": {"bbox": [[-10, 40, 10, 60]]}},
		"data_queries": {"position": {}}
	}]}`
	instances, err := ParseInstances([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].ID != "2026-01-01T00" {
		t.Fatalf("instances = %+v", instances)
	}
	if instances[0].Detail.Bounds.Min[0] != -10 {
		t.Errorf("instance bounds = %v", instances[0].Detail.Bounds)
	}
}

func TestCacheSnapshotReplacement(t *testing.T) {
	cache, err := NewCache(0)
	if err != nil {
		t.Fatal(err)
	}

	col, err := ParseCollection([]byte(sampleCollection))
	if err != nil {
		t.Fatal(err)
	}

	first := cache.Put("https://edr.example.com", []*Collection{col})
	got, ok := cache.Get("https://edr.example.com")
	if !ok || got != first {
		t.Fatal("expected cached snapshot")
	}
	if got.Collection("gfs") != col {
		t.Error("snapshot lookup by id failed")
	}

	second := cache.Put("https://edr.example.com", []*Collection{})
	got, ok = cache.Get("https://edr.example.com")
	if !ok || got != second || got == first {
		t.Error("refresh should replace the snapshot wholesale")
	}
	if first.Collection("gfs") != col {
		t.Error("old snapshot must stay intact for existing readers")
	}

	cache.Clear()
	if _, ok := cache.Get("https://edr.example.com"); ok {
		t.Error("cache should be empty after Clear")
	}
}
