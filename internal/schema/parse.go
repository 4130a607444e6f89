package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// SchemaError reports a malformed capability document. Unknown extra fields
// never trigger it; only missing or unusable required fields do.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("capability document: %s: %s", e.Field, e.Reason)
}

// Raw document shapes. Only the fields this core reads are declared; the
// rest of the document is ignored for forward compatibility.

type rawCollectionList struct {
	Collections []json.RawMessage `json:"collections"`
}

type rawInstanceList struct {
	Instances []json.RawMessage `json:"instances"`
}

type rawCollection struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Extent struct {
		Spatial struct {
			BBox [][]float64 `json:"bbox"`
			CRS  string      `json:"crs"`
		} `json:"spatial"`
		Temporal *struct {
			Interval [][]*string `json:"interval"`
			Values   []string    `json:"values"`
		} `json:"temporal"`
		Vertical *struct {
			Values []string `json:"values"`
		} `json:"vertical"`
		Custom []struct {
			ID       string      `json:"id"`
			Values   []string    `json:"values"`
			Interval [][]float64 `json:"interval"`
			Range    bool        `json:"range"`
		} `json:"custom"`
	} `json:"extent"`
	DataQueries map[string]struct {
		Link struct {
			Variables struct {
				OutputFormats []string `json:"output_formats"`
				CRSDetails    []struct {
					CRS string `json:"crs"`
					WKT string `json:"wkt"`
				} `json:"crs_details"`
				WithinUnits []string `json:"within_units"`
			} `json:"variables"`
		} `json:"link"`
	} `json:"data_queries"`
	CRS            []string                `json:"crs"`
	OutputFormats  []string                `json:"output_formats"`
	ParameterNames map[string]rawParameter `json:"parameter_names"`
}

type rawParameter struct {
	Description string `json:"description"`
	DataType    string `json:"data-type"`
	Unit        struct {
		Label  json.RawMessage `json:"label"`
		Symbol json.RawMessage `json:"symbol"`
	} `json:"unit"`
	ObservedProperty struct {
		Label      json.RawMessage   `json:"label"`
		Categories []json.RawMessage `json:"categories"`
	} `json:"observedProperty"`
}

// ParseCollections parses a /collections response into the collections it
// lists. A malformed member fails the whole parse; capability documents are
// fetched as one unit and replaced as one unit.
func ParseCollections(raw []byte) ([]*Collection, error) {
	var list rawCollectionList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &SchemaError{Field: "collections", Reason: err.Error()}
	}
	if list.Collections == nil {
		return nil, &SchemaError{Field: "collections", Reason: "missing"}
	}
	out := make([]*Collection, 0, len(list.Collections))
	for i, member := range list.Collections {
		col, err := ParseCollection(member)
		if err != nil {
			return nil, fmt.Errorf("collection %d: %w", i, err)
		}
		out = append(out, col)
	}
	return out, nil
}

// ParseCollection parses a single collection document (the /collections
// member shape or the collection detail endpoint, which are the same shape).
func ParseCollection(raw []byte) (*Collection, error) {
	var doc rawCollection
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &SchemaError{Field: "collection", Reason: err.Error()}
	}
	return convertCollection(&doc)
}

// ParseInstances parses an /instances response. Each instance document is
// collection-shaped and may narrow the parent's extents.
func ParseInstances(raw []byte) ([]*Instance, error) {
	var list rawInstanceList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &SchemaError{Field: "instances", Reason: err.Error()}
	}
	out := make([]*Instance, 0, len(list.Instances))
	for i, member := range list.Instances {
		detail, err := ParseCollection(member)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		out = append(out, &Instance{ID: detail.ID, Detail: detail})
	}
	return out, nil
}

func convertCollection(doc *rawCollection) (*Collection, error) {
	if doc.ID == "" {
		return nil, &SchemaError{Field: "id", Reason: "missing"}
	}
	if len(doc.Extent.Spatial.BBox) == 0 || len(doc.Extent.Spatial.BBox[0]) < 4 {
		return nil, &SchemaError{Field: "extent.spatial.bbox", Reason: "missing or too short"}
	}
	if len(doc.DataQueries) == 0 {
		return nil, &SchemaError{Field: "data_queries", Reason: "missing"}
	}

	bbox := doc.Extent.Spatial.BBox[0]
	col := &Collection{
		ID:    doc.ID,
		Title: doc.Title,
		Bounds: orb.Bound{
			Min: orb.Point{bbox[0], bbox[1]},
			Max: orb.Point{bbox[2], bbox[3]},
		},
		SpatialCRS:    doc.Extent.Spatial.CRS,
		OutputFormats: doc.OutputFormats,
		OutputCRSs:    doc.CRS,
	}

	// Per-kind variables merge in sorted kind order so the same document
	// always parses to the same capabilities.
	for _, kind := range sortedKeys(doc.DataQueries) {
		col.SupportedQueries = append(col.SupportedQueries, kind)
		vars := doc.DataQueries[kind].Link.Variables
		if len(doc.OutputFormats) == 0 {
			for _, f := range vars.OutputFormats {
				if !col.HasOutputFormat(f) {
					col.OutputFormats = append(col.OutputFormats, f)
				}
			}
		}
		for _, cd := range vars.CRSDetails {
			if !col.HasOutputCRS(cd.CRS) {
				col.OutputCRSs = append(col.OutputCRSs, cd.CRS)
			}
		}
		if kind == "radius" {
			col.WithinUnits = vars.WithinUnits
		}
	}

	if t := doc.Extent.Temporal; t != nil {
		te, err := convertTemporal(t.Interval, t.Values)
		if err != nil {
			return nil, err
		}
		col.Temporal = te
	}
	if v := doc.Extent.Vertical; v != nil {
		col.VerticalLevels = v.Values
	}
	for _, c := range doc.Extent.Custom {
		if c.ID == "" {
			continue
		}
		cd := CustomDimension{Name: c.ID, Values: c.Values, MinMaxRange: c.Range}
		if len(c.Interval) > 0 && len(c.Interval[0]) >= 2 {
			cd.Interval = &[2]float64{c.Interval[0][0], c.Interval[0][1]}
		}
		col.CustomDimensions = append(col.CustomDimensions, cd)
	}

	for _, id := range sortedKeys(doc.ParameterNames) {
		col.Parameters = append(col.Parameters, convertParameter(id, doc.ParameterNames[id]))
	}
	return col, nil
}

func convertTemporal(interval [][]*string, values []string) (*TemporalExtent, error) {
	te := &TemporalExtent{}
	if len(interval) > 0 && len(interval[0]) >= 2 {
		var err error
		if te.Start, err = parseOptionalTime(interval[0][0]); err != nil {
			return nil, &SchemaError{Field: "extent.temporal.interval", Reason: err.Error()}
		}
		if te.End, err = parseOptionalTime(interval[0][1]); err != nil {
			return nil, &SchemaError{Field: "extent.temporal.interval", Reason: err.Error()}
		}
	}
	for _, v := range values {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			// Services list repeat-interval shorthand here too; keep the
			// parseable steps and skip the rest.
			continue
		}
		te.Values = append(te.Values, t)
	}
	return te, nil
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" || *s == ".." {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func convertParameter(id string, raw rawParameter) Parameter {
	p := Parameter{ID: id, Label: labelString(raw.ObservedProperty.Label), Unit: unitString(raw.Unit.Symbol)}
	if p.Label == "" {
		p.Label = id
	}
	if p.Unit == "" {
		p.Unit = labelString(raw.Unit.Label)
	}
	switch {
	case len(raw.ObservedProperty.Categories) > 0:
		p.DataType = TypeCategorical
	case raw.DataType == "integer":
		p.DataType = TypeInteger
	default:
		p.DataType = TypeFloat
	}
	return p
}

// labelString extracts a human label that services encode either as a bare
// string or as an i18n object ({"en": "..."}).
func labelString(raw json.RawMessage) string {
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
		for _, k := range sortedKeys(m) {
			return m[k]
		}
	}
	return ""
}

// unitString extracts a unit symbol encoded as a string or as
// {"value": "K", "type": ...}.
func unitString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Value
	}
	return ""
}
