package covjson

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Raw document shapes mirroring the CoverageJSON wire format. Axes need
// ordered parsing (see parseAxes); everything else decodes with encoding/json.

type rawDocument struct {
	Type        string                  `json:"type"`
	Domain      *rawDomain              `json:"domain"`
	DomainType  string                  `json:"domainType"`
	Parameters  map[string]rawParameter `json:"parameters"`
	Ranges      map[string]rawRange     `json:"ranges"`
	Referencing []rawReference          `json:"referencing"`
	Coverages   []json.RawMessage       `json:"coverages"`
}

type rawDomain struct {
	Type        string          `json:"type"`
	DomainType  string          `json:"domainType"`
	Axes        json.RawMessage `json:"axes"`
	Referencing []rawReference  `json:"referencing"`
}

type rawAxis struct {
	Values      []json.RawMessage `json:"values"`
	Start       *float64          `json:"start"`
	Stop        *float64          `json:"stop"`
	Num         *int              `json:"num"`
	DataType    string            `json:"dataType"`
	Coordinates []string          `json:"coordinates"`
}

type rawReference struct {
	Coordinates []string `json:"coordinates"`
	System      struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		WKT  string `json:"wkt"`
	} `json:"system"`
}

type rawParameter struct {
	Description      json.RawMessage `json:"description"`
	DataType         string          `json:"data-type"`
	Unit             json.RawMessage `json:"unit"`
	ObservedProperty struct {
		Label      json.RawMessage   `json:"label"`
		Categories []json.RawMessage `json:"categories"`
	} `json:"observedProperty"`
	CategoryEncoding map[string]float64 `json:"categoryEncoding"`
}

type rawRange struct {
	Type      string         `json:"type"`
	DataType  string         `json:"dataType"`
	AxisNames []string       `json:"axisNames"`
	Shape     []int          `json:"shape"`
	Values    []*json.Number `json:"values"`
}

// parseAxes reads the domain.axes object preserving declaration order. The
// order matters: it is the row-major flattening a range falls back to when it
// declares no axisNames of its own.
func parseAxes(raw json.RawMessage) ([]*Axis, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("domain has no axes")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("axes: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("axes: expected object")
	}

	var axes []*Axis
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("axes: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("axes: expected axis name")
		}
		var ra rawAxis
		if err := dec.Decode(&ra); err != nil {
			return nil, fmt.Errorf("axis %q: %w", name, err)
		}
		axis, err := convertAxis(name, &ra)
		if err != nil {
			return nil, err
		}
		axes = append(axes, axis)
	}
	return axes, nil
}
