package covjson

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb"
)

// Options controls a decode run.
type Options struct {
	// DefaultCRS is used when the document carries no referencing element.
	// Callers pass the service's declared CRS here.
	DefaultCRS string
}

// Decode parses a CoverageJSON document. A "Coverage" document yields a
// Result with one coverage or a hard error. A "CoverageCollection" decodes
// each member independently: invalid members are excluded and reported in
// Result.Errors, valid members still come back (partial success).
func Decode(raw []byte, opt Options) (*Result, error) {
	var doc rawDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("coveragejson: %w", err)
	}

	switch doc.Type {
	case "Coverage":
		cov, err := decodeCoverage(&doc, shared{}, opt)
		if err != nil {
			return nil, err
		}
		return &Result{Coverages: []*Coverage{cov}}, nil

	case "CoverageCollection":
		sh := shared{
			domainType:  doc.DomainType,
			referencing: doc.Referencing,
			parameters:  doc.Parameters,
		}
		res := &Result{}
		for i, member := range doc.Coverages {
			var memberDoc rawDocument
			if err := json.Unmarshal(member, &memberDoc); err != nil {
				res.Errors = append(res.Errors, &MemberError{Index: i, Err: err})
				continue
			}
			cov, err := decodeCoverage(&memberDoc, sh, opt)
			if err != nil {
				res.Errors = append(res.Errors, &MemberError{Index: i, Err: err})
				continue
			}
			res.Coverages = append(res.Coverages, cov)
		}
		return res, nil

	default:
		return nil, fmt.Errorf("coveragejson: unknown top-level type %q", doc.Type)
	}
}

// shared carries the collection-level defaults a member coverage inherits.
type shared struct {
	domainType  string
	referencing []rawReference
	parameters  map[string]rawParameter
}

func decodeCoverage(doc *rawDocument, sh shared, opt Options) (*Coverage, error) {
	if doc.Domain == nil {
		return nil, fmt.Errorf("coverage has no domain")
	}

	domainType := doc.Domain.DomainType
	if domainType == "" {
		domainType = sh.domainType
	}
	dt := DomainType(domainType)
	if !knownDomainTypes[dt] {
		return nil, &UnsupportedDomainTypeError{DomainType: domainType}
	}

	axes, err := parseAxes(doc.Domain.Axes)
	if err != nil {
		return nil, err
	}
	if err := validateDomainAxes(dt, axes); err != nil {
		return nil, err
	}

	referencing := doc.Domain.Referencing
	if len(referencing) == 0 {
		referencing = sh.referencing
	}

	params := doc.Parameters
	if params == nil {
		params = sh.parameters
	}

	cov := &Coverage{
		DomainType: dt,
		Axes:       axes,
		CRS:        resolveCRS(referencing, opt.DefaultCRS),
		Parameters: make(map[string]Parameter, len(params)),
	}
	for id, rp := range params {
		cov.Parameters[id] = convertParameter(id, rp)
	}

	names := make([]string, 0, len(doc.Ranges))
	for name := range doc.Ranges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rng, warns, err := convertRange(name, doc.Ranges[name], cov)
		if err != nil {
			return nil, err
		}
		cov.Ranges = append(cov.Ranges, rng)
		cov.Warnings = append(cov.Warnings, warns...)
	}
	return cov, nil
}

// convertAxis turns a raw axis into its typed form. A {start,stop,num} axis
// is regular and expands into num evenly spaced values, endpoints inclusive.
func convertAxis(name string, ra *rawAxis) (*Axis, error) {
	axis := &Axis{Name: name, DataType: ra.DataType, Coordinates: ra.Coordinates}

	if ra.Values == nil {
		if ra.Start == nil || ra.Stop == nil || ra.Num == nil {
			return nil, fmt.Errorf("axis %q: neither values nor start/stop/num", name)
		}
		n := *ra.Num
		if n < 1 {
			return nil, fmt.Errorf("axis %q: num must be positive", name)
		}
		axis.Regular = true
		axis.Values = make([]float64, n)
		if n == 1 {
			axis.Values[0] = *ra.Start
			return axis, nil
		}
		step := (*ra.Stop - *ra.Start) / float64(n-1)
		for i := 0; i < n; i++ {
			axis.Values[i] = *ra.Start + float64(i)*step
		}
		return axis, nil
	}

	if len(ra.Values) == 0 {
		return nil, fmt.Errorf("axis %q: empty values", name)
	}

	if ra.DataType == "polygon" {
		for i, v := range ra.Values {
			poly, err := parsePolygonValue(v)
			if err != nil {
				return nil, fmt.Errorf("axis %q value %d: %w", name, i, err)
			}
			axis.Polygons = append(axis.Polygons, poly)
		}
		return axis, nil
	}

	if len(ra.Coordinates) > 0 {
		for i, v := range ra.Values {
			tuple, err := parseTupleValue(v, ra.Coordinates)
			if err != nil {
				return nil, fmt.Errorf("axis %q value %d: %w", name, i, err)
			}
			axis.Tuples = append(axis.Tuples, tuple)
		}
		return axis, nil
	}

	// Plain axis: numeric values, or ISO timestamps on the t axis.
	for i, v := range ra.Values {
		var num json.Number
		if err := json.Unmarshal(v, &num); err == nil {
			f, err := num.Float64()
			if err != nil {
				return nil, fmt.Errorf("axis %q value %d: %w", name, i, err)
			}
			if axis.TimeValues != nil {
				return nil, fmt.Errorf("axis %q mixes numeric and string values", name)
			}
			axis.Values = append(axis.Values, f)
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("axis %q value %d: unsupported value shape", name, i)
		}
		if axis.Values != nil {
			return nil, fmt.Errorf("axis %q mixes numeric and string values", name)
		}
		axis.TimeValues = append(axis.TimeValues, s)
	}
	return axis, nil
}

func parseTupleValue(raw json.RawMessage, coords []string) (Tuple, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return Tuple{}, fmt.Errorf("tuple: %w", err)
	}
	if len(parts) != len(coords) {
		return Tuple{}, fmt.Errorf("tuple has %d members, coordinates declare %d", len(parts), len(coords))
	}
	var tuple Tuple
	for i, coord := range coords {
		switch coord {
		case "t":
			var s string
			if err := json.Unmarshal(parts[i], &s); err != nil {
				return Tuple{}, fmt.Errorf("t member: %w", err)
			}
			tuple.T = s
		case "x", "y", "z":
			var f float64
			if err := json.Unmarshal(parts[i], &f); err != nil {
				return Tuple{}, fmt.Errorf("%s member: %w", coord, err)
			}
			switch coord {
			case "x":
				tuple.X = f
			case "y":
				tuple.Y = f
			case "z":
				z := f
				tuple.Z = &z
			}
		default:
			return Tuple{}, fmt.Errorf("unsupported composite coordinate %q", coord)
		}
	}
	return tuple, nil
}

func parsePolygonValue(raw json.RawMessage) (orb.Polygon, error) {
	var rings [][][]float64
	if err := json.Unmarshal(raw, &rings); err != nil {
		return nil, fmt.Errorf("polygon: %w", err)
	}
	poly := make(orb.Polygon, 0, len(rings))
	for _, ring := range rings {
		r := make(orb.Ring, 0, len(ring))
		for _, pt := range ring {
			if len(pt) < 2 {
				return nil, fmt.Errorf("polygon vertex has %d ordinates", len(pt))
			}
			r = append(r, orb.Point{pt[0], pt[1]})
		}
		poly = append(poly, r)
	}
	return poly, nil
}

// validateDomainAxes checks the domain type against the axes actually
// present. Anything outside the known layouts is rejected rather than
// guessed at.
func validateDomainAxes(dt DomainType, axes []*Axis) error {
	get := func(name string) *Axis {
		for _, a := range axes {
			if a.Name == name {
				return a
			}
		}
		return nil
	}
	fail := func(reason string) error {
		return &DomainAxisError{DomainType: string(dt), Axes: axisNames(axes), Reason: reason}
	}

	numericXY := func() error {
		x, y := get("x"), get("y")
		if x == nil || y == nil {
			return fail("x and y axes required")
		}
		if x.Values == nil || y.Values == nil {
			return fail("x and y must be numeric")
		}
		return nil
	}
	singleXY := func() error {
		if err := numericXY(); err != nil {
			return err
		}
		if get("x").Size() != 1 || get("y").Size() != 1 {
			return fail("x and y must be single-valued")
		}
		return nil
	}

	switch dt {
	case DomainPoint:
		if err := singleXY(); err != nil {
			return err
		}
	case DomainPointSeries:
		if err := singleXY(); err != nil {
			return err
		}
		t := get("t")
		if t == nil {
			return fail("t axis required")
		}
		if t.TimeValues == nil {
			return fail("t axis must hold timestamps")
		}
	case DomainVerticalProfile:
		if err := singleXY(); err != nil {
			return err
		}
		z := get("z")
		if z == nil {
			return fail("z axis required")
		}
		if z.Values == nil {
			return fail("z axis must be numeric")
		}
	case DomainGrid:
		if err := numericXY(); err != nil {
			return err
		}
	case DomainMultiPoint, DomainTrajectory:
		comp := get("composite")
		if comp == nil || comp.Tuples == nil {
			return fail("composite tuple axis required")
		}
		hasX, hasY := false, false
		for _, c := range comp.Coordinates {
			switch c {
			case "x":
				hasX = true
			case "y":
				hasY = true
			}
		}
		if !hasX || !hasY {
			return fail("composite coordinates must include x and y")
		}
	case DomainPolygon, DomainMultiPolygon:
		comp := get("composite")
		if comp == nil || comp.Polygons == nil {
			return fail("composite polygon axis required")
		}
	}
	return nil
}

// convertRange validates one ranges entry against the coverage's axes and
// declared parameter metadata.
func convertRange(name string, raw rawRange, cov *Coverage) (Range, []Warning, error) {
	if raw.Type != "" && raw.Type != "NdArray" {
		return Range{}, nil, fmt.Errorf("range %q: unsupported type %q", name, raw.Type)
	}

	var warns []Warning
	if param, ok := cov.Parameters[name]; ok && param.DataType != "" && raw.DataType != "" {
		if !dataTypesAgree(param.DataType, raw.DataType, raw.Values) {
			warns = append(warns, Warning{
				Param:   name,
				Message: fmt.Sprintf("range dataType %q does not match declared %q; values kept verbatim", raw.DataType, param.DataType),
			})
		}
	}

	names := raw.AxisNames
	if names == nil {
		// No explicit binding: fall back to the declared axis order,
		// skipping single-valued axes.
		for _, a := range cov.Axes {
			if a.Size() > 1 {
				names = append(names, a.Name)
			}
		}
	}

	want := 1
	for _, axName := range names {
		ax := cov.Axis(axName)
		if ax == nil {
			return Range{}, nil, fmt.Errorf("range %q references unknown axis %q", name, axName)
		}
		want *= ax.Size()
	}
	if len(raw.Values) != want {
		return Range{}, nil, &RangeShapeMismatchError{Param: name, Want: want, Got: len(raw.Values)}
	}

	values := make([]Value, len(raw.Values))
	for i, v := range raw.Values {
		if v == nil {
			values[i] = Value{Missing: true}
			continue
		}
		f, err := v.Float64()
		if err != nil {
			return Range{}, nil, fmt.Errorf("range %q value %d: %w", name, i, err)
		}
		values[i] = Value{V: f}
	}

	// Integer-declared ranges carrying fractional values are a common
	// service inconsistency. Non-fatal; the values stand.
	if raw.DataType == "integer" {
		for _, v := range values {
			if !v.Missing && v.V != float64(int64(v.V)) {
				warns = append(warns, Warning{
					Param:   name,
					Message: fmt.Sprintf("dataType integer but values are fractional (e.g. %s)", formatFloat(v.V)),
				})
				break
			}
		}
	}

	return Range{Param: name, DataType: raw.DataType, AxisNames: names, Values: values}, warns, nil
}

func dataTypesAgree(declared, got string, _ []*json.Number) bool {
	if declared == got {
		return true
	}
	// "categorical" parameters ship integer-coded ranges.
	if declared == "categorical" && (got == "integer" || got == "float") {
		return true
	}
	return false
}

// resolveCRS picks the horizontal CRS out of the referencing list, falling
// back to the caller-supplied default when the document has none.
func resolveCRS(refs []rawReference, fallback string) string {
	for _, ref := range refs {
		hasX, hasY := false, false
		for _, c := range ref.Coordinates {
			switch c {
			case "x":
				hasX = true
			case "y":
				hasY = true
			}
		}
		if !hasX || !hasY {
			continue
		}
		if ref.System.WKT != "" {
			return ref.System.WKT
		}
		if ref.System.ID != "" {
			if strings.Contains(ref.System.ID, "CRS84") {
				return "EPSG:4326"
			}
			return ref.System.ID
		}
	}
	return fallback
}
