// Package wkt parses and formats the WKT geometries EDR services accept in
// their coords parameter: POINT for position/radius queries and LINESTRING
// in all four dimensionality variants for corridor/trajectory queries.
//
// paulmach/orb covers 2D geometry, but corridor and trajectory routes carry
// z and m ordinates in the line string itself, so the arity handling here is
// local. 2D results convert to orb types via LineString.Orb.
package wkt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Dim identifies the coordinate arity of a line string.
type Dim int

const (
	XY   Dim = iota // x y
	XYZ             // x y z
	XYM             // x y m
	XYZM            // x y z m
)

// Arity returns the number of ordinates per coordinate tuple.
func (d Dim) Arity() int {
	switch d {
	case XYZ, XYM:
		return 3
	case XYZM:
		return 4
	default:
		return 2
	}
}

// HasZ reports whether tuples carry a vertical ordinate.
func (d Dim) HasZ() bool { return d == XYZ || d == XYZM }

// HasM reports whether tuples carry a measure (time) ordinate.
func (d Dim) HasM() bool { return d == XYM || d == XYZM }

func (d Dim) suffix() string {
	switch d {
	case XYZ:
		return "Z"
	case XYM:
		return "M"
	case XYZM:
		return "ZM"
	default:
		return ""
	}
}

// MalformedWKTError reports a structural problem in a WKT string. Pos is a
// zero-based rune offset into the input where the problem was detected.
type MalformedWKTError struct {
	Pos    int
	Reason string
}

func (e *MalformedWKTError) Error() string {
	return fmt.Sprintf("malformed WKT at offset %d: %s", e.Pos, e.Reason)
}

// LineString is a parsed WKT line string with its dimensionality tag.
// Every coordinate tuple has exactly Dim.Arity() ordinates.
type LineString struct {
	Dim    Dim
	Coords [][]float64
}

// Z returns the vertical ordinates of every vertex, or nil when Dim has no z.
func (ls LineString) Z() []float64 {
	if !ls.Dim.HasZ() {
		return nil
	}
	zs := make([]float64, len(ls.Coords))
	for i, c := range ls.Coords {
		zs[i] = c[2]
	}
	return zs
}

// M returns the measure ordinates of every vertex, or nil when Dim has no m.
func (ls LineString) M() []float64 {
	if !ls.Dim.HasM() {
		return nil
	}
	idx := 2
	if ls.Dim.HasZ() {
		idx = 3
	}
	ms := make([]float64, len(ls.Coords))
	for i, c := range ls.Coords {
		ms[i] = c[idx]
	}
	return ms
}

// Orb projects the line string onto the 2D plane as an orb.LineString.
func (ls LineString) Orb() orb.LineString {
	out := make(orb.LineString, len(ls.Coords))
	for i, c := range ls.Coords {
		out[i] = orb.Point{c[0], c[1]}
	}
	return out
}

// ParseLineString parses LINESTRING, LINESTRING Z, LINESTRING M and
// LINESTRING ZM text. The keyword is case-insensitive; the coordinate arity
// must match the tag exactly.
func ParseLineString(s string) (LineString, error) {
	dim, body, bodyPos, err := splitTagged(s, "LINESTRING")
	if err != nil {
		return LineString{}, err
	}

	var coords [][]float64
	arity := dim.Arity()
	for _, part := range strings.Split(body, ",") {
		tuple, err := parseTuple(part, arity, bodyPos)
		if err != nil {
			return LineString{}, err
		}
		bodyPos += len(part) + 1
		coords = append(coords, tuple)
	}
	if len(coords) < 2 {
		return LineString{}, &MalformedWKTError{Pos: bodyPos, Reason: "line string needs at least 2 points"}
	}
	return LineString{Dim: dim, Coords: coords}, nil
}

// FormatLineString is the exact inverse of ParseLineString; parse then format
// round-trips for canonical input.
func FormatLineString(ls LineString) string {
	var b strings.Builder
	b.WriteString("LINESTRING")
	if sfx := ls.Dim.suffix(); sfx != "" {
		b.WriteByte(' ')
		b.WriteString(sfx)
	}
	b.WriteString(" (")
	for i, c := range ls.Coords {
		if i > 0 {
			b.WriteString(", ")
		}
		for j, v := range c {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	b.WriteByte(')')
	return b.String()
}

// ParsePoint parses a 2D WKT POINT.
func ParsePoint(s string) (orb.Point, error) {
	dim, body, bodyPos, err := splitTagged(s, "POINT")
	if err != nil {
		return orb.Point{}, err
	}
	if dim != XY {
		return orb.Point{}, &MalformedWKTError{Pos: 0, Reason: "only 2D points are supported"}
	}
	if strings.Contains(body, ",") {
		return orb.Point{}, &MalformedWKTError{Pos: bodyPos, Reason: "point holds exactly one coordinate tuple"}
	}
	tuple, err := parseTuple(body, 2, bodyPos)
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{tuple[0], tuple[1]}, nil
}

// FormatPoint formats a 2D WKT POINT.
func FormatPoint(p orb.Point) string {
	return fmt.Sprintf("POINT (%s %s)",
		strconv.FormatFloat(p[0], 'f', -1, 64),
		strconv.FormatFloat(p[1], 'f', -1, 64))
}

// splitTagged validates "<KEYWORD>[ Z| M| ZM] ( body )" and returns the
// dimensionality, the body between the parentheses, and the offset of the
// body within s.
func splitTagged(s, keyword string) (Dim, string, int, error) {
	trimmed := strings.TrimLeft(s, " \t")
	pos := len(s) - len(trimmed)

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, keyword) {
		return 0, "", 0, &MalformedWKTError{Pos: pos, Reason: fmt.Sprintf("expected %s keyword", keyword)}
	}
	rest := trimmed[len(keyword):]
	pos += len(keyword)

	open := strings.IndexByte(rest, '(')
	if open < 0 {
		return 0, "", 0, &MalformedWKTError{Pos: pos + len(rest), Reason: "missing opening parenthesis"}
	}
	tag := strings.ToUpper(strings.TrimSpace(rest[:open]))
	var dim Dim
	switch tag {
	case "":
		dim = XY
	case "Z":
		dim = XYZ
	case "M":
		dim = XYM
	case "ZM":
		dim = XYZM
	default:
		return 0, "", 0, &MalformedWKTError{Pos: pos, Reason: fmt.Sprintf("unknown dimensionality tag %q", tag)}
	}

	if !strings.HasSuffix(strings.TrimRight(rest, " \t"), ")") {
		return 0, "", 0, &MalformedWKTError{Pos: pos + len(rest), Reason: "missing closing parenthesis"}
	}
	closeIdx := strings.LastIndexByte(rest, ')')
	body := rest[open+1 : closeIdx]
	if strings.ContainsAny(body, "()") {
		return 0, "", 0, &MalformedWKTError{Pos: pos + open + 1, Reason: "unbalanced parentheses"}
	}
	if strings.TrimSpace(body) == "" {
		return 0, "", 0, &MalformedWKTError{Pos: pos + open + 1, Reason: "empty coordinate list"}
	}
	return dim, body, pos + open + 1, nil
}

// parseTuple parses one whitespace-separated coordinate tuple and enforces
// the arity implied by the dimensionality tag.
func parseTuple(part string, arity, pos int) ([]float64, error) {
	fields := strings.Fields(part)
	if len(fields) != arity {
		return nil, &MalformedWKTError{
			Pos:    pos,
			Reason: fmt.Sprintf("coordinate %q has %d ordinates, tag requires %d", strings.TrimSpace(part), len(fields), arity),
		}
	}
	tuple := make([]float64, arity)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, &MalformedWKTError{Pos: pos, Reason: fmt.Sprintf("non-numeric ordinate %q", f)}
		}
		tuple[i] = v
	}
	return tuple, nil
}
