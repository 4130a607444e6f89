package covjson

import "fmt"

// UnsupportedDomainTypeError reports a domainType this decoder has no layout
// for. It is an error, not a skip: the caller must know data was dropped.
type UnsupportedDomainTypeError struct {
	DomainType string
}

func (e *UnsupportedDomainTypeError) Error() string {
	return fmt.Sprintf("unsupported domain type %q", e.DomainType)
}

// DomainAxisError reports a known domain type whose axis configuration does
// not match any layout the decoder knows. Guessing a layout would misalign
// values, so this is fatal for the coverage.
type DomainAxisError struct {
	DomainType string
	Axes       []string
	Reason     string
}

func (e *DomainAxisError) Error() string {
	return fmt.Sprintf("domain type %s with axes %v: %s", e.DomainType, e.Axes, e.Reason)
}

// RangeShapeMismatchError reports a range whose flat value count does not
// equal the product of the sizes of the axes it is declared over.
type RangeShapeMismatchError struct {
	Param string
	Want  int
	Got   int
}

func (e *RangeShapeMismatchError) Error() string {
	return fmt.Sprintf("range %q: %d values, axes imply %d", e.Param, e.Got, e.Want)
}

// MemberError records a coverage inside a CoverageCollection that failed to
// decode. The rest of the collection still decodes.
type MemberError struct {
	Index int
	Err   error
}

func (e *MemberError) Error() string {
	return fmt.Sprintf("coverage %d: %v", e.Index, e.Err)
}

func (e *MemberError) Unwrap() error { return e.Err }

// Warning is a non-fatal inconsistency, such as a range dataType that does
// not match the declared parameter type. Values are preserved verbatim.
type Warning struct {
	Param   string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Param, w.Message)
}
