package query

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	orbwkt "github.com/paulmach/orb/encoding/wkt"

	"github.com/joeblew999/plat-edr/internal/wkt"
)

// MaxGETCoords is the default coords length above which Encode switches to
// POST. Long drawn corridors and areas overflow URL length limits on some
// servers; Descriptor.POSTThreshold overrides the cutoff per query.
const MaxGETCoords = 1800

// Request is the HTTP request descriptor handed to the external transport.
// The core never opens sockets itself.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Encode turns the descriptor into a request against the given server base
// URL. Identical descriptors encode byte-identically: query parameters sort
// by name, so saved queries stay reproducible.
func (d *Descriptor) Encode(base string) (*Request, error) {
	endpoint, err := d.endpoint(base)
	if err != nil {
		return nil, err
	}

	params, coords, err := d.queryParams()
	if err != nil {
		return nil, err
	}

	threshold := d.POSTThreshold
	if threshold <= 0 {
		threshold = MaxGETCoords
	}
	if d.ForcePOST || len(coords) > threshold {
		body := make(map[string]string, len(params))
		for k := range params {
			body[k] = params.Get(k)
		}
		// Maps marshal with sorted keys, keeping POST bodies deterministic.
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		return &Request{
			Method: http.MethodPost,
			URL:    endpoint,
			Header: http.Header{"Content-Type": []string{"application/json"}},
			Body:   raw,
		}, nil
	}

	u := endpoint
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return &Request{Method: http.MethodGet, URL: u, Header: http.Header{}}, nil
}

// endpoint builds the data route:
// /collections/{id}[/instances/{iid}]/{kind}, with items and locations
// addressing their id as a path segment.
func (d *Descriptor) endpoint(base string) (string, error) {
	if d.CollectionID == "" {
		return "", fmt.Errorf("descriptor has no collection id")
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	b.WriteString("/collections/")
	b.WriteString(url.PathEscape(d.CollectionID))
	if d.InstanceID != "" {
		b.WriteString("/instances/")
		b.WriteString(url.PathEscape(d.InstanceID))
	}
	switch g := d.Geometry.(type) {
	case ItemGeometry:
		b.WriteString("/items/")
		b.WriteString(url.PathEscape(g.ID))
	case LocationGeometry:
		b.WriteString("/locations/")
		b.WriteString(url.PathEscape(g.ID))
	default:
		b.WriteString("/")
		b.WriteString(string(d.Kind))
	}
	return b.String(), nil
}

// queryParams assembles the query string parameters and returns the coords
// payload separately so Encode can apply the POST threshold to it.
func (d *Descriptor) queryParams() (url.Values, string, error) {
	params := url.Values{}
	var coords string

	switch g := d.Geometry.(type) {
	case PointGeometry:
		coords = orbwkt.MarshalString(g.Point)
		params.Set("coords", coords)
	case RadiusGeometry:
		coords = orbwkt.MarshalString(g.Center)
		params.Set("coords", coords)
		params.Set("within", strconv.FormatFloat(g.Radius, 'f', -1, 64))
		params.Set("within-units", g.Units)
	case AreaGeometry:
		coords = orbwkt.MarshalString(g.Polygon)
		params.Set("coords", coords)
	case CubeGeometry:
		params.Set("bbox", formatBBox(g.Bound))
	case CorridorGeometry:
		coords = wkt.FormatLineString(g.Line)
		params.Set("coords", coords)
		params.Set("corridor-width", strconv.FormatFloat(g.Width, 'f', -1, 64))
		params.Set("width-units", g.WidthUnits)
		params.Set("corridor-height", strconv.FormatFloat(g.Height, 'f', -1, 64))
		params.Set("height-units", g.HeightUnits)
		if g.ResolutionX > 0 {
			params.Set("resolution-x", strconv.Itoa(g.ResolutionX))
		}
		if g.ResolutionY > 0 {
			params.Set("resolution-y", strconv.Itoa(g.ResolutionY))
		}
		if g.ResolutionZ > 0 {
			params.Set("resolution-z", strconv.Itoa(g.ResolutionZ))
		}
	case TrajectoryGeometry:
		coords = wkt.FormatLineString(g.Line)
		params.Set("coords", coords)
	case ItemGeometry, LocationGeometry:
		// Addressed by path, no spatial parameter.
	default:
		return nil, "", fmt.Errorf("descriptor has no geometry")
	}

	if d.Temporal != nil {
		params.Set("datetime", formatTemporal(d.Temporal))
	}
	if d.Vertical != nil && len(d.Vertical.Levels) > 0 {
		params.Set("z", formatVertical(d.Vertical, d.Kind == Cube))
	}
	for _, name := range sortedDimNames(d.Dimensions) {
		params.Set(name, formatDimension(d.Dimensions[name]))
	}
	if len(d.Parameters) > 0 {
		params.Set("parameter-name", strings.Join(d.Parameters, ","))
	}
	if d.OutputCRS != "" {
		params.Set("crs", d.OutputCRS)
	}
	if d.OutputFormat != "" {
		params.Set("f", d.OutputFormat)
	}
	return params, coords, nil
}

func formatBBox(b orb.Bound) string {
	return strings.Join([]string{
		strconv.FormatFloat(b.Min[0], 'f', -1, 64),
		strconv.FormatFloat(b.Min[1], 'f', -1, 64),
		strconv.FormatFloat(b.Max[0], 'f', -1, 64),
		strconv.FormatFloat(b.Max[1], 'f', -1, 64),
	}, ",")
}

func formatTemporal(sel *TemporalSelection) string {
	if sel.Instant != nil {
		return sel.Instant.UTC().Format(rfc3339)
	}
	return sel.Start.UTC().Format(rfc3339) + "/" + sel.End.UTC().Format(rfc3339)
}

// formatVertical renders the z parameter: a comma list of levels, or a
// max/min pair for range selections. Cube queries always take a slab, so a
// single level folds into level/level.
func formatVertical(sel *VerticalSelection, cube bool) string {
	if sel.MinMaxRange {
		return sel.Levels[len(sel.Levels)-1] + "/" + sel.Levels[0]
	}
	if cube && len(sel.Levels) == 1 {
		return sel.Levels[0] + "/" + sel.Levels[0]
	}
	return strings.Join(sel.Levels, ",")
}

func formatDimension(sel DimensionSelection) string {
	if sel.Min != nil && sel.Max != nil {
		return strconv.FormatFloat(*sel.Min, 'f', -1, 64) + "/" + strconv.FormatFloat(*sel.Max, 'f', -1, 64)
	}
	return strings.Join(sel.Values, ",")
}
