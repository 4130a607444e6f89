package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/paulmach/orb"
	orbwkt "github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-edr/internal/covjson"
	"github.com/joeblew999/plat-edr/internal/logger"
	"github.com/joeblew999/plat-edr/internal/query"
	"github.com/joeblew999/plat-edr/internal/schema"
	"github.com/joeblew999/plat-edr/internal/wkt"
	"github.com/joeblew999/plat-edr/pkg/edrclient"
)

// Options defines all CLI flags and env vars for the edr client.
// Flags: --endpoint, --timeout, --log-level, --console
// Env vars: SERVICE_ENDPOINT, SERVICE_TIMEOUT, SERVICE_LOG_LEVEL, SERVICE_CONSOLE
type Options struct {
	Endpoint string `doc:"EDR server base URL" short:"e"`
	Timeout  int    `doc:"Request timeout in seconds" default:"30"`
	LogLevel string `doc:"Log level (debug, info, warn, error)" default:"warn"`
	Console  bool   `doc:"Human-readable log output" default:"true"`
}

func newClient(opts *Options) (*edrclient.Client, error) {
	log := logger.Build(logger.Config{Level: opts.LogLevel, Console: opts.Console}, os.Stderr)
	return edrclient.New(
		edrclient.WithTransport(&edrclient.HTTPTransport{
			Client: &http.Client{Timeout: time.Duration(opts.Timeout) * time.Second},
		}),
		edrclient.WithLogger(log),
	)
}

func timeoutContext(opts *Options) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(opts.Timeout)*time.Second)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireEndpoint(opts *Options) {
	if opts.Endpoint == "" {
		fatal("no endpoint: pass --endpoint or set SERVICE_ENDPOINT")
	}
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Bare invocation probes the server and prints a summary.
		hooks.OnStart(func() {
			requireEndpoint(opts)
			c, err := newClient(opts)
			if err != nil {
				fatal("%v", err)
			}
			ctx, cancel := timeoutContext(opts)
			defer cancel()

			landing, err := c.Landing(ctx, opts.Endpoint)
			if err != nil {
				fatal("%v", err)
			}
			conf, err := c.Conformance(ctx, opts.Endpoint)
			if err != nil {
				fatal("%v", err)
			}

			fmt.Printf("%s\n", opts.Endpoint)
			if landing.Title != "" {
				fmt.Printf("  Title: %s\n", landing.Title)
			}
			if landing.Description != "" {
				fmt.Printf("  About: %s\n", landing.Description)
			}
			fmt.Printf("  Conformance classes: %d\n", len(conf))
			for _, uri := range conf {
				if strings.Contains(uri, "edr") {
					fmt.Printf("    %s\n", uri)
				}
			}
		})
	})

	cli.Root().Use = "edr"
	cli.Root().Short = "Client for OGC API Environmental Data Retrieval services"
	cli.Root().Version = "0.1.0"

	cli.Root().AddCommand(collectionsCmd())
	cli.Root().AddCommand(describeCmd())
	cli.Root().AddCommand(queryCmd())
	cli.Root().AddCommand(decodeCmd())
	cli.Root().AddCommand(savedCmd())

	cli.Run()
}

func collectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List the server's collections",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			requireEndpoint(opts)
			c, err := newClient(opts)
			if err != nil {
				fatal("%v", err)
			}
			ctx, cancel := timeoutContext(opts)
			defer cancel()

			snap, err := c.Collections(ctx, opts.Endpoint)
			if err != nil {
				fatal("%v", err)
			}
			for _, col := range snap.Collections {
				title := col.Title
				if title == "" {
					title = "-"
				}
				fmt.Printf("%-24s %s  [%s]\n", col.ID, title, strings.Join(col.SupportedQueries, " "))
			}
		}),
	}
}

func describeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <collection>",
		Short: "Show one collection's parameters, extents and query kinds",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			requireEndpoint(opts)
			c, err := newClient(opts)
			if err != nil {
				fatal("%v", err)
			}
			ctx, cancel := timeoutContext(opts)
			defer cancel()

			col, err := c.Collection(ctx, opts.Endpoint, args[0])
			if err != nil {
				fatal("%v", err)
			}

			useYAML, _ := cmd.Flags().GetBool("yaml")
			var out []byte
			if useYAML {
				out, err = yaml.Marshal(col)
			} else {
				out, err = json.MarshalIndent(col, "", "  ")
			}
			if err != nil {
				fatal("%v", err)
			}
			fmt.Println(string(out))
		}),
	}
	cmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	return cmd
}

// queryFlags carries the raw flag values of the query subcommand before
// validation against the collection's declared capabilities.
type queryFlags struct {
	collection string
	instance   string
	kind       string
	coords     string
	bbox       string
	id         string
	radius     float64
	units      string
	width      float64
	widthUnits string
	height     float64
	heightUnit string
	resX       int
	resY       int
	resZ       int
	datetime   string
	z          string
	params     []string
	dims       []string
	format     string
	crs        string
	post       bool
	dryRun     bool
	save       string
	name       string
}

func queryCmd() *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Build, validate and execute a data query",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			requireEndpoint(opts)
			c, err := newClient(opts)
			if err != nil {
				fatal("%v", err)
			}
			ctx, cancel := timeoutContext(opts)
			defer cancel()

			snap, err := c.Collections(ctx, opts.Endpoint)
			if err != nil {
				fatal("%v", err)
			}
			col := snap.Collection(qf.collection)
			if col == nil {
				fatal("collection %q not found; run `edr collections`", qf.collection)
			}
			var inst *schema.Instance
			if qf.instance != "" {
				if inst = col.Instance(qf.instance); inst == nil {
					inst = &schema.Instance{ID: qf.instance}
				}
			}

			d, err := buildDescriptor(col, inst, &qf)
			if err != nil {
				fatal("%v", err)
			}

			if qf.save != "" {
				if err := appendSaved(qf.save, qf.name, opts.Endpoint, d); err != nil {
					fatal("%v", err)
				}
			}
			if qf.dryRun {
				req, err := d.Encode(opts.Endpoint)
				if err != nil {
					fatal("%v", err)
				}
				fmt.Printf("%s %s\n", req.Method, req.URL)
				if len(req.Body) > 0 {
					fmt.Println(string(req.Body))
				}
				return
			}

			res, err := c.Execute(ctx, opts.Endpoint, d)
			if err != nil {
				fatal("%v", err)
			}
			printResult(res)
		}),
	}

	f := cmd.Flags()
	f.StringVarP(&qf.collection, "collection", "c", "", "Collection id (required)")
	f.StringVar(&qf.instance, "instance", "", "Instance id")
	f.StringVarP(&qf.kind, "kind", "k", "position", "Query kind (position, radius, area, cube, corridor, trajectory, locations, items)")
	f.StringVar(&qf.coords, "coords", "", "WKT geometry (POINT, POLYGON or LINESTRING)")
	f.StringVar(&qf.bbox, "bbox", "", "Cube bbox: minx,miny,maxx,maxy")
	f.StringVar(&qf.id, "id", "", "Location or item id")
	f.Float64Var(&qf.radius, "within", 0, "Radius value")
	f.StringVar(&qf.units, "within-units", "", "Radius units")
	f.Float64Var(&qf.width, "corridor-width", 0, "Corridor width")
	f.StringVar(&qf.widthUnits, "width-units", "", "Corridor width units")
	f.Float64Var(&qf.height, "corridor-height", 0, "Corridor height")
	f.StringVar(&qf.heightUnit, "height-units", "", "Corridor height units")
	f.IntVar(&qf.resX, "resolution-x", 0, "Corridor x resampling")
	f.IntVar(&qf.resY, "resolution-y", 0, "Corridor y resampling")
	f.IntVar(&qf.resZ, "resolution-z", 0, "Corridor z resampling")
	f.StringVar(&qf.datetime, "datetime", "", "RFC 3339 instant or start/end interval")
	f.StringVar(&qf.z, "z", "", "Vertical levels: comma list, or min/max range")
	f.StringSliceVarP(&qf.params, "parameter", "p", nil, "Parameter names (repeatable)")
	f.StringSliceVar(&qf.dims, "dim", nil, "Custom dimension, name=value[,value] or name=min/max (repeatable)")
	f.StringVarP(&qf.format, "format", "f", "", "Output format")
	f.StringVar(&qf.crs, "crs", "", "Output CRS")
	f.BoolVar(&qf.post, "post", false, "Force POST")
	f.BoolVar(&qf.dryRun, "dry-run", false, "Print the request instead of executing it")
	f.StringVar(&qf.save, "save", "", "Append the query to a YAML record file")
	f.StringVar(&qf.name, "name", "", "Record name for --save")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func buildDescriptor(col *schema.Collection, inst *schema.Instance, qf *queryFlags) (*query.Descriptor, error) {
	kind := query.Kind(qf.kind)
	geom, err := flagGeometry(kind, qf)
	if err != nil {
		return nil, err
	}

	in := query.Inputs{
		Geometry:     geom,
		Parameters:   qf.params,
		OutputFormat: qf.format,
		OutputCRS:    qf.crs,
		ForcePOST:    qf.post,
	}
	if in.Temporal, err = flagTemporal(qf.datetime); err != nil {
		return nil, err
	}
	if qf.z != "" {
		if strings.Contains(qf.z, "/") {
			lo, hi, ok := strings.Cut(qf.z, "/")
			if !ok || lo == "" || hi == "" {
				return nil, fmt.Errorf("bad z range %q", qf.z)
			}
			in.Vertical = &query.VerticalSelection{Levels: []string{lo, hi}, MinMaxRange: true}
		} else {
			in.Vertical = &query.VerticalSelection{Levels: strings.Split(qf.z, ",")}
		}
	}
	if in.Dimensions, err = flagDimensions(qf.dims); err != nil {
		return nil, err
	}

	return query.Build(col, inst, kind, in)
}

func flagGeometry(kind query.Kind, qf *queryFlags) (query.Geometry, error) {
	switch kind {
	case query.Position:
		pt, err := wkt.ParsePoint(qf.coords)
		if err != nil {
			return nil, err
		}
		return query.PointGeometry{Point: pt}, nil
	case query.Radius:
		pt, err := wkt.ParsePoint(qf.coords)
		if err != nil {
			return nil, err
		}
		return query.RadiusGeometry{Center: pt, Radius: qf.radius, Units: qf.units}, nil
	case query.Area:
		poly, err := orbwkt.UnmarshalPolygon(qf.coords)
		if err != nil {
			return nil, err
		}
		return query.AreaGeometry{Polygon: poly}, nil
	case query.Cube:
		bound, err := parseBBoxFlag(qf.bbox)
		if err != nil {
			return nil, err
		}
		return query.CubeGeometry{Bound: bound}, nil
	case query.Corridor:
		line, err := wkt.ParseLineString(qf.coords)
		if err != nil {
			return nil, err
		}
		return query.CorridorGeometry{
			Line:  line,
			Width: qf.width, WidthUnits: qf.widthUnits,
			Height: qf.height, HeightUnits: qf.heightUnit,
			ResolutionX: qf.resX, ResolutionY: qf.resY, ResolutionZ: qf.resZ,
		}, nil
	case query.Trajectory:
		line, err := wkt.ParseLineString(qf.coords)
		if err != nil {
			return nil, err
		}
		return query.TrajectoryGeometry{Line: line}, nil
	case query.Locations:
		return query.LocationGeometry{ID: qf.id}, nil
	case query.Items:
		return query.ItemGeometry{ID: qf.id}, nil
	}
	return nil, fmt.Errorf("unknown query kind %q", kind)
}

func flagTemporal(s string) (*query.TemporalSelection, error) {
	if s == "" {
		return nil, nil
	}
	if start, end, ok := strings.Cut(s, "/"); ok {
		st, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return nil, fmt.Errorf("bad datetime %q: %w", s, err)
		}
		en, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return nil, fmt.Errorf("bad datetime %q: %w", s, err)
		}
		return &query.TemporalSelection{Start: &st, End: &en}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("bad datetime %q: %w", s, err)
	}
	return &query.TemporalSelection{Instant: &t}, nil
}

func flagDimensions(specs []string) (map[string]query.DimensionSelection, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	dims := make(map[string]query.DimensionSelection, len(specs))
	for _, spec := range specs {
		name, val, ok := strings.Cut(spec, "=")
		if !ok || name == "" || val == "" {
			return nil, fmt.Errorf("bad dimension %q, want name=value", spec)
		}
		if lo, hi, isRange := strings.Cut(val, "/"); isRange {
			min, err := strconv.ParseFloat(lo, 64)
			if err != nil {
				return nil, fmt.Errorf("bad dimension range %q: %w", spec, err)
			}
			max, err := strconv.ParseFloat(hi, 64)
			if err != nil {
				return nil, fmt.Errorf("bad dimension range %q: %w", spec, err)
			}
			dims[name] = query.DimensionSelection{Min: &min, Max: &max}
		} else {
			dims[name] = query.DimensionSelection{Values: strings.Split(val, ",")}
		}
	}
	return dims, nil
}

func parseBBoxFlag(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bad bbox %q, want minx,miny,maxx,maxy", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bad bbox %q: %w", s, err)
		}
		vals[i] = v
	}
	return orb.Bound{Min: orb.Point{vals[0], vals[1]}, Max: orb.Point{vals[2], vals[3]}}, nil
}

func printResult(res *edrclient.QueryResult) {
	if res.Coverages == nil {
		os.Stdout.Write(res.Raw)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, cov := range res.Coverages.Coverages {
		features, err := cov.Features()
		if err != nil {
			fatal("%v", err)
		}
		fc.Features = append(fc.Features, features...)
		for _, w := range cov.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.Param, w.Message)
		}
	}
	for _, merr := range res.Coverages.Errors {
		fmt.Fprintf(os.Stderr, "warning: member %d skipped: %v\n", merr.Index, merr.Err)
	}

	out, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println(string(out))
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <file.covjson>",
		Short: "Decode a CoverageJSON file to GeoJSON offline",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				fatal("%v", err)
			}
			decoded, err := covjson.Decode(raw, covjson.Options{})
			if err != nil {
				fatal("%v", err)
			}
			printResult(&edrclient.QueryResult{
				ContentType: "application/prs.coverage+json",
				Raw:         raw,
				Coverages:   decoded,
			})
		}),
	}
}

func savedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saved <file.yaml>",
		Short: "List or replay saved queries",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			records, err := loadSaved(args[0])
			if err != nil {
				fatal("%v", err)
			}

			replay, _ := cmd.Flags().GetString("replay")
			if replay == "" {
				for _, sq := range records {
					fmt.Printf("%-24s %s %s/%s  %s\n",
						sq.Name, sq.Created.Format("2006-01-02"), sq.CollectionID, sq.Kind, sq.ServerURL)
				}
				return
			}

			var record *query.SavedQuery
			for i := range records {
				if records[i].Name == replay {
					record = &records[i]
					break
				}
			}
			if record == nil {
				fatal("no saved query named %q in %s", replay, args[0])
			}

			endpoint := opts.Endpoint
			if endpoint == "" {
				endpoint = record.ServerURL
			}
			c, err := newClient(opts)
			if err != nil {
				fatal("%v", err)
			}
			ctx, cancel := timeoutContext(opts)
			defer cancel()

			snap, err := c.Collections(ctx, endpoint)
			if err != nil {
				fatal("%v", err)
			}
			d, stale, err := record.Replay(snap.Collection(record.CollectionID))
			if err != nil {
				fatal("%v", err)
			}
			for _, s := range stale {
				fmt.Fprintf(os.Stderr, "stale: %s=%s (%s)\n", s.Field, s.Value, s.Reason)
			}

			res, err := c.Execute(ctx, endpoint, d)
			if err != nil {
				fatal("%v", err)
			}
			printResult(res)
		}),
	}
	cmd.Flags().StringP("replay", "r", "", "Replay the named query")
	return cmd
}

func loadSaved(path string) ([]query.SavedQuery, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []query.SavedQuery
	if err := yaml.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

func appendSaved(path, name, serverURL string, d *query.Descriptor) error {
	if name == "" {
		name = fmt.Sprintf("%s-%s-%s", d.CollectionID, d.Kind, time.Now().UTC().Format("20060102T150405Z"))
	}
	var records []query.SavedQuery
	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, &records); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	records = append(records, *query.NewSavedQuery(name, serverURL, d))
	out, err := yaml.Marshal(records)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
