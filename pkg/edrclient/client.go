// Package edrclient is the client core for OGC API Environmental Data
// Retrieval services: it discovers collections, builds and executes data
// queries, and decodes CoverageJSON replies into geometry-bearing results.
package edrclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-edr/internal/covjson"
	"github.com/joeblew999/plat-edr/internal/query"
	"github.com/joeblew999/plat-edr/internal/schema"
)

// StatusError reports a non-2xx reply. Snippet carries the first bytes of
// the server body, which EDR servers use for problem details.
type StatusError struct {
	Status  int
	URL     string
	Snippet string
}

func (e *StatusError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("edrclient: %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("edrclient: %s: status %d: %s", e.URL, e.Status, e.Snippet)
}

// Link is an OGC API link object.
type Link struct {
	Href  string `json:"href"`
	Rel   string `json:"rel,omitempty"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// Landing is the server's landing page document.
type Landing struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Links       []Link `json:"links,omitempty"`
}

// QueryResult is the reply to an executed data query. Coverages is set when
// the server answered with CoverageJSON; any other media type passes through
// as Raw only.
type QueryResult struct {
	ContentType string
	Raw         []byte
	Coverages   *covjson.Result
}

// Client talks to one or more EDR servers over an injected transport.
type Client struct {
	transport Transport
	creds     CredentialsProvider
	cache     *schema.Cache
	log       zerolog.Logger
}

type Option func(*Client)

func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

func WithCredentials(p CredentialsProvider) Option {
	return func(c *Client) { c.creds = p }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func New(opts ...Option) (*Client, error) {
	cache, err := schema.NewCache(schema.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	c := &Client{
		transport: &HTTPTransport{},
		cache:     cache,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Landing fetches the server landing page.
func (c *Client) Landing(ctx context.Context, serverURL string) (*Landing, error) {
	raw, _, err := c.get(ctx, serverURL, "/")
	if err != nil {
		return nil, err
	}
	var l Landing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("edrclient: landing page: %w", err)
	}
	return &l, nil
}

// Conformance fetches the conformance class URIs the server declares.
func (c *Client) Conformance(ctx context.Context, serverURL string) ([]string, error) {
	raw, _, err := c.get(ctx, serverURL, "/conformance")
	if err != nil {
		return nil, err
	}
	var doc struct {
		ConformsTo []string `json:"conformsTo"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("edrclient: conformance: %w", err)
	}
	return doc.ConformsTo, nil
}

// Collections returns the server's collection snapshot, fetching and caching
// it on first use. The snapshot is immutable; Refresh swaps in a new one.
func (c *Client) Collections(ctx context.Context, serverURL string) (*schema.Snapshot, error) {
	if snap, ok := c.cache.Get(serverURL); ok {
		return snap, nil
	}
	return c.Refresh(ctx, serverURL)
}

// Refresh re-fetches /collections and atomically replaces the cached
// snapshot. Callers holding the old snapshot keep a consistent view.
func (c *Client) Refresh(ctx context.Context, serverURL string) (*schema.Snapshot, error) {
	raw, _, err := c.get(ctx, serverURL, "/collections")
	if err != nil {
		return nil, err
	}
	cols, err := schema.ParseCollections(raw)
	if err != nil {
		return nil, err
	}
	snap := c.cache.Put(serverURL, cols)
	c.log.Debug().Str("server", serverURL).Int("collections", len(cols)).Msg("schema refreshed")
	return snap, nil
}

// Collection fetches the full description of one collection.
func (c *Client) Collection(ctx context.Context, serverURL, id string) (*schema.Collection, error) {
	raw, _, err := c.get(ctx, serverURL, "/collections/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	return schema.ParseCollection(raw)
}

// Instances lists the instances of a collection.
func (c *Client) Instances(ctx context.Context, serverURL, collectionID string) ([]*schema.Instance, error) {
	raw, _, err := c.get(ctx, serverURL, "/collections/"+url.PathEscape(collectionID)+"/instances")
	if err != nil {
		return nil, err
	}
	return schema.ParseInstances(raw)
}

// Locations lists the named locations a collection offers, as GeoJSON.
func (c *Client) Locations(ctx context.Context, serverURL, collectionID string) (*geojson.FeatureCollection, error) {
	return c.features(ctx, serverURL, "/collections/"+url.PathEscape(collectionID)+"/locations")
}

// Items lists the items a collection offers, as GeoJSON.
func (c *Client) Items(ctx context.Context, serverURL, collectionID string) (*geojson.FeatureCollection, error) {
	return c.features(ctx, serverURL, "/collections/"+url.PathEscape(collectionID)+"/items")
}

// Execute runs a built query against the server. CoverageJSON replies come
// back decoded; every other media type passes through raw for the caller.
func (c *Client) Execute(ctx context.Context, serverURL string, d *query.Descriptor) (*QueryResult, error) {
	req, err := d.Encode(serverURL)
	if err != nil {
		return nil, err
	}
	raw, header, err := c.do(ctx, serverURL, req)
	if err != nil {
		return nil, err
	}

	res := &QueryResult{ContentType: header.Get("Content-Type"), Raw: raw}
	if !isCoverageJSON(res.ContentType) {
		return res, nil
	}
	// Documents without a referencing element fall back to the collection's
	// declared CRS when its capabilities are cached.
	opt := covjson.Options{}
	if snap, ok := c.cache.Get(serverURL); ok {
		if col := snap.Collection(d.CollectionID); col != nil {
			opt.DefaultCRS = col.SpatialCRS
		}
	}
	decoded, err := covjson.Decode(raw, opt)
	if err != nil {
		return nil, err
	}
	for _, merr := range decoded.Errors {
		c.log.Warn().Int("member", merr.Index).Err(merr.Err).Msg("coverage member skipped")
	}
	res.Coverages = decoded
	return res, nil
}

func isCoverageJSON(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "coveragejson") || strings.Contains(ct, "coverage+json")
}

func (c *Client) features(ctx context.Context, serverURL, path string) (*geojson.FeatureCollection, error) {
	raw, _, err := c.get(ctx, serverURL, path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("edrclient: %s: %w", path, err)
	}
	return fc, nil
}

func (c *Client) get(ctx context.Context, serverURL, path string) ([]byte, http.Header, error) {
	req := &query.Request{
		Method: http.MethodGet,
		URL:    strings.TrimRight(serverURL, "/") + path,
		Header: http.Header{},
	}
	return c.do(ctx, serverURL, req)
}

func (c *Client) do(ctx context.Context, serverURL string, req *query.Request) ([]byte, http.Header, error) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if c.creds != nil {
		for k, vs := range c.creds.AuthHeaders(serverURL) {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	c.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL).
		Int("status", resp.Status).
		Int("bytes", len(resp.Body)).
		Msg("request")

	if resp.Status < 200 || resp.Status > 299 {
		return nil, nil, &StatusError{Status: resp.Status, URL: req.URL, Snippet: snippet(resp.Body)}
	}
	return resp.Body, resp.Header, nil
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max]
	}
	return s
}
