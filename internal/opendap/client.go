// Package opendap fetches and decodes gridded GFS forecast data from the
// NOAA NOMADS OpenDAP endpoint.
package opendap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ctaque/weather-app-challenge-sub001/internal/core/observability"
)

// DefaultBaseURL is the NOMADS 0.5 degree GFS dataset root.
const DefaultBaseURL = "https://nomads.ncep.noaa.gov/dods/gfs_0p50"

// grid geometry of the upstream 0.5 degree dataset
const (
	step      = 0.5
	lonSteps  = 720 // 0 .. 359.5
	hoursStep = 3   // forecast output interval
)

type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func New(baseURL string, hc *http.Client, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc, log: log}
}

// DatasetURL builds the dataset root for one run,
// e.g. .../gfs20260121/gfs_0p50_06z.
func (c *Client) DatasetURL(run Run) string {
	return fmt.Sprintf("%s/gfs%s/gfs_0p50_%02dz", c.baseURL, run.Date, run.Cycle)
}

// FetchWind retrieves the 10 m u/v wind components for one forecast offset
// over the given bounding box.
func (c *Client) FetchWind(ctx context.Context, run Run, offsetHours int, latMin, latMax, lonMin, lonMax float64) (*Grid, error) {
	return c.fetchGrid(ctx, run, offsetHours, latMin, latMax, lonMin, lonMax, []string{"ugrd10m", "vgrd10m"})
}

// FetchPrecip retrieves the 3-hourly accumulated surface precipitation.
func (c *Client) FetchPrecip(ctx context.Context, run Run, offsetHours int, latMin, latMax, lonMin, lonMax float64) (*Grid, error) {
	return c.fetchGrid(ctx, run, offsetHours, latMin, latMax, lonMin, lonMax, []string{"apcpsfc"})
}

// fetchGrid performs one or two upstream requests depending on whether the
// longitude range crosses the 0 degree wraparound of the upstream 0..360
// convention, and returns a single west-then-east grid.
func (c *Client) fetchGrid(ctx context.Context, run Run, offsetHours int, latMin, latMax, lonMin, lonMax float64, vars []string) (*Grid, error) {
	tIdx := offsetHours / hoursStep
	laMin := int((latMin + 90) / step)
	laMax := int((latMax + 90) / step)

	if lonMin >= 0 {
		g, err := c.fetchOne(ctx, run, vars, tIdx, laMin, laMax, int(lonMin/step), int(lonMax/step))
		if err != nil {
			return nil, err
		}
		return g, nil
	}

	// split across the prime meridian: western slice sits at the top of the
	// 0..360 index range, eastern slice at the bottom
	west, err := c.fetchOne(ctx, run, vars, tIdx, laMin, laMax, int((360+lonMin)/step), lonSteps-1)
	if err != nil {
		return nil, err
	}
	for i := range west.Lons {
		west.Lons[i] -= 360
	}
	east, err := c.fetchOne(ctx, run, vars, tIdx, laMin, laMax, 0, int(lonMax/step))
	if err != nil {
		return nil, err
	}
	return mergeWestEast(west, east)
}

func (c *Client) fetchOne(ctx context.Context, run Run, vars []string, t, la0, la1, lo0, lo1 int) (*Grid, error) {
	var sb strings.Builder
	for _, v := range vars {
		fmt.Fprintf(&sb, "%s[%d:1:%d][%d:1:%d][%d:1:%d],", v, t, t, la0, la1, lo0, lo1)
	}
	fmt.Fprintf(&sb, "lat[%d:1:%d],lon[%d:1:%d]", la0, la1, lo0, lo1)

	body, err := c.FetchASCII(ctx, c.DatasetURL(run), ".ascii?"+sb.String())
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

// FetchASCII issues the GET and returns the raw text body. HTML bodies are
// upstream error pages, not data; they are surfaced as NotReadyError.
func (c *Client) FetchASCII(ctx context.Context, datasetURL, constraint string) (string, error) {
	url := datasetURL + constraint

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("opendap request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ObserveUpstream("opendap", err, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("opendap GET: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &HTTPError{Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("opendap read body: %w", err)
	}
	body := string(raw)

	if isHTML(body) {
		msg := extractNotReady(body)
		c.log.Warn("upstream returned error page", "dataset", datasetURL, "msg", msg)
		return "", &NotReadyError{Message: msg}
	}
	return body, nil
}

func isHTML(body string) bool {
	trimmed := strings.TrimSpace(body)
	return strings.HasPrefix(trimmed, "<") ||
		strings.Contains(body, "<!DOCTYPE") ||
		strings.Contains(body, "<html")
}

var notReadyRe = regexp.MustCompile(`<b>([^<]*is not an available dataset[^<]*)</b>`)

func extractNotReady(body string) string {
	if m := notReadyRe.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return "upstream returned an HTML error page"
}

// mergeWestEast concatenates two grids that share a latitude axis, west rows
// first within each latitude.
func mergeWestEast(w, e *Grid) (*Grid, error) {
	if len(w.Lats) != len(e.Lats) {
		return nil, &ParseError{Reason: "wraparound halves disagree on latitude axis"}
	}
	out := &Grid{
		Lats: w.Lats,
		Lons: append(append([]float64{}, w.Lons...), e.Lons...),
	}
	var err error
	if out.U, err = mergeRows(w.U, e.U, len(w.Lats), len(w.Lons), len(e.Lons)); err != nil {
		return nil, err
	}
	if out.V, err = mergeRows(w.V, e.V, len(w.Lats), len(w.Lons), len(e.Lons)); err != nil {
		return nil, err
	}
	if out.Precip, err = mergeRows(w.Precip, e.Precip, len(w.Lats), len(w.Lons), len(e.Lons)); err != nil {
		return nil, err
	}
	return out, nil
}

func mergeRows(w, e []float64, rows, wCols, eCols int) ([]float64, error) {
	if w == nil && e == nil {
		return nil, nil
	}
	if w == nil || e == nil {
		return nil, &ParseError{Reason: "wraparound halves disagree on variables"}
	}
	out := make([]float64, 0, rows*(wCols+eCols))
	for r := 0; r < rows; r++ {
		out = append(out, w[r*wCols:(r+1)*wCols]...)
		out = append(out, e[r*eCols:(r+1)*eCols]...)
	}
	return out, nil
}
