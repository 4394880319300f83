package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"

	"github.com/ctaque/weather-app-challenge-sub001/internal/cache/artifactstore"
	"github.com/ctaque/weather-app-challenge-sub001/internal/cache/redisstore"
	"github.com/ctaque/weather-app-challenge-sub001/internal/opendap"
	"github.com/ctaque/weather-app-challenge-sub001/internal/scheduler"
	"github.com/ctaque/weather-app-challenge-sub001/internal/windgrid"
)

type idleFetcher struct{}

func (idleFetcher) FetchWind(context.Context, opendap.Run, int, float64, float64, float64, float64) (*opendap.Grid, error) {
	return &opendap.Grid{
		Lats: []float64{35},
		Lons: []float64{0},
		U:    []float64{1},
		V:    []float64{1},
	}, nil
}

func (idleFetcher) FetchPrecip(context.Context, opendap.Run, int, float64, float64, float64, float64) (*opendap.Grid, error) {
	return &opendap.Grid{
		Lats:   []float64{35},
		Lons:   []float64{0},
		Precip: []float64{0},
	}, nil
}

func newTestAPI(t *testing.T) (http.Handler, *artifactstore.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := artifactstore.New(rc, artifactstore.WithLogger(log))
	sched := scheduler.New(log, idleFetcher{}, store, windgrid.Bounds{}, "europe")

	r := chi.NewRouter()
	New(log, store, sched).Routes(r)
	return r, store
}

func windPayload(run string, offset int, dataTime time.Time) *windgrid.WindPayload {
	return &windgrid.WindPayload{
		Timestamp:      dataTime.UTC().Format(time.RFC3339),
		RunName:        run,
		ForecastOffset: offset,
		DataTime:       dataTime.UTC().Format(time.RFC3339),
		Source:         windgrid.Source,
		Resolution:     windgrid.Resolution,
		Points:         []windgrid.PointRecord{{Lat: 35, Lon: 0, U: 1, V: 1, Speed: 1.4}},
		Region:         "europe",
	}
}

func get(t *testing.T, h http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestWindLatest_UnavailableThenServed(t *testing.T) {
	h, store := newTestAPI(t)

	if rr := get(t, h, "/api/wind-global", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("empty store: status %d, want 503", rr.Code)
	}

	p := windPayload("20260121_06Z", 0, time.Date(2026, 1, 21, 6, 0, 0, 0, time.UTC))
	if _, err := store.SetVersioned(context.Background(), scheduler.KeyWindPoints, p, true); err != nil {
		t.Fatalf("SetVersioned: %v", err)
	}

	rr := get(t, h, "/api/wind-global", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
	var got windgrid.WindPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RunName != "20260121_06Z" || len(got.Points) != 1 {
		t.Fatalf("payload lost in transit: %+v", got)
	}
}

func TestWindLatest_ConditionalRequest(t *testing.T) {
	h, store := newTestAPI(t)
	p := windPayload("20260121_06Z", 0, time.Now())
	if _, err := store.SetVersioned(context.Background(), scheduler.KeyWindPoints, p, true); err != nil {
		t.Fatalf("SetVersioned: %v", err)
	}

	rr := get(t, h, "/api/wind-global", nil)
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag header")
	}

	rr = get(t, h, "/api/wind-global", map[string]string{"If-None-Match": etag})
	if rr.Code != http.StatusNotModified {
		t.Fatalf("status %d, want 304", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("304 must not carry a body, got %d bytes", rr.Body.Len())
	}
}

func TestWindByIndex(t *testing.T) {
	h, store := newTestAPI(t)
	ctx := context.Background()

	p := windPayload("20260121_00Z", 3, time.Date(2026, 1, 21, 3, 0, 0, 0, time.UTC))
	if _, err := store.SetVersioned(ctx, scheduler.KeyWindPoints, p, false); err != nil {
		t.Fatalf("SetVersioned: %v", err)
	}

	if rr := get(t, h, "/api/wind-global/0", nil); rr.Code != http.StatusOK {
		t.Fatalf("index 0: status %d, want 200", rr.Code)
	}
	if rr := get(t, h, "/api/wind-global/5", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("missing index: status %d, want 404", rr.Code)
	}
	if rr := get(t, h, "/api/wind-global/abc", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad index: status %d, want 400", rr.Code)
	}
}

func TestWindIndices_ReturnsMostRecentEight(t *testing.T) {
	h, store := newTestAPI(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		p := windPayload("20260121_00Z", i*3, base.Add(time.Duration(i)*time.Hour))
		if _, err := store.SetVersioned(ctx, scheduler.KeyWindPoints, p, false); err != nil {
			t.Fatalf("SetVersioned: %v", err)
		}
	}

	rr := get(t, h, "/api/wind-indices", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var resp struct {
		Count   int                        `json:"count"`
		Indices []artifactstore.IndexEntry `json:"indices"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 8 || len(resp.Indices) != 8 {
		t.Fatalf("count=%d len=%d, want 8", resp.Count, len(resp.Indices))
	}
	// most recent entry leads
	if resp.Indices[0].Index != 9 {
		t.Fatalf("indices[0].index = %d, want 9", resp.Indices[0].Index)
	}
}

func TestMetadata_TilesRewriting(t *testing.T) {
	h, store := newTestAPI(t)
	ctx := context.Background()

	if rr := get(t, h, "/api/windgl/metadata.json", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("empty store: status %d, want 503", rr.Code)
	}

	meta := &windgrid.Metadata{Source: windgrid.Source, Width: 4, Height: 2, UMin: -3, UMax: 10, VMin: -4, VMax: 5}
	if err := store.SetJSON(ctx, scheduler.KeyWindMetadata, meta); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	if err := store.SetJSONByIndex(ctx, scheduler.KeyWindMetadata, 7, meta); err != nil {
		t.Fatalf("SetJSONByIndex: %v", err)
	}

	rr := get(t, h, "/api/windgl/metadata.json", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tiles, _ := m["tiles"].([]any)
	if len(tiles) != 1 || tiles[0] != "/api/windgl/wind.png" {
		t.Fatalf("tiles = %v", m["tiles"])
	}
	if _, present := m["index"]; present {
		t.Fatalf("latest metadata must not carry an index field")
	}

	rr = get(t, h, "/api/windgl/metadata.json/7", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("indexed status %d", rr.Code)
	}
	m = map[string]any{}
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tiles, _ = m["tiles"].([]any)
	if len(tiles) != 1 || tiles[0] != "/api/windgl/wind.png/7" {
		t.Fatalf("indexed tiles = %v", m["tiles"])
	}
	if idx, _ := m["index"].(float64); idx != 7 {
		t.Fatalf("index field = %v, want 7", m["index"])
	}

	if rr := get(t, h, "/api/windgl/metadata.json/3", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("missing indexed metadata: status %d, want 404", rr.Code)
	}
}

func TestWindPNG(t *testing.T) {
	h, store := newTestAPI(t)
	ctx := context.Background()

	if rr := get(t, h, "/api/windgl/wind.png", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("empty store: status %d, want 404", rr.Code)
	}

	buf := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	if err := store.SetBinaryVersioned(ctx, scheduler.KeyWindPNG, buf, 2, true); err != nil {
		t.Fatalf("SetBinaryVersioned: %v", err)
	}

	rr := get(t, h, "/api/windgl/wind.png", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type %q", ct)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Fatalf("cache control %q", cc)
	}
	if rr.Body.String() != string(buf) {
		t.Fatalf("body differs from stored raster")
	}

	// indexed route serves twice, the second read coming from the LRU
	for i := 0; i < 2; i++ {
		rr = get(t, h, "/api/windgl/wind.png/2", nil)
		if rr.Code != http.StatusOK || rr.Body.String() != string(buf) {
			t.Fatalf("indexed read %d: status %d", i, rr.Code)
		}
	}

	if rr := get(t, h, "/api/windgl/wind.png/9", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("missing index: status %d, want 404", rr.Code)
	}
}

func TestPrecipitationEndpoints(t *testing.T) {
	h, store := newTestAPI(t)
	ctx := context.Background()

	if rr := get(t, h, "/api/precipitation-global", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("empty store: status %d, want 503", rr.Code)
	}

	p := &windgrid.PrecipitationPayload{
		RunName:  "20260121_06Z",
		DataTime: "2026-01-21T06:00:00Z",
		Unit:     "mm/3h",
		Points:   []windgrid.PrecipPoint{{Lat: 35, Lon: 0, Precip: 0.5}},
	}
	if _, err := store.SetVersioned(ctx, scheduler.KeyPrecipPoints, p, true); err != nil {
		t.Fatalf("SetVersioned: %v", err)
	}

	if rr := get(t, h, "/api/precipitation-global", nil); rr.Code != http.StatusOK {
		t.Fatalf("latest: status %d", rr.Code)
	}
	if rr := get(t, h, "/api/precipitation-global/0", nil); rr.Code != http.StatusOK {
		t.Fatalf("indexed: status %d", rr.Code)
	}

	rr := get(t, h, "/api/precipitation-indices", nil)
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h, _ := newTestAPI(t)

	rr := get(t, h, "/api/wind-status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var resp struct {
		Running   bool                  `json:"running"`
		LastFetch scheduler.FetchStatus `json:"lastFetch"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Running {
		t.Fatalf("scheduler loop was never started")
	}
}

func TestRefreshTrigger(t *testing.T) {
	h, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/wind-refresh-latest", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status %d, want 202", rr.Code)
	}
	var resp struct {
		Success bool   `json:"success"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.Status != "started" {
		t.Fatalf("response = %+v", resp)
	}
}
