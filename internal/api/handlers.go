// Package api implements the HTTP facade over the cached pipeline artifacts.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ctaque/weather-app-challenge-sub001/internal/cache/artifactstore"
	"github.com/ctaque/weather-app-challenge-sub001/internal/core/observability"
	"github.com/ctaque/weather-app-challenge-sub001/internal/scheduler"
)

// indicesShown caps how many history entries the indices endpoints return.
const indicesShown = 8

// pngCacheSize bounds the in-process cache of immutable indexed rasters.
const pngCacheSize = 32

type Handler struct {
	log    *slog.Logger
	store  *artifactstore.Store
	sched  *scheduler.Scheduler
	pngLRU *lru.Cache[int, []byte]
}

func New(log *slog.Logger, store *artifactstore.Store, sched *scheduler.Scheduler) *Handler {
	cache, _ := lru.New[int, []byte](pngCacheSize)
	return &Handler{log: log, store: store, sched: sched, pngLRU: cache}
}

// Routes mounts the facade endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/wind-global", instrument("/api/wind-global", h.windLatest))
	r.Get("/api/wind-global/{index}", instrument("/api/wind-global/:i", h.windByIndex))
	r.Get("/api/wind-indices", instrument("/api/wind-indices", h.windIndices))
	r.Get("/api/windgl/metadata.json", instrument("/api/windgl/metadata.json", h.metadataLatest))
	r.Get("/api/windgl/metadata.json/{index}", instrument("/api/windgl/metadata.json/:i", h.metadataByIndex))
	r.Get("/api/windgl/wind.png", instrument("/api/windgl/wind.png", h.pngLatest))
	r.Get("/api/windgl/wind.png/{index}", instrument("/api/windgl/wind.png/:i", h.pngByIndex))
	r.Get("/api/precipitation-global", instrument("/api/precipitation-global", h.precipLatest))
	r.Get("/api/precipitation-global/{index}", instrument("/api/precipitation-global/:i", h.precipByIndex))
	r.Get("/api/precipitation-indices", instrument("/api/precipitation-indices", h.precipIndices))
	r.Get("/api/wind-status", instrument("/api/wind-status", h.status))
	r.Post("/api/wind-refresh", instrument("/api/wind-refresh", h.refresh))
	r.Post("/api/wind-refresh-latest", instrument("/api/wind-refresh-latest", h.refreshLatest))
}

func (h *Handler) windLatest(w http.ResponseWriter, r *http.Request) {
	h.serveLatestJSON(w, r, scheduler.KeyWindPoints)
}

func (h *Handler) precipLatest(w http.ResponseWriter, r *http.Request) {
	h.serveLatestJSON(w, r, scheduler.KeyPrecipPoints)
}

func (h *Handler) serveLatestJSON(w http.ResponseWriter, r *http.Request, baseKey string) {
	raw, err := h.store.GetJSON(r.Context(), baseKey)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if raw == nil {
		http.Error(w, "no data available yet", http.StatusServiceUnavailable)
		return
	}
	writeRawJSON(w, r, raw)
}

func (h *Handler) windByIndex(w http.ResponseWriter, r *http.Request) {
	h.serveIndexedJSON(w, r, scheduler.KeyWindPoints)
}

func (h *Handler) precipByIndex(w http.ResponseWriter, r *http.Request) {
	h.serveIndexedJSON(w, r, scheduler.KeyPrecipPoints)
}

func (h *Handler) serveIndexedJSON(w http.ResponseWriter, r *http.Request, baseKey string) {
	idx, ok := indexParam(w, r)
	if !ok {
		return
	}
	raw, err := h.store.GetJSONByIndex(r.Context(), baseKey, idx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if raw == nil {
		http.NotFound(w, r)
		return
	}
	writeRawJSON(w, r, raw)
}

func (h *Handler) windIndices(w http.ResponseWriter, r *http.Request) {
	h.serveIndices(w, r, scheduler.KeyWindPoints)
}

func (h *Handler) precipIndices(w http.ResponseWriter, r *http.Request) {
	h.serveIndices(w, r, scheduler.KeyPrecipPoints)
}

func (h *Handler) serveIndices(w http.ResponseWriter, r *http.Request, baseKey string) {
	entries, err := h.store.ListIndices(r.Context(), baseKey)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(entries) > indicesShown {
		entries = entries[:indicesShown]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"indices": entries,
	})
}

func (h *Handler) metadataLatest(w http.ResponseWriter, r *http.Request) {
	raw, err := h.store.GetJSON(r.Context(), scheduler.KeyWindMetadata)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if raw == nil {
		http.Error(w, "no metadata available yet", http.StatusServiceUnavailable)
		return
	}
	h.serveMetadata(w, r, raw, "/api/windgl/wind.png", nil)
}

func (h *Handler) metadataByIndex(w http.ResponseWriter, r *http.Request) {
	idx, ok := indexParam(w, r)
	if !ok {
		return
	}
	raw, err := h.store.GetJSONByIndex(r.Context(), scheduler.KeyWindMetadata, idx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if raw == nil {
		http.NotFound(w, r)
		return
	}
	h.serveMetadata(w, r, raw, fmt.Sprintf("/api/windgl/wind.png/%d", idx), &idx)
}

// serveMetadata rewrites the stored metadata with the tile URL (and index)
// the windgl consumer expects.
func (h *Handler) serveMetadata(w http.ResponseWriter, r *http.Request, raw json.RawMessage, tileURL string, index *int) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		h.fail(w, r, err)
		return
	}
	m["tiles"] = []string{tileURL}
	if index != nil {
		m["index"] = *index
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) pngLatest(w http.ResponseWriter, r *http.Request) {
	// the latest raster changes on every (0,0) write, so it always comes
	// from Redis; only immutable indexed rasters are memoized
	buf, err := h.store.GetBinary(r.Context(), scheduler.KeyWindPNG)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if buf == nil {
		http.NotFound(w, r)
		return
	}
	servePNG(w, r, buf)
}

func (h *Handler) pngByIndex(w http.ResponseWriter, r *http.Request) {
	idx, ok := indexParam(w, r)
	if !ok {
		return
	}
	if buf, ok := h.pngLRU.Get(idx); ok {
		servePNG(w, r, buf)
		return
	}
	buf, err := h.store.GetBinaryByIndex(r.Context(), scheduler.KeyWindPNG, idx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if buf == nil {
		http.NotFound(w, r)
		return
	}
	h.pngLRU.Add(idx, buf)
	servePNG(w, r, buf)
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":   h.sched.Running(),
		"lastFetch": h.sched.LastFetch(),
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, h.sched.Backfill)
}

func (h *Handler) refreshLatest(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, h.sched.CheckLatest)
}

// trigger kicks a pass off in the background; overlapping passes are
// rejected by the scheduler's own guard.
func (h *Handler) trigger(w http.ResponseWriter, _ *http.Request, pass func(context.Context) error) {
	if h.sched.Busy() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"status":  "already_running",
		})
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := pass(ctx); err != nil {
			h.log.Warn("manual trigger failed", "err", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"status":  "started",
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error("facade read failed", "path", r.URL.Path, "err", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || idx < 0 {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return 0, false
	}
	return idx, true
}

func servePNG(w http.ResponseWriter, r *http.Request, buf []byte) {
	if notModified(w, r, buf) {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf)
}

func writeRawJSON(w http.ResponseWriter, r *http.Request, raw []byte) {
	if notModified(w, r, raw) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// notModified answers conditional requests with a content-derived ETag.
func notModified(w http.ResponseWriter, r *http.Request, body []byte) bool {
	etag := fmt.Sprintf(`"xx-%016x"`, xxhash.Sum64(body))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}
