// Package scheduler drives the fetch/encode/store pipeline: a one-shot
// historical backfill at startup and a periodic check for the latest run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ctaque/weather-app-challenge-sub001/internal/cache/artifactstore"
	"github.com/ctaque/weather-app-challenge-sub001/internal/core/observability"
	"github.com/ctaque/weather-app-challenge-sub001/internal/notify"
	"github.com/ctaque/weather-app-challenge-sub001/internal/opendap"
	"github.com/ctaque/weather-app-challenge-sub001/internal/windgrid"
)

// Base keys of the artifacts the pipeline maintains.
const (
	KeyWindPoints     = "wind:points"
	KeyWindPNG        = "wind:png"
	KeyWindMetadata   = "wind:metadata"
	KeyWindLastUpdate = "wind:last_update"
	KeyPrecipPoints   = "precipitation:points"
)

// backfillHoursBack enumerates the 24 h window covered at startup.
var backfillHoursBack = []int{0, 3, 6, 9, 12, 15, 18, 21}

// candidateRunAges is the preference order when resolving a target data time
// to a (run, forecast offset) pair; smaller ages carry fresher model state.
var candidateRunAges = []int{6, 12, 18, 24}

// ErrBusy is returned when a pass is already in progress; ticks and manual
// triggers that hit it are dropped, not queued.
var ErrBusy = errors.New("scheduler: a pass is already in progress")

// Fetcher is the slice of the OpenDAP client the scheduler needs.
type Fetcher interface {
	FetchWind(ctx context.Context, run opendap.Run, offsetHours int, latMin, latMax, lonMin, lonMax float64) (*opendap.Grid, error)
	FetchPrecip(ctx context.Context, run opendap.Run, offsetHours int, latMin, latMax, lonMin, lonMax float64) (*opendap.Grid, error)
}

// FetchStatus summarizes the most recent pass for the status endpoint and
// the wind:last_update key.
type FetchStatus struct {
	Success      bool   `json:"success"`
	Timestamp    string `json:"timestamp"`
	Error        string `json:"error,omitempty"`
	SuccessCount int    `json:"successCount"`
	FailureCount int    `json:"failureCount"`
}

type Scheduler struct {
	log      *slog.Logger
	fetcher  Fetcher
	store    *artifactstore.Store
	notifier *notify.Notifier

	bounds windgrid.Bounds
	region string

	pollInterval  time.Duration
	backfillSleep time.Duration

	now func() time.Time

	running atomic.Bool // loop started
	busy    atomic.Bool // pass in progress

	mu        sync.Mutex
	lastFetch FetchStatus
}

type Option func(*Scheduler)

func WithNow(f func() time.Time) Option {
	return func(s *Scheduler) { s.now = f }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

func WithBackfillSleep(d time.Duration) Option {
	return func(s *Scheduler) { s.backfillSleep = d }
}

func WithNotifier(n *notify.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

func New(log *slog.Logger, fetcher Fetcher, store *artifactstore.Store, bounds windgrid.Bounds, region string, opts ...Option) *Scheduler {
	s := &Scheduler{
		log:           log,
		fetcher:       fetcher,
		store:         store,
		bounds:        bounds,
		region:        region,
		pollInterval:  5 * time.Minute,
		backfillSleep: time.Second,
		now:           time.Now,
	}
	for _, f := range opts {
		f(s)
	}
	return s
}

// Run owns the pipeline until ctx is cancelled: an optional backfill, then a
// latest-check on every tick.
func (s *Scheduler) Run(ctx context.Context, backfillOnStart bool) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler: already running")
	}
	defer s.running.Store(false)

	if backfillOnStart {
		if err := s.Backfill(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("backfill failed", "err", err)
		}
	}

	t := time.NewTicker(s.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := s.CheckLatest(ctx); err != nil && !errors.Is(err, ErrBusy) {
				s.log.Error("latest check failed", "err", err)
			}
		}
	}
}

func (s *Scheduler) Running() bool { return s.running.Load() }

// Busy reports whether a backfill or latest-check pass is in progress.
func (s *Scheduler) Busy() bool { return s.busy.Load() }

func (s *Scheduler) LastFetch() FetchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFetch
}

// Backfill walks the previous 24 h window in 3-hour steps, fetching every
// target whose (run, offset) pair is not already cached.
func (s *Scheduler) Backfill(ctx context.Context) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	var okCount, failCount int
	var firstErr string
	for i, hoursBack := range backfillHoursBack {
		runAge, offset, ok := selectTarget(hoursBack)
		if !ok {
			failCount++
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if done, err := s.fetchSingle(ctx, "backfill", offset, runAge); err != nil {
			failCount++
			if firstErr == "" {
				firstErr = err.Error()
			}
			s.log.Warn("backfill target failed", "hours_back", hoursBack, "run_age", runAge, "offset", offset, "err", err)
		} else if done {
			okCount++
		} else {
			okCount++ // already cached counts as covered
		}

		if i < len(backfillHoursBack)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backfillSleep):
			}
		}
	}

	st := FetchStatus{
		Success:      failCount == 0,
		Timestamp:    s.now().UTC().Format(time.RFC3339),
		Error:        firstErr,
		SuccessCount: okCount,
		FailureCount: failCount,
	}
	s.setStatus(ctx, st)
	s.log.Info("backfill finished", "ok", okCount, "failed", failCount)
	return nil
}

// CheckLatest fetches the current run at offset 0 if it is not cached yet.
func (s *Scheduler) CheckLatest(ctx context.Context) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	_, err := s.fetchSingle(ctx, "latest", 0, 0)
	st := FetchStatus{
		Success:   err == nil,
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		st.Error = err.Error()
		st.FailureCount = 1
	} else {
		st.SuccessCount = 1
	}
	s.setStatus(ctx, st)
	return err
}

// selectTarget resolves a desired hours-back to the freshest run that covers
// it with a non-negative 3-hourly forecast offset of at most 24 h. There is
// deliberately no fallback past a 24 h old run.
func selectTarget(hoursBack int) (runAge, offset int, ok bool) {
	for _, age := range candidateRunAges {
		off := age - hoursBack
		if off >= 0 && off <= 24 && off%3 == 0 {
			return age, off, true
		}
	}
	return 0, 0, false
}

// fetchSingle runs one pipeline pass for a (offset, runAge) target. The
// returned bool is false when the target was already cached. Idempotence is
// enforced here against the indices list, not in the store.
func (s *Scheduler) fetchSingle(ctx context.Context, mode string, offset, runAge int) (bool, error) {
	run := opendap.SelectRun(s.now(), runAge)
	hoursBack := runAge - offset
	dataTime := s.now().Add(-time.Duration(hoursBack) * time.Hour)
	isLatest := runAge == 0 && offset == 0

	cached, err := s.hasPair(ctx, run.Name(), offset)
	if err != nil {
		observability.ObserveFetch(mode, "failed")
		return false, err
	}
	if cached {
		observability.ObserveFetch(mode, "skipped")
		s.log.Debug("target already cached", "run", run.Name(), "offset", offset)
		return false, nil
	}

	grid, err := s.fetcher.FetchWind(ctx, run, offset, s.bounds.LatMin, s.bounds.LatMax, s.bounds.LonMin, s.bounds.LonMax)
	if err != nil {
		observability.ObserveFetch(mode, "failed")
		return false, fmt.Errorf("fetch wind %s f+%d: %w", run.Name(), offset, err)
	}

	info := windgrid.RunInfo{
		RunName:        run.Name(),
		ForecastOffset: offset,
		RunAge:         runAge,
		DataTime:       dataTime,
		FetchedAt:      s.now(),
	}
	payload, err := windgrid.BuildWindPayload(grid, info, s.bounds, s.region)
	if err != nil {
		observability.ObserveFetch(mode, "failed")
		return false, err
	}
	idx, err := s.store.SetVersioned(ctx, KeyWindPoints, payload, isLatest)
	if err != nil {
		observability.ObserveFetch(mode, "failed")
		return false, fmt.Errorf("store wind points: %w", err)
	}

	// the PNG is a best-effort companion: an encoder failure leaves the
	// point payload in place and the facade answers 404 for the raster
	if png, meta, encErr := windgrid.EncodePNG(grid, info); encErr != nil {
		s.log.Warn("png encode failed", "run", run.Name(), "err", encErr)
	} else {
		if err := s.store.SetBinaryVersioned(ctx, KeyWindPNG, png, idx, isLatest); err != nil {
			observability.ObserveFetch(mode, "failed")
			return false, fmt.Errorf("store wind png: %w", err)
		}
		if err := s.store.SetJSONByIndex(ctx, KeyWindMetadata, idx, meta); err != nil {
			observability.ObserveFetch(mode, "failed")
			return false, fmt.Errorf("store wind metadata: %w", err)
		}
		if isLatest {
			if err := s.store.SetJSON(ctx, KeyWindMetadata, meta); err != nil {
				observability.ObserveFetch(mode, "failed")
				return false, fmt.Errorf("store wind metadata latest: %w", err)
			}
		}
	}

	s.fetchPrecip(ctx, run, info, isLatest)

	if isLatest {
		s.notifier.Publish(notify.Event{
			BaseKey:        KeyWindPoints,
			Index:          idx,
			RunName:        run.Name(),
			ForecastOffset: offset,
			DataTime:       payload.DataTime,
		})
	}

	observability.ObserveFetch(mode, "ok")
	s.log.Info("stored wind artifacts", "run", run.Name(), "offset", offset, "index", idx, "points", len(payload.Points))
	return true, nil
}

// fetchPrecip is independent of the wind path: the wind artifact is the
// primary value, so precipitation errors are logged and swallowed.
func (s *Scheduler) fetchPrecip(ctx context.Context, run opendap.Run, info windgrid.RunInfo, isLatest bool) {
	grid, err := s.fetcher.FetchPrecip(ctx, run, info.ForecastOffset, s.bounds.LatMin, s.bounds.LatMax, s.bounds.LonMin, s.bounds.LonMax)
	if err != nil {
		s.log.Warn("fetch precip failed", "run", run.Name(), "offset", info.ForecastOffset, "err", err)
		return
	}
	payload, err := windgrid.BuildPrecipPayload(grid, info, s.bounds, s.region)
	if err != nil {
		s.log.Warn("precip payload failed", "run", run.Name(), "err", err)
		return
	}
	pidx, err := s.store.SetVersioned(ctx, KeyPrecipPoints, payload, isLatest)
	if err != nil {
		s.log.Warn("store precip failed", "run", run.Name(), "err", err)
		return
	}
	s.log.Info("stored precipitation artifact", "run", run.Name(), "index", pidx, "points", len(payload.Points))
}

// hasPair reports whether a (run, offset) pair already has a wind entry.
func (s *Scheduler) hasPair(ctx context.Context, runName string, offset int) (bool, error) {
	entries, err := s.store.ListIndices(ctx, KeyWindPoints)
	if err != nil {
		return false, fmt.Errorf("list indices: %w", err)
	}
	for _, e := range entries {
		if e.RunName == runName && e.ForecastOffset == offset {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scheduler) setStatus(ctx context.Context, st FetchStatus) {
	s.mu.Lock()
	s.lastFetch = st
	s.mu.Unlock()

	if err := s.store.SetJSON(ctx, KeyWindLastUpdate, st); err != nil {
		s.log.Warn("write last_update failed", "err", err)
	}
}
