// Package artifactstore keeps versioned pipeline artifacts in Redis,
// transparently chunking values that exceed the per-request size cap.
package artifactstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/ctaque/weather-app-challenge-sub001/internal/cache/redisstore"
)

const (
	// DefaultTTL applies to every key the store writes. Data older than an
	// hour is stale for the frontend anyway.
	DefaultTTL = time.Hour
	// DefaultMaxValueBytes matches common hosted-Redis request caps.
	DefaultMaxValueBytes = 8 << 20
	// DefaultMaxHistory bounds the indices list per base key.
	DefaultMaxHistory = 20
)

// ErrValueTooLarge is returned for oversized values that are neither arrays
// nor objects with a points array to split out.
var ErrValueTooLarge = errors.New("artifactstore: value too large to chunk")

// EntryInfo is what a payload contributes to its index entry.
type EntryInfo struct {
	Timestamp      string
	DataTime       string
	RunName        string
	ForecastOffset int
	RunAge         int
	HoursBack      int
	DataPoints     int
}

// Indexable is implemented by payloads stored under versioned keys.
type Indexable interface {
	IndexEntry() EntryInfo
}

// IndexEntry is one element of the indices list tracked alongside a base key.
type IndexEntry struct {
	Index          int    `json:"index"`
	Timestamp      string `json:"timestamp"`
	DataPoints     int    `json:"data_points"`
	RunName        string `json:"run_name"`
	DataTime       string `json:"data_time"`
	HoursBack      int    `json:"hours_back"`
	ForecastOffset int    `json:"forecast_offset"`
	RunAge         int    `json:"run_age"`
}

type Store struct {
	cli        *redisstore.Client
	ttl        time.Duration
	maxValue   int
	maxHistory int
	log        *slog.Logger
}

type Option func(*Store)

func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

func WithMaxValueBytes(n int) Option {
	return func(s *Store) { s.maxValue = n }
}

func WithMaxHistory(n int) Option {
	return func(s *Store) { s.maxHistory = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

func New(cli *redisstore.Client, opts ...Option) *Store {
	s := &Store{
		cli:        cli,
		ttl:        DefaultTTL,
		maxValue:   DefaultMaxValueBytes,
		maxHistory: DefaultMaxHistory,
		log:        slog.Default(),
	}
	for _, f := range opts {
		f(s)
	}
	return s
}

// SetJSON serializes v and stores it at key, chunking when the serialized
// form exceeds the size cap.
func (s *Store) SetJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("artifactstore marshal %q: %w", key, err)
	}
	return s.setRaw(ctx, key, raw)
}

func (s *Store) setRaw(ctx context.Context, key string, raw []byte) error {
	if len(raw) <= s.maxValue {
		if err := s.cli.Set(ctx, key, raw, s.ttl); err != nil {
			return err
		}
		// a small rewrite of a previously chunked key must not leave stale
		// chunk markers behind
		return s.cli.Del(ctx, chunksKey(key), metaKey(key))
	}

	switch raw[0] {
	case '[':
		return s.writeChunked(ctx, key, raw)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("artifactstore split %q: %w", key, err)
		}
		points, ok := obj["points"]
		if !ok {
			return ErrValueTooLarge
		}
		delete(obj, "points")
		meta, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("artifactstore marshal meta %q: %w", key, err)
		}
		if err := s.cli.Set(ctx, metaKey(key), meta, s.ttl); err != nil {
			return err
		}
		return s.writeChunked(ctx, key, points)
	default:
		return ErrValueTooLarge
	}
}

// writeChunked splits raw into roughly equal contiguous byte ranges. The
// chunk-count marker goes last so a concurrent reader never sees the marker
// before the chunks exist.
func (s *Store) writeChunked(ctx context.Context, key string, raw []byte) error {
	n := (len(raw) + s.maxValue - 1) / s.maxValue
	size := (len(raw) + n - 1) / n
	for i := 0; i < n; i++ {
		lo := i * size
		hi := lo + size
		if hi > len(raw) {
			hi = len(raw)
		}
		if err := s.cli.Set(ctx, chunkKey(key, i), raw[lo:hi], s.ttl); err != nil {
			return err
		}
	}
	return s.cli.Set(ctx, chunksKey(key), []byte(strconv.Itoa(n)), s.ttl)
}

// GetJSON reads key back, reassembling chunked values. Missing keys return
// (nil, nil).
func (s *Store) GetJSON(ctx context.Context, key string) (json.RawMessage, error) {
	marker, err := s.cli.Get(ctx, chunksKey(key))
	if err != nil {
		return nil, err
	}
	if marker == nil {
		return s.cli.Get(ctx, key)
	}

	n, err := strconv.Atoi(string(marker))
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("artifactstore: bad chunk marker %q for %q", marker, key)
	}

	var joined []byte
	for i := 0; i < n; i++ {
		part, err := s.cli.Get(ctx, chunkKey(key, i))
		if err != nil {
			return nil, err
		}
		if part == nil {
			// a chunk expired under us; treat the whole value as gone
			return nil, nil
		}
		joined = append(joined, part...)
	}

	meta, err := s.cli.Get(ctx, metaKey(key))
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return joined, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(meta, &obj); err != nil {
		return nil, fmt.Errorf("artifactstore: bad meta for %q: %w", key, err)
	}
	obj["points"] = joined
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("artifactstore: reassemble %q: %w", key, err)
	}
	return out, nil
}

// SetBinary stores a raw buffer base64-encoded.
func (s *Store) SetBinary(ctx context.Context, key string, buf []byte) error {
	enc := base64.StdEncoding.EncodeToString(buf)
	return s.cli.Set(ctx, key, []byte(enc), s.ttl)
}

// GetBinary reads and decodes a binary value. Missing keys return (nil, nil).
func (s *Store) GetBinary(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.cli.Get(ctx, key)
	if err != nil || raw == nil {
		return nil, err
	}
	dec, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("artifactstore: decode binary %q: %w", key, err)
	}
	return dec, nil
}

// SetVersioned stores v at the next integer index under baseKey, appends an
// index entry, evicts history beyond the bound, and optionally refreshes the
// latest alias at baseKey itself. Returns the assigned index.
//
// The caller is the single writer per base key; the read-modify-write on the
// counter and indices list is not guarded against concurrent writers.
func (s *Store) SetVersioned(ctx context.Context, baseKey string, v Indexable, writeLatest bool) (int, error) {
	idx, err := s.currentIndex(ctx, baseKey)
	if err != nil {
		return 0, err
	}
	entries, err := s.readIndices(ctx, baseKey)
	if err != nil {
		return 0, err
	}

	if err := s.SetJSON(ctx, indexedKey(baseKey, idx), v); err != nil {
		return 0, err
	}

	info := v.IndexEntry()
	entries = append(entries, IndexEntry{
		Index:          idx,
		Timestamp:      info.Timestamp,
		DataPoints:     info.DataPoints,
		RunName:        info.RunName,
		DataTime:       info.DataTime,
		HoursBack:      info.HoursBack,
		ForecastOffset: info.ForecastOffset,
		RunAge:         info.RunAge,
	})

	if len(entries) > s.maxHistory {
		evicted := entries[:len(entries)-s.maxHistory]
		entries = entries[len(entries)-s.maxHistory:]
		for _, e := range evicted {
			if err := s.evict(ctx, baseKey, e); err != nil {
				s.log.Warn("evict failed", "base", baseKey, "index", e.Index, "err", err)
			}
		}
	}

	rawList, err := json.Marshal(entries)
	if err != nil {
		return 0, fmt.Errorf("artifactstore marshal indices %q: %w", baseKey, err)
	}
	if err := s.cli.Set(ctx, indicesKey(baseKey), rawList, s.ttl); err != nil {
		return 0, err
	}
	next := strconv.Itoa(idx + 1)
	if err := s.cli.Set(ctx, currentIndexKey(baseKey), []byte(next), s.ttl); err != nil {
		return 0, err
	}

	if writeLatest {
		if err := s.SetJSON(ctx, baseKey, v); err != nil {
			return 0, err
		}
	}
	return idx, nil
}

// SetBinaryVersioned writes both the indexed copy and the latest alias.
func (s *Store) SetBinaryVersioned(ctx context.Context, baseKey string, buf []byte, index int, writeLatest bool) error {
	if err := s.SetBinary(ctx, indexedKey(baseKey, index), buf); err != nil {
		return err
	}
	if writeLatest {
		return s.SetBinary(ctx, baseKey, buf)
	}
	return nil
}

// SetJSONByIndex stores v at one integer index without touching the indices
// list; used for side artifacts (metadata) that ride along a versioned write.
func (s *Store) SetJSONByIndex(ctx context.Context, baseKey string, index int, v any) error {
	return s.SetJSON(ctx, indexedKey(baseKey, index), v)
}

// GetJSONByIndex reads the payload stored at one integer index.
func (s *Store) GetJSONByIndex(ctx context.Context, baseKey string, index int) (json.RawMessage, error) {
	return s.GetJSON(ctx, indexedKey(baseKey, index))
}

// GetBinaryByIndex reads the binary stored at one integer index.
func (s *Store) GetBinaryByIndex(ctx context.Context, baseKey string, index int) ([]byte, error) {
	return s.GetBinary(ctx, indexedKey(baseKey, index))
}

// ListIndices returns the history entries sorted by data time, most recent
// first. The sort order is part of the read contract.
func (s *Store) ListIndices(ctx context.Context, baseKey string) ([]IndexEntry, error) {
	entries, err := s.readIndices(ctx, baseKey)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		ti, ei := time.Parse(time.RFC3339, entries[i].DataTime)
		tj, ej := time.Parse(time.RFC3339, entries[j].DataTime)
		if ei != nil || ej != nil {
			return entries[i].DataTime > entries[j].DataTime
		}
		return ti.After(tj)
	})
	return entries, nil
}

func (s *Store) currentIndex(ctx context.Context, baseKey string) (int, error) {
	raw, err := s.cli.Get(ctx, currentIndexKey(baseKey))
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("artifactstore: bad counter for %q: %w", baseKey, err)
	}
	return n, nil
}

// readIndices returns entries in insertion order (oldest first).
func (s *Store) readIndices(ctx context.Context, baseKey string) ([]IndexEntry, error) {
	raw, err := s.cli.Get(ctx, indicesKey(baseKey))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var entries []IndexEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("artifactstore: bad indices for %q: %w", baseKey, err)
	}
	return entries, nil
}

// evict drops the storage behind one retired index entry, including chunked
// remains. The freed integer is never reused.
func (s *Store) evict(ctx context.Context, baseKey string, e IndexEntry) error {
	key := indexedKey(baseKey, e.Index)
	del := []string{key, metaKey(key)}

	marker, err := s.cli.Get(ctx, chunksKey(key))
	if err != nil {
		return err
	}
	if marker != nil {
		if n, err := strconv.Atoi(string(marker)); err == nil {
			for j := 0; j < n; j++ {
				del = append(del, chunkKey(key, j))
			}
		}
		del = append(del, chunksKey(key))
	}
	return s.cli.Del(ctx, del...)
}
