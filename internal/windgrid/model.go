// Package windgrid turns decoded forecast grids into the artifacts served to
// the map frontend: per-point JSON payloads and an RGBA-encoded wind raster.
package windgrid

import (
	"time"

	"github.com/ctaque/weather-app-challenge-sub001/internal/cache/artifactstore"
)

type Bounds struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
}

// PointRecord is one wind sample with derived quantities. Direction is the
// math angle of the (u, v) vector in degrees; DirectionFrom is the
// meteorological reading (direction the wind blows from, clockwise from
// north).
type PointRecord struct {
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	U             float64 `json:"u"`
	V             float64 `json:"v"`
	Speed         float64 `json:"speed"`
	Direction     float64 `json:"direction"`
	DirectionFrom float64 `json:"direction_from"`
	Gusts         float64 `json:"gusts"` // reserved, always 0
}

type PrecipPoint struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Precip float64 `json:"precip"` // mm per 3 h
}

// RunInfo carries the identity and timing of the upstream dataset slice a
// payload was built from.
type RunInfo struct {
	RunName        string
	ForecastOffset int // hours, multiple of 3
	RunAge         int // hours since the cycle boundary
	DataTime       time.Time
	FetchedAt      time.Time
}

// HoursBack is how far before "now" the payload's data time lies.
func (r RunInfo) HoursBack() int { return r.RunAge - r.ForecastOffset }

type WindPayload struct {
	Timestamp      string        `json:"timestamp"`
	RunName        string        `json:"run_name"`
	ForecastOffset int           `json:"forecast_offset"`
	RunAge         int           `json:"run_age"`
	DataTime       string        `json:"data_time"`
	HoursBack      int           `json:"hours_back"`
	Source         string        `json:"source"`
	Resolution     float64       `json:"resolution"`
	Bounds         Bounds        `json:"bounds"`
	Points         []PointRecord `json:"points"`
	Region         string        `json:"region"`
}

type PrecipitationPayload struct {
	Timestamp      string        `json:"timestamp"`
	RunName        string        `json:"run_name"`
	ForecastOffset int           `json:"forecast_offset"`
	RunAge         int           `json:"run_age"`
	DataTime       string        `json:"data_time"`
	HoursBack      int           `json:"hours_back"`
	Source         string        `json:"source"`
	Resolution     float64       `json:"resolution"`
	Unit           string        `json:"unit"`
	Bounds         Bounds        `json:"bounds"`
	Points         []PrecipPoint `json:"points"`
	Region         string        `json:"region"`
}

// Metadata describes the PNG raster so consumers can denormalize channel
// values back to m/s. Field spelling follows the windgl convention.
type Metadata struct {
	Source   string  `json:"source"`
	Date     string  `json:"date"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	UMin     float64 `json:"uMin"`
	UMax     float64 `json:"uMax"`
	VMin     float64 `json:"vMin"`
	VMax     float64 `json:"vMax"`
	RowOrder string  `json:"rowOrder"` // rows follow lat_values order (south to north)
}

func (p *WindPayload) IndexEntry() artifactstore.EntryInfo {
	return artifactstore.EntryInfo{
		Timestamp:      p.Timestamp,
		DataTime:       p.DataTime,
		RunName:        p.RunName,
		ForecastOffset: p.ForecastOffset,
		RunAge:         p.RunAge,
		HoursBack:      p.HoursBack,
		DataPoints:     len(p.Points),
	}
}

func (p *PrecipitationPayload) IndexEntry() artifactstore.EntryInfo {
	return artifactstore.EntryInfo{
		Timestamp:      p.Timestamp,
		DataTime:       p.DataTime,
		RunName:        p.RunName,
		ForecastOffset: p.ForecastOffset,
		RunAge:         p.RunAge,
		HoursBack:      p.HoursBack,
		DataPoints:     len(p.Points),
	}
}
