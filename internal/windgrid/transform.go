package windgrid

import (
	"errors"
	"math"
	"time"

	"github.com/ctaque/weather-app-challenge-sub001/internal/opendap"
)

const (
	// Source names the upstream dataset in serialized payloads.
	Source = "NOAA GFS 0.5deg"
	// Resolution of the upstream grid in degrees.
	Resolution = 0.5
)

// BuildWindPayload derives per-point wind records from a parsed grid.
// Direction stays in the math convention of the vector (atan2(v,u) in
// degrees); the meteorological reading is carried alongside.
func BuildWindPayload(g *opendap.Grid, run RunInfo, bounds Bounds, region string) (*WindPayload, error) {
	if g.U == nil || g.V == nil {
		return nil, errors.New("windgrid: grid is missing u/v components")
	}

	width := g.Width()
	points := make([]PointRecord, 0, len(g.U))
	for row := range g.Lats {
		for col := range g.Lons {
			i := row*width + col
			u, v := g.U[i], g.V[i]
			dir := math.Atan2(v, u) * 180 / math.Pi
			points = append(points, PointRecord{
				Lat:           round(g.Lats[row], 2),
				Lon:           round(g.Lons[col], 2),
				U:             round(u, 2),
				V:             round(v, 2),
				Speed:         round(math.Hypot(u, v), 1),
				Direction:     round(dir, 0),
				DirectionFrom: round(math.Mod(270-dir+720, 360), 0),
			})
		}
	}

	return &WindPayload{
		Timestamp:      run.FetchedAt.UTC().Format(time.RFC3339),
		RunName:        run.RunName,
		ForecastOffset: run.ForecastOffset,
		RunAge:         run.RunAge,
		DataTime:       run.DataTime.UTC().Format(time.RFC3339),
		HoursBack:      run.HoursBack(),
		Source:         Source,
		Resolution:     Resolution,
		Bounds:         bounds,
		Points:         points,
		Region:         region,
	}, nil
}

// BuildPrecipPayload derives per-point precipitation records. Upstream
// apcpsfc is kg/m^2 accumulated over 3 h, which is numerically mm per 3 h.
func BuildPrecipPayload(g *opendap.Grid, run RunInfo, bounds Bounds, region string) (*PrecipitationPayload, error) {
	if g.Precip == nil {
		return nil, errors.New("windgrid: grid is missing precipitation")
	}

	width := g.Width()
	points := make([]PrecipPoint, 0, len(g.Precip))
	for row := range g.Lats {
		for col := range g.Lons {
			points = append(points, PrecipPoint{
				Lat:    round(g.Lats[row], 2),
				Lon:    round(g.Lons[col], 2),
				Precip: round(g.Precip[row*width+col], 2),
			})
		}
	}

	return &PrecipitationPayload{
		Timestamp:      run.FetchedAt.UTC().Format(time.RFC3339),
		RunName:        run.RunName,
		ForecastOffset: run.ForecastOffset,
		RunAge:         run.RunAge,
		DataTime:       run.DataTime.UTC().Format(time.RFC3339),
		HoursBack:      run.HoursBack(),
		Source:         Source,
		Resolution:     Resolution,
		Unit:           "mm/3h",
		Bounds:         bounds,
		Points:         points,
		Region:         region,
	}, nil
}

func round(f float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(f*pow) / pow
}
