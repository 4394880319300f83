package windgrid

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"math"
	"time"

	"github.com/ctaque/weather-app-challenge-sub001/internal/opendap"
)

// EncodePNG normalizes the u/v fields into the red and green channels of an
// 8-bit RGBA raster, one pixel per grid sample in row-major order (row 0 at
// the first latitude of the grid, no vertical flip). Consumers recover
// component values with u = uMin + R/255*(uMax-uMin).
func EncodePNG(g *opendap.Grid, run RunInfo) ([]byte, *Metadata, error) {
	if g.U == nil || g.V == nil {
		return nil, nil, errors.New("windgrid: grid is missing u/v components")
	}

	width, height := g.Width(), g.Height()
	uMin, uMax := minMax(g.U)
	vMin, vMax := minMax(g.V)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			o := img.PixOffset(x, y)
			img.Pix[o+0] = normalize(g.U[i], uMin, uMax)
			img.Pix[o+1] = normalize(g.V[i], vMin, vMax)
			img.Pix[o+2] = 0
			img.Pix[o+3] = 255
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, nil, err
	}

	meta := &Metadata{
		Source:   Source,
		Date:     run.DataTime.UTC().Format(time.RFC3339),
		Width:    width,
		Height:   height,
		UMin:     uMin,
		UMax:     uMax,
		VMin:     vMin,
		VMax:     vMax,
		RowOrder: "latAscending",
	}
	return buf.Bytes(), meta, nil
}

// normalize maps v into 0..255 over [min, max]. A degenerate range encodes
// as 0 and the consumer treats the field as constant at min.
func normalize(v, min, max float64) uint8 {
	if max == min {
		return 0
	}
	n := math.Round(255 * (v - min) / (max - min))
	if n < 0 {
		n = 0
	} else if n > 255 {
		n = 255
	}
	return uint8(n)
}

func minMax(s []float64) (float64, float64) {
	lo, hi := s[0], s[0]
	for _, v := range s[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
