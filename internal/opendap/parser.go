package opendap

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Grid is a rectangular lat/lon sample of one forecast time. Data slices are
// row-major over (lat, lon); U, V and Precip are nil when the corresponding
// variable was absent from the payload.
type Grid struct {
	Lats   []float64
	Lons   []float64
	U      []float64
	V      []float64
	Precip []float64
}

func (g *Grid) Width() int  { return len(g.Lons) }
func (g *Grid) Height() int { return len(g.Lats) }

// variables we know how to place; anything else puts the parser in skip mode
// until the next recognized header.
var knownVars = map[string]bool{
	"lat":     true,
	"lon":     true,
	"ugrd10m": true,
	"vgrd10m": true,
	"apcpsfc": true,
}

var rowPrefix = regexp.MustCompile(`^(\[\d+\])+\s*,?\s*`)

// Parse decodes an OpenDAP .ascii payload into a Grid.
//
// The format is line oriented: a section opens with "VARNAME," or "VARNAME["
// and is followed by data lines of comma/space separated floats. 3-D rows
// carry a bracketed index prefix like "[0][12],". OpenDAP repeats the lat and
// lon declarations after the gridded variables; only the first occurrence of
// each variable is kept.
func Parse(text string) (*Grid, error) {
	g := &Grid{}
	targets := map[string]*[]float64{
		"lat":     &g.Lats,
		"lon":     &g.Lons,
		"ugrd10m": &g.U,
		"vgrd10m": &g.V,
		"apcpsfc": &g.Precip,
	}

	seen := map[string]bool{}
	var current string
	skip := true

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if name, ok := headerName(line); ok {
			// a letter-prefixed identifier always closes the prior section,
			// even mid-row
			if !knownVars[name] || seen[name] {
				current, skip = "", true
				continue
			}
			seen[name] = true
			current, skip = name, false
			continue
		}

		if skip || current == "" {
			continue
		}

		data := rowPrefix.ReplaceAllString(line, "")
		dst := targets[current]
		for _, tok := range splitTokens(data) {
			f, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, &ParseError{Reason: "bad float " + strconv.Quote(tok) + " in " + current}
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, &ParseError{Reason: "non-finite value in " + current}
			}
			*dst = append(*dst, f)
		}
	}

	return g, validate(g)
}

func validate(g *Grid) error {
	if len(g.Lats) == 0 || len(g.Lons) == 0 {
		return &ParseError{Reason: "no data"}
	}
	if g.U == nil && g.V == nil && g.Precip == nil {
		return &ParseError{Reason: "no data"}
	}
	want := len(g.Lats) * len(g.Lons)
	for name, s := range map[string][]float64{"ugrd10m": g.U, "vgrd10m": g.V, "apcpsfc": g.Precip} {
		if s != nil && len(s) != want {
			return &ParseError{Reason: name + " has " + strconv.Itoa(len(s)) +
				" samples, want " + strconv.Itoa(want)}
		}
	}
	return nil
}

// headerName reports whether the line opens a variable section and, if so,
// the (lower-cased) variable name.
func headerName(line string) (string, bool) {
	c := line[0]
	if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
		return "", false
	}
	end := strings.IndexAny(line, ",[ \t")
	if end < 0 {
		end = len(line)
	}
	name := strings.ToLower(line[:end])
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return "", false
		}
	}
	return name, true
}

func splitTokens(s string) []string {
	raw := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	return raw
}
