package opendap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// asciiWind renders an upstream-shaped .ascii body for one longitude slice.
// The u value of every sample equals its longitude in the 0..360 convention,
// which makes merge ordering checkable; v is the negated latitude.
func asciiWind(lats []float64, lonStart, lonCount int) string {
	var sb strings.Builder
	lons := make([]float64, lonCount)
	for i := range lons {
		lons[i] = float64(lonStart+i) * 0.5
	}

	writeVar := func(name string, val func(lat, lon float64) float64) {
		fmt.Fprintf(&sb, "%s, [1][%d][%d]\n", name, len(lats), lonCount)
		for r, lat := range lats {
			fmt.Fprintf(&sb, "[0][%d],", r)
			for _, lon := range lons {
				fmt.Fprintf(&sb, " %g,", val(lat, lon))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	writeVar("ugrd10m", func(_, lon float64) float64 { return lon })
	writeVar("vgrd10m", func(lat, _ float64) float64 { return -lat })

	sb.WriteString(fmt.Sprintf("lat, [%d]\n", len(lats)))
	for _, lat := range lats {
		fmt.Fprintf(&sb, "%g, ", lat)
	}
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("lon, [%d]\n", lonCount))
	for _, lon := range lons {
		fmt.Fprintf(&sb, "%g, ", lon)
	}
	sb.WriteString("\n")
	return sb.String()
}

func TestFetchWind_WraparoundSplit(t *testing.T) {
	var queries []string
	lats := []float64{35.0, 35.5}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.RawQuery
		queries = append(queries, q)
		switch {
		case strings.Contains(q, "lon[700:1:719]"):
			fmt.Fprint(w, asciiWind(lats, 700, 20))
		case strings.Contains(q, "lon[0:1:90]"):
			fmt.Fprint(w, asciiWind(lats, 0, 91))
		default:
			t.Errorf("unexpected constraint %q", q)
			http.Error(w, "bad constraint", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), nil)
	run := Run{Date: "20260121", Cycle: 6}
	g, err := c.FetchWind(context.Background(), run, 3, 35, 35.5, -10, 45)
	if err != nil {
		t.Fatalf("FetchWind: %v", err)
	}

	if len(queries) != 2 {
		t.Fatalf("got %d upstream requests, want 2", len(queries))
	}
	if !strings.Contains(queries[0], "lon[700:1:719]") {
		t.Fatalf("first request %q should cover the western slice", queries[0])
	}
	if !strings.Contains(queries[1], "lon[0:1:90]") {
		t.Fatalf("second request %q should cover the eastern slice", queries[1])
	}
	// offset 3 h is time index 1; lat 35..35.5 is index 250..251
	if !strings.Contains(queries[0], "ugrd10m[1:1:1][250:1:251][700:1:719]") {
		t.Fatalf("wind constraint missing from %q", queries[0])
	}

	if g.Width() != 111 || g.Height() != 2 {
		t.Fatalf("merged grid is %dx%d, want 111x2", g.Width(), g.Height())
	}
	if g.Lons[0] != -10 || g.Lons[20] != 0 || g.Lons[110] != 45 {
		t.Fatalf("lon axis wrong: [0]=%v [20]=%v [110]=%v", g.Lons[0], g.Lons[20], g.Lons[110])
	}

	// u carries the upstream 0..360 longitude, so the merged rows must read
	// west slice then east slice for each latitude
	if g.U[0] != 350 || g.U[19] != 359.5 || g.U[20] != 0 || g.U[110] != 45 {
		t.Fatalf("row merge wrong: u[0]=%v u[19]=%v u[20]=%v u[110]=%v",
			g.U[0], g.U[19], g.U[20], g.U[110])
	}
	// second latitude row starts after the full merged width
	if g.U[111] != 350 || g.V[111] != -35.5 {
		t.Fatalf("second row wrong: u[111]=%v v[111]=%v", g.U[111], g.V[111])
	}
}

func TestFetchWind_EastOnlyRangeSingleRequest(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if !strings.Contains(r.URL.RawQuery, "lon[20:1:40]") {
			t.Errorf("unexpected constraint %q", r.URL.RawQuery)
		}
		fmt.Fprint(w, asciiWind([]float64{35.0}, 20, 21))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), nil)
	g, err := c.FetchWind(context.Background(), Run{Date: "20260121", Cycle: 0}, 0, 35, 35, 10, 20)
	if err != nil {
		t.Fatalf("FetchWind: %v", err)
	}
	if calls != 1 {
		t.Fatalf("got %d upstream requests, want 1", calls)
	}
	if g.Width() != 21 || g.Lons[0] != 10 {
		t.Fatalf("grid %dx%d lons[0]=%v, want 21 wide starting at 10", g.Width(), g.Height(), g.Lons[0])
	}
}

func TestFetchASCII_NotReadyErrorPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><b>"gfs20260121/gfs_0p50_18z" is not an available dataset</b></body></html>`)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), nil)
	_, err := c.FetchWind(context.Background(), Run{Date: "20260121", Cycle: 18}, 0, 35, 36, 0, 5)
	var nre *NotReadyError
	if !errors.As(err, &nre) {
		t.Fatalf("err = %v, want NotReadyError", err)
	}
	if !strings.Contains(nre.Message, "is not an available dataset") {
		t.Fatalf("message %q not extracted from error page", nre.Message)
	}
}

func TestFetchASCII_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), nil)
	_, err := c.FetchPrecip(context.Background(), Run{Date: "20260121", Cycle: 0}, 0, 35, 36, 0, 5)
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("err = %v, want HTTPError", err)
	}
	if he.Status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", he.Status)
	}
}

func TestDatasetURL(t *testing.T) {
	c := New("https://example.test/dods/gfs_0p50", nil, nil)
	got := c.DatasetURL(Run{Date: "20260121", Cycle: 6})
	want := "https://example.test/dods/gfs_0p50/gfs20260121/gfs_0p50_06z"
	if got != want {
		t.Fatalf("DatasetURL = %q, want %q", got, want)
	}
}
