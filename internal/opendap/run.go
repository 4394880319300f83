package opendap

import (
	"fmt"
	"time"
)

// Run identifies one GFS forecast cycle.
type Run struct {
	Date  string // YYYYMMDD, UTC
	Cycle int    // 0, 6, 12 or 18
}

// Name renders the run in the form used as the payload identity,
// e.g. "20260121_06Z".
func (r Run) Name() string {
	return fmt.Sprintf("%s_%02dZ", r.Date, r.Cycle)
}

// SelectRun picks the cycle that was current runAge hours before now.
// Stepping back through time handles the date rollover for cycles that
// started yesterday.
func SelectRun(now time.Time, runAge int) Run {
	t := now.UTC().Add(-time.Duration(runAge) * time.Hour)
	return Run{
		Date:  t.Format("20060102"),
		Cycle: (t.Hour() / 6) * 6,
	}
}
