package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Readiness reports whether the service can serve artifacts; in practice that
// means Redis answers. The check runs with a short deadline so a hung backend
// turns into a 503, not a stuck probe.
func Readiness(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string `json:"status"`
			Reason string `json:"reason,omitempty"`
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		out := resp{Status: "ready"}
		w.Header().Set("Content-Type", "application/json")
		if err := check(ctx); err != nil {
			out.Status = "not_ready"
			out.Reason = err.Error()
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
