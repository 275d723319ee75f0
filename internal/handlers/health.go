package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/authgate/apiserver/internal/httpx"
)

// Pinger is a dependency checked by Healthz.
type Pinger func(ctx context.Context) error

// Healthz reports 200 when every pinger succeeds and 503 otherwise.
func Healthz(pingers map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{}
		healthy := true
		for name, ping := range pingers {
			if err := ping(ctx); err != nil {
				status[name] = "down"
				healthy = false
				continue
			}
			status[name] = "ok"
		}

		if !healthy {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, httpx.Envelope{Success: false, Data: status, Error: "unhealthy"})
			return
		}
		httpx.OK(w, http.StatusOK, status)
	}
}
