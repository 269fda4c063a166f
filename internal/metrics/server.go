package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports component health. Components maps a component name to a
// printable status; healthy=false turns the response into a 503.
type HealthFunc func() (healthy bool, components map[string]any)

// Handler returns a mux serving metrics at path and health at /health.
func Handler(gatherer prometheus.Gatherer, path string, health HealthFunc) http.Handler {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		resp := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components,omitempty"`
		}{Status: "healthy"}

		healthy := true
		if health != nil {
			healthy, resp.Components = health()
		}
		if !healthy {
			resp.Status = "unhealthy"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(resp)
	})

	return mux
}
