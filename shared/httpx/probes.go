package httpx

import (
	"context"
	"net/http"

	"jobportal-admin/shared/metricsx"
)

type StatusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

// Check is a dependency probe run by /readyz.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// ProbeMux serves /healthz, /readyz and /metrics. Readiness fails while
// problems is non-empty or any check fails.
func ProbeMux[P any](info StatusResponse, problems []P, checks ...Check) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ok := info
		ok.Status = "ok"
		WriteJSON(w, http.StatusOK, ok)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(problems) > 0 {
			WriteError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
				"service not ready: invalid configuration",
				map[string]any{"problems": problems},
			)
			return
		}
		for _, c := range checks {
			if c.Ping == nil {
				continue
			}
			if err := c.Ping(r.Context()); err != nil {
				WriteError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
					"service not ready: "+c.Name+" unavailable",
					map[string]any{"problem": c.Name + "_ping_failed"},
				)
				return
			}
		}
		ready := info
		ready.Status = "ready"
		WriteJSON(w, http.StatusOK, ready)
	})
	mux.Handle("GET /metrics", metricsx.Handler())
	return mux
}
