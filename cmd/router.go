package main

import (
	"encoding/json"
	"net/http"

	"github.com/angeloszaimis/bookstore-proxy/internal/backend"
	"github.com/angeloszaimis/bookstore-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/bookstore-proxy/internal/handler"
)

func setupRouter(a *app) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/", handler.Tracing(a.proxy))
	mux.HandleFunc("GET /actuator/health", a.healthHandler)
	mux.HandleFunc("GET /actuator/routes", a.routesHandler)
	mux.HandleFunc("GET /actuator/metrics", a.collector.Handler())
	mux.Handle("GET /actuator/prometheus", a.collector.PrometheusHandler())

	return mux
}

type healthResponse struct {
	Status   string           `json:"status"`
	Backends []backend.Status `json:"backends"`
}

// healthHandler reports DOWN only when every known backend is unhealthy.
func (a *app) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "UP", Backends: []backend.Status{}}

	healthy := 0
	for _, b := range a.pool.All() {
		st := b.Status()
		if st.Healthy {
			healthy++
		}
		resp.Backends = append(resp.Backends, st)
	}

	code := http.StatusOK
	if len(resp.Backends) > 0 && healthy == 0 {
		resp.Status = "DOWN"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, resp)
}

type routeView struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Location    string `json:"location"`
	StripPrefix bool   `json:"strip_prefix"`
	Prefix      string `json:"prefix,omitempty"`
	Source      string `json:"source"`
}

type routesResponse struct {
	ContextPath string                          `json:"context_path,omitempty"`
	Routes      []routeView                     `json:"routes"`
	Breakers    map[string]circuitbreaker.State `json:"breakers,omitempty"`
}

func (a *app) routesHandler(w http.ResponseWriter, r *http.Request) {
	routes := a.table.Routes()

	resp := routesResponse{
		ContextPath: a.cfg.Server.ContextPath,
		Routes:      make([]routeView, 0, len(routes)),
	}
	for _, rt := range routes {
		resp.Routes = append(resp.Routes, routeView{
			ID:          rt.ID,
			Path:        rt.Path,
			Location:    rt.Location,
			StripPrefix: rt.StripPrefix,
			Prefix:      rt.Prefix,
			Source:      rt.Source,
		})
	}
	if a.breakers != nil {
		resp.Breakers = a.breakers.Stats()
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
