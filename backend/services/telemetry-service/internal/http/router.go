package httpserver

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aquaflow/backend/services/telemetry-service/internal/http/handlers"
	"aquaflow/backend/services/telemetry-service/internal/http/middleware"
)

// Routes defines HTTP endpoints.
type Routes struct {
	Ingest  http.Handler
	Stream  http.Handler
	Query   *handlers.QueryHandlers
	Health  http.Handler
	Metrics *prometheus.Registry
	// APIAuth guards /api routes when set.
	APIAuth func(http.Handler) http.Handler
}

// NewRouter sets up HTTP routing.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.Ingest != nil {
		mux.Handle("/ingest", methods([]string{http.MethodGet, http.MethodPost}, routes.Ingest))
	}
	if routes.Stream != nil {
		mux.Handle("/ingest/ws", method(http.MethodGet, routes.Stream))
	}
	if routes.Query != nil {
		api := func(h http.HandlerFunc) http.Handler {
			if routes.APIAuth == nil {
				return h
			}
			return middleware.Chain(h, routes.APIAuth)
		}
		mux.Handle("/api/devices", method(http.MethodGet, api(routes.Query.Devices)))
		mux.Handle("/api/devices/", method(http.MethodGet, api(routes.Query.Device)))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", method(http.MethodGet, promhttp.HandlerFor(routes.Metrics, promhttp.HandlerOpts{Registry: routes.Metrics})))
	}
	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return methods([]string{expected}, handler)
}

func methods(allowed []string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, m := range allowed {
			if r.Method == m {
				handler.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}
