package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iamshubha/poly-copytrade-sub000/internal/store"
)

// NewRouter builds the full mux.Router: the write-user-intent endpoints
// plus the ambient /healthz and /metrics surfaces.
func NewRouter(st store.Store, log zerolog.Logger) *mux.Router {
	h := NewHandler(st, log)
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/leaders", h.ListLeaders).Methods(http.MethodGet)
	r.HandleFunc("/follows", h.CreateFollow).Methods(http.MethodPost)
	r.HandleFunc("/follows/{id}", h.DeleteFollow).Methods(http.MethodDelete)
	r.HandleFunc("/followers/{address}/auto-copy", h.SetAutoCopy).Methods(http.MethodPut)

	r.Use(loggingMiddleware(log))
	return r
}

// loggingMiddleware logs every request's method and path via zerolog's
// structured API.
func loggingMiddleware(log zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("http request")
			next.ServeHTTP(w, r)
		})
	}
}
