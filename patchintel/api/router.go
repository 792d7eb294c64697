package api

import (
	"net/http"
	"strconv"

	"github.com/SiriusScan/patch-intel/patchintel/metrics"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the routed API. Every route is registered on one router so
// unknown paths and wrong methods both get JSON errors.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc(apiPrefix+"/patches", s.handleListPatches).Methods(http.MethodGet)
	// search is registered before {id} so it is not taken for an id.
	r.HandleFunc(apiPrefix+"/patches/search", s.handleSearchPatches).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/patches/{id}", s.handleGetPatch).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/runs", s.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/runs/latest", s.handleLatestRun).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/runs/{id}", s.handleGetRun).Methods(http.MethodGet)

	return instrument(r)
}

const (
	apiPrefix = "/api/v1"
	// unmatchedRoute labels requests that hit no route or the wrong method.
	unmatchedRoute = "unmatched"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts every request, including 404 and 405 responses, by route
// template and status code.
func instrument(router *mux.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := unmatchedRoute
		var match mux.RouteMatch
		if router.Match(r, &match) && match.MatchErr == nil && match.Route != nil {
			if tpl, err := match.Route.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		router.ServeHTTP(rec, r)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
