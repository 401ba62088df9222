// Package dummy is a fake platform for local runs and tests. It answers the
// endpoints the generators hit with small canned payloads, optional jitter
// and injected failures.
package dummy

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"usagegen/internal/logging"
)

// tileLODLimit is the deepest level the fake tile services have.
const tileLODLimit = 25

type ServerConfig struct {
	Port        int
	FailureRate float64       // share of requests answered 500 or 429
	MaxLatency  time.Duration // upper bound of the random delay per request
	Token       string        // required token; empty accepts any
	Username    string        // generateToken credentials; empty accepts any
	Password    string
	JobPolls    int // status polls before a job succeeds
}

type server struct {
	cfg ServerConfig

	mu    sync.Mutex
	jobs  map[string]int
	seq   int
	usage map[string]int64
}

// NewHandler builds the router.
func NewHandler(cfg ServerConfig) http.Handler {
	s := &server{cfg: cfg, jobs: map[string]int{}, usage: map[string]int64{}}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLog)

	r.Route("/sharing/rest", func(r chi.Router) {
		r.Post("/generateToken", s.generateToken)
		r.With(s.requireToken).Get("/portals/self", s.portalSelf)
		r.With(s.requireToken).Get("/portals/{orgID}/usage", s.portalUsage)
	})

	r.Route("/arcgis/rest/services", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Use(s.chaos)

		r.Get("/World/GeocodeServer/findAddressCandidates", s.findAddressCandidates)
		r.Get("/World/GeocodeServer/suggest", s.suggest)
		r.Get("/places-service/v1/places/near-point", s.nearPoint)
		r.Get("/places-service/v1/places/{placeID}", s.placeDetails)
		r.Get("/World/geoenrichmentserver/GeoEnrichment/enrich", s.enrich)
		r.Get("/World/geoenrichmentserver/GeoEnrichment/createReport", s.createReport)
		r.Get("/World/Route/NAServer/Route_World/solve", s.solve)
		r.Get("/World/VehicleRoutingProblemSync/GPServer/EditVehicleRoutingProblem/execute", s.solveVRP)
		r.Get("/{service}/FeatureServer/{layer}/query", s.featureQuery)

		r.Post("/tasks/GPServer/{task}/submitJob", s.submitJob)
		r.Get("/tasks/GPServer/{task}/jobs/{jobID}", s.jobStatus)
		r.Get("/tasks/GPServer/{task}/jobs/{jobID}/*", s.jobResult)

		r.Get("/*", s.tileOrStyle)
	})

	return r
}

// Start listens on cfg.Port and serves in the background.
func Start(cfg ServerConfig) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{
		Handler:           NewHandler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("dummy server stopped")
		}
	}()
	return srv, ln.Addr(), nil
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("dummy request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("write response")
	}
}

// writeRemoteError answers with the platform's 200-with-envelope style.
func writeRemoteError(w http.ResponseWriter, code int, message string, details ...string) {
	body := map[string]any{"code": code, "message": message}
	if len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, http.StatusOK, map[string]any{"error": body})
}

func (s *server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" && r.FormValue("token") != s.cfg.Token {
			if strings.Contains(r.URL.Path, "/tile/") {
				http.Error(w, "Invalid token.", 498)
				return
			}
			writeRemoteError(w, 498, "Invalid token.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// chaos delays and fails requests, and counts the survivors as usage.
func (s *server) chaos(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.MaxLatency > 0 {
			select {
			case <-time.After(rand.N(s.cfg.MaxLatency)):
			case <-r.Context().Done():
				return
			}
		}
		if s.cfg.FailureRate > 0 && rand.Float64() < s.cfg.FailureRate {
			if rand.IntN(2) == 0 {
				http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
			} else {
				http.Error(w, "429 Too Many Requests", http.StatusTooManyRequests)
			}
			return
		}
		s.mu.Lock()
		s.usage[serviceType(r.URL.Path)]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func serviceType(path string) string {
	switch {
	case strings.Contains(path, "/tile/"), strings.Contains(path, "/styles/"):
		return "basemaps"
	case strings.Contains(path, "GeocodeServer"):
		return "geocode"
	case strings.Contains(path, "places-service"):
		return "places"
	case strings.Contains(path, "geoenrichmentserver"):
		return "geoenrichment"
	case strings.Contains(path, "NAServer"), strings.Contains(path, "VehicleRouting"):
		return "routing"
	case strings.Contains(path, "FeatureServer"):
		return "features"
	case strings.Contains(path, "GPServer"):
		return "analysis"
	}
	return "other"
}

func (s *server) generateToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeRemoteError(w, 400, "Unable to generate token.", err.Error())
		return
	}
	user, pass := r.PostForm.Get("username"), r.PostForm.Get("password")
	if user == "" || (s.cfg.Username != "" && (user != s.cfg.Username || pass != s.cfg.Password)) {
		writeRemoteError(w, 400, "Unable to generate token.", "Invalid username or password.")
		return
	}
	token := s.cfg.Token
	if token == "" {
		token = "dummy-token"
	}
	minutes, err := strconv.Atoi(r.PostForm.Get("expiration"))
	if err != nil || minutes <= 0 {
		minutes = 60
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"expires": time.Now().Add(time.Duration(minutes) * time.Minute).UnixMilli(),
		"ssl":     false,
	})
}

func (s *server) portalSelf(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"id": "dummyorg", "name": "Dummy Organization"})
}

func (s *server) portalUsage(w http.ResponseWriter, r *http.Request) {
	day := strconv.FormatInt(time.Now().UTC().Truncate(24*time.Hour).UnixMilli(), 10)

	s.mu.Lock()
	data := make([]map[string]any, 0, len(s.usage))
	for stype, n := range s.usage {
		if want := r.URL.Query().Get("stype"); want != "" && want != stype {
			continue
		}
		data = append(data, map[string]any{
			"etype": "svcusg",
			"stype": stype,
			"num":   [][2]string{{day, strconv.FormatInt(n, 10)}},
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"period": r.URL.Query().Get("period"), "data": data})
}

func (s *server) findAddressCandidates(w http.ResponseWriter, r *http.Request) {
	text := r.FormValue("singleLine")
	if text == "" {
		text = r.FormValue("address")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"spatialReference": map[string]int{"wkid": 4326},
		"candidates": []map[string]any{{
			"address":    text,
			"location":   map[string]float64{"x": -74.0117, "y": 40.9434},
			"score":      100,
			"attributes": map[string]string{"phone": "(201) 555-0100", "type": "Grocery"},
		}},
	})
}

func (s *server) suggest(w http.ResponseWriter, r *http.Request) {
	text := r.FormValue("text")
	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": []map[string]any{
			{"text": text + "on", "magicKey": "dummy1", "isCollection": false},
			{"text": text + "ons Near Me", "magicKey": "dummy2", "isCollection": true},
		},
	})
}

func (s *server) nearPoint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"results": []map[string]any{{
			"placeId":    "02388b81d501252b6097afa57ebdc4d4",
			"name":       "Dummy Bar",
			"location":   map[string]string{"x": r.FormValue("x"), "y": r.FormValue("y")},
			"categories": []map[string]string{{"categoryId": r.FormValue("categoryIds"), "label": "Bar"}},
			"distance":   42.0,
		}},
		"pagination": map[string]any{},
	})
}

func (s *server) placeDetails(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"placeDetails": map[string]any{
			"placeId": chi.URLParam(r, "placeID"),
			"name":    "Dummy Bar",
			"hours":   map[string]any{"opening": []any{}},
		},
	})
}

func (s *server) enrich(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"results": []map[string]any{{
			"paramName": "GeoEnrichmentResult",
			"dataType":  "GeoEnrichmentResult",
			"value": map[string]any{
				"FeatureSet": []map[string]any{{
					"features": []map[string]any{{"attributes": map[string]int{"TOTPOP": 12345}}},
				}},
			},
		}},
		"messages": []any{},
	})
}

func (s *server) createReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	fmt.Fprint(w, `<?xml version="1.0"?><report name="dandi"/>`)
}

func (s *server) solve(w http.ResponseWriter, r *http.Request) {
	stops := strings.Split(r.FormValue("stops"), ";")
	writeJSON(w, http.StatusOK, map[string]any{
		"routes": map[string]any{"features": []map[string]any{{
			"attributes": map[string]any{"Name": "Route", "Total_TravelTime": 12.5, "StopCount": len(stops)},
		}}},
		"directions": []any{},
		"messages":   []any{},
	})
}

func (s *server) solveVRP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"results": []map[string]any{
			{"paramName": "out_routes", "value": map[string]any{"features": []any{}}},
			{"paramName": "solve_succeeded", "value": true},
		},
		"messages": []any{},
	})
}

func (s *server) featureQuery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"objectIdFieldName": "OBJECTID",
		"features": []map[string]any{
			{"attributes": map[string]any{"OBJECTID": 1, "NAME": chi.URLParam(r, "service")}},
			{"attributes": map[string]any{"OBJECTID": 2, "NAME": chi.URLParam(r, "service")}},
		},
	})
}

func (s *server) submitJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("j%08d", s.seq)
	s.jobs[id] = 0
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"jobId": id, "jobStatus": "esriJobSubmitted"})
}

func (s *server) jobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	s.mu.Lock()
	polls, ok := s.jobs[id]
	if ok {
		polls++
		s.jobs[id] = polls
	}
	s.mu.Unlock()

	if !ok {
		writeRemoteError(w, 400, "Invalid job id.", id)
		return
	}
	if polls < s.cfg.JobPolls {
		writeJSON(w, http.StatusOK, map[string]any{"jobId": id, "jobStatus": "esriJobExecuting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":     id,
		"jobStatus": "esriJobSucceeded",
		"results": map[string]any{
			"hotSpotsResultLayer": map[string]string{"paramUrl": "results/hotSpotsResultLayer"},
		},
		"messages": []map[string]string{{"type": "esriJobMessageTypeInformative", "description": "Succeeded"}},
	})
}

func (s *server) jobResult(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"paramName": strings.TrimPrefix(chi.URLParam(r, "*"), "results/"),
		"value":     map[string]any{"url": "https://dummy.local/hotspots/FeatureServer/0"},
	})
}

// tileOrStyle serves styles/... documents and .../tile/{z}/{y}/{x} tiles.
func (s *server) tileOrStyle(w http.ResponseWriter, r *http.Request) {
	rest := chi.URLParam(r, "*")
	if strings.HasPrefix(rest, "styles/") {
		writeJSON(w, http.StatusOK, map[string]any{
			"version": 8,
			"name":    strings.TrimPrefix(rest, "styles/"),
			"sources": map[string]any{},
			"layers":  []any{},
		})
		return
	}

	idx := strings.LastIndex(rest, "/tile/")
	if idx < 0 {
		http.NotFound(w, r)
		return
	}
	parts := strings.Split(strings.TrimSuffix(rest[idx+len("/tile/"):], ".pbf"), "/")
	if len(parts) != 3 {
		http.NotFound(w, r)
		return
	}
	var zyx [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			http.NotFound(w, r)
			return
		}
		zyx[i] = n
	}
	z, y, x := zyx[0], zyx[1], zyx[2]
	if z > tileLODLimit || x >= 1<<z || y >= 1<<z {
		http.Error(w, "Tile not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(tilePayload(z, y, x))
}

func tilePayload(z, y, x int) []byte {
	b := make([]byte, 256)
	seed := uint64(z)<<40 | uint64(y)<<20 | uint64(x)
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := range b {
		b[i] = byte(r.UintN(256))
	}
	return b
}

// Shutdown stops srv within timeout.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
