/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     One zerolog line per request (metrics.go)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counters and latencies
  5. CORS:       Cross-origin requests for the planner frontend

ROUTE GROUPS:
  /api/allocations/*    Allocations, transfer, change feed
  /api/worksites/*      Work sites and cost summaries
  /api/teams, /api/employees
  /api/scenarios/*      Demo scenarios (dev only)
  /metrics, /healthz    Operations
  /*                    Static files (frontend), when configured

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config tunes the router.
type Config struct {
	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string
	// StaticDir is the built planner frontend. Empty serves a plain index.
	StaticDir string
}

func DefaultConfig() Config {
	return Config{
		CORSOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg Config) *chi.Mux {
	registerPrometheusMetrics()

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/allocations", func(r chi.Router) {
			r.Get("/", h.ListAllocations)
			r.Post("/", h.CreateAllocation)
			r.Post("/transfer", h.TransferAllocation)
			r.Get("/events", h.Hub.ServeWS)
			r.Get("/{id}", h.GetAllocation)
			r.Patch("/{id}", h.UpdateAllocation)
			r.Delete("/{id}", h.DeleteAllocation)
		})

		r.Route("/worksites", func(r chi.Router) {
			r.Get("/", h.ListWorkSites)
			r.Post("/", h.SaveWorkSite)
			r.Get("/{id}/costs", h.GetCosts)
		})

		r.Route("/teams", func(r chi.Router) {
			r.Get("/", h.ListTeams)
			r.Post("/", h.SaveTeam)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.SaveEmployee)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	if cfg.StaticDir != "" {
		if _, err := os.Stat(cfg.StaticDir); err == nil {
			r.Get("/*", spaHandler(cfg.StaticDir))
			return r
		}
		h.log.Warn().Str("dir", cfg.StaticDir).Msg("static directory not found, serving plain index")
	}
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(indexPage))
	})

	return r
}

// spaHandler serves files from dir and falls back to index.html for
// client-side routes.
func spaHandler(dir string) http.HandlerFunc {
	fileServer := http.FileServer(http.Dir(dir))
	return func(w http.ResponseWriter, r *http.Request) {
		full := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if _, err := os.Stat(full); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fileServer.ServeHTTP(w, r)
	}
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>Canteiro Planner</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Canteiro Planner API</h1>
<p>The frontend is not configured. Start the server with <code>-static</code>.</p>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/worksites">/api/worksites</a> - List work sites</li>
<li><a href="/api/employees">/api/employees</a> - List employees</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List scenarios</li>
<li><a href="/metrics">/metrics</a> - Prometheus metrics</li>
</ul>
</body>
</html>`
