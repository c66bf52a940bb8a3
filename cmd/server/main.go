/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the allocation planner API server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, configure logging
  2. Initialize SQLite store
  3. Create API handler (service + change feed hub)
  4. Optionally load a demo scenario
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port          HTTP server port (default: 8080)
  -db            SQLite database path (default: planner.db)
                 Use ":memory:" for in-memory database
  -log-level     zerolog level: debug, info, warn, error (default: info)
  -cors-origins  Comma-separated browser origins allowed to call the API
  -static        Directory of the built planner frontend
  -seed          Demo scenario to load at startup (resets the database)

ENVIRONMENT:
  LOG_FORMAT=human  Console-formatted logs instead of JSON

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Disconnect change feed subscribers
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Demo on an in-memory database
  LOG_FORMAT=human ./server -db=":memory:" -seed=transfer

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/canteiro/planner/api"
	"github.com/canteiro/planner/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "planner.db", "SQLite database path")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	corsOrigins := flag.String("cors-origins", strings.Join(api.DefaultConfig().CORSOrigins, ","), "Comma-separated allowed CORS origins")
	staticDir := flag.String("static", "", "Directory of the built frontend")
	seed := flag.String("seed", "", "Demo scenario to load at startup")
	flag.Parse()

	setupLogging(*logLevel)

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", *dbPath).Msg("failed to initialize database")
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store, api.WithLogger(log.Logger))

	if *seed != "" {
		if err := handler.LoadScenarioByID(context.Background(), *seed); err != nil {
			log.Fatal().Err(err).Str("scenario", *seed).Msg("failed to load scenario")
		}
	}

	// Create router
	router := api.NewRouter(handler, api.Config{
		CORSOrigins: splitList(*corsOrigins),
		StaticDir:   *staticDir,
	})

	// Create server. No write timeout: the change feed holds connections open.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", *port).Str("db", *dbPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	handler.Hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if os.Getenv("LOG_FORMAT") == "human" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
