// Command trellis serves the workflow execution engine over HTTP.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/calatheahq/trellis/internal/api"
	"github.com/calatheahq/trellis/internal/engine"
	"github.com/calatheahq/trellis/internal/logging"
	"github.com/calatheahq/trellis/internal/nodes"
	"github.com/calatheahq/trellis/internal/scheduler"
	"github.com/calatheahq/trellis/internal/validation"
	"github.com/calatheahq/trellis/internal/webhooks"
)

func main() {
	cfg := loadConfig()

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})
	logger := slog.New(logging.NewCorrelationHandler(logHandler))
	slog.SetDefault(logger)

	registry, err := nodes.DefaultRegistry()
	if err != nil {
		slog.Error("Failed to build node registry", "error", err)
		return
	}
	validator, err := validation.NewWorkflowValidator(registry)
	if err != nil {
		slog.Error("Failed to compile workflow schema", "error", err)
		return
	}

	eng := engine.New(registry, engine.NewRunRegistry(), logger)
	inbox := webhooks.NewInbox(cfg.WebhookInboxSize)
	planner := scheduler.NewPlanner()
	service := api.NewService(eng, validator, inbox, planner, logger)

	mainRouter := mux.NewRouter()
	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()
	service.LoadRoutes(apiRouter)
	service.LoadWebhookRoutes(mainRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(cfg.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: corsHandler,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "addr", cfg.ListenAddr)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("Server error", "error", err)

	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Could not stop server gracefully", "error", err)
			srv.Close()
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
