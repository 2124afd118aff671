package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/gluk-w/sshmux/internal/config"
	"github.com/gluk-w/sshmux/internal/handlers"
	"github.com/gluk-w/sshmux/internal/logging"
	"github.com/gluk-w/sshmux/internal/middleware"
	"github.com/gluk-w/sshmux/internal/notify"
	"github.com/gluk-w/sshmux/internal/session"
)

//go:embed web
var webFS embed.FS

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("Config: %v", err)
	}

	logger := logging.New(config.Cfg.LogLevel, config.Cfg.LogPath)
	defer logger.Sync()

	logger.Infof("config: port=%d base_path=%q max_connections=%d idle_timeout=%s sweep_interval=%s",
		config.Cfg.Port, config.Cfg.BasePath, config.Cfg.MaxConnections,
		config.Cfg.IdleTimeout(), config.Cfg.SweepInterval())

	mgr := session.NewManager(session.Config{
		MaxConnections:       config.Cfg.MaxConnections,
		IdleTimeoutMs:        config.Cfg.IdleTimeoutMs,
		SweepInterval:        config.Cfg.SweepInterval(),
		SSHReadyTimeout:      config.Cfg.SSHReadyTimeout(),
		SSHKeepaliveInterval: config.Cfg.SSHKeepalive(),
		SSHKeepaliveMax:      config.Cfg.SSHKeepaliveMax,
	}, notify.NewBus(), logger.Named("session"))

	api := handlers.New(mgr, logger.Named("http"))
	if spec, err := webFS.ReadFile("web/openapi.yaml"); err == nil {
		api.OpenAPISpec = spec
	} else {
		logger.Warnf("openapi document not bundled: %v", err)
	}

	base := config.Cfg.BasePath

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(logger.Named("http")))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	if base == "" {
		api.Routes(r)
	} else {
		r.Route(base, api.Routes)
	}
	r.Handle("/metrics", promhttp.Handler())

	// OPTIONS answers 204 everywhere: real preflights are handled by the
	// CORS wrapper below, these two cover bare OPTIONS probes.
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	// Demo terminal page for everything the API does not claim.
	distFS, _ := fs.Sub(webFS, "web")
	static := middleware.NewStaticHandler(distFS,
		base+"/connections", base+"/ws", base+"/healthz", base+"/openapi", "/metrics")
	r.NotFound(static.ServeHTTP)

	corsWrapper := cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool {
			return config.Cfg.OriginAllowed(origin)
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Cfg.Port),
		Handler: corsWrapper.Handler(r),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("server starting on :%d (base path %q)", config.Cfg.Port, base)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	logger.Info("shutting down...")

	mgr.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
	logger.Info("server stopped")
}
