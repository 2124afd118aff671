// Package handlers exposes the control plane over HTTP: the REST
// endpoints for managing connections, the WebSocket terminal
// attachment, and the server-sent event stream.
package handlers

import (
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gluk-w/sshmux/internal/config"
	"github.com/gluk-w/sshmux/internal/session"
)

// API bundles the handler dependencies. The zero value of the optional
// knobs falls back to the documented defaults, which keeps test
// construction short.
type API struct {
	Mgr *session.Manager
	Log *zap.SugaredLogger

	// BasePath prefixes wsPath values in create responses. Routing
	// itself is mounted by the caller.
	BasePath string
	// IdleTimeoutMs is the default idle budget for create requests
	// that omit one.
	IdleTimeoutMs int64
	// Heartbeat is the event-stream liveness tick interval.
	Heartbeat time.Duration
	// OpenAPISpec is the raw YAML document served at /openapi.yaml
	// and converted once for /openapi.json.
	OpenAPISpec []byte

	openapiOnce sync.Once
	openapiJSON []byte
	openapiErr  error
}

// New builds the API from the process configuration.
func New(mgr *session.Manager, log *zap.SugaredLogger) *API {
	return &API{
		Mgr:           mgr,
		Log:           log,
		BasePath:      config.Cfg.BasePath,
		IdleTimeoutMs: config.Cfg.IdleTimeoutMs,
		Heartbeat:     config.Cfg.SSEHeartbeat(),
	}
}

// Routes mounts every endpoint relative to the router's base.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.Health)
	r.Route("/connections", func(r chi.Router) {
		r.Post("/", a.CreateConnection)
		r.Get("/", a.ListConnections)
		r.Get("/stream", a.StreamConnections)
		r.Delete("/{id}", a.DeleteConnection)
		r.Post("/{id}/resize", a.ResizeConnection)
	})
	r.Get("/ws/{id}", a.AttachWS)
	r.Get("/openapi.json", a.OpenAPIJSON)
	r.Get("/openapi.yaml", a.OpenAPIYAML)
}
