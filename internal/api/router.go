package api

import (
	"net/http"

	"github.com/globalchat/backend/internal/auth"
	"github.com/globalchat/backend/internal/chat"
	apperrors "github.com/globalchat/backend/internal/errors"
	"github.com/globalchat/backend/internal/health"
	"github.com/globalchat/backend/internal/logger"
	"github.com/globalchat/backend/internal/metrics"
	"github.com/globalchat/backend/internal/middleware"
	"github.com/globalchat/backend/internal/websocket"
)

// Deps are the handlers and services the router mounts.
type Deps struct {
	AuthService    *auth.Service
	AuthHandlers   *auth.Handlers
	ChatHandlers   *chat.Handlers
	WSHandler      *websocket.Handler
	HealthHandler  *health.Handler
	Metrics        *metrics.Metrics
	Logger         *logger.Logger
	AllowedOrigins []string
}

type Router struct {
	handler http.Handler
	deps    Deps
}

// NewRouter builds the HTTP surface. Every request gets a request id,
// panic recovery, access logging and CORS. The websocket route bypasses the
// timing and metrics wrappers because they cannot hijack connections.
func NewRouter(deps Deps) *Router {
	r := &Router{deps: deps}

	api := http.NewServeMux()
	r.setupRoutes(api)

	root := http.NewServeMux()
	root.HandleFunc("GET /ws", deps.WSHandler.ServeWS)
	root.Handle("/", middleware.Chain(api,
		middleware.Timing(deps.Logger),
		metrics.MetricsMiddleware(deps.Metrics),
	))

	r.handler = middleware.Chain(root,
		apperrors.RequestIDMiddleware,
		logger.RecoveryMiddleware,
		logger.LoggingMiddleware,
		middleware.CORS(deps.AllowedOrigins),
	)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes(mux *http.ServeMux) {
	authH := r.deps.AuthHandlers
	chatH := r.deps.ChatHandlers

	// Health and metrics
	mux.HandleFunc("GET /health", r.deps.HealthHandler.HealthHandler)
	mux.HandleFunc("GET /health/ready", r.deps.HealthHandler.ReadinessHandler)
	mux.HandleFunc("GET /metrics", r.deps.Metrics.Handler())

	// Auth routes (no auth required)
	mux.HandleFunc("POST /api/auth/register", apperrors.HandleFunc(authH.Register))
	mux.HandleFunc("POST /api/auth/login", apperrors.HandleFunc(authH.Login))

	// Auth routes (auth required)
	mux.Handle("PATCH /api/auth/edit-profile", r.withAuth(authH.EditProfile))

	// Chat routes
	mux.Handle("POST /api/auth/send-message", r.withAuth(chatH.SendMessage))
	mux.Handle("GET /api/auth/get-messages", middleware.ETag(apperrors.HandleFunc(chatH.GetMessages)))
}

func (r *Router) withAuth(next apperrors.Handler) http.Handler {
	return auth.Middleware(r.deps.AuthService)(apperrors.HandleFunc(next))
}
