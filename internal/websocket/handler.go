package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/globalchat/backend/internal/auth"
	apperrors "github.com/globalchat/backend/internal/errors"
	"github.com/globalchat/backend/internal/logger"
)

// Handler upgrades HTTP requests to websocket clients of the hub.
type Handler struct {
	hub         *Hub
	publisher   Publisher
	authService *auth.Service
	upgrader    websocket.Upgrader
	log         *logger.Logger
}

func NewHandler(hub *Hub, publisher Publisher, authService *auth.Service, allowedOrigins []string) *Handler {
	return &Handler{
		hub:         hub,
		publisher:   publisher,
		authService: authService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		log: logger.Default().WithComponent("websocket"),
	}
}

// checkOrigin allows requests without an Origin header (non-browser
// clients), any origin when "*" is configured, and otherwise only the listed
// origins.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
				return true
			}
		}
		return false
	}
}

// ServeWS handles websocket requests. Listening is open to anyone; a
// ?token=<jwt> query parameter identifies the user in logs and must be
// valid when present. Browsers cannot set headers on websocket requests.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	var userID string
	if token := r.URL.Query().Get("token"); token != "" {
		secret := h.authService.Secret()
		if len(secret) == 0 {
			apperrors.WriteError(w, requestID, apperrors.ServerConfiguration())
			return
		}
		claims, err := auth.VerifyToken(token, secret)
		if err != nil {
			apperrors.WriteError(w, requestID, apperrors.Unauthorized("invalid token"))
			return
		}
		userID = claims.UserID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		h.log.Warn(r.Context(), "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := NewClient(h.hub, conn, h.publisher, r.RemoteAddr, userID)
	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
	}
}
