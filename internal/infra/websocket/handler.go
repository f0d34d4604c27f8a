package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vulnscanio/engine/internal/infra/http/middleware"
	"github.com/vulnscanio/engine/pkg/apierror"
	"github.com/vulnscanio/engine/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Clients authenticate with a bearer token, not cookies, so
		// cross-origin upgrades carry no ambient credentials.
		return true
	},
}

// Handler upgrades HTTP requests to websocket connections and attaches
// them to the hub.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler creates a new websocket handler backed by the given hub.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log,
	}
}

// ServeWS handles websocket upgrade requests.
// GET /api/v1/ws
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	// Identity comes from the auth middleware via the request context.
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	orgID := middleware.GetOrgID(ctx)

	if userID == "" || orgID == "" {
		h.logger.Warn("websocket connection attempt without auth",
			"remote_addr", r.RemoteAddr,
		)
		apierror.Unauthorized("authentication required").WriteJSON(w)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed",
			"user_id", userID,
			"error", err,
		)
		return
	}

	client := NewClient(h.hub, conn, userID, orgID, h.logger)
	h.hub.RegisterClient(client)

	h.logger.Info("websocket client connected",
		"client_id", client.ID,
		"user_id", userID,
		"org_id", orgID,
		"remote_addr", r.RemoteAddr,
	)

	go client.WritePump()
	go client.ReadPump()
}

// GetHub returns the hub instance.
func (h *Handler) GetHub() *Hub {
	return h.hub
}
