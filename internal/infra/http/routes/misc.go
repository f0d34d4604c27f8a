package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vulnscanio/engine/internal/infra/http/handler"
	"github.com/vulnscanio/engine/internal/infra/websocket"
)

// registerHealthRoutes registers health check and metrics endpoints.
func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	router.GET("/healthz", h.Health)
	router.GET("/readyz", h.Ready)
	router.GET("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
}

// registerWebSocketRoutes registers the WebSocket endpoint for live scan
// progress. Clients subscribe to channels after connecting:
//
//	scan:{id} - progress and module results for one scan
//	org:{id}  - every scan event in the organization
//
// Authentication: Bearer token in the Authorization header, same as the
// REST API.
func registerWebSocketRoutes(
	router Router,
	h *websocket.Handler,
	orgMiddlewares ...Middleware,
) {
	router.Group("/api/v1/ws", func(r Router) {
		r.GET("/", h.ServeWS)
	}, orgMiddlewares...)
}
