// Package routes registers all HTTP routes for the engine API.
// Routes are organized by domain for maintainability.
package routes

import (
	"github.com/vulnscanio/engine/internal/config"
	infrahttp "github.com/vulnscanio/engine/internal/infra/http"
	"github.com/vulnscanio/engine/internal/infra/http/handler"
	"github.com/vulnscanio/engine/internal/infra/http/middleware"
	"github.com/vulnscanio/engine/internal/infra/websocket"
	"github.com/vulnscanio/engine/pkg/jwt"
	"github.com/vulnscanio/engine/pkg/logger"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health       *handler.HealthHandler
	Scan         *handler.ScanHandler
	Target       *handler.TargetHandler
	Schedule     *handler.ScheduleHandler
	Channel      *handler.ChannelHandler
	Finding      *handler.FindingHandler
	Notification *handler.NotificationHandler
	Admin        *handler.AdminHandler // nil when the queue inspector is not wired

	// WebSocket handler for live scan progress. Nil when the hub is not
	// running (worker-only deployments).
	WebSocket *websocket.Handler
}

// Register registers all application routes.
// This keeps route definitions in the infrastructure layer, not in main.
//
// Routes are organized across multiple files by domain:
//   - scanning.go: Scans, targets, schedules, findings
//   - notifications.go: Channels and notification dispatch
//   - admin.go: Queue inspection (API key guarded)
//   - misc.go: Health, metrics, websocket
//
// The returned cleanup function stops route-level rate limiters and must
// be called on shutdown.
func Register(
	router Router,
	h Handlers,
	cfg *config.Config,
	log *logger.Logger,
	tokenValidator *jwt.Generator,
) func() {
	// Tenant middleware chain: every org-scoped route needs a verified
	// token carrying an org claim.
	authMiddleware := middleware.Auth(tokenValidator, log)
	orgMiddleware := middleware.RequireOrg()
	orgMiddlewares := []Middleware{authMiddleware, orgMiddleware}

	// Scan enqueues are limited per org on top of the global IP limiter.
	triggerLimiter := middleware.NewScanTriggerRateLimiter(middleware.ScanTriggerConfig{
		CleanupInterval: cfg.RateLimit.CleanupInterval,
	}, log)

	// Health and metrics routes (public)
	registerHealthRoutes(router, h.Health)

	// Org-scoped API routes
	registerScanRoutes(router, h.Scan, triggerLimiter.Middleware(), orgMiddlewares...)
	registerTargetRoutes(router, h.Target, orgMiddlewares...)
	registerScheduleRoutes(router, h.Schedule, orgMiddlewares...)
	registerFindingRoutes(router, h.Finding, orgMiddlewares...)
	registerChannelRoutes(router, h.Channel, orgMiddlewares...)
	registerNotificationRoutes(router, h.Notification, orgMiddlewares...)

	// WebSocket endpoint for live progress (token-authenticated)
	if h.WebSocket != nil {
		registerWebSocketRoutes(router, h.WebSocket, orgMiddlewares...)
	}

	// Queue administration (API key, not tenant tokens)
	if h.Admin != nil {
		adminKeyMiddleware := middleware.AdminKey(cfg.Auth.AdminAPIKey, log)
		registerQueueRoutes(router, h.Admin, adminKeyMiddleware)
	}

	return triggerLimiter.Stop
}
