package main

import (
	"github.com/vulnscanio/engine/internal/app"
	"github.com/vulnscanio/engine/internal/infra/http/handler"
	"github.com/vulnscanio/engine/internal/infra/http/routes"
	"github.com/vulnscanio/engine/internal/infra/jobs"
	"github.com/vulnscanio/engine/internal/infra/postgres"
	"github.com/vulnscanio/engine/internal/infra/redis"
	"github.com/vulnscanio/engine/internal/infra/websocket"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/validator"
)

// HandlerDeps contains dependencies needed to create handlers.
type HandlerDeps struct {
	Log       *logger.Logger
	Validator *validator.Validator
	DB        *postgres.DB
	Redis     *redis.Client
	Inspector *jobs.Inspector
	Hub       *websocket.Hub
	JobClient app.JobEnqueuer
	Services  *Services
}

// NewHandlers initializes all HTTP handlers for route registration.
func NewHandlers(deps *HandlerDeps) routes.Handlers {
	svc := deps.Services
	v := deps.Validator
	log := deps.Log

	return routes.Handlers{
		Health: handler.NewHealthHandler(
			handler.WithDatabase(deps.DB),
			handler.WithRedis(deps.Redis),
		),
		Scan:         handler.NewScanHandler(svc.Scan, svc.Report, v, log),
		Target:       handler.NewTargetHandler(svc.Target, v, log),
		Schedule:     handler.NewScheduleHandler(svc.Schedule, v, log),
		Channel:      handler.NewChannelHandler(svc.Channel, v, log),
		Finding:      handler.NewFindingHandler(svc.Finding, log),
		Notification: handler.NewNotificationHandler(svc.Scan, deps.JobClient, v, log),
		Admin:        handler.NewAdminHandler(deps.Inspector, log),
		WebSocket:    websocket.NewHandler(deps.Hub, log),
	}
}
