package routes

import (
	"github.com/vulnscanio/engine/internal/infra/http/handler"
)

// registerQueueRoutes registers queue administration endpoints.
// These are guarded by the admin API key, not tenant tokens: dead-lettered
// tasks span organizations and requeueing them is an operator action.
func registerQueueRoutes(
	router Router,
	h *handler.AdminHandler,
	adminKeyMiddleware Middleware,
) {
	router.Group("/api/v1/queues", func(r Router) {
		r.GET("/stats", h.GetQueueStats)

		r.GET("/dead", h.ListDeadTasks)
		r.POST("/dead/{taskID}/requeue", h.RequeueDeadTask)
		r.DELETE("/dead/{taskID}", h.DeleteDeadTask)
	}, adminKeyMiddleware)
}
