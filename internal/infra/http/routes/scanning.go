package routes

import (
	"github.com/vulnscanio/engine/internal/infra/http/handler"
	"github.com/vulnscanio/engine/internal/infra/http/middleware"
)

// registerScanRoutes registers scan lifecycle endpoints.
// Enqueue is additionally rate limited per org; everything else rides on
// the global limiter alone.
func registerScanRoutes(
	router Router,
	h *handler.ScanHandler,
	triggerLimit Middleware,
	orgMiddlewares ...Middleware,
) {
	router.Group("/api/v1/scans", func(r Router) {
		// Static segments before {scanID} so chi matches them first
		r.GET("/", h.ListScans)
		r.GET("/stats", h.GetStats)
		r.GET("/profiles", h.ListProfiles)

		r.POST("/", h.CreateScan, triggerLimit)

		r.GET("/{scanID}", h.GetScan)
		r.GET("/{scanID}/results", h.GetScanResults)
		r.GET("/{scanID}/report", h.GetScanReport)
		r.DELETE("/{scanID}", h.CancelScan)
	}, orgMiddlewares...)
}

// registerTargetRoutes registers scan target management endpoints.
//
// The bulk import endpoint accepts compressed request bodies
// (Content-Encoding: gzip or zstd) with its own inflation limits; the
// other routes take plain JSON.
func registerTargetRoutes(
	router Router,
	h *handler.TargetHandler,
	orgMiddlewares ...Middleware,
) {
	importDecompress := middleware.DecompressForImport()

	router.Group("/api/v1/targets", func(r Router) {
		r.GET("/", h.ListTargets)
		r.POST("/", h.CreateTarget)
		r.POST("/import", h.ImportTargets, importDecompress)

		r.GET("/{targetID}", h.GetTarget)
		r.PATCH("/{targetID}", h.UpdateTarget)
		r.DELETE("/{targetID}", h.DeleteTarget)
	}, orgMiddlewares...)
}

// registerScheduleRoutes registers recurring scan schedule endpoints.
func registerScheduleRoutes(
	router Router,
	h *handler.ScheduleHandler,
	orgMiddlewares ...Middleware,
) {
	router.Group("/api/v1/schedules", func(r Router) {
		r.GET("/", h.ListSchedules)
		r.POST("/", h.CreateSchedule)

		r.GET("/{scheduleID}", h.GetSchedule)
		r.PATCH("/{scheduleID}", h.UpdateSchedule)
		r.DELETE("/{scheduleID}", h.DeleteSchedule)
	}, orgMiddlewares...)
}

// registerFindingRoutes registers finding query endpoints. Findings are
// written by scan modules only; the API surface is read-only.
func registerFindingRoutes(
	router Router,
	h *handler.FindingHandler,
	orgMiddlewares ...Middleware,
) {
	router.Group("/api/v1/findings", func(r Router) {
		r.GET("/", h.ListFindings)
		r.GET("/severity", h.GetSeverityBreakdown)
	}, orgMiddlewares...)
}
