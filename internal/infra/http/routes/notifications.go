package routes

import (
	"github.com/vulnscanio/engine/internal/infra/http/handler"
)

// registerChannelRoutes registers notification channel management
// endpoints. Channel secrets go in on create/update and never come back
// out; responses omit them.
func registerChannelRoutes(
	router Router,
	h *handler.ChannelHandler,
	orgMiddlewares ...Middleware,
) {
	router.Group("/api/v1/channels", func(r Router) {
		r.GET("/", h.ListChannels)
		r.POST("/", h.CreateChannel)

		r.GET("/{channelID}", h.GetChannel)
		r.PATCH("/{channelID}", h.UpdateChannel)
		r.DELETE("/{channelID}", h.DeleteChannel)

		// Fires a synchronous test delivery against the live endpoint
		r.POST("/{channelID}/test", h.TestChannel)

		r.GET("/{channelID}/deliveries", h.ListDeliveries)
	}, orgMiddlewares...)
}

// registerNotificationRoutes registers manual notification dispatch
// endpoints. Both enqueue onto the notifications queue; nothing is
// delivered in the request path.
func registerNotificationRoutes(
	router Router,
	h *handler.NotificationHandler,
	orgMiddlewares ...Middleware,
) {
	router.Group("/api/v1/notifications", func(r Router) {
		r.POST("/dispatch", h.Dispatch)
		r.POST("/digest", h.DispatchDigest)
	}, orgMiddlewares...)
}
