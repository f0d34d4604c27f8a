// Package redis provides Redis integration for the scan engine.
//
// # Overview
//
// This package provides four main components:
//   - Client: Connection management with TLS, pooling, and retry logic
//   - Cache[T]: Type-safe generic caching with TTL support
//   - EventBus: Scan progress events over pub/sub with in-process fan-out
//   - RateLimiter: Distributed rate limiting using sliding window algorithm
//
// # Quick Start
//
// Initialize the Redis client:
//
//	client, err := redis.New(&cfg.Redis, log)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
// # Using the Event Bus
//
// The executor publishes an event at every module boundary; WebSocket
// handlers subscribe per scan or per organization:
//
//	bus := redis.NewEventBus(client, log)
//	if err := bus.StartListener(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	// Publisher side (executor)
//	_ = bus.Publish(ctx, scan.NewProgressEvent(job, "module finished"))
//
//	// Consumer side (WebSocket connection)
//	ch := bus.Subscribe(connID, orgID, scanID)
//	defer bus.Unsubscribe(connID)
//	for event := range ch {
//		// forward to the client
//	}
//
// Events are best-effort at-most-once. A consumer that needs the exact
// current state must read the scan job store; the stream only accelerates
// updates it would otherwise poll for.
//
// # Using the Generic Cache
//
//	statsCache, err := redis.NewCache[scan.Stats](client, "scan:stats", 30*time.Second)
//
//	stats, err := statsCache.GetOrSetFallback(ctx, orgID, func(ctx context.Context) (*scan.Stats, error) {
//		return scanRepo.GetStats(ctx, orgID)
//	})
//
// # Using the Rate Limiter
//
// Distributed rate limiting for multi-instance API deployments:
//
//	rl, err := redis.NewRateLimiter(client, "api", 100, time.Minute, log)
//	result, err := rl.Allow(ctx, clientIP)
//	if !result.Allowed {
//		// 429 with Retry-After from result.RetryAt
//	}
//
// # Thread Safety
//
// All components are safe for concurrent use. The underlying go-redis client
// manages connection pooling automatically.
package redis
