// Package middleware provides per-client rate limiting for the public
// invitation endpoints.
//
// Two Limiter implementations share one HTTP middleware: RateLimiter keeps
// token buckets in an expiring in-memory LRU, DistributedRateLimiter counts
// fixed windows in Redis so limits hold across replicas.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "ratelimit:accept")
//	mw := middleware.NewRateLimitMiddleware("accept", limiter, middleware.WithMetrics(metrics))
//	router.Handle("/api/v1/invitations/accept", mw.Handler(acceptHandler))
//
// Limiter errors fail open unless WithFailClosed is given.
package middleware
