// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// AuthMiddleware resolves the bearer credential through an auth.Authenticator
// and stores the resulting *auth.AuthContext (and user ID) on the request
// context. Handlers read it back with GetAuthContext.
//
//	authMW := middleware.NewAuthMiddleware(auth.NewChainAuthenticator(tokens, oidc), false)
//	router.Use(authMW.Handler)
//
// RateLimitMiddleware keys limits by authenticated user, or by client IP for
// anonymous callers. Two Limiter implementations exist: RateLimiter (in-process
// token bucket) and DistributedRateLimiter (Redis fixed window, shared across
// replicas). Limiter errors fail open.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.DefaultRateLimitConfig(), "")
//	mutations.Use(middleware.NewRateLimitMiddleware(limiter, logger).Handler)
package middleware
