// Package middleware provides the HTTP middleware that sits between the
// router and the hrcore handlers: bearer token authentication and request
// throttling.
//
// # Authentication
//
// Authenticator resolves the Authorization header to a user and stores it
// with rbac.WithUser. It also hands the user to the audit interceptor so the
// request's audit entry carries it.
//
//	authn := middleware.NewAuthenticator(authService, true, log)
//	router.Use(authn.Handler)
//
// In optional mode anonymous requests pass through and the permission guards
// decide whether a user is required.
//
// # Rate limiting
//
// RateLimit throttles requests per user, or per client IP for anonymous
// requests. Two limiters are provided:
//
//	limiter := middleware.NewRateLimiter(middleware.LoginRateLimitConfig())
//	limiter.StartCleanup(ctx)
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "hrcore:ratelimit")
//
// The Redis limiter uses a fixed window shared by all instances. When Redis
// is unreachable the middleware logs and lets the request through.
package middleware
