// Package http is the inbound HTTP adapter for the SecurFlow gateway.
//
// It exposes the tenant API under /api/v1, the operator API under /admin,
// and the /health and /metrics probes.
//
// # Usage
//
//	api := http.NewAPI(authService, hubService, gatewayClient, guard,
//	    http.WithOperators(keyVerifier, auditService),
//	    http.WithHealth(health),
//	    http.WithMetrics(metrics, registry),
//	    http.WithLogger(logger),
//	)
//	srv := http.NewServer(api.Handler(), http.WithAddr(":8080"))
//	err := srv.Start(ctx)
//
// # Authentication
//
// Tenant routes require "Authorization: Bearer <access token>" issued by
// POST /api/v1/auth/token. Operator routes take a key in X-Operator-Key or
// as a Bearer token; keys carry the admin or viewer role.
//
// # Errors
//
// Failures are JSON objects of the form {"detail": "..."}. Credential
// failures of any kind read "invalid credentials". Admission rejections are
// 503 with Retry-After, login lockouts are 429 with Retry-After.
package http
