// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// Every error reply uses the same envelope:
//
//	{"error": "no override to revoke", "code": "not_found", "request_id": "..."}
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "permissionId is required")
//	httputil.WriteConflict(w, "concurrent modification, retry")
//
// # Request Parsing
//
//	var req overrideRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
//
// # Middleware
//
//	handler = httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
//
// # Related Packages
//
//   - pkg/middleware: Authentication and rate limiting middleware
package httputil
