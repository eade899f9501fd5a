package rbac

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
)

// PermissionMiddleware gates routes on permissions held by the authenticated user
type PermissionMiddleware struct {
	checker     *Checker
	auditLogger audit.Logger
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker *Checker, auditLogger audit.Logger) *PermissionMiddleware {
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	return &PermissionMiddleware{
		checker:     checker,
		auditLogger: auditLogger,
	}
}

// RequirePermission creates middleware that requires a specific permission
func (pm *PermissionMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := middleware.GetAuthContext(r).UserID()
			if userID == 0 {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			ok, err := pm.checker.HasPermission(r.Context(), userID, permission)
			if err != nil && !errors.Is(err, ErrNotFound) {
				observability.FromContext(r.Context()).WithError(err).
					WithField("permission", permission).
					Error("permission check failed")
				httputil.WriteInternalError(w)
				return
			}

			if !ok {
				pm.logDenied(r, userID, permission)
				httputil.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (pm *PermissionMiddleware) logDenied(r *http.Request, userID int64, permission string) {
	event := audit.NewAuthorizationEvent(r.Context(), audit.EventTypeAuthzAccessDenied, &userID,
		audit.ResourceTypePermission, permission, audit.EventStatusDenied,
		r.Method+" "+r.URL.Path+" requires "+permission)
	if err := pm.auditLogger.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to write audit event")
	}
}
