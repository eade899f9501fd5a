package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

var (
	errNoCredential  = errors.New("missing authorization header")
	errBadAuthHeader = errors.New("invalid authorization header format")
)

// AuthMiddleware resolves the bearer credential to an *auth.AuthContext.
// With optional set, requests without an Authorization header pass through
// anonymously; a present but bad credential is always rejected.
type AuthMiddleware struct {
	authenticator auth.Authenticator
	optional      bool
}

func NewAuthMiddleware(authenticator auth.Authenticator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator, optional: optional}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, err := bearerCredential(r)
		switch {
		case errors.Is(err, errNoCredential) && m.optional:
			next.ServeHTTP(w, r)
			return
		case err != nil:
			unauthorized(w, err.Error())
			return
		}

		authCtx, err := m.authenticator.Authenticate(r.Context(), credential)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("authentication failed")
			unauthorized(w, "invalid or expired credentials")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		if userID := authCtx.UserID(); userID != 0 {
			ctx = contextkeys.WithUserID(ctx, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerCredential extracts <credential> from "Authorization: Bearer <credential>"
func bearerCredential(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoCredential
	}
	scheme, credential, ok := strings.Cut(header, " ")
	credential = strings.TrimSpace(credential)
	if !ok || !strings.EqualFold(scheme, "Bearer") || credential == "" {
		return "", errBadAuthHeader
	}
	return credential, nil
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
	httputil.WriteUnauthorized(w, message)
}

// GetAuthContext returns the request's auth context. The result may be nil;
// (*auth.AuthContext).UserID is nil-safe.
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, _ := contextkeys.Value[*auth.AuthContext](r.Context(), contextkeys.AuthKey)
	return authCtx
}
