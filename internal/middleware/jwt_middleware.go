package middleware

import (
	"context"
	"net/http"
	"strings"

	"tenant_gateway/internal/auth"
	"tenant_gateway/internal/config"
	"tenant_gateway/internal/utils"
)

// AdminClaimsKey is the context key for validated admin token claims
const AdminClaimsKey ContextKey = "adminClaims"

// AdminJWTMiddleware validates admin JWT tokens and enforces role-based access.
// With no required roles any valid token passes; otherwise one of the token's
// roles must satisfy one of the required roles.
func AdminJWTMiddleware(cfg *config.Config, requiredRoles ...auth.Role) func(http.Handler) http.Handler {
	logger := utils.NewLogger("admin-auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract token from Authorization header or X-API-Key header
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				tokenString = r.Header.Get("X-API-Key")
			}
			tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
			if tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}

			claims, err := auth.ValidateAdminJWT(tokenString, cfg)
			if err != nil {
				logger.Debug("Rejected admin token", "path", r.URL.Path, "error", err)
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			if len(requiredRoles) > 0 && !hasAnyRole(claims, requiredRoles) {
				logger.Warn("Insufficient admin permissions", "subject", claims.Subject, "path", r.URL.Path)
				utils.RespondWithError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), AdminClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasAnyRole(claims *auth.AdminClaims, required []auth.Role) bool {
	for _, role := range required {
		if claims.HasRole(role) {
			return true
		}
	}
	return false
}

// GetAdminClaims retrieves the admin claims from the request context
func GetAdminClaims(ctx context.Context) (*auth.AdminClaims, bool) {
	claims, ok := ctx.Value(AdminClaimsKey).(*auth.AdminClaims)
	return claims, ok
}

// GetAdminSubject retrieves the token subject from the request context
func GetAdminSubject(ctx context.Context) (string, bool) {
	claims, ok := GetAdminClaims(ctx)
	if !ok {
		return "", false
	}
	return claims.Subject, true
}

// HasRole checks if the admin in ctx holds a role that satisfies role
func HasRole(ctx context.Context, role auth.Role) bool {
	claims, ok := GetAdminClaims(ctx)
	return ok && claims.HasRole(role)
}
