// internal/api/middleware/auth.go
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const adminIDKey contextKey = "admin_id"

// RoleAdmin is the only role admitted to the admin API.
const RoleAdmin = "admin"

// AdminClaims are the claims the admin console's identity provider issues.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth admits requests carrying an HS256 bearer token with role=admin.
// The token subject becomes the admin ID recorded on ledger entries.
func JWTAuth(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authorization required")
				return
			}
			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Bearer token required")
				return
			}

			claims := &AdminClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
				}
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				logger.Debug("rejected admin token", zap.Error(err))
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
				return
			}

			if claims.Role != RoleAdmin {
				writeError(w, http.StatusForbidden, "forbidden", "Admin role required")
				return
			}
			if claims.Subject == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Token has no subject")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAdminID(r.Context(), claims.Subject)))
		})
	}
}

// AdminIDFromContext returns the authenticated admin, or "" outside the admin API.
func AdminIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(adminIDKey).(string)
	return id
}

// WithAdminID attaches an admin ID to ctx.
func WithAdminID(ctx context.Context, adminID string) context.Context {
	return context.WithValue(ctx, adminIDKey, adminID)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
