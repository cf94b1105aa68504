package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/globalchat/backend/internal/errors"
	"github.com/globalchat/backend/internal/logger"
)

type contextKey string

const UserContextKey contextKey = "user"

// UserContext is the identity attached to an authenticated request.
type UserContext struct {
	UserID uuid.UUID
	Name   string
	Claims *SessionClaims
}

// Middleware authenticates requests with a bearer session token.
//
//   - no token: 401
//   - signing secret not configured: 500
//   - token expired, tampered or malformed: 403
func Middleware(authService *Service) func(http.Handler) http.Handler {
	log := logger.Default().WithComponent("auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := apperrors.GetRequestID(r.Context())

			tokenString := bearerToken(r.Header.Get("Authorization"))
			if tokenString == "" {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("access denied"))
				return
			}

			secret := authService.Secret()
			if len(secret) == 0 {
				log.Error(r.Context(), "JWT_SECRET is not configured", ErrMissingSecret)
				apperrors.WriteError(w, requestID, apperrors.ServerConfiguration())
				return
			}

			claims, err := VerifyToken(tokenString, secret)
			if err != nil {
				log.Debug(r.Context(), "token rejected", map[string]interface{}{"reason": err.Error()})
				apperrors.WriteError(w, requestID, apperrors.Forbidden("invalid token"))
				return
			}

			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				apperrors.WriteError(w, requestID, apperrors.Forbidden("invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, &UserContext{
				UserID: userID,
				Name:   claims.Name,
				Claims: claims,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func GetUserFromContext(ctx context.Context) *UserContext {
	user, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok {
		return nil
	}
	return user
}

// ClaimsFromContext returns the verified session claims, or nil.
func ClaimsFromContext(ctx context.Context) *SessionClaims {
	if user := GetUserFromContext(ctx); user != nil {
		return user.Claims
	}
	return nil
}
