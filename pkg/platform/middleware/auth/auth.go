// Package auth guards admin routes with HS256 bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "warden/pkg/domain-errors"
)

// Issuer is stamped on every admin token.
const Issuer = "warden"

// Claims are the admin token claims. Subject names the operator.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenValidator validates a raw bearer token.
type TokenValidator interface {
	ValidateToken(token string) (*Claims, error)
}

// HMAC signs and validates admin tokens with a shared key.
type HMAC struct {
	key []byte
	now func() time.Time
}

// NewHMAC returns an HMAC signer. An empty key is rejected.
func NewHMAC(key string) (*HMAC, error) {
	if key == "" {
		return nil, errors.New("signing key is required")
	}
	return &HMAC{key: []byte(key), now: time.Now}, nil
}

// IssueToken signs a token for operator valid for ttl.
func (h *HMAC) IssueToken(operator string, ttl time.Duration) (string, error) {
	if operator == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "operator is required")
	}
	now := h.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(h.key)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

func (h *HMAC) ValidateToken(raw string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return h.key, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

type contextKeyOperator struct{}

// GetOperator returns the authenticated operator, or "" on open routes.
func GetOperator(ctx context.Context) string {
	operator, _ := ctx.Value(contextKeyOperator{}).(string)
	return operator
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", middleware.GetReqID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", middleware.GetReqID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx = context.WithValue(ctx, contextKeyOperator{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
