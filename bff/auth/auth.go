package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"gridinspect/bff/dto"
	"gridinspect/bff/middleware"
)

var ErrInvalidToken = errors.New("invalid authentication credentials")

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller extracted from the bearer token.
// Token issuing lives in the external auth service; the gateway only
// validates signatures.
type Identity struct {
	UUID  string `json:"uuid"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// localIdentity is returned for every request when BACKEND_LOCAL is set,
// so the stack can run without the auth service.
var localIdentity = Identity{
	UUID:  "00000000-0000-0000-0000-000000000001",
	Email: "local@user.com",
	Role:  "ADMIN",
}

type Validator struct {
	secret    []byte
	localMode bool
}

func NewValidator(secret string, localMode bool) *Validator {
	return &Validator{secret: []byte(secret), localMode: localMode}
}

// Parse validates an HS256 token and extracts the caller identity.
func (v *Validator) Parse(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	identity := &Identity{
		UUID:  stringClaim(claims, "uuid"),
		Email: stringClaim(claims, "email"),
		Role:  stringClaim(claims, "role"),
	}
	if identity.UUID == "" {
		identity.UUID = stringClaim(claims, "user_id")
	}
	if identity.Role == "" {
		identity.Role = "USER"
	}

	return identity, nil
}

// Require rejects requests without a valid bearer token. In local mode every
// request passes as a fixed admin identity.
func (v *Validator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.localMode {
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), &localIdentity)))
			return
		}

		header := r.Header.Get("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			unauthorized(w, r)
			return
		}

		identity, err := v.Parse(tokenString)
		if err != nil {
			unauthorized(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

func withIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// FromContext returns the authenticated identity, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   ErrInvalidToken.Error(),
		TraceID: middleware.GetTraceID(r.Context()),
	})
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if value, ok := claims[key].(string); ok {
		return value
	}
	return ""
}
