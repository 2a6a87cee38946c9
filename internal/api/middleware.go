/**
 * @description
 * Staff authentication middleware. Front-desk and admin tools call the ledger
 * with an HS256 bearer token issued by the club's identity service; the token
 * subject becomes the acting admin recorded on withdrawals and attendance.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token parsing and validation.
 */
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

// ActingAdminContextKey is the key used to store the acting admin ID in the request context.
const ActingAdminContextKey = contextKey("actingAdminID")

var staffRoles = map[string]struct{}{
	"ADMIN": {},
	"STAFF": {},
	"COACH": {},
}

// StaffClaims are the claims carried by staff tokens.
type StaffClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// StaffAuthMiddleware validates staff bearer tokens signed with secret.
func StaffAuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			adminID, err := parseStaffToken(tokenString, secret)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ActingAdminContextKey, adminID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseStaffToken(tokenString string, secret []byte) (uuid.UUID, error) {
	if len(secret) == 0 {
		return uuid.Nil, errors.New("staff token secret not configured")
	}
	claims := &StaffClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, err
	}
	if !token.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	if _, ok := staffRoles[strings.ToUpper(claims.Role)]; !ok {
		return uuid.Nil, errors.New("role is not allowed to operate the ledger")
	}
	return uuid.Parse(claims.Subject)
}

// GetActingAdminID retrieves the acting admin ID from the request context.
func GetActingAdminID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ActingAdminContextKey).(uuid.UUID)
	return id, ok
}
