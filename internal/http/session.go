package http

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const serviceRole = "service_role"

var errInvalidToken = errors.New("invalid access token")

// accessClaims are the claims carried by access tokens from the auth
// backend: the subject is the user id and role marks service callers.
type accessClaims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// issueAccessToken signs an HS256 access token. Used by tests and local
// tooling; production tokens come from the auth backend.
func issueAccessToken(secret string, userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := accessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseAccessToken verifies an HS256 token and maps it to a Principal.
func parseAccessToken(raw, secret string) (Principal, error) {
	if secret == "" {
		return Principal{}, errInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(raw, &accessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, errInvalidToken
	}

	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return Principal{}, errInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, errInvalidToken
	}
	return Principal{UserID: &userID, IsAdmin: claims.Role == serviceRole}, nil
}
