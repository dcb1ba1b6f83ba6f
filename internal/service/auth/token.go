package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenRequest describes a development token. Production tokens are issued by
// the login service.
type TokenRequest struct {
	Subject     string
	SessionID   string
	UserID      string
	Permissions []string
	IssuedAt    time.Time
	TTL         time.Duration
}

func NewToken(secret string, req TokenRequest) (string, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.IssuedAt.IsZero() {
		req.IssuedAt = time.Now()
	}
	if req.TTL <= 0 {
		req.TTL = 24 * time.Hour
	}

	claims := tokenClaims{
		UserID:      req.UserID,
		Permissions: req.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Subject,
			ID:        req.SessionID,
			IssuedAt:  jwt.NewNumericDate(req.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(req.IssuedAt.Add(req.TTL)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ExtractBearerToken reads the token from the Authorization header and falls
// back to the token query parameter, which browsers need for websockets.
func ExtractBearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}

	return strings.TrimSpace(r.URL.Query().Get("token"))
}
