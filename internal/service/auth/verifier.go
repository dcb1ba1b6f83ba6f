package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/krobus00/market-stream/internal/entity"
)

const MinSecretLength = 32

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d characters long", MinSecretLength)
)

type tokenClaims struct {
	UserID      string   `json:"user_id,omitempty"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 bearer tokens. It holds no mutable state and is safe
// for concurrent use.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
	clock  clockwork.Clock
}

func NewVerifier(secret string, leeway time.Duration, clock clockwork.Clock) (*Verifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if leeway < 0 {
		leeway = 0
	}

	return &Verifier{
		secret: []byte(secret),
		clock:  clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
			jwt.WithTimeFunc(clock.Now),
		),
	}, nil
}

func (v *Verifier) Verify(rawToken string) (entity.Claims, error) {
	if rawToken == "" {
		return entity.Claims{}, ErrInvalidToken
	}

	claims := &tokenClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenUnverifiable):
			return entity.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return entity.Claims{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
			return entity.Claims{}, fmt.Errorf("%w: %v", ErrMissingClaim, err)
		default:
			return entity.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	if claims.Subject == "" {
		return entity.Claims{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.ID == "" {
		return entity.Claims{}, fmt.Errorf("%w: jti", ErrMissingClaim)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}

	result := entity.Claims{
		Subject:     claims.Subject,
		SessionID:   claims.ID,
		UserID:      userID,
		Permissions: append([]string(nil), claims.Permissions...),
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}

	return result, nil
}
