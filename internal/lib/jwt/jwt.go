package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidState       = errors.New("invalid state")
	ErrMissingUserIDClaim = errors.New("user_id missing in state")
)

const DefaultStateTTL = 15 * time.Minute

type stateClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// StateSigner issues the OAuth state parameter of the LINE login flow. The
// state carries the shop user ID so the callback can link it without trusting
// the query string.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func New(secret string, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *StateSigner) Sign(userID string) (string, error) {
	if userID == "" {
		return "", ErrMissingUserIDClaim
	}

	now := s.now()
	claims := stateClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

// * Parse извлекает userID из state
func (s *StateSigner) Parse(state string) (string, error) {
	if state == "" {
		return "", ErrInvalidState
	}

	var claims stateClaims
	token, err := jwt.ParseWithClaims(state, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidState
	}

	if claims.UserID == "" {
		return "", ErrMissingUserIDClaim
	}

	return claims.UserID, nil
}
