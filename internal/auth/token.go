// Package auth turns credentials into a models.Caller: bcrypt for stored
// passwords and HMAC-signed JWTs for request identity.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by an access token
type Claims struct {
	Role      models.Role `json:"role"`
	TeacherID string      `json:"teacher_id"`
	IsAdmin   bool        `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for the caller and returns it with its expiry
func (t *Tokens) Issue(caller models.Caller) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := &Claims{
		Role:      caller.Role,
		TeacherID: caller.TeacherID,
		IsAdmin:   caller.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates the signature and expiry and returns the caller
func (t *Tokens) Parse(raw string) (models.Caller, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return models.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return models.Caller{}, ErrInvalidToken
	}
	if claims.Role != models.RoleTeacher && claims.Role != models.RoleStudent {
		return models.Caller{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return models.Caller{
		ID:        claims.Subject,
		Role:      claims.Role,
		TeacherID: claims.TeacherID,
		IsAdmin:   claims.IsAdmin,
	}, nil
}
