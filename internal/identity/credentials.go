package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

// DefaultTokenTTL is the lifetime of issued bearer tokens.
const DefaultTokenTTL = 7 * 24 * time.Hour

var ErrMissingSecret = errors.New("jwt secret is required")

// Claims is what a verified bearer credential asserts.
type Claims struct {
	PrincipalID string
	Email       string
	ExpiresAt   time.Time
}

// CredentialVerifier checks a bearer credential.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// PrincipalLookup resolves a principal id against the credential store.
type PrincipalLookup interface {
	GetPrincipal(ctx context.Context, id string) (*model.Principal, error)
}

type tokenClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// JWTCredentials issues and verifies HS256 tokens carrying userId and email.
type JWTCredentials struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTCredentials(secret string, ttl time.Duration) (*JWTCredentials, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTCredentials{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for p.
func (j *JWTCredentials) Issue(p model.Principal) (string, error) {
	now := j.now()
	claims := tokenClaims{
		UserID: p.ID,
		Email:  p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and checks signature, algorithm and expiry.
func (j *JWTCredentials) Verify(_ context.Context, token string) (Claims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return j.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", model.ErrAuthDegraded, err)
	}
	if claims.UserID == "" {
		return Claims{}, fmt.Errorf("%w: token has no userId", model.ErrAuthDegraded)
	}
	out := Claims{PrincipalID: claims.UserID, Email: claims.Email}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
