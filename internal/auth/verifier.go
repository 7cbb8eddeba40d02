package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for a missing, malformed or invalid credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity describes the user behind a verified credential.
type Identity struct {
	UserID      string
	DisplayName string
	Role        string
}

// Verifier turns an opaque bearer credential into an Identity.
// Token issuance lives in the platform's auth service; this side only verifies.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// Claims represents the JWT claims the platform issues.
type Claims struct {
	DisplayName string `json:"name,omitempty"`
	Role        string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT verification settings.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// JWTVerifier validates HMAC-signed platform tokens.
type JWTVerifier struct {
	cfg *JWTConfig
}

// NewJWTVerifier creates a verifier for the given config.
func NewJWTVerifier(cfg *JWTConfig) *JWTVerifier {
	return &JWTVerifier{cfg: cfg}
}

// Verify parses and validates a bearer credential and returns the identity.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (*Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrUnauthenticated
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}

	if v.cfg.Issuer != "" && claims.Issuer != v.cfg.Issuer {
		return nil, fmt.Errorf("%w: invalid issuer", ErrUnauthenticated)
	}

	if v.cfg.Audience != "" {
		validAudience := false
		for _, aud := range claims.Audience {
			if aud == v.cfg.Audience {
				validAudience = true
				break
			}
		}
		if !validAudience {
			return nil, fmt.Errorf("%w: invalid audience", ErrUnauthenticated)
		}
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}

	name := claims.DisplayName
	if name == "" {
		name = claims.Subject
	}

	return &Identity{
		UserID:      claims.Subject,
		DisplayName: name,
		Role:        claims.Role,
	}, nil
}

// GenerateToken creates a signed token for the given identity. The platform's
// auth service owns issuance in production; this is used by tests and tooling.
func GenerateToken(cfg *JWTConfig, userID, displayName, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		DisplayName: displayName,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

var _ Verifier = (*JWTVerifier)(nil)
