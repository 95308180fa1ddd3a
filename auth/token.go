package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, has a bad
	// signature, or carries no player identity.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a token is past its expiry.
	ErrExpiredToken = errors.New("token has expired")
	// ErrMissingToken is returned when a request carries no token at all.
	ErrMissingToken = errors.New("missing token")
)

// Claims are the JWT claims carried by roam identity tokens.
type Claims struct {
	PlayerID string `json:"player_id"`
	jwt.RegisteredClaims
}

// TokenProvider implements Provider and Issuer using HMAC-signed JWTs.
// Tokens are accepted from the Authorization header ("Bearer <token>") or,
// for websocket upgrades where headers are awkward for browser clients,
// from the "token" query parameter.
type TokenProvider struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenProvider creates a TokenProvider signing with the given secret.
func NewTokenProvider(secret, issuer string, ttl time.Duration) *TokenProvider {
	return &TokenProvider{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
	}
}

// IssueToken mints a token carrying the given player identity.
func (tp *TokenProvider) IssueToken(playerID string) (string, error) {
	now := time.Now()
	claims := Claims{
		PlayerID: playerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tp.issuer,
			Subject:   playerID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tp.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tp.secret)
}

// AuthenticateRequest validates the request's token and returns a context
// carrying the player identity under KeyUID.
func (tp *TokenProvider) AuthenticateRequest(ctx context.Context, r *http.Request) (context.Context, error) {
	uid, err := tp.GetUIDFromRequest(r)
	if err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, KeyUID, uid), nil
}

// GetUIDFromRequest extracts and validates the token, returning the player
// identity it carries.
func (tp *TokenProvider) GetUIDFromRequest(r *http.Request) (string, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return "", ErrMissingToken
	}
	claims, err := tp.parse(raw)
	if err != nil {
		return "", err
	}
	if claims.PlayerID == "" {
		return "", ErrInvalidToken
	}
	return claims.PlayerID, nil
}

func (tp *TokenProvider) parse(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return tp.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
	}
	return r.URL.Query().Get("token")
}
