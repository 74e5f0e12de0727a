package api

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired indicates the locally held credential is no longer valid
// and the user must re-authenticate. Surfaced before any network call so an
// expired session fails fast instead of burning a request on a guaranteed 401.
var ErrTokenExpired = errors.New("credential token expired")

// TokenProvider supplies the bearer credential for each request. The engine
// treats it as opaque; refresh is the embedding application's concern.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider holds a fixed token. If the token is a JWT, its expiry
// claim is checked locally on every use.
type StaticTokenProvider struct {
	token string
}

func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	if exp, ok := jwtExpiry(p.token); ok && time.Now().After(exp) {
		return "", ErrTokenExpired
	}
	return p.token, nil
}

// jwtExpiry extracts the exp claim without verifying the signature; the
// client has no key material, the server remains the authority.
func jwtExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// TokenProviderFunc adapts a function to the TokenProvider interface.
type TokenProviderFunc func(ctx context.Context) (string, error)

func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}
