// Package auth verifies bearer JWTs issued by the BaaS auth service and
// carries the caller's identity through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/careconnect/backend/api/apierror"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// Claims is the verified identity of a caller.
type Claims struct {
	UserID    string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// TokenVerifier verifies a raw bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Config configures a Verifier. At least one of Secret, JWKSURL or
// RSAKeyfunc must be set.
type Config struct {
	// Secret verifies HS256 tokens.
	Secret string
	// JWKSURL serves the RS256 public keys.
	JWKSURL string
	// RSAKeyfunc resolves RS256 keys directly, bypassing JWKSURL.
	RSAKeyfunc jwt.Keyfunc
	Audience   string
	Clock      clockwork.Clock
	// Leeway tolerates clock skew on exp/nbf/iat.
	Leeway time.Duration
}

// Verifier checks HS256 and RS256 tokens.
type Verifier struct {
	secret   []byte
	rsaKeys  jwt.Keyfunc
	audience string
	clock    clockwork.Clock
	leeway   time.Duration
}

type tokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// NewVerifier builds a Verifier. When JWKSURL is set, the key set is fetched
// and refreshed in the background until ctx is done.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	v := &Verifier{
		secret:   []byte(cfg.Secret),
		rsaKeys:  cfg.RSAKeyfunc,
		audience: cfg.Audience,
		clock:    cfg.Clock,
		leeway:   cfg.Leeway,
	}
	if v.clock == nil {
		v.clock = clockwork.NewRealClock()
	}

	if v.rsaKeys == nil && cfg.JWKSURL != "" {
		jwks, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("failed to load JWKS from %s: %w", cfg.JWKSURL, err)
		}
		v.rsaKeys = jwks.Keyfunc
	}

	if len(v.secret) == 0 && v.rsaKeys == nil {
		return nil, errors.New("auth: a JWT secret or JWKS URL is required")
	}
	return v, nil
}

// Verify parses and validates token. Failures are authentication errors
// whose message is safe to return to the caller.
func (v *Verifier) Verify(_ context.Context, token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, v.keyFor, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &apierror.Error{Kind: apierror.KindAuthentication, Message: "Token expired", Err: err}
		}
		return nil, &apierror.Error{Kind: apierror.KindAuthentication, Message: "Invalid token", Err: err}
	}

	if claims.Subject == "" {
		return nil, apierror.Authentication("Invalid token")
	}

	out := &Claims{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func (v *Verifier) keyFor(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.secret) == 0 {
			return nil, errors.New("HS256 tokens are not accepted")
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		if v.rsaKeys == nil {
			return nil, errors.New("RS256 tokens are not accepted")
		}
		return v.rsaKeys(token)
	default:
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
}
