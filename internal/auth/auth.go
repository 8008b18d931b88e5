// Package auth verifies Auth0-issued bearer tokens and maps them to tenant
// identities.
//
// Tokens are RS256 JWTs verified against the tenant realm's JWKS, which is
// fetched once and refreshed in the background. The token's subject claim
// becomes the tenant ID after normalization, so every authenticated caller
// maps deterministically to one isolated engine instance.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"github.com/embediq/backend/internal/sanitize"
)

var (
	// ErrMissingToken indicates no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken indicates the token failed verification or
	// validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid auth configuration")
)

// Config holds token verification configuration.
type Config struct {
	// Domain is the Auth0 tenant domain, e.g. "example.us.auth0.com".
	Domain string

	// Audience is the expected API audience claim.
	Audience string

	// IssuerURL overrides the issuer derived from Domain.
	IssuerURL string

	// JWKSURL overrides the JWKS endpoint derived from Domain.
	JWKSURL string
}

func (c Config) issuer() string {
	if c.IssuerURL != "" {
		return c.IssuerURL
	}
	return "https://" + c.Domain + "/"
}

func (c Config) jwksURL() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return "https://" + c.Domain + "/.well-known/jwks.json"
}

// Identity is the result of a successful verification.
type Identity struct {
	// Subject is the raw subject claim, e.g. "auth0|65f1c2...".
	Subject string

	// TenantID is the normalized, filesystem-safe form of Subject.
	TenantID string
}

// Verifier validates bearer tokens and resolves tenant identities. Safe for
// concurrent use.
type Verifier struct {
	cfg    Config
	keys   jwk.Set
	logger *zap.Logger
}

// NewVerifier creates a verifier backed by the realm's JWKS endpoint. The
// key set is fetched eagerly so misconfiguration fails at startup, then
// refreshed in the background for the lifetime of ctx.
func NewVerifier(ctx context.Context, cfg Config, logger *zap.Logger) (*Verifier, error) {
	if cfg.Domain == "" && (cfg.IssuerURL == "" || cfg.JWKSURL == "") {
		return nil, fmt.Errorf("%w: domain required", ErrInvalidConfig)
	}
	if cfg.Audience == "" {
		return nil, fmt.Errorf("%w: audience required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.jwksURL(), jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("registering JWKS endpoint: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.jwksURL()); err != nil {
		return nil, fmt.Errorf("fetching JWKS from %s: %w", cfg.jwksURL(), err)
	}

	logger.Info("token verifier initialized",
		zap.String("issuer", cfg.issuer()),
		zap.String("audience", cfg.Audience))

	return &Verifier{
		cfg:    cfg,
		keys:   jwk.NewCachedSet(cache, cfg.jwksURL()),
		logger: logger,
	}, nil
}

// NewVerifierWithKeySet creates a verifier over a fixed key set.
func NewVerifierWithKeySet(cfg Config, keys jwk.Set, logger *zap.Logger) (*Verifier, error) {
	if cfg.Audience == "" {
		return nil, fmt.Errorf("%w: audience required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{cfg: cfg, keys: keys, logger: logger}, nil
}

// Verify checks the raw token's signature and claims and returns the caller
// identity.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	tok, err := jwt.Parse([]byte(raw),
		jwt.WithContext(ctx),
		jwt.WithKeySet(v.keys),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.cfg.issuer()),
		jwt.WithAudience(v.cfg.Audience),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub := tok.Subject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}

	tenantID := sanitize.Identifier(sub)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: subject claim %q has no usable characters", ErrInvalidToken, sub)
	}

	return &Identity{Subject: sub, TenantID: tenantID}, nil
}

// FromAuthorizationHeader extracts the bearer token from an Authorization
// header value. Returns ErrMissingToken for an empty or non-bearer header.
func FromAuthorizationHeader(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", fmt.Errorf("%w: authorization header is not a bearer token", ErrMissingToken)
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
