// Package auth guards the admin API with bearer JWTs.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	operatorKey contextKey = "operator"
	rolesKey    contextKey = "roles"
)

// Roles understood by the admin API. RoleAdmin implies RoleViewer.
const (
	RoleAdmin  = "sync:admin"
	RoleViewer = "sync:viewer"
)

type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// Config selects token verification: a shared HS256 secret, or RS256 keys
// published at JWKSURL.
type Config struct {
	Issuer     string
	Audience   string
	JWKSURL    string
	SigningKey []byte
	JWKSTTL    time.Duration
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// keySet caches the RSA keys of a JWKS endpoint. An unknown kid forces a
// refetch once the cache is older than minRefresh.
type keySet struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	client     *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newKeySet(url string, ttl time.Duration) *keySet {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &keySet{
		url:        url,
		ttl:        ttl,
		minRefresh: 10 * time.Second,
		client:     &http.Client{Timeout: 10 * time.Second},
		keys:       map[string]*rsa.PublicKey{},
	}
}

func (s *keySet) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	k, ok := s.keys[kid]
	age := time.Since(s.fetchedAt)
	s.mu.RUnlock()

	if ok && age < s.ttl {
		return k, nil
	}
	if !ok && age < s.minRefresh {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	if err := s.refresh(ctx); err != nil {
		if ok {
			return k, nil
		}
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if k, ok = s.keys[kid]; !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return k, nil
}

func (s *keySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		if pub, err := rsaKey(k); err == nil {
			keys[k.Kid] = pub
		}
	}

	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return nil
}

func rsaKey(k jwk) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}, nil
}

// JWTMiddleware rejects requests without a valid bearer token and stores the
// token subject and roles on the request context.
func JWTMiddleware(cfg Config) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var keyFunc func(ctx context.Context) jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
		keyFunc = func(context.Context) jwt.Keyfunc {
			return func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
		}
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
		keys := newKeySet(cfg.JWKSURL, cfg.JWKSTTL)
		keyFunc = func(ctx context.Context) jwt.Keyfunc {
			return func(t *jwt.Token) (interface{}, error) {
				kid, _ := t.Header["kid"].(string)
				if kid == "" {
					return nil, fmt.Errorf("token has no kid header")
				}
				return keys.key(ctx, kid)
			}
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			scheme, raw, ok := strings.Cut(c.Request().Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			ctx := c.Request().Context()
			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, keyFunc(ctx), opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.SetRequest(c.Request().WithContext(WithOperator(ctx, claims.Subject, claims.Roles)))
			return next(c)
		}
	}
}

// DevMiddleware treats every request as an admin. Development only.
func DevMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := WithOperator(c.Request().Context(), "dev-operator", []string{RoleAdmin})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireRole answers 403 unless the caller holds role (or RoleAdmin).
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !HasRole(c.Request().Context(), role) {
				return echo.NewHTTPError(http.StatusForbidden, "missing role "+role)
			}
			return next(c)
		}
	}
}

func WithOperator(ctx context.Context, operator string, roles []string) context.Context {
	ctx = context.WithValue(ctx, operatorKey, operator)
	return context.WithValue(ctx, rolesKey, roles)
}

func OperatorFromContext(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey).(string)
	return op
}

func HasRole(ctx context.Context, role string) bool {
	roles, _ := ctx.Value(rolesKey).([]string)
	for _, r := range roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}
