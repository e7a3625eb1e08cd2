package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func signHS256(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func validClaims(roles ...string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
}

// serve runs mw in front of a handler that echoes the operator.
func serve(t *testing.T, mw echo.MiddlewareFunc, header string) (int, string) {
	t.Helper()
	e := echo.New()
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, OperatorFromContext(c.Request().Context()))
	}, mw)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func TestJWTMiddleware_RejectsMissingOrMalformedHeader(t *testing.T) {
	mw := JWTMiddleware(Config{SigningKey: testSigningKey})
	for _, header := range []string{"", "Token abc", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		if code, _ := serve(t, mw, header); code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, code)
		}
	}
}

func TestJWTMiddleware_ValidHS256(t *testing.T) {
	mw := JWTMiddleware(Config{SigningKey: testSigningKey})
	code, body := serve(t, mw, "Bearer "+signHS256(t, validClaims(RoleViewer), testSigningKey))
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body != "ops@example.com" {
		t.Errorf("expected operator on context, got %q", body)
	}
}

func TestJWTMiddleware_RejectsBadTokens(t *testing.T) {
	mw := JWTMiddleware(Config{SigningKey: testSigningKey, Issuer: "https://idp.example.com"})

	expired := validClaims()
	expired.Issuer = "https://idp.example.com"
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := validClaims()
	noExpiry.Issuer = "https://idp.example.com"
	noExpiry.ExpiresAt = nil

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "https://other.example.com"

	rightIssuer := validClaims()
	rightIssuer.Issuer = "https://idp.example.com"

	cases := map[string]string{
		"expired":      signHS256(t, expired, testSigningKey),
		"no expiry":    signHS256(t, noExpiry, testSigningKey),
		"wrong issuer": signHS256(t, wrongIssuer, testSigningKey),
		"wrong key":    signHS256(t, rightIssuer, []byte("another-key")),
	}
	for name, tok := range cases {
		if code, _ := serve(t, mw, "Bearer "+tok); code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, code)
		}
	}
}

func TestJWTMiddleware_JWKS(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "k1",
				"n":   base64.RawURLEncoding.EncodeToString(priv.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(priv.E)).Bytes()),
			}},
		})
	}))
	defer srv.Close()

	mw := JWTMiddleware(Config{JWKSURL: srv.URL})
	sign := func(kid string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims(RoleAdmin))
		tok.Header["kid"] = kid
		s, err := tok.SignedString(priv)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	for i := 0; i < 3; i++ {
		if code, _ := serve(t, mw, "Bearer "+sign("k1")); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("expected one JWKS fetch, got %d", n)
	}
	if code, _ := serve(t, mw, "Bearer "+sign("unknown")); code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown kid, got %d", code)
	}
	if code, _ := serve(t, mw, "Bearer "+signHS256(t, validClaims(), testSigningKey)); code != http.StatusUnauthorized {
		t.Errorf("expected 401 for HS256 token against JWKS config, got %d", code)
	}
}

func TestDevMiddleware_GrantsAdmin(t *testing.T) {
	code, body := serve(t, DevMiddleware(), "")
	if code != http.StatusOK || body != "dev-operator" {
		t.Fatalf("expected dev operator, got %d %q", code, body)
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

	cases := []struct {
		name  string
		roles []string
		want  int
	}{
		{"admin implies viewer", []string{RoleAdmin}, http.StatusNoContent},
		{"viewer", []string{RoleViewer}, http.StatusNoContent},
		{"none", nil, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithOperator(req.Context(), "x", tc.roles))
			rec := httptest.NewRecorder()
			err := RequireRole(RoleViewer)(ok)(e.NewContext(req, rec))
			code := rec.Code
			if he, isHTTP := err.(*echo.HTTPError); isHTTP {
				code = he.Code
			}
			if code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, code)
			}
		})
	}
	if HasRole(WithOperator(context.Background(), "x", []string{RoleViewer}), RoleAdmin) {
		t.Error("viewer must not satisfy admin")
	}
}
