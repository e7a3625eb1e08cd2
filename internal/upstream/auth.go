package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type authData struct {
	Token string `json:"token"`
}

type authResponse struct {
	Data authData `json:"data"`
}

// Authenticate returns a bearer token, exchanging the API key only when the
// cached token is missing or inside its safety margin. Concurrent callers
// serialize; at most one exchange is in flight per Client.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	token, err := c.exchange(ctx)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	c.token = token
	c.tokenExpiry = c.expiryFor(token)
	c.logger.Debug().Time("expires_at", c.tokenExpiry).Msg("upstream token refreshed")
	return token, nil
}

// InvalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) InvalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.tokenMu.Unlock()
}

func (c *Client) exchange(ctx context.Context) (string, error) {
	status, _, body, err := c.send(ctx, http.MethodPost, "/authenticates", nil, nil, func(req *http.Request) {
		req.Header.Set("Authorization", c.opts.APIKey)
	})
	c.metrics.ObserveUpstream(http.MethodPost, status)
	if err != nil {
		return "", &APIError{Method: http.MethodPost, Path: "/authenticates", Err: err}
	}
	if status < 200 || status >= 300 {
		return "", &APIError{Method: http.MethodPost, Path: "/authenticates", StatusCode: status, Body: string(body)}
	}
	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if resp.Data.Token == "" {
		return "", fmt.Errorf("auth response carried no token")
	}
	return resp.Data.Token, nil
}

// expiryFor computes when a token should be considered stale: TokenTTL after
// issue, or the JWT exp claim when earlier, minus the safety margin.
func (c *Client) expiryFor(token string) time.Time {
	expiry := c.now().Add(c.opts.TokenTTL)
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Time.Before(expiry) {
			expiry = exp.Time
		}
	}
	return expiry.Add(-c.opts.TokenSafetyMargin)
}
