package catalog

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"release_notifier/internal/domain"
)

// defaultTokenTTL is assumed when the token response carries no expires_in.
const defaultTokenTTL = time.Hour

// Token returns the cached bearer token, requesting a new one once the cached
// token is within the safety margin of its expiry. Concurrent callers share a
// single token request.
func (c *Client) Token(ctx context.Context) (string, error) {
	if token, ok := c.cachedToken(); ok {
		return token, nil
	}

	v, err, _ := c.refresh.Do("token", func() (interface{}, error) {
		if token, ok := c.cachedToken(); ok {
			return token, nil
		}
		return c.requestToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" || !c.now().Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

func (c *Client) requestToken(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.credentials.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrCatalogAuth, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", domain.ErrCatalogAuth)
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = c.now().Add(defaultTokenTTL)
	}

	c.mu.Lock()
	c.token = tok.AccessToken
	c.expiresAt = expiry.Add(-c.tokenMargin)
	c.mu.Unlock()

	c.logger.Debug("acquired catalog token", "expires_at", expiry)

	return tok.AccessToken, nil
}

// invalidateToken drops the cached token if it is still the rejected one.
func (c *Client) invalidateToken(rejected string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == rejected {
		c.token = ""
		c.expiresAt = time.Time{}
	}
}
