/**
 * @description
 * This file provides a thread-safe cache for provider OAuth access tokens.
 * Both Mobile Money APIs issue short-lived bearer tokens; the cache refreshes
 * a token shortly before expiry and serializes concurrent refreshes so a burst
 * of payments triggers at most one token request.
 *
 * @dependencies
 * - context, sync, time: Standard Go libraries.
 */
package momo

import (
	"context"
	"sync"
	"time"
)

// tokenRefreshMargin is subtracted from the provider-reported lifetime so a
// token is never used in its final minute.
const tokenRefreshMargin = time.Minute

// TokenFetchFunc obtains a fresh access token and its lifetime from the provider.
type TokenFetchFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenCache caches one access token and refreshes it on expiry.
type TokenCache struct {
	mu     sync.Mutex
	fetch  TokenFetchFunc
	token  string
	expiry time.Time
	now    func() time.Time
}

// NewTokenCache creates a token cache around the given fetch function.
func NewTokenCache(fetch TokenFetchFunc) *TokenCache {
	return &TokenCache{fetch: fetch, now: time.Now}
}

// Token returns a valid access token, fetching a new one if the cached token
// is missing or within the refresh margin of expiry.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiry) {
		return c.token, nil
	}

	token, expiresIn, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}

	c.token = token
	c.expiry = c.now().Add(expiresIn - tokenRefreshMargin)
	return token, nil
}

// Invalidate discards the cached token, forcing a refresh on the next call.
// Used after a 401 from the provider.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiry = time.Time{}
}
