package cache

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type tokenEntry[V any] struct {
	value    V
	deadline time.Time
}

// TokenCache holds one value per access token. Entries expire after the
// configured TTL or when the token itself expires, whichever comes first.
// It is safe for concurrent use.
type TokenCache[V any] struct {
	lru *expirable.LRU[string, tokenEntry[V]]
	now func() time.Time
}

// NewTokenCache creates a token cache with the given capacity and TTL.
func NewTokenCache[V any](capacity int, ttl time.Duration) *TokenCache[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &TokenCache[V]{
		lru: expirable.NewLRU[string, tokenEntry[V]](capacity, nil, ttl),
		now: time.Now,
	}
}

// Get returns the value cached for token, if it is still valid.
func (c *TokenCache[V]) Get(token string) (V, bool) {
	e, ok := c.lru.Get(token)
	if !ok {
		var zero V
		return zero, false
	}
	if !e.deadline.IsZero() && !c.now().Before(e.deadline) {
		c.lru.Remove(token)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Insert caches value for token.
func (c *TokenCache[V]) Insert(token string, value V) {
	c.lru.Add(token, tokenEntry[V]{value: value, deadline: c.deadlineFor(token)})
}

// Remove drops the entry for token.
func (c *TokenCache[V]) Remove(token string) {
	c.lru.Remove(token)
}

// Clear removes all entries.
func (c *TokenCache[V]) Clear() {
	c.lru.Purge()
}

// Len returns the number of entries, including ones not yet purged.
func (c *TokenCache[V]) Len() int {
	return c.lru.Len()
}

func (c *TokenCache[V]) deadlineFor(token string) time.Time {
	exp, ok := TokenExpiry(token)
	if !ok {
		return time.Time{}
	}
	return exp
}

// TokenExpiry reads the exp claim of a JWT without verifying it. Opaque
// tokens report false.
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
