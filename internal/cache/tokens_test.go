package cache

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user",
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := TokenExpiry(signedToken(t, exp))
	if !ok {
		t.Fatal("expected expiry for a JWT")
	}
	if !got.Equal(exp) {
		t.Errorf("TokenExpiry() = %v, want %v", got, exp)
	}

	if _, ok := TokenExpiry("opaque-token"); ok {
		t.Error("opaque tokens should have no expiry")
	}
	if _, ok := TokenExpiry(""); ok {
		t.Error("empty token should have no expiry")
	}
}

func TestTokenCacheGetInsert(t *testing.T) {
	c := NewTokenCache[string](4, time.Hour)
	c.Insert("opaque", "provider-1")

	v, ok := c.Get("opaque")
	if !ok || v != "provider-1" {
		t.Fatalf("Get() = %q, %v", v, ok)
	}
	if _, ok := c.Get("other"); ok {
		t.Error("unexpected hit for unknown token")
	}

	c.Remove("opaque")
	if _, ok := c.Get("opaque"); ok {
		t.Error("expected miss after Remove")
	}
}

func TestTokenCacheEvictsExpiredToken(t *testing.T) {
	c := NewTokenCache[int](4, time.Hour)
	now := time.Now()
	c.now = func() time.Time { return now }

	token := signedToken(t, now.Add(time.Minute))
	c.Insert(token, 42)

	if v, ok := c.Get(token); !ok || v != 42 {
		t.Fatalf("Get() before expiry = %d, %v", v, ok)
	}

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok := c.Get(token); ok {
		t.Error("expected miss after the token expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed, Len() = %d", c.Len())
	}
}

func TestTokenCacheTTL(t *testing.T) {
	c := NewTokenCache[int](4, 20*time.Millisecond)
	c.Insert("opaque", 1)
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("opaque"); ok {
		t.Error("expected miss after TTL")
	}
}

func TestTokenCacheCapacity(t *testing.T) {
	c := NewTokenCache[int](2, time.Hour)
	c.Insert("a", 1)
	c.Insert("b", 2)
	c.Insert("c", 3)
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("a should have been evicted")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Error("expected empty cache after Clear")
	}
}
