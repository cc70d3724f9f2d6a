package server

import (
	"fmt"
	"testing"
	"time"
)

func TestResultCacheExpiry(t *testing.T) {
	c := newResultCache(time.Minute, 4)
	current := time.Unix(1700000000, 0)
	c.now = func() time.Time { return current }

	c.put("m1", ExtractResponse{ID: "m1"})
	if _, ok := c.get("m1"); !ok {
		t.Fatal("expected a fresh hit")
	}

	current = current.Add(2 * time.Minute)
	if _, ok := c.get("m1"); ok {
		t.Fatal("expected the entry to expire")
	}
}

func TestResultCacheEviction(t *testing.T) {
	c := newResultCache(time.Minute, 2)
	current := time.Unix(1700000000, 0)
	c.now = func() time.Time { return current }

	c.put("old", ExtractResponse{ID: "old"})
	current = current.Add(time.Second)
	c.put("new", ExtractResponse{ID: "new"})
	current = current.Add(time.Second)
	c.put("newest", ExtractResponse{ID: "newest"})

	if _, ok := c.get("old"); ok {
		t.Error("the entry closest to expiry should have been evicted")
	}
	if _, ok := c.get("new"); !ok {
		t.Error("newer entry evicted unexpectedly")
	}
	if _, ok := c.get("newest"); !ok {
		t.Error("newest entry missing")
	}
}

func TestResultCacheOverwriteDoesNotEvict(t *testing.T) {
	c := newResultCache(time.Minute, 2)
	c.put("a", ExtractResponse{ID: "a"})
	c.put("b", ExtractResponse{ID: "b"})
	c.put("a", ExtractResponse{ID: "a2"})

	resp, ok := c.get("a")
	if !ok || resp.ID != "a2" {
		t.Fatalf("overwrite lost: %v %v", resp, ok)
	}
	if _, ok := c.get("b"); !ok {
		t.Error("sibling entry evicted on overwrite")
	}
}

func TestResultCacheDisabled(t *testing.T) {
	for _, c := range []*resultCache{newResultCache(0, 10), newResultCache(time.Minute, 0), nil} {
		c.put("k", ExtractResponse{ID: "k"})
		if _, ok := c.get("k"); ok {
			t.Error("disabled cache must never hit")
		}
	}
}

func TestResultCacheIgnoresEmptyKey(t *testing.T) {
	c := newResultCache(time.Minute, 2)
	c.put("", ExtractResponse{ID: "anon"})
	if _, ok := c.get(""); ok {
		t.Error("empty keys must not be cached")
	}
	if len(c.entries) != 0 {
		t.Errorf("entries = %d, want 0", len(c.entries))
	}
}

func TestResultCacheBounded(t *testing.T) {
	c := newResultCache(time.Minute, 8)
	for i := 0; i < 50; i++ {
		c.put(fmt.Sprintf("k%d", i), ExtractResponse{})
	}
	if len(c.entries) > 8 {
		t.Errorf("entries = %d, want at most 8", len(c.entries))
	}
}
