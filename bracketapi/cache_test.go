package bracketapi

import (
	"testing"
	"time"
)

func TestResponseCacheEvictsOldestAtCapacity(t *testing.T) {
	c := newResponseCache(2)
	now := time.Now()

	c.set("a", []byte("1"), time.Minute, now)
	c.set("b", []byte("2"), time.Minute, now)
	c.set("c", []byte("3"), time.Minute, now)

	if c.len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.len())
	}
	if _, ok := c.get("a", now); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if data, ok := c.get("b", now); !ok || string(data) != "2" {
		t.Fatalf("entry b lost: ok=%v data=%q", ok, data)
	}
	if data, ok := c.get("c", now); !ok || string(data) != "3" {
		t.Fatalf("entry c lost: ok=%v data=%q", ok, data)
	}
}

func TestResponseCacheOverwriteKeepsPosition(t *testing.T) {
	c := newResponseCache(2)
	now := time.Now()

	c.set("a", []byte("1"), time.Minute, now)
	c.set("b", []byte("2"), time.Minute, now)
	// Перезаписываем "a": позиция в порядке вставки не меняется.
	c.set("a", []byte("1x"), time.Minute, now)
	c.set("c", []byte("3"), time.Minute, now)

	if _, ok := c.get("a", now); ok {
		t.Fatal("a should still be the oldest and evicted by c")
	}
	if data, ok := c.get("b", now); !ok || string(data) != "2" {
		t.Fatalf("entry b lost: ok=%v data=%q", ok, data)
	}
}

func TestResponseCacheTTLExpiry(t *testing.T) {
	c := newResponseCache(4)
	now := time.Now()

	c.set("a", []byte("1"), 10*time.Second, now)

	if _, ok := c.get("a", now.Add(5*time.Second)); !ok {
		t.Fatal("entry should still be fresh")
	}
	if _, ok := c.get("a", now.Add(11*time.Second)); ok {
		t.Fatal("entry should have expired")
	}
	if c.len() != 0 {
		t.Fatalf("expired entry should be removed, have %d", c.len())
	}
}

func TestResponseCacheZeroCapacityDisabled(t *testing.T) {
	c := newResponseCache(0)
	now := time.Now()

	c.set("a", []byte("1"), time.Minute, now)
	if _, ok := c.get("a", now); ok {
		t.Fatal("zero-capacity cache must never store")
	}
}
