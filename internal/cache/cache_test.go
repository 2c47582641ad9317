package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()

	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "seen:TXN001", []byte("1"), time.Minute); err != nil {
			t.Fatalf("set failed: %v", err)
		}

		val, err := c.Get(ctx, "seen:TXN001")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if string(val) != "1" {
			t.Errorf("expected '1', got %q", val)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		val, err := c.Get(ctx, "seen:nope")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for missing key, got %q", val)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		c.Set(ctx, "short", []byte("x"), 10*time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		val, err := c.Get(ctx, "short")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if val != nil {
			t.Error("expected expired entry to be gone")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set(ctx, "del", []byte("x"), time.Minute)
		c.Delete(ctx, "del")

		val, _ := c.Get(ctx, "del")
		if val != nil {
			t.Error("expected deleted entry to be gone")
		}
	})
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()

	ctx := context.Background()

	for i := 0; i < 4; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), []byte("x"), time.Minute)
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected size 3 of 3, got %d of %d", size, capacity)
	}

	// Oldest entry was evicted.
	val, _ := c.Get(ctx, "k0")
	if val != nil {
		t.Error("expected k0 evicted")
	}
	val, _ = c.Get(ctx, "k3")
	if val == nil {
		t.Error("expected k3 present")
	}
}

func TestIncrementCounter(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()

	ctx := context.Background()

	t.Run("CountsWithinWindow", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := c.IncrementCounter(ctx, "notify", time.Minute)
			if err != nil {
				t.Fatalf("increment failed: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}
	})

	t.Run("WindowReset", func(t *testing.T) {
		c.IncrementCounter(ctx, "cooldown", 10*time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		got, err := c.IncrementCounter(ctx, "cooldown", 10*time.Millisecond)
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
		if got != 1 {
			t.Errorf("expected counter reset to 1, got %d", got)
		}
	})
}

func TestNewFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	c.Close()

	if _, err := New(domain.CacheConfig{Type: "punch-cards"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
