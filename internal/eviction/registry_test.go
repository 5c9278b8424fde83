package eviction_test

import (
	"slices"
	"testing"

	"github.com/lucasew/photosync/internal/eviction"
	_ "github.com/lucasew/photosync/internal/eviction/lru"
)

func TestGetStrategy(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		s, err := eviction.GetStrategy("")
		if err != nil {
			t.Fatalf("GetStrategy failed: %v", err)
		}
		if s == nil {
			t.Fatal("expected a strategy")
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		if _, err := eviction.GetStrategy("fifo-ish"); err == nil {
			t.Fatal("expected error for unknown strategy")
		}
	})

	t.Run("Fresh Instances", func(t *testing.T) {
		a, _ := eviction.GetStrategy("lru")
		b, _ := eviction.GetStrategy("lru")
		a.OnAdd("x", 1)
		if b.Len() != 0 {
			t.Errorf("strategies share state: len %d", b.Len())
		}
	})

	if !slices.Contains(eviction.Names(), "lru") {
		t.Errorf("lru not registered: %v", eviction.Names())
	}
}
