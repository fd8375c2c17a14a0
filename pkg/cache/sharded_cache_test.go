package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	c := NewSharded[int]()

	c.Set("a", 1)
	c.Set("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("deleted key still present")
	}
	if c.Len() != 1 {
		t.Fatalf("Len after delete = %d, want 1", c.Len())
	}
}

func TestGetWithAge(t *testing.T) {
	c := NewSharded[string]()
	c.Set("k", "v")

	v, age, ok := c.GetWithAge("k")
	if !ok || v != "v" {
		t.Fatalf("GetWithAge = %v, %v", v, ok)
	}
	if age < 0 || age > time.Second {
		t.Fatalf("implausible age %v", age)
	}

	if _, _, ok := c.GetWithAge("missing"); ok {
		t.Fatal("missing key reported present")
	}
}

func TestCleanupEvictsOnlyStale(t *testing.T) {
	c := NewSharded[int]()
	c.Set("old", 1)
	time.Sleep(20 * time.Millisecond)
	c.Set("fresh", 2)

	removed := c.Cleanup(10 * time.Millisecond)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := c.Get("old"); ok {
		t.Fatal("stale entry survived cleanup")
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatal("fresh entry evicted")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewSharded[int]()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d", i%32)
				c.Set(key, w)
				c.Get(key)
			}
		}(w)
	}
	wg.Wait()

	if c.Len() != 32 {
		t.Fatalf("Len = %d, want 32", c.Len())
	}
}
