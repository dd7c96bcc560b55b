package cache

import (
	"sync"
	"testing"
	"time"
)

func TestGetExpires(t *testing.T) {
	c := New[string, bool](time.Minute, 0)
	defer c.Close()

	base := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return base }
	c.Set("7:42", true)

	if v, ok := c.Get("7:42"); !ok || !v {
		t.Fatalf("Get = %v, %v; want true, true", v, ok)
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := c.Get("7:42"); ok {
		t.Fatalf("expected entry to be expired")
	}

	c.evictExpired()
	if c.Len() != 0 {
		t.Fatalf("Len after eviction = %d, want 0", c.Len())
	}
}

func TestDeleteFunc(t *testing.T) {
	c := New[int, string](time.Minute, 0)
	defer c.Close()

	for i := 0; i < 10; i++ {
		c.Set(i, "v")
	}
	c.DeleteFunc(func(k int) bool { return k%2 == 0 })

	if c.Len() != 5 {
		t.Fatalf("Len = %d, want 5", c.Len())
	}
	if _, ok := c.Get(4); ok {
		t.Fatalf("even key survived DeleteFunc")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int, int](time.Minute, time.Millisecond)
	defer c.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Set(i, g)
				c.Get(i)
				if i%10 == 0 {
					c.Delete(i)
				}
			}
		}(g)
	}
	wg.Wait()
	c.Close()
}
