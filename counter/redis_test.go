package counter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStore(client)
}

func TestRedisStoreIncrementIsAtomic(t *testing.T) {
	mr, store := newTestRedisStore(t)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, _, err := store.IncrementWindow(ctx, "k", time.Minute); err != nil {
				t.Errorf("IncrementWindow failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if got != n {
		t.Fatalf("expected %d, got %d", n, got)
	}
	if ttl := mr.TTL("k"); ttl != time.Minute {
		t.Fatalf("expected ttl 1m, got %v", ttl)
	}
}

func TestRedisStoreIncrementWindowDoesNotExtendWindow(t *testing.T) {
	mr, store := newTestRedisStore(t)
	ctx := context.Background()

	n, ttl, err := store.IncrementWindow(ctx, "k", 60*time.Second)
	if err != nil {
		t.Fatalf("IncrementWindow failed: %v", err)
	}
	if n != 1 || ttl != 60*time.Second {
		t.Fatalf("expected count 1 ttl 60s, got %d %v", n, ttl)
	}

	mr.FastForward(40 * time.Second)

	n, ttl, err = store.IncrementWindow(ctx, "k", 60*time.Second)
	if err != nil {
		t.Fatalf("IncrementWindow failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}
	if ttl > 20*time.Second {
		t.Fatalf("second increment extended the window: ttl=%v", ttl)
	}

	mr.FastForward(21 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expected key to expire at the end of the original window")
	}
}

func TestRedisStoreIncrementWindowRepairsMissingTTL(t *testing.T) {
	mr, store := newTestRedisStore(t)
	ctx := context.Background()

	// A counter left behind without an expiry gets one on the next hit.
	if err := mr.Set("k", "4"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	n, ttl, err := store.IncrementWindow(ctx, "k", 15*time.Minute)
	if err != nil {
		t.Fatalf("IncrementWindow failed: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected count 5, got %d", n)
	}
	if ttl != 15*time.Minute || mr.TTL("k") != 15*time.Minute {
		t.Fatalf("expected ttl 15m, got %v (server %v)", ttl, mr.TTL("k"))
	}

	mr.FastForward(15 * time.Minute)
	if mr.Exists("k") {
		t.Fatal("expected key to expire")
	}
}

func TestRedisStoreTTLAndDelete(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()

	ttl, err := store.TTL(ctx, "missing")
	if err != nil || ttl != 0 {
		t.Fatalf("expected zero ttl for missing key, got %v err=%v", ttl, err)
	}

	_, _, _ = store.IncrementWindow(ctx, "a", time.Minute)
	_, _, _ = store.IncrementWindow(ctx, "b", time.Minute)
	if err := store.Delete(ctx, "a", "b", "c"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "a"); ok {
		t.Fatal("expected a to be deleted")
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, store := newTestRedisStore(t)
	mr.Close()

	_, _, err := store.IncrementWindow(context.Background(), "k", time.Minute)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
