package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/pharmacy/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestAcquireLock_Exclusive(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "pay-lock:test")

	token, ok, err := adapter.AcquireLock(ctx, "pay-lock:test", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || token == "" {
		t.Fatal("expected first acquire to succeed")
	}

	_, ok, err = adapter.AcquireLock(ctx, "pay-lock:test", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second acquire to fail while held")
	}

	if err := adapter.ReleaseLock(ctx, "pay-lock:test", token); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	_, ok, _ = adapter.AcquireLock(ctx, "pay-lock:test", time.Minute)
	if !ok {
		t.Error("expected acquire to succeed after release")
	}
	client.Del(ctx, "pay-lock:test")
}

func TestReleaseLock_WrongToken(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "pay-lock:foreign")

	token, ok, err := adapter.AcquireLock(ctx, "pay-lock:foreign", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}

	if err := adapter.ReleaseLock(ctx, "pay-lock:foreign", "not-the-owner"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	held, _ := client.Get(ctx, "pay-lock:foreign").Result()
	if held != token {
		t.Errorf("expected lock still owned by %s, got %q", token, held)
	}
	client.Del(ctx, "pay-lock:foreign")
}

func TestAcquireLock_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "pay-lock:concurrent")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := adapter.AcquireLock(ctx, "pay-lock:concurrent", time.Minute)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
	client.Del(ctx, "pay-lock:concurrent")
}

func TestPrincipalCache(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, principalKeyPrefix+"token-hash")

	p, err := adapter.GetPrincipal(ctx, "token-hash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Fatal("expected miss on empty cache")
	}

	want := domain.Principal{UserID: "c5b6a8a4-0d7e-4c1e-9a55-2a7c3f3f1b10", Role: domain.RolePatient, Email: "p@example.com"}
	if err := adapter.SetPrincipal(ctx, "token-hash", want, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	p, err = adapter.GetPrincipal(ctx, "token-hash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil || p.UserID != want.UserID || p.Role != want.Role {
		t.Errorf("expected %+v, got %+v", want, p)
	}
	client.Del(ctx, principalKeyPrefix+"token-hash")
}
