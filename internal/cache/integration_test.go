//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func exerciseCache(t *testing.T, c Cache, clock *fakeClock) {
	t.Helper()
	ctx := context.Background()

	if err := c.Put(ctx, "Compare ClickUp and Asana pricing", []byte(`{"kind":"single_shot"}`), "deepseek-reasoner"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	e, ok, err := c.Get(ctx, "Compare ClickUp and Asana pricing")
	if err != nil || !ok || string(e.Payload) != `{"kind":"single_shot"}` {
		t.Fatalf("expected hit, got %+v ok=%v err=%v", e, ok, err)
	}

	clock.Advance(25 * time.Hour)
	if _, ok, err := c.Get(ctx, "Compare ClickUp and Asana pricing"); err != nil || ok {
		t.Fatalf("expected expiry miss, ok=%v err=%v", ok, err)
	}

	if err := c.Put(ctx, "other", []byte("x"), "m"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "other"); ok {
		t.Fatalf("expected miss after clear")
	}
}

func TestRedisCacheIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	clock := &fakeClock{now: time.Now().UTC()}
	c := NewRedis(client, Options{TTL: 24 * time.Hour, Now: clock.Now})
	defer c.Close()

	if err := client.Set(ctx, "unrelated", "keep", 0).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	exerciseCache(t, c, clock)
	if v, err := client.Get(ctx, "unrelated").Result(); err != nil || v != "keep" {
		t.Fatalf("clear must only touch prefixed keys, got %q err=%v", v, err)
	}
}

func TestPostgresCacheIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("pmmresearch"),
		tcPostgres.WithUsername("pmm"),
		tcPostgres.WithPassword("pmm"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	if err := Migrate("file://../../migrations", dsn, "up", 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Microsecond)}
	c, err := NewPostgres(ctx, dsn, Options{TTL: 24 * time.Hour, Now: clock.Now})
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer c.Close()
	exerciseCache(t, c, clock)

	if err := Migrate("file://../../migrations", dsn, "down", 0); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
}
