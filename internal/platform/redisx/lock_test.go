package redisx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLockExclusive(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	a := NewLock(rdb, "reconcile", time.Minute)
	b := NewLock(rdb, "reconcile", time.Minute)

	ok, err := a.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.TryAcquire(ctx)
	if err != nil || ok {
		t.Fatalf("second acquire should be refused: ok=%v err=%v", ok, err)
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = b.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestLockReleaseAfterExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	a := NewLock(rdb, "reconcile", time.Second)
	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatalf("acquire failed")
	}
	mr.FastForward(2 * time.Second)

	b := NewLock(rdb, "reconcile", time.Minute)
	if ok, _ := b.TryAcquire(ctx); !ok {
		t.Fatalf("expired lock should be acquirable")
	}
	if err := a.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("stale release: want ErrNotHeld got %v", err)
	}
	if !mr.Exists("reconcile") {
		t.Fatalf("stale release must not delete the new holder's key")
	}
}

func TestReleaseWithoutAcquire(t *testing.T) {
	_, rdb := newTestRedis(t)
	if err := NewLock(rdb, "k", 0).Release(context.Background()); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("want ErrNotHeld got %v", err)
	}
}

func TestNewClientRequiresAddr(t *testing.T) {
	if _, err := NewClient(context.Background(), nil, Config{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}

func TestNewClientPings(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewClient(context.Background(), nil, Config{Addr: mr.Addr(), DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_ = rdb.Close()
}
