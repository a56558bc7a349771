package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "stagechat-test")
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	want := sampleState("sess-1", time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestRedisStoreNotFound(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: err = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete: err = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreListAndCurrent(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	if err := store.Save(ctx, sampleState("a", base)); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, sampleState("b", base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	got, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].SessionID != "b" {
		t.Errorf("List = %+v, want b first", got)
	}

	if err := store.SetCurrent(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	cur, err := store.Current(ctx)
	if err != nil || cur != "b" {
		t.Errorf("Current = (%q, %v), want b", cur, err)
	}
}

func TestRedisStoreCurrentUnsetIsEmpty(t *testing.T) {
	store := newTestRedisStore(t)
	cur, err := store.Current(context.Background())
	if err != nil || cur != "" {
		t.Errorf("Current = (%q, %v), want empty without error", cur, err)
	}
}
