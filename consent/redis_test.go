package consent

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, ""), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	exp := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		SubjectID:  "alice",
		ClientID:   "spa",
		Scopes:     []string{"openid", "profile"},
		Expiration: &exp,
	}
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := store.Get(ctx, "alice", "spa")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.SubjectID != "alice" || got.ClientID != "spa" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if len(got.Scopes) != 2 || got.Scopes[1] != "profile" {
		t.Fatalf("scopes mismatch: %+v", got.Scopes)
	}
	if got.Expiration == nil || !got.Expiration.Equal(exp) {
		t.Fatalf("expiration mismatch: %v", got.Expiration)
	}

	missing, err := store.Get(ctx, "alice", "unknown")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing record, got %+v", missing)
	}
}

func TestRedisStoreDelete(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, &Record{SubjectID: "alice", ClientID: "spa", Scopes: []string{"openid"}}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Delete(ctx, "alice", "spa"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err := store.Get(ctx, "alice", "spa")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected record gone, got %+v", got)
	}

	// Deleting again is a no-op.
	if err := store.Delete(ctx, "alice", "spa"); err != nil {
		t.Fatalf("repeat Delete failed: %v", err)
	}
}

func TestRedisStoreDeleteBySubject(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	for _, clientID := range []string{"spa", "mobile", "web"} {
		if err := store.Upsert(ctx, &Record{SubjectID: "alice", ClientID: clientID, Scopes: []string{"openid"}}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	if err := store.Upsert(ctx, &Record{SubjectID: "bob", ClientID: "spa", Scopes: []string{"openid"}}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	deleted, err := store.DeleteBySubject(ctx, "alice", []string{"spa", "absent"})
	if err != nil {
		t.Fatalf("DeleteBySubject failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}

	deleted, err = store.DeleteBySubject(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("DeleteBySubject failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected remaining 2 deleted, got %d", deleted)
	}

	// Other subjects are untouched.
	got, err := store.Get(ctx, "bob", "spa")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("bob's record must survive alice's wipe")
	}
}

func TestRedisStoreTTLBackstop(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	exp := time.Now().UTC().Add(time.Hour)
	if err := store.Upsert(ctx, &Record{SubjectID: "alice", ClientID: "spa", Scopes: []string{"openid"}, Expiration: &exp}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// The record key carries a TTL so lapsed grants cannot pile up even if
	// nothing reads them again.
	mr.FastForward(2 * time.Hour)

	got, err := store.Get(ctx, "alice", "spa")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected record lapsed via TTL, got %+v", got)
	}
}
