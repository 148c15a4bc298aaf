package framebridge

import (
	"context"
	"testing"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	storage := NewMemoryKeyValueStore()
	tokens := NewTokenStore(storage)
	session := StoredSession{Token: "t", UID: "u", Email: "e", Name: "n", RefreshToken: "r"}

	if err := tokens.Set(context.Background(), session); err != nil {
		t.Fatalf("set: %v", err)
	}
	requireStoredSession(t, tokens, session)
	if !session.IsAuthenticated() {
		t.Fatalf("expected session with token to be authenticated")
	}
	if storage.Len() != len(SessionKeys) {
		t.Fatalf("expected %d keys, got %d", len(SessionKeys), storage.Len())
	}
}

func TestTokenStoreClearIsIdempotent(t *testing.T) {
	storage := NewMemoryKeyValueStore()
	tokens := NewTokenStore(storage)
	if err := storage.Put(context.Background(), "unrelated", "kept"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := tokens.Set(context.Background(), StoredSession{Token: "t", Email: "e", RefreshToken: "r"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := tokens.Clear(context.Background()); err != nil {
			t.Fatalf("clear %d: %v", attempt, err)
		}
		stored, err := tokens.Get(context.Background())
		if err != nil {
			t.Fatalf("get %d: %v", attempt, err)
		}
		if stored != (StoredSession{}) || stored.IsAuthenticated() {
			t.Fatalf("clear %d: expected empty session, got %+v", attempt, stored)
		}
	}
	if storage.Len() != 1 {
		t.Fatalf("expected unrelated key kept, got %d keys", storage.Len())
	}
}

func TestTokenStoreSetPrunesAbsentFields(t *testing.T) {
	tokens := NewTokenStore(NewMemoryKeyValueStore())
	if err := tokens.Set(context.Background(), StoredSession{Token: "a", Email: "old@example.com"}); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := tokens.Set(context.Background(), StoredSession{Token: "b", Name: "New"}); err != nil {
		t.Fatalf("second set: %v", err)
	}
	requireStoredSession(t, tokens, StoredSession{Token: "b", Name: "New"})
}
