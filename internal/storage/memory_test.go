package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func entry(id string, storedAt time.Time, ttl time.Duration) Entry {
	return Entry{
		ID:        id,
		Payload:   json.RawMessage(fmt.Sprintf(`{"id":%q,"profile":{"duration":1}}`, id)),
		StoredAt:  storedAt.UnixMilli(),
		ExpiresAt: storedAt.Add(ttl).UnixMilli(),
	}
}

// testStoreBehavior runs the checks every Store implementation must pass.
func testStoreBehavior(t *testing.T, s Store) {
	t.Helper()
	base := time.UnixMilli(1_700_000_000_000)

	for i, id := range []string{"a", "b", "c"} {
		if err := s.Put(entry(id, base.Add(time.Duration(i)*time.Second), time.Minute)); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}
	if err := s.Put(entry("old", base.Add(-2*time.Minute), time.Minute)); err != nil {
		t.Fatalf("Put old: %v", err)
	}

	now := base.Add(10 * time.Second)
	got, err := s.Get([]string{"c", "missing", "old", "a", "c"}, now)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	if fmt.Sprint(ids) != "[c a c]" {
		t.Errorf("Get ids = %v, want [c a c]", ids)
	}

	list, err := s.List(ListOptions{Limit: 2}, now)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Errorf("List = %v, want c,b", list)
	}
	list, _ = s.List(ListOptions{Limit: 5, Offset: 2}, now)
	if len(list) != 1 || list[0].ID != "a" {
		t.Errorf("List offset = %v, want a", list)
	}

	// Replace keeps a single row and moves the expiry.
	if err := s.Put(entry("a", base.Add(20*time.Second), time.Hour)); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	if n, _ := s.Len(); n != 4 {
		t.Errorf("Len = %d, want 4", n)
	}

	deleted, err := s.DeleteExpired(base.Add(30 * time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpired error: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
	if n, _ := s.Len(); n != 1 {
		t.Errorf("Len after expiry = %d, want 1", n)
	}
}

func TestMemoryStore(t *testing.T) {
	testStoreBehavior(t, NewMemoryStore(100))
}

func TestMemoryStore_EvictsOldest(t *testing.T) {
	s := NewMemoryStore(3)
	now := time.UnixMilli(1_000)
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = s.Put(entry(id, now, time.Minute))
	}
	if n, _ := s.Len(); n != 3 {
		t.Fatalf("Len = %d, want 3", n)
	}
	got, _ := s.Get([]string{"a", "d"}, now)
	if len(got) != 1 || got[0].ID != "d" {
		t.Errorf("Get = %v, want only d", got)
	}
}

func TestEntryExpired(t *testing.T) {
	e := entry("x", time.UnixMilli(0), time.Second)
	if e.Expired(time.UnixMilli(999)) {
		t.Error("entry should be live before expiry")
	}
	if !e.Expired(time.UnixMilli(1000)) {
		t.Error("entry should be expired at expiry")
	}
}

func TestRunJanitor(t *testing.T) {
	s := NewMemoryStore(100)
	_ = s.Put(entry("gone", time.Now().Add(-time.Hour), time.Minute))
	_ = s.Put(entry("live", time.Now(), time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	swept := make(chan int, 1)
	go RunJanitor(ctx, s, 10*time.Millisecond, nil, func(n int) {
		select {
		case swept <- n:
		default:
		}
	})

	select {
	case n := <-swept:
		if n != 1 {
			t.Errorf("entries after sweep = %d, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not sweep")
	}
}
