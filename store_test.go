package querysync

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

// recHooks records hook invocations; shared by the package tests.
type recHooks struct {
	mu            sync.Mutex
	stale         []string
	refetchFailed []string
	rolledBack    []string
	discarded     []uint64
	evicted       []string
}

func (h *recHooks) StaleServed(key string, _ time.Duration) {
	h.mu.Lock()
	h.stale = append(h.stale, key)
	h.mu.Unlock()
}

func (h *recHooks) RefetchFailed(key string, _ error) {
	h.mu.Lock()
	h.refetchFailed = append(h.refetchFailed, key)
	h.mu.Unlock()
}

func (h *recHooks) MutationRolledBack(id string, _ int) {
	h.mu.Lock()
	h.rolledBack = append(h.rolledBack, id)
	h.mu.Unlock()
}

func (h *recHooks) SearchResponseDiscarded(_ string, id uint64) {
	h.mu.Lock()
	h.discarded = append(h.discarded, id)
	h.mu.Unlock()
}

func (h *recHooks) EntryEvicted(key string) {
	h.mu.Lock()
	h.evicted = append(h.evicted, key)
	h.mu.Unlock()
}

func (h *recHooks) evictedKeys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.evicted))
	copy(out, h.evicted)
	return out
}

func (h *recHooks) discardedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.discarded)
}

func newTestStore(t *testing.T, hooks Hooks) *Store {
	t.Helper()
	s := NewStore(StoreOptions{SweepInterval: time.Hour, Hooks: hooks})
	t.Cleanup(s.Close)
	return s
}

// backdate shifts an entry's fetch stamp into the past.
func backdate(s *Store, k Key, d time.Duration) {
	s.mu.Lock()
	if se, ok := s.entries[k.ID()]; ok && !se.entry.LastFetchedAt.IsZero() {
		se.entry.LastFetchedAt = se.entry.LastFetchedAt.Add(-d)
	}
	s.mu.Unlock()
}

// ==============================
// Read / Write / Subscribe
// ==============================

func TestStoreWriteNotifiesSynchronously(t *testing.T) {
	s := newTestStore(t, nil)
	k := CourseDetail("42")

	var seen []Entry
	unsub := s.Subscribe(k, func(e Entry) { seen = append(seen, e) })

	s.Write(k, map[string]any{"title": "X"})

	// notification happened before Write returned
	if len(seen) != 1 {
		t.Fatalf("notifications = %d, want 1", len(seen))
	}
	if seen[0].Status != StatusSuccess || seen[0].LastFetchedAt.IsZero() {
		t.Fatalf("notified entry = %+v", seen[0])
	}

	e, ok := s.Read(k)
	if !ok || e.Status != StatusSuccess || e.Err != nil {
		t.Fatalf("Read = %+v ok=%v", e, ok)
	}
	if e.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d, want 1", e.Subscribers())
	}

	unsub()
	unsub() // second call is a no-op
	s.Write(k, "again")
	if len(seen) != 1 {
		t.Fatalf("unsubscribed listener still notified: %d", len(seen))
	}
	if e, _ := s.Read(k); e.Subscribers() != 0 {
		t.Fatalf("Subscribers after unsubscribe = %d", e.Subscribers())
	}
}

func TestStoreFailKeepsData(t *testing.T) {
	s := newTestStore(t, nil)
	k := CourseDetail("42")
	s.Write(k, "good")
	s.Fail(k, errors.New("boom"))

	e, _ := s.Read(k)
	if e.Status != StatusError || e.Err == nil {
		t.Fatalf("entry = %+v", e)
	}
	if e.Data != "good" {
		t.Fatal("Fail must preserve the last good data")
	}
}

// ==============================
// Invalidation
// ==============================

// TestStorePrefixInvalidation: invalidating courses.list marks every
// courses.list.* entry stale and leaves courses.detail.* untouched.
func TestStorePrefixInvalidation(t *testing.T) {
	s := newTestStore(t, nil)
	l1 := CourseList(ListParams{Page: 1, Limit: 12})
	l2 := CourseList(ListParams{Page: 2, Limit: 12})
	d := CourseDetail("42")
	s.Write(l1, "p1")
	s.Write(l2, "p2")
	s.Write(d, "detail")

	if n := s.Invalidate(CourseListPrefix()); n != 2 {
		t.Fatalf("invalidated %d entries, want 2", n)
	}

	for _, k := range []Key{l1, l2} {
		e, _ := s.Read(k)
		if !e.LastFetchedAt.IsZero() {
			t.Fatalf("%s not marked stale", k.ID())
		}
		if e.Data == nil {
			t.Fatalf("%s lost its data on invalidation", k.ID())
		}
	}
	if e, _ := s.Read(d); e.LastFetchedAt.IsZero() {
		t.Fatal("courses.detail entry must be untouched")
	}
}

func TestStoreInvalidateMissingIsNoop(t *testing.T) {
	s := newTestStore(t, nil)
	if n := s.Invalidate(CourseDetail("nope")); n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
}

// ==============================
// Patch / Restore
// ==============================

func TestStorePatchRestore(t *testing.T) {
	s := newTestStore(t, nil)
	k := WishlistStatus("42")
	orig := map[string]any{"isInWishlist": false, "courseId": "42"}
	s.Write(k, orig)
	before, _ := s.Read(k)

	var notified int
	unsub := s.Subscribe(k, func(Entry) { notified++ })
	defer unsub()

	snap, ok := s.Patch(k, PatchObject(func(m map[string]any) { m["isInWishlist"] = true }))
	if !ok {
		t.Fatal("Patch should hit the existing entry")
	}
	if notified != 1 {
		t.Fatalf("patch notifications = %d, want 1", notified)
	}
	patched, _ := s.Read(k)
	if patched.Data.(map[string]any)["isInWishlist"] != true {
		t.Fatalf("patched data = %+v", patched.Data)
	}
	// the pre-patch object was not mutated in place
	if orig["isInWishlist"] != false {
		t.Fatal("patch mutated the original object")
	}

	s.Restore(snap)
	restored, _ := s.Read(k)
	if !reflect.DeepEqual(restored.Data, before.Data) {
		t.Fatalf("restored data = %+v, want %+v", restored.Data, before.Data)
	}
	if restored.LastFetchedAt != before.LastFetchedAt || restored.Status != before.Status {
		t.Fatalf("restored entry = %+v, want %+v", restored, before)
	}
	if notified != 2 {
		t.Fatalf("restore notifications = %d, want 2 total", notified)
	}
}

func TestStorePatchMissingKey(t *testing.T) {
	s := newTestStore(t, nil)
	if _, ok := s.Patch(CourseDetail("missing"), PatchObject(func(map[string]any) {})); ok {
		t.Fatal("Patch on a missing key must report false")
	}
	s.Restore(Snapshot{}) // zero snapshot is a no-op
}

// ==============================
// Garbage collection
// ==============================

func TestStoreGCAfterRetention(t *testing.T) {
	hooks := &recHooks{}
	s := newTestStore(t, hooks)
	k := CourseDetail("42")

	unsub := s.Subscribe(k, func(Entry) {})
	s.Write(k, "data")

	// observed entries are never swept
	s.sweep(time.Now().Add(time.Hour))
	if s.Len() != 1 {
		t.Fatal("observed entry must survive the sweep")
	}

	unsub()

	// unobserved but inside the retention window: still retained so a quick
	// remount finds its data
	s.sweep(time.Now())
	if s.Len() != 1 {
		t.Fatal("entry evicted before the retention window elapsed")
	}

	s.sweep(time.Now().Add(defaultRetention + time.Minute))
	if s.Len() != 0 {
		t.Fatal("entry not evicted after the retention window")
	}
	if got := hooks.evictedKeys(); len(got) != 1 || got[0] != k.ID() {
		t.Fatalf("evicted hook = %v", got)
	}
}

func TestStoreGCNeverSubscribed(t *testing.T) {
	s := newTestStore(t, nil)
	s.Write(CourseDetail("42"), "data")
	s.sweep(time.Now().Add(defaultRetention + time.Minute))
	if s.Len() != 0 {
		t.Fatal("never-subscribed entry should age out")
	}
}
