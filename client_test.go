package querysync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/querysync/resource"
)

func TestNewRejectsNegativeDurations(t *testing.T) {
	if _, err := New(Options{StaleTime: -time.Second}); err == nil {
		t.Fatal("negative StaleTime accepted")
	}
	if _, err := New(Options{Retention: -time.Minute}); err == nil {
		t.Fatal("negative Retention accepted")
	}
}

func TestClientSharedStore(t *testing.T) {
	s := NewStore(StoreOptions{SweepInterval: time.Hour})
	defer s.Close()

	c, err := New(Options{Store: s})
	if err != nil {
		t.Fatal(err)
	}
	if c.Store() != s {
		t.Fatal("client did not adopt the shared store")
	}
	// closing the client must leave a store it does not own running
	if err := c.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Write(CourseDetail("1"), "still usable")
	if e, ok := s.Read(CourseDetail("1")); !ok || e.Data != "still usable" {
		t.Fatal("shared store was closed with the client")
	}
}

// TestWishlistFlow drives the full loop against a real HTTP server: read a
// course through the cache, toggle its wishlist flag optimistically, commit
// over the wire, and watch the invalidation-driven refetch reconcile the
// cached entry with what the server now holds.
func TestWishlistFlow(t *testing.T) {
	var (
		srvMu         sync.Mutex
		inWishlist    bool
		detailsServed int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srvMu.Lock()
		defer srvMu.Unlock()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/courses/42":
			detailsServed++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "42", "title": "Distributed Systems", "isInWishlist": inWishlist,
			})
		case r.Method == http.MethodPost && r.URL.Path == "/courses/42/wishlist":
			inWishlist = true
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	api, err := resource.NewHTTP(resource.HTTPOptions{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	c := newTestClient(t, nil)
	key := CourseDetail("42")
	fetchDetail := func(ctx context.Context) (any, error) {
		return api.Get(ctx, "/courses/42", nil)
	}

	res, err := c.Query(context.Background(), key, fetchDetail, QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	got := res.Data.(map[string]any)
	if got["title"] != "Distributed Systems" || got["isInWishlist"] != false {
		t.Fatalf("detail = %+v", got)
	}
	first, _ := c.Store().Read(key)

	ch := make(chan Entry, 16)
	unsub := c.Store().Subscribe(key, func(e Entry) { ch <- e })
	defer unsub()

	_, err = c.Mutate(context.Background(), WishlistToggleIntent("42", true, func(ctx context.Context) (any, error) {
		return api.Do(ctx, http.MethodPost, "/courses/42/wishlist", nil)
	}))
	if err != nil {
		t.Fatal(err)
	}

	// the subscriber hears the optimistic patch first; wait for the entry
	// whose fetch stamp proves the reconciling refetch landed
	e := awaitEntry(t, ch, func(e Entry) bool {
		m, ok := e.Data.(map[string]any)
		return ok && e.Status == StatusSuccess &&
			e.LastFetchedAt.After(first.LastFetchedAt) && m["isInWishlist"] == true
	})
	if e.Data.(map[string]any)["title"] != "Distributed Systems" {
		t.Fatalf("reconciled entry = %+v", e)
	}

	srvMu.Lock()
	served := detailsServed
	srvMu.Unlock()
	if served != 2 {
		t.Fatalf("detail endpoint hit %d times, want 2 (initial read + reconcile)", served)
	}
}

// TestWishlistFlowRejected: the server refuses the toggle and the optimistic
// flag rolls back to exactly what was cached before.
func TestWishlistFlowRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"wishlist is full"}`, http.StatusConflict)
	}))
	defer srv.Close()

	api, err := resource.NewHTTP(resource.HTTPOptions{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	c := newTestClient(t, nil)
	key := CourseDetail("42")
	c.Store().Write(key, map[string]any{"id": "42", "isInWishlist": false})

	_, err = c.Mutate(context.Background(), WishlistToggleIntent("42", true, func(ctx context.Context) (any, error) {
		return api.Do(ctx, http.MethodPost, "/courses/42/wishlist", nil)
	}))
	var merr *MutationError
	if !errors.As(err, &merr) || !merr.RolledBack {
		t.Fatalf("err = %v, want rolled-back mutation error", err)
	}
	if !resource.IsStatus(err, http.StatusConflict) {
		t.Fatalf("underlying status lost: %v", err)
	}
	e, _ := c.Store().Read(key)
	if e.Data.(map[string]any)["isInWishlist"] != false {
		t.Fatalf("rollback left %+v", e.Data)
	}
}
