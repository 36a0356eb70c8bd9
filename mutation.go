package querysync

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// CommitFunc performs the server-side write. It is called exactly once per
// Mutate: the retry policy is read-only, so a commit whose 429 response was
// lost is never replayed (callers wanting that must bring server-side
// idempotency keys).
type CommitFunc func(ctx context.Context) (any, error)

// Intent captures one mutation as data: which entries to patch
// optimistically, how to commit, and what to invalidate once the server
// confirms. Intents live for one Mutate call.
type Intent struct {
	// ID names the intent in errors and hooks.
	ID string

	// Keys are the entries receiving the optimistic patch. They are also
	// the serialization scope: two intents with overlapping keys run one
	// after the other, never interleaved.
	Keys []Key

	// Invalidates are the prefixes marked stale after a successful commit.
	// nil => Keys.
	Invalidates []Key

	// Patch is applied to each entry under Keys before the commit, and the
	// pre-patch snapshots are kept for rollback. nil means no optimistic
	// update (paid flows that must only ever show confirmed server state).
	Patch func(Entry) Entry

	Commit CommitFunc

	// RollbackOnError restores the snapshots when the commit fails.
	RollbackOnError bool
}

// Mutate runs the intent: optimistic patch, commit, then either targeted
// invalidation (success) or rollback (failure). On failure the cache is
// consistent again before the error reaches the caller, so no view can keep
// showing an optimistic state the server rejected.
func (c *Client) Mutate(ctx context.Context, in Intent) (any, error) {
	if in.Commit == nil {
		return nil, fmt.Errorf("querysync: intent %q has no commit", in.ID)
	}

	unlock := c.lockKeys(in.Keys)
	defer unlock()

	var snaps []Snapshot
	if in.Patch != nil {
		for _, k := range in.Keys {
			if snap, ok := c.store.Patch(k, in.Patch); ok {
				snaps = append(snaps, snap)
			}
		}
	}

	res, err := in.Commit(ctx)
	if err != nil {
		rolledBack := false
		if in.RollbackOnError && len(snaps) > 0 {
			for i := len(snaps) - 1; i >= 0; i-- {
				c.store.Restore(snaps[i])
			}
			rolledBack = true
			c.hooks.MutationRolledBack(in.ID, len(snaps))
			c.log.Debug("rolled back optimistic patches", Fields{"intent": in.ID, "patched": len(snaps)})
		}
		return nil, &MutationError{IntentID: in.ID, RolledBack: rolledBack, Err: err}
	}

	// server confirmed; drop the snapshots and force reconciling refetches
	inval := in.Invalidates
	if inval == nil {
		inval = in.Keys
	}
	for _, k := range inval {
		c.Invalidate(k)
	}
	return res, nil
}

// keyLock is a reference-counted mutex; the map entry disappears when the
// last holder releases.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lockKeys acquires a per-key mutex for every key, in sorted ID order so
// overlapping intents cannot deadlock.
func (c *Client) lockKeys(keys []Key) func() {
	ids := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		id := k.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	locks := make([]*keyLock, 0, len(ids))
	for _, id := range ids {
		l := c.lockFor(id)
		l.mu.Lock()
		locks = append(locks, l)
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].mu.Unlock()
			c.releaseLock(ids[i])
		}
	}
}

func (c *Client) lockFor(id string) *keyLock {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &keyLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()
	return l
}

func (c *Client) releaseLock(id string) {
	c.mu.Lock()
	if l, ok := c.locks[id]; ok {
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
	}
	c.mu.Unlock()
}
