package querysync

import "time"

// Status is the lifecycle state of a cache entry.
// Idle -> Loading -> (Success | Error); Success -> Loading again on
// invalidation or staleness. Error is terminal until the caller refetches.
type Status int8

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is the stored record for one logical query result. Entries are owned
// by the Store; callers get value copies and mutate only through Store
// operations (Write, Patch, Invalidate).
type Entry struct {
	Key    Key
	Data   any
	Status Status

	// LastFetchedAt is zero when the entry has never been fetched or has
	// been invalidated; a zero stamp is what "stale" means.
	LastFetchedAt time.Time

	Err error

	subscribers int
}

// Fresh reports whether the entry was fetched within staleTime of now.
func (e Entry) Fresh(staleTime time.Duration, now time.Time) bool {
	if e.LastFetchedAt.IsZero() {
		return false
	}
	return now.Sub(e.LastFetchedAt) < staleTime
}

func (e Entry) HasData() bool { return e.Data != nil }

// Subscribers is the number of live subscriptions on this entry at the time
// the copy was taken.
func (e Entry) Subscribers() int { return e.subscribers }

// Snapshot is the pre-patch image of an entry, held by a mutation for
// rollback. Opaque outside this package except as a token passed back to
// Store.Restore.
type Snapshot struct {
	key     Key
	entry   Entry
	existed bool
}
