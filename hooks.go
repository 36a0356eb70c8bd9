package querysync

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The client calls them on hot paths.
type Hooks interface {
	// A stale entry was served to the caller while a background refetch
	// was started. age is zero when the entry was explicitly invalidated.
	StaleServed(key string, age time.Duration)

	// A background refetch (staleness- or invalidation-driven) failed
	// after the retry budget was spent.
	RefetchFailed(key string, err error)

	// A mutation's commit failed and its optimistic patches were reverted.
	// patched is the number of entries that had been patched.
	MutationRolledBack(intentID string, patched int)

	// A search response arrived for a superseded request id and was dropped.
	SearchResponseDiscarded(query string, requestID uint64)

	// An unobserved entry was garbage collected after the retention window.
	EntryEvicted(key string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) StaleServed(string, time.Duration)      {}
func (NopHooks) RefetchFailed(string, error)            {}
func (NopHooks) MutationRolledBack(string, int)         {}
func (NopHooks) SearchResponseDiscarded(string, uint64) {}
func (NopHooks) EntryEvicted(string)                    {}
