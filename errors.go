package querysync

import (
	"errors"
	"fmt"
)

// ErrNoFetcher is returned by Refetch for keys no Query call has ever
// registered a fetch function for.
var ErrNoFetcher = errors.New("querysync: no registered fetcher for key")

// MutationError wraps a failed commit. The cache is already consistent when
// the caller sees it: either the optimistic patches were rolled back
// (RolledBack) or the intent never patched anything.
type MutationError struct {
	IntentID   string
	RolledBack bool
	Err        error
}

func (e *MutationError) Error() string {
	if e.RolledBack {
		return fmt.Sprintf("mutation %q failed (optimistic patches rolled back): %v", e.IntentID, e.Err)
	}
	return fmt.Sprintf("mutation %q failed: %v", e.IntentID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
